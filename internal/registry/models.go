package registry

// Registration associates an owner with a child bot and its credential.
// The Token field holds whatever the vault produced: ciphertext when a
// key is configured, the raw token otherwise. Immutable once created
// except for token rotation through re-registration.
type Registration struct {
	Owner     int64  `json:"owner"`
	BotID     int64  `json:"bot_id"`
	Username  string `json:"username"`
	Token     string `json:"token"`
	CreatedAt int64  `json:"created_at"`
}

// SubscriberSet is a presence-flag mapping of subscriber chat IDs,
// keyed in the store by the owning registration's key.
type SubscriberSet map[int64]bool

// Template is a saved message body an owner can reuse.
type Template struct {
	Owner     int64  `json:"owner"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// AdminFlag marks a user as a platform admin. Presence of the record is
// the flag; the struct carries the ID for readability of the stored
// document.
type AdminFlag struct {
	UserID int64 `json:"user_id"`
}

// Schedule is a recurring message from the parent bot to the owner's
// chat, in the form "daily:HH:MM" or "weekly:<day>:HH:MM".
type Schedule struct {
	Owner     int64  `json:"owner"`
	ChatID    int64  `json:"chat_id"`
	Spec      string `json:"spec"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}
