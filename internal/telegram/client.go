// Package telegram wraps the upstream Bot API behind a small interface
// so services can be tested against a fake and the endpoint can point
// at a local API server.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrUnauthorized means the upstream rejected the token.
var ErrUnauthorized = errors.New("telegram rejected the token")

// Identity is the upstream's answer to "who does this token belong to".
type Identity struct {
	ID       int64
	Username string
}

type API interface {
	// Validate checks a token against the upstream identity endpoint.
	Validate(ctx context.Context, token string) (Identity, error)
	SetWebhook(ctx context.Context, token, url string) error
	DeleteWebhook(ctx context.Context, token string) error
	SendMessage(ctx context.Context, token string, chatID int64, text string) error
}

// Client is a long-lived API implementation. Bot handles are created
// once per token and reused; the HTTP client is shared across all of
// them.
type Client struct {
	endpoint string
	http     *http.Client

	mu   sync.RWMutex
	bots map[string]*tgbotapi.BotAPI
}

func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		bots:     make(map[string]*tgbotapi.BotAPI),
	}
}

// Validate always performs the upstream getMe call: a cached handle
// would hide a token revoked since it was first seen. The fresh handle
// replaces any cached one on success.
func (c *Client) Validate(ctx context.Context, token string) (Identity, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, c.http)
	if err != nil {
		c.forget(token)
		return Identity{}, errors.Join(ErrUnauthorized, err)
	}

	c.mu.Lock()
	c.bots[token] = bot
	c.mu.Unlock()
	return Identity{ID: bot.Self.ID, Username: bot.Self.UserName}, nil
}

func (c *Client) SetWebhook(ctx context.Context, token, url string) error {
	bot, err := c.bot(token)
	if err != nil {
		return err
	}

	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}

	_, err = bot.Request(wh)
	return err
}

func (c *Client) DeleteWebhook(ctx context.Context, token string) error {
	bot, err := c.bot(token)
	if err != nil {
		return err
	}

	_, err = bot.Request(tgbotapi.DeleteWebhookConfig{})
	// Deregistration is the last use of this token; a handle kept
	// around would never be revalidated.
	c.forget(token)
	return err
}

func (c *Client) forget(token string) {
	c.mu.Lock()
	delete(c.bots, token)
	c.mu.Unlock()
}

func (c *Client) SendMessage(ctx context.Context, token string, chatID int64, text string) error {
	bot, err := c.bot(token)
	if err != nil {
		return err
	}

	_, err = bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// bot returns the cached handle for a token, creating it on first use.
// Creation performs the upstream getMe call; failed tokens are not
// cached so a later retry revalidates.
func (c *Client) bot(token string) (*tgbotapi.BotAPI, error) {
	c.mu.RLock()
	bot, ok := c.bots[token]
	c.mu.RUnlock()
	if ok {
		return bot, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if bot, ok := c.bots[token]; ok {
		return bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, c.http)
	if err != nil {
		return nil, err
	}
	c.bots[token] = bot
	return bot, nil
}
