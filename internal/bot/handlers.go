package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/yerzhan-dev/manybot/internal/registry"
	"github.com/yerzhan-dev/manybot/internal/services/schedule"
	"github.com/yerzhan-dev/manybot/internal/services/session"
)

// authorize passes when the caller owns the record or carries the admin
// flag.
func (r *Router) authorize(ctx context.Context, caller, owner int64) error {
	if caller == owner {
		return nil
	}
	admin, err := r.reg.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !admin {
		return ErrPermissionDenied
	}
	return nil
}

// submitToken runs the terminal step of /addbot. Tokens are only
// accepted in a private chat so they never land in a group history.
func (r *Router) submitToken(ctx context.Context, msg *tgbotapi.Message, token string) {
	if msg.Chat.Type != "private" {
		r.replyError(ctx, msg.Chat.ID, ErrContextNotAllowed)
		return
	}

	res, err := r.registrations.Register(ctx, msg.From.ID, token)
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}

	var b strings.Builder
	if res.Replaced {
		fmt.Fprintf(&b, "Updated @%s with the new token.\n", res.Username)
	} else {
		fmt.Fprintf(&b, "Done! @%s is connected.\n", res.Username)
	}
	fmt.Fprintf(&b, "Key: %s\n", res.Key)
	if res.WebhookInstalled {
		fmt.Fprintf(&b, "Webhook: %s", res.WebhookURL)
	} else {
		b.WriteString("Warning: the webhook could not be installed yet. Messages to your bot will not arrive until it is.")
	}
	r.reply(ctx, msg.Chat.ID, b.String())
}

func (r *Router) listBots(ctx context.Context, msg *tgbotapi.Message) {
	bots, err := r.reg.ListRegistrationsByOwner(ctx, msg.From.ID)
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if len(bots) == 0 {
		r.reply(ctx, msg.Chat.ID, "You have no bots yet. Use /addbot to connect one.")
		return
	}

	lines := make([]string, 0, len(bots))
	for key, rec := range bots {
		lines = append(lines, fmt.Sprintf("@%s (id %d)\n  key: %s", rec.Username, rec.BotID, key))
	}
	sort.Strings(lines)
	r.reply(ctx, msg.Chat.ID, "Your bots:\n"+strings.Join(lines, "\n"))
}

func (r *Router) deleteBot(ctx context.Context, msg *tgbotapi.Message, key string) {
	if key == "" {
		r.reply(ctx, msg.Chat.ID, "Usage: /deletebot <key>. See /bots for your keys.")
		return
	}

	rec, err := r.reg.GetRegistration(ctx, key)
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if err := r.authorize(ctx, msg.From.ID, rec.Owner); err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}

	if err := r.registrations.Deregister(ctx, key); err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	r.reply(ctx, msg.Chat.ID, fmt.Sprintf("@%s and its subscribers are gone.", rec.Username))
}

func (r *Router) saveTemplate(ctx context.Context, msg *tgbotapi.Message, title, content string) {
	_, err := r.reg.CreateTemplate(ctx, &registry.Template{
		Owner:     msg.From.ID,
		Title:     title,
		Content:   content,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	r.reply(ctx, msg.Chat.ID, fmt.Sprintf("Template %q saved. Send its title as broadcast text to reuse it.", title))
}

func (r *Router) listTemplates(ctx context.Context, msg *tgbotapi.Message) {
	tpls, err := r.reg.ListTemplatesByOwner(ctx, msg.From.ID)
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if len(tpls) == 0 {
		r.reply(ctx, msg.Chat.ID, "No templates yet. Use /addtemplate to save one.")
		return
	}

	lines := make([]string, 0, len(tpls))
	for _, tpl := range tpls {
		lines = append(lines, fmt.Sprintf("%s: %s", tpl.Title, snippet(tpl.Content)))
	}
	sort.Strings(lines)
	r.reply(ctx, msg.Chat.ID, "Your templates:\n"+strings.Join(lines, "\n"))
}

// pickBroadcastTarget resolves the key sent during a broadcast dialog.
// An unknown or foreign key ends the dialog.
func (r *Router) pickBroadcastTarget(ctx context.Context, msg *tgbotapi.Message, s *session.Session) {
	key := strings.TrimSpace(msg.Text)

	rec, err := r.reg.GetRegistration(ctx, key)
	if err != nil {
		r.sessions.Cancel(msg.From.ID)
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if err := r.authorize(ctx, msg.From.ID, rec.Owner); err != nil {
		r.sessions.Cancel(msg.From.ID)
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}

	s.Set("key", key)
	if err := r.sessions.Advance(msg.From.ID, session.StateAwaitingBroadcastText); err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	r.reply(ctx, msg.Chat.ID, fmt.Sprintf("Broadcasting from @%s. Send the message text, or a template title.", rec.Username))
}

func (r *Router) runBroadcast(ctx context.Context, msg *tgbotapi.Message, key, body string) {
	// A body matching one of the caller's template titles expands to
	// that template's content.
	if tpls, err := r.reg.ListTemplatesByOwner(ctx, msg.From.ID); err == nil {
		for _, tpl := range tpls {
			if tpl.Title == body {
				body = tpl.Content
				break
			}
		}
	}

	report, err := r.broadcasts.Broadcast(ctx, key, body)
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if report.Sent == 0 && report.Failed == 0 {
		r.reply(ctx, msg.Chat.ID, "That bot has no subscribers yet.")
		return
	}
	r.reply(ctx, msg.Chat.ID, fmt.Sprintf("Broadcast finished: %d delivered, %d failed.", report.Sent, report.Failed))
}

func (r *Router) addSchedule(ctx context.Context, msg *tgbotapi.Message, spec string) {
	if _, err := schedule.ParseSpec(spec); err != nil {
		r.reply(ctx, msg.Chat.ID, "Usage: /addschedule daily:HH:MM or /addschedule weekly:<mon..sun>:HH:MM")
		return
	}

	s := r.sessions.Start(msg.From.ID, session.StateAwaitingScheduleText)
	s.Set("spec", spec)
	r.reply(ctx, msg.Chat.ID, "Send the reminder text.\nSend /cancel to stop.")
}

func (r *Router) saveSchedule(ctx context.Context, msg *tgbotapi.Message, spec, text string) {
	sc := &registry.Schedule{
		Owner:     msg.From.ID,
		ChatID:    msg.Chat.ID,
		Spec:      spec,
		Text:      text,
		CreatedAt: time.Now().Unix(),
	}
	key, err := r.reg.CreateSchedule(ctx, sc)
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}

	if err := r.schedules.Arm(key, sc); err != nil {
		r.log.Error("failed to arm stored schedule", zap.String("key", key), zap.Error(err))
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	r.reply(ctx, msg.Chat.ID, fmt.Sprintf("Scheduled (%s): %s", spec, snippet(text)))
}

func (r *Router) listSchedules(ctx context.Context, msg *tgbotapi.Message) {
	schedules, err := r.reg.ListSchedulesByOwner(ctx, msg.From.ID)
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if len(schedules) == 0 {
		r.reply(ctx, msg.Chat.ID, "No schedules yet. Use /addschedule to create one.")
		return
	}

	lines := make([]string, 0, len(schedules))
	for _, sc := range schedules {
		lines = append(lines, fmt.Sprintf("%s: %s", sc.Spec, snippet(sc.Text)))
	}
	sort.Strings(lines)
	r.reply(ctx, msg.Chat.ID, "Your schedules:\n"+strings.Join(lines, "\n"))
}

func (r *Router) changeAdmin(ctx context.Context, msg *tgbotapi.Message, args string, grant bool) {
	admin, err := r.reg.IsAdmin(ctx, msg.From.ID)
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if !admin {
		r.replyError(ctx, msg.Chat.ID, ErrPermissionDenied)
		return
	}

	userID, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		r.reply(ctx, msg.Chat.ID, "Usage: /addadmin <user id> or /removeadmin <user id>")
		return
	}

	if grant {
		err = r.reg.AddAdmin(ctx, userID)
	} else {
		err = r.reg.RemoveAdmin(ctx, userID)
	}
	if err != nil {
		r.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if grant {
		r.reply(ctx, msg.Chat.ID, fmt.Sprintf("User %d is now an admin.", userID))
	} else {
		r.reply(ctx, msg.Chat.ID, fmt.Sprintf("User %d is no longer an admin.", userID))
	}
}

func (r *Router) ask(ctx context.Context, msg *tgbotapi.Message, prompt string) {
	if r.assistant == nil {
		r.reply(ctx, msg.Chat.ID, "The assistant is not configured on this deployment.")
		return
	}

	answer, err := r.assistant.Ask(ctx, prompt)
	if err != nil {
		r.log.Error("assistant request failed", zap.Error(err))
		r.reply(ctx, msg.Chat.ID, "The assistant is unavailable right now. Try again later.")
		return
	}
	r.reply(ctx, msg.Chat.ID, answer)
}

func snippet(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > 60 {
		return text[:57] + "..."
	}
	return text
}
