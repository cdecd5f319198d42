// Package bot routes inbound webhook messages: parent-bot commands and
// conversation state on one side, child-bot subscription events on the
// other. Every taxonomy error is recovered here into a short reply;
// nothing propagates past the webhook handler.
package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/yerzhan-dev/manybot/internal/registry"
	"github.com/yerzhan-dev/manybot/internal/services/broadcast"
	"github.com/yerzhan-dev/manybot/internal/services/registration"
	"github.com/yerzhan-dev/manybot/internal/services/schedule"
	"github.com/yerzhan-dev/manybot/internal/services/session"
	"github.com/yerzhan-dev/manybot/internal/store"
	"github.com/yerzhan-dev/manybot/internal/telegram"
	"github.com/yerzhan-dev/manybot/internal/vault"
	"github.com/yerzhan-dev/manybot/pkg/logger"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrContextNotAllowed = errors.New("context not allowed")
)

// Assistant is the opaque text-completion collaborator behind /ask.
type Assistant interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

type Deps struct {
	Registry      *registry.Registry
	Sessions      *session.Manager
	Registrations *registration.Service
	Broadcasts    *broadcast.Engine
	Schedules     *schedule.Runner
	Assistant     Assistant // nil when no API key is configured
	API           telegram.API
	Vault         *vault.Vault
	ParentToken   string
	Log           logger.Logger
}

type Router struct {
	reg           *registry.Registry
	sessions      *session.Manager
	registrations *registration.Service
	broadcasts    *broadcast.Engine
	schedules     *schedule.Runner
	assistant     Assistant
	api           telegram.API
	vault         *vault.Vault
	parentToken   string
	log           logger.Logger
}

func NewRouter(d Deps) *Router {
	return &Router{
		reg:           d.Registry,
		sessions:      d.Sessions,
		registrations: d.Registrations,
		broadcasts:    d.Broadcasts,
		schedules:     d.Schedules,
		assistant:     d.Assistant,
		api:           d.API,
		vault:         d.Vault,
		parentToken:   d.ParentToken,
		log:           d.Log,
	}
}

// HandleParentUpdate processes one update addressed to the parent bot.
// A live session consumes the message as the awaited field; otherwise
// the text is classified as a command.
func (r *Router) HandleParentUpdate(ctx context.Context, upd *tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Text == "" || msg.From == nil || msg.Chat == nil {
		return
	}
	userID := msg.From.ID

	if s, ok := r.sessions.Get(userID); ok {
		if cmd, _ := parseCommand(msg.Text); cmd == "cancel" {
			r.sessions.Cancel(userID)
			r.reply(ctx, msg.Chat.ID, "Cancelled.")
			return
		}
		r.consume(ctx, msg, s)
		return
	}

	cmd, args := parseCommand(msg.Text)
	if cmd == "" {
		r.reply(ctx, msg.Chat.ID, "Unknown command. Try /help.")
		return
	}
	r.dispatch(ctx, msg, cmd, args)
}

// HandleChildUpdate processes one update addressed to a registered
// child bot. registry.ErrNotFound means the (owner, botID) pair is not
// a known registration; the server turns that into a 404.
func (r *Router) HandleChildUpdate(ctx context.Context, owner, botID int64, upd *tgbotapi.Update) error {
	key, rec, err := r.reg.FindRegistration(ctx, owner, botID)
	if err != nil {
		return err
	}

	msg := upd.Message
	if msg == nil || msg.Text == "" || msg.From == nil || msg.Chat == nil {
		return nil
	}

	cmd, _ := parseCommand(msg.Text)
	if cmd != "start" {
		return nil
	}

	if err := r.reg.AddSubscriber(ctx, key, msg.From.ID); err != nil {
		return err
	}

	token, err := r.vault.Decrypt(rec.Token)
	if err != nil {
		// Subscription is recorded; only the welcome is lost.
		r.log.Warn("cannot decrypt child bot token for welcome",
			zap.Int64("bot_id", botID), zap.Error(err))
		return nil
	}
	if err := r.api.SendMessage(ctx, token, msg.Chat.ID, "Welcome! You are now subscribed."); err != nil {
		r.log.Warn("failed to send welcome",
			zap.Int64("bot_id", botID), zap.Error(err))
	}
	return nil
}

func (r *Router) dispatch(ctx context.Context, msg *tgbotapi.Message, cmd, args string) {
	switch cmd {
	case "start":
		r.reply(ctx, msg.Chat.ID, "Hi! This is a bot-creation platform.\nUse /addbot to connect your own bot, /help for everything else.")
	case "help":
		r.reply(ctx, msg.Chat.ID, helpText)
	case "addbot":
		r.sessions.Start(msg.From.ID, session.StateAwaitingToken)
		r.reply(ctx, msg.Chat.ID, "Get a token from @BotFather and send it here.\nSend /cancel to stop.")
	case "token":
		if args == "" {
			r.sessions.Start(msg.From.ID, session.StateAwaitingToken)
			r.reply(ctx, msg.Chat.ID, "Send the bot token.\nSend /cancel to stop.")
			return
		}
		r.submitToken(ctx, msg, args)
	case "bots":
		r.listBots(ctx, msg)
	case "deletebot":
		r.deleteBot(ctx, msg, args)
	case "addtemplate":
		r.sessions.Start(msg.From.ID, session.StateAwaitingTemplateTitle)
		r.reply(ctx, msg.Chat.ID, "Send the template title.\nSend /cancel to stop.")
	case "templates":
		r.listTemplates(ctx, msg)
	case "broadcast":
		r.sessions.Start(msg.From.ID, session.StateAwaitingBroadcastTarget)
		r.reply(ctx, msg.Chat.ID, "Send the key of the bot to broadcast from (see /bots).\nSend /cancel to stop.")
	case "addschedule":
		r.addSchedule(ctx, msg, args)
	case "schedules":
		r.listSchedules(ctx, msg)
	case "addadmin":
		r.changeAdmin(ctx, msg, args, true)
	case "removeadmin":
		r.changeAdmin(ctx, msg, args, false)
	case "ask":
		if args == "" {
			r.sessions.Start(msg.From.ID, session.StateAwaitingPrompt)
			r.reply(ctx, msg.Chat.ID, "Send your question.\nSend /cancel to stop.")
			return
		}
		r.ask(ctx, msg, args)
	case "cancel":
		r.reply(ctx, msg.Chat.ID, "Nothing to cancel.")
	default:
		r.reply(ctx, msg.Chat.ID, "Unknown command. Try /help.")
	}
}

// consume feeds a message into the user's pending session. Whatever the
// text looks like, it is the awaited field; only /cancel is special,
// and that is handled before this point.
func (r *Router) consume(ctx context.Context, msg *tgbotapi.Message, s *session.Session) {
	userID := msg.From.ID

	switch s.State {
	case session.StateAwaitingToken:
		r.sessions.Cancel(userID)
		r.submitToken(ctx, msg, msg.Text)

	case session.StateAwaitingTemplateTitle:
		s.Set("title", msg.Text)
		if err := r.sessions.Advance(userID, session.StateAwaitingTemplateContent); err != nil {
			r.replyError(ctx, msg.Chat.ID, err)
			return
		}
		r.reply(ctx, msg.Chat.ID, "Now send the template text.")

	case session.StateAwaitingTemplateContent:
		title := s.Get("title")
		r.sessions.Cancel(userID)
		r.saveTemplate(ctx, msg, title, msg.Text)

	case session.StateAwaitingBroadcastTarget:
		r.pickBroadcastTarget(ctx, msg, s)

	case session.StateAwaitingBroadcastText:
		key := s.Get("key")
		r.sessions.Cancel(userID)
		r.runBroadcast(ctx, msg, key, msg.Text)

	case session.StateAwaitingScheduleText:
		spec := s.Get("spec")
		r.sessions.Cancel(userID)
		r.saveSchedule(ctx, msg, spec, msg.Text)

	case session.StateAwaitingPrompt:
		r.sessions.Cancel(userID)
		r.ask(ctx, msg, msg.Text)

	default:
		r.sessions.Cancel(userID)
		r.reply(ctx, msg.Chat.ID, "Unknown command. Try /help.")
	}
}

// parseCommand splits "/cmd@bot args" into a lowercase command and its
// arguments. Non-command text yields an empty command.
func parseCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd, args, _ = strings.Cut(strings.TrimPrefix(text, "/"), " ")
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if err := r.api.SendMessage(ctx, r.parentToken, chatID, text); err != nil {
		r.log.Error("failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// replyError converts a taxonomy error into its user-visible reply.
func (r *Router) replyError(ctx context.Context, chatID int64, err error) {
	switch {
	case errors.Is(err, registration.ErrMalformedToken):
		r.reply(ctx, chatID, "That does not look like a bot token. It should be like 123456:ABC-DEF...")
	case errors.Is(err, registration.ErrInvalidToken):
		r.reply(ctx, chatID, "Telegram rejected that token. Check it with @BotFather and try again.")
	case errors.Is(err, ErrContextNotAllowed):
		r.reply(ctx, chatID, "For safety, submit the token in a private conversation with me.")
	case errors.Is(err, ErrPermissionDenied):
		r.reply(ctx, chatID, "You are not allowed to do that.")
	case errors.Is(err, broadcast.ErrUnknownBot):
		r.reply(ctx, chatID, "Unknown bot key. Use /bots to see yours.")
	case errors.Is(err, broadcast.ErrCredentialUnavailable):
		r.reply(ctx, chatID, "The stored credential for that bot is unusable. Re-register it with /addbot.")
	case errors.Is(err, store.ErrUnavailable):
		r.reply(ctx, chatID, "Storage is temporarily unavailable. Please try again later.")
	case errors.Is(err, registry.ErrNotFound):
		r.reply(ctx, chatID, "Unknown bot key. Use /bots to see yours.")
	default:
		r.log.Error("command failed", zap.Error(err))
		r.reply(ctx, chatID, "Something went wrong. Please try again.")
	}
}

const helpText = `Available commands:
/addbot - connect a bot with its token
/bots - list your bots
/deletebot <key> - remove a bot and its subscribers
/broadcast - send a message to a bot's subscribers
/addtemplate - save a reusable message
/templates - list your templates
/addschedule daily:HH:MM | weekly:<day>:HH:MM - recurring reminder
/schedules - list your schedules
/ask - ask the assistant
/cancel - abort the current action`
