// Package registration validates submitted bot credentials, persists
// them encrypted, and installs the routing webhook for the child bot.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yerzhan-dev/manybot/internal/registry"
	"github.com/yerzhan-dev/manybot/internal/telegram"
	"github.com/yerzhan-dev/manybot/internal/vault"
	"github.com/yerzhan-dev/manybot/pkg/logger"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrInvalidToken   = errors.New("token rejected by upstream")
)

const minTokenLength = 6

// Result reports what Register did. WebhookInstalled false with a nil
// error means the registration was kept but routing needs manual setup.
type Result struct {
	Key              string
	BotID            int64
	Username         string
	WebhookURL       string
	WebhookInstalled bool
	Replaced         bool
}

type Service struct {
	reg     *registry.Registry
	vault   *vault.Vault
	api     telegram.API
	baseURL string
	log     logger.Logger
}

func NewService(reg *registry.Registry, v *vault.Vault, api telegram.API, baseURL string, log logger.Logger) *Service {
	return &Service{
		reg:     reg,
		vault:   v,
		api:     api,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log,
	}
}

// Register validates and stores a child-bot token for an owner.
// Re-registering a bot the owner already has replaces the stored
// credential in place: the key and subscriber set survive.
func (s *Service) Register(ctx context.Context, owner int64, token string) (*Result, error) {
	token = strings.TrimSpace(token)
	if err := checkFormat(token); err != nil {
		return nil, err
	}

	identity, err := s.api.Validate(ctx, token)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	encrypted, err := s.vault.Encrypt(token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}

	rec := &registry.Registration{
		Owner:     owner,
		BotID:     identity.ID,
		Username:  identity.Username,
		Token:     encrypted,
		CreatedAt: time.Now().Unix(),
	}

	result := &Result{BotID: identity.ID, Username: identity.Username}

	key, existing, err := s.reg.FindRegistration(ctx, owner, identity.ID)
	switch {
	case err == nil:
		rec.CreatedAt = existing.CreatedAt
		if err := s.reg.UpdateRegistration(ctx, key, rec); err != nil {
			return nil, err
		}
		result.Key = key
		result.Replaced = true
	case errors.Is(err, registry.ErrNotFound):
		key, err = s.reg.CreateRegistration(ctx, rec)
		if err != nil {
			return nil, err
		}
		result.Key = key
	default:
		return nil, err
	}

	// Webhook installation failure is deliberately non-fatal: keeping
	// the credential beats losing the registration.
	result.WebhookURL = fmt.Sprintf("%s/u/%d_%d", s.baseURL, owner, identity.ID)
	if err := s.api.SetWebhook(ctx, token, result.WebhookURL); err != nil {
		s.log.Warn("failed to install child bot webhook",
			zap.Int64("owner", owner),
			zap.Int64("bot_id", identity.ID),
			zap.Error(err))
	} else {
		result.WebhookInstalled = true
	}

	return result, nil
}

// Deregister removes a registration, its subscriber set, and
// best-effort tears down the child bot's webhook.
func (s *Service) Deregister(ctx context.Context, key string) error {
	rec, err := s.reg.GetRegistration(ctx, key)
	if err != nil {
		return err
	}

	if token, err := s.vault.Decrypt(rec.Token); err == nil {
		if err := s.api.DeleteWebhook(ctx, token); err != nil {
			s.log.Warn("failed to delete child bot webhook",
				zap.Int64("bot_id", rec.BotID),
				zap.Error(err))
		}
	}

	return s.reg.DeleteRegistration(ctx, key)
}

func checkFormat(token string) error {
	if len(token) < minTokenLength {
		return ErrMalformedToken
	}
	id, rest, ok := strings.Cut(token, ":")
	if !ok || id == "" || rest == "" {
		return ErrMalformedToken
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return ErrMalformedToken
		}
	}
	return nil
}
