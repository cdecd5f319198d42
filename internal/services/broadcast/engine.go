// Package broadcast fans a message body out to every subscriber of one
// registered bot.
package broadcast

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yerzhan-dev/manybot/internal/registry"
	"github.com/yerzhan-dev/manybot/internal/telegram"
	"github.com/yerzhan-dev/manybot/internal/vault"
	"github.com/yerzhan-dev/manybot/pkg/logger"
)

var (
	ErrUnknownBot = errors.New("unknown bot")
	// ErrCredentialUnavailable means the stored token would not
	// decrypt; no sends are attempted with a broken credential.
	ErrCredentialUnavailable = errors.New("credential unavailable")
)

const defaultWorkers = 8

// DeliveryReport tallies one fan-out. Failed counts recipients whose
// individual send failed; they never abort the rest.
type DeliveryReport struct {
	Sent   int
	Failed int
}

type Engine struct {
	reg     *registry.Registry
	vault   *vault.Vault
	api     telegram.API
	workers int
	log     logger.Logger
}

func NewEngine(reg *registry.Registry, v *vault.Vault, api telegram.API, workers int, log logger.Logger) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{
		reg:     reg,
		vault:   v,
		api:     api,
		workers: workers,
		log:     log,
	}
}

// Broadcast sends body to every subscriber of the registration behind
// key, with at most workers concurrent sends against the upstream.
func (e *Engine) Broadcast(ctx context.Context, key, body string) (DeliveryReport, error) {
	rec, err := e.reg.GetRegistration(ctx, key)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return DeliveryReport{}, ErrUnknownBot
		}
		return DeliveryReport{}, err
	}

	subs, err := e.reg.Subscribers(ctx, key)
	if err != nil {
		return DeliveryReport{}, err
	}
	if len(subs) == 0 {
		return DeliveryReport{}, nil
	}

	token, err := e.vault.Decrypt(rec.Token)
	if err != nil {
		return DeliveryReport{}, errors.Join(ErrCredentialUnavailable, err)
	}

	var sent, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for chatID := range subs {
		g.Go(func() error {
			if err := e.api.SendMessage(gctx, token, chatID, body); err != nil {
				failed.Add(1)
				e.log.Warn("broadcast send failed",
					zap.String("registration", key),
					zap.Int64("chat_id", chatID),
					zap.Error(err))
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report := DeliveryReport{Sent: int(sent.Load()), Failed: int(failed.Load())}
	e.log.Info("broadcast finished",
		zap.String("registration", key),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed))
	return report, nil
}
