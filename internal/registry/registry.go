// Package registry gives typed access to the platform's record kinds on
// top of the raw document store.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/yerzhan-dev/manybot/internal/store"
)

var ErrNotFound = store.ErrNotFound

type Registry struct {
	store store.Store
}

func New(st store.Store) *Registry {
	return &Registry{store: st}
}

// --- registrations ---

func (r *Registry) CreateRegistration(ctx context.Context, reg *Registration) (string, error) {
	rec, err := json.Marshal(reg)
	if err != nil {
		return "", fmt.Errorf("failed to encode registration: %w", err)
	}
	return r.store.Create(ctx, store.KindRegistration, rec)
}

func (r *Registry) GetRegistration(ctx context.Context, key string) (*Registration, error) {
	rec, err := r.store.Get(ctx, store.KindRegistration, key)
	if err != nil {
		return nil, err
	}
	var reg Registration
	if err := json.Unmarshal(rec, &reg); err != nil {
		return nil, fmt.Errorf("failed to decode registration %s: %w", key, err)
	}
	return &reg, nil
}

func (r *Registry) UpdateRegistration(ctx context.Context, key string, reg *Registration) error {
	rec, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}
	return r.store.Put(ctx, store.KindRegistration, key, rec)
}

// ListRegistrationsByOwner returns the owner's registrations keyed by
// their opaque store keys. Ordering is unspecified.
func (r *Registry) ListRegistrationsByOwner(ctx context.Context, owner int64) (map[string]*Registration, error) {
	all, err := r.listRegistrations(ctx)
	if err != nil {
		return nil, err
	}
	mine := make(map[string]*Registration)
	for key, reg := range all {
		if reg.Owner == owner {
			mine[key] = reg
		}
	}
	return mine, nil
}

// FindRegistration locates the live registration for an (owner, botID)
// pair. ErrNotFound when the pair is unknown.
func (r *Registry) FindRegistration(ctx context.Context, owner, botID int64) (string, *Registration, error) {
	all, err := r.listRegistrations(ctx)
	if err != nil {
		return "", nil, err
	}
	for key, reg := range all {
		if reg.Owner == owner && reg.BotID == botID {
			return key, reg, nil
		}
	}
	return "", nil, ErrNotFound
}

// DeleteRegistration removes a registration and its subscriber set.
// The subscriber set goes first: a crash in between leaves only a
// registration with zero subscribers, never an orphaned set.
func (r *Registry) DeleteRegistration(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, store.KindSubscribers, key); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return r.store.Delete(ctx, store.KindRegistration, key)
}

func (r *Registry) listRegistrations(ctx context.Context) (map[string]*Registration, error) {
	recs, err := r.store.List(ctx, store.KindRegistration)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Registration, len(recs))
	for key, rec := range recs {
		var reg Registration
		if err := json.Unmarshal(rec, &reg); err != nil {
			return nil, fmt.Errorf("failed to decode registration %s: %w", key, err)
		}
		out[key] = &reg
	}
	return out, nil
}

// --- subscribers ---

// Subscribers returns a registration's subscriber set. An absent set
// reads as empty, not as an error.
func (r *Registry) Subscribers(ctx context.Context, regKey string) (SubscriberSet, error) {
	rec, err := r.store.Get(ctx, store.KindSubscribers, regKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SubscriberSet{}, nil
		}
		return nil, err
	}
	var set SubscriberSet
	if err := json.Unmarshal(rec, &set); err != nil {
		return nil, fmt.Errorf("failed to decode subscriber set %s: %w", regKey, err)
	}
	return set, nil
}

func (r *Registry) AddSubscriber(ctx context.Context, regKey string, userID int64) error {
	set, err := r.Subscribers(ctx, regKey)
	if err != nil {
		return err
	}
	if set[userID] {
		return nil
	}
	set[userID] = true

	rec, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode subscriber set: %w", err)
	}
	return r.store.Put(ctx, store.KindSubscribers, regKey, rec)
}

// --- templates ---

func (r *Registry) CreateTemplate(ctx context.Context, tpl *Template) (string, error) {
	rec, err := json.Marshal(tpl)
	if err != nil {
		return "", fmt.Errorf("failed to encode template: %w", err)
	}
	return r.store.Create(ctx, store.KindTemplate, rec)
}

func (r *Registry) ListTemplatesByOwner(ctx context.Context, owner int64) (map[string]*Template, error) {
	recs, err := r.store.List(ctx, store.KindTemplate)
	if err != nil {
		return nil, err
	}
	mine := make(map[string]*Template)
	for key, rec := range recs {
		var tpl Template
		if err := json.Unmarshal(rec, &tpl); err != nil {
			return nil, fmt.Errorf("failed to decode template %s: %w", key, err)
		}
		if tpl.Owner == owner {
			mine[key] = &tpl
		}
	}
	return mine, nil
}

// --- admins ---

func (r *Registry) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	_, err := r.store.Get(ctx, store.KindAdmin, adminKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Registry) AddAdmin(ctx context.Context, userID int64) error {
	rec, err := json.Marshal(&AdminFlag{UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to encode admin flag: %w", err)
	}
	return r.store.Put(ctx, store.KindAdmin, adminKey(userID), rec)
}

func (r *Registry) RemoveAdmin(ctx context.Context, userID int64) error {
	err := r.store.Delete(ctx, store.KindAdmin, adminKey(userID))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func adminKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// --- schedules ---

func (r *Registry) CreateSchedule(ctx context.Context, sc *Schedule) (string, error) {
	rec, err := json.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("failed to encode schedule: %w", err)
	}
	return r.store.Create(ctx, store.KindSchedule, rec)
}

func (r *Registry) ListSchedules(ctx context.Context) (map[string]*Schedule, error) {
	recs, err := r.store.List(ctx, store.KindSchedule)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Schedule, len(recs))
	for key, rec := range recs {
		var sc Schedule
		if err := json.Unmarshal(rec, &sc); err != nil {
			return nil, fmt.Errorf("failed to decode schedule %s: %w", key, err)
		}
		out[key] = &sc
	}
	return out, nil
}

func (r *Registry) ListSchedulesByOwner(ctx context.Context, owner int64) (map[string]*Schedule, error) {
	all, err := r.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	mine := make(map[string]*Schedule)
	for key, sc := range all {
		if sc.Owner == owner {
			mine[key] = sc
		}
	}
	return mine, nil
}
