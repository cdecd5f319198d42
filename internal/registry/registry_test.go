package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yerzhan-dev/manybot/internal/store"
	"github.com/yerzhan-dev/manybot/internal/store/file"
	"github.com/yerzhan-dev/manybot/pkg/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	fallback := file.New(t.TempDir())
	return New(store.NewFailover(nil, fallback, logger.Noop()))
}

func TestRegistry_RegistrationRoundtrip(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	reg := &Registration{
		Owner:     5,
		BotID:     100,
		Username:  "x",
		Token:     "111:abc",
		CreatedAt: time.Now().Unix(),
	}

	key, err := r.CreateRegistration(ctx, reg)
	if err != nil {
		t.Fatalf("CreateRegistration error: %v", err)
	}

	got, err := r.GetRegistration(ctx, key)
	if err != nil {
		t.Fatalf("GetRegistration error: %v", err)
	}
	if diff := cmp.Diff(reg, got); diff != "" {
		t.Fatalf("registration mismatch (-want +got):\n%s", diff)
	}

	mine, err := r.ListRegistrationsByOwner(ctx, 5)
	if err != nil {
		t.Fatalf("ListRegistrationsByOwner error: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("expected exactly one registration, got %d", len(mine))
	}
	if mine[key].BotID != 100 {
		t.Fatalf("expected bot_id 100, got %d", mine[key].BotID)
	}
}

func TestRegistry_FindRegistration(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	key, err := r.CreateRegistration(ctx, &Registration{Owner: 5, BotID: 100, Username: "x"})
	if err != nil {
		t.Fatalf("CreateRegistration error: %v", err)
	}

	foundKey, reg, err := r.FindRegistration(ctx, 5, 100)
	if err != nil {
		t.Fatalf("FindRegistration error: %v", err)
	}
	if foundKey != key {
		t.Fatalf("expected key %s, got %s", key, foundKey)
	}
	if reg.Username != "x" {
		t.Fatalf("expected username x, got %s", reg.Username)
	}

	if _, _, err := r.FindRegistration(ctx, 5, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_DeleteCascadesSubscribers(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	key, err := r.CreateRegistration(ctx, &Registration{Owner: 5, BotID: 100})
	if err != nil {
		t.Fatalf("CreateRegistration error: %v", err)
	}
	for _, id := range []int64{10, 20, 30} {
		if err := r.AddSubscriber(ctx, key, id); err != nil {
			t.Fatalf("AddSubscriber %d error: %v", id, err)
		}
	}

	if err := r.DeleteRegistration(ctx, key); err != nil {
		t.Fatalf("DeleteRegistration error: %v", err)
	}

	if _, err := r.GetRegistration(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// The subscriber set reads as empty, not as an error.
	subs, err := r.Subscribers(ctx, key)
	if err != nil {
		t.Fatalf("Subscribers after delete: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected empty subscriber set, got %d entries", len(subs))
	}
}

func TestRegistry_AddSubscriberIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	key, err := r.CreateRegistration(ctx, &Registration{Owner: 1, BotID: 2})
	if err != nil {
		t.Fatalf("CreateRegistration error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := r.AddSubscriber(ctx, key, 42); err != nil {
			t.Fatalf("AddSubscriber error: %v", err)
		}
	}

	subs, err := r.Subscribers(ctx, key)
	if err != nil {
		t.Fatalf("Subscribers error: %v", err)
	}
	if len(subs) != 1 || !subs[42] {
		t.Fatalf("expected exactly subscriber 42, got %v", subs)
	}
}

func TestRegistry_TemplateRoundtrip(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	tpl := &Template{Owner: 7, Title: "greeting", Content: "hello", CreatedAt: time.Now().Unix()}
	key, err := r.CreateTemplate(ctx, tpl)
	if err != nil {
		t.Fatalf("CreateTemplate error: %v", err)
	}

	mine, err := r.ListTemplatesByOwner(ctx, 7)
	if err != nil {
		t.Fatalf("ListTemplatesByOwner error: %v", err)
	}
	if diff := cmp.Diff(tpl, mine[key]); diff != "" {
		t.Fatalf("template mismatch (-want +got):\n%s", diff)
	}

	other, err := r.ListTemplatesByOwner(ctx, 8)
	if err != nil {
		t.Fatalf("ListTemplatesByOwner error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no templates for other owner, got %d", len(other))
	}
}

func TestRegistry_AdminFlags(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	ok, err := r.IsAdmin(ctx, 9)
	if err != nil {
		t.Fatalf("IsAdmin error: %v", err)
	}
	if ok {
		t.Fatal("user should not be admin initially")
	}

	if err := r.AddAdmin(ctx, 9); err != nil {
		t.Fatalf("AddAdmin error: %v", err)
	}
	if ok, _ := r.IsAdmin(ctx, 9); !ok {
		t.Fatal("user should be admin after AddAdmin")
	}

	if err := r.RemoveAdmin(ctx, 9); err != nil {
		t.Fatalf("RemoveAdmin error: %v", err)
	}
	if ok, _ := r.IsAdmin(ctx, 9); ok {
		t.Fatal("user should not be admin after RemoveAdmin")
	}

	// Removing an absent flag is not an error.
	if err := r.RemoveAdmin(ctx, 9); err != nil {
		t.Fatalf("RemoveAdmin of absent flag: %v", err)
	}
}

func TestRegistry_ScheduleRoundtrip(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	sc := &Schedule{Owner: 3, ChatID: 3, Spec: "daily:09:00", Text: "standup", CreatedAt: time.Now().Unix()}
	key, err := r.CreateSchedule(ctx, sc)
	if err != nil {
		t.Fatalf("CreateSchedule error: %v", err)
	}

	all, err := r.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("ListSchedules error: %v", err)
	}
	if diff := cmp.Diff(sc, all[key]); diff != "" {
		t.Fatalf("schedule mismatch (-want +got):\n%s", diff)
	}

	mine, err := r.ListSchedulesByOwner(ctx, 3)
	if err != nil {
		t.Fatalf("ListSchedulesByOwner error: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("expected one schedule, got %d", len(mine))
	}
}
