package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yerzhan-dev/manybot/pkg/logger"
)

// memBackend is an in-memory Backend that can be forced offline.
type memBackend struct {
	recs map[Kind]map[string][]byte
	down bool
}

var errConnRefused = errors.New("connection refused")

func newMemBackend() *memBackend {
	return &memBackend{recs: make(map[Kind]map[string][]byte)}
}

func (b *memBackend) collection(kind Kind) map[string][]byte {
	c, ok := b.recs[kind]
	if !ok {
		c = make(map[string][]byte)
		b.recs[kind] = c
	}
	return c
}

func (b *memBackend) Put(ctx context.Context, kind Kind, key string, rec []byte) error {
	if b.down {
		return errConnRefused
	}
	b.collection(kind)[key] = rec
	return nil
}

func (b *memBackend) Get(ctx context.Context, kind Kind, key string) ([]byte, error) {
	if b.down {
		return nil, errConnRefused
	}
	rec, ok := b.collection(kind)[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (b *memBackend) List(ctx context.Context, kind Kind) (map[string][]byte, error) {
	if b.down {
		return nil, errConnRefused
	}
	out := make(map[string][]byte)
	for k, v := range b.collection(kind) {
		out[k] = v
	}
	return out, nil
}

func (b *memBackend) Delete(ctx context.Context, kind Kind, key string) error {
	if b.down {
		return errConnRefused
	}
	if _, ok := b.collection(kind)[key]; !ok {
		return ErrNotFound
	}
	delete(b.collection(kind), key)
	return nil
}

func TestFailover_PrefersPrimary(t *testing.T) {
	primary := newMemBackend()
	fallback := newMemBackend()
	f := NewFailover(primary, fallback, logger.Noop())
	ctx := context.Background()

	key, err := f.Create(ctx, KindRegistration, []byte(`{"owner":1}`))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if key == "" {
		t.Fatal("expected a generated key")
	}

	if _, ok := primary.collection(KindRegistration)[key]; !ok {
		t.Fatal("record should land in primary")
	}
	if _, ok := fallback.collection(KindRegistration)[key]; ok {
		t.Fatal("record should not land in fallback while primary is up")
	}
}

func TestFailover_FallsBackPerCall(t *testing.T) {
	primary := newMemBackend()
	fallback := newMemBackend()
	f := NewFailover(primary, fallback, logger.Noop())
	ctx := context.Background()

	primary.down = true
	key, err := f.Create(ctx, KindTemplate, []byte(`{"title":"t"}`))
	if err != nil {
		t.Fatalf("Create with primary down: %v", err)
	}
	if _, ok := fallback.collection(KindTemplate)[key]; !ok {
		t.Fatal("record should land in fallback while primary is down")
	}

	// Reads keep working against the fallback copy.
	rec, err := f.Get(ctx, KindTemplate, key)
	if err != nil {
		t.Fatalf("Get with primary down: %v", err)
	}
	if string(rec) != `{"title":"t"}` {
		t.Fatalf("unexpected record: %s", rec)
	}

	// Primary recovers: the next write goes there again.
	primary.down = false
	if err := f.Put(ctx, KindTemplate, key, []byte(`{"title":"u"}`)); err != nil {
		t.Fatalf("Put after recovery: %v", err)
	}
	if _, ok := primary.collection(KindTemplate)[key]; !ok {
		t.Fatal("record should land in primary after recovery")
	}
}

func TestFailover_BothDownIsUnavailable(t *testing.T) {
	primary := newMemBackend()
	fallback := newMemBackend()
	f := NewFailover(primary, fallback, logger.Noop())
	ctx := context.Background()

	primary.down = true
	fallback.down = true

	if _, err := f.Create(ctx, KindAdmin, []byte(`{}`)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Create, got %v", err)
	}
	if _, err := f.List(ctx, KindAdmin); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from List, got %v", err)
	}
	if err := f.Delete(ctx, KindAdmin, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Delete, got %v", err)
	}
}

func TestFailover_NotFoundFromReachablePrimaryIsFinal(t *testing.T) {
	primary := newMemBackend()
	fallback := newMemBackend()
	f := NewFailover(primary, fallback, logger.Noop())
	ctx := context.Background()

	fallback.collection(KindRegistration)["stale"] = []byte(`{}`)

	if _, err := f.Get(ctx, KindRegistration, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailover_DeleteSweepsBothBackends(t *testing.T) {
	primary := newMemBackend()
	fallback := newMemBackend()
	f := NewFailover(primary, fallback, logger.Noop())
	ctx := context.Background()

	// Created during an outage, so only the fallback has it.
	primary.down = true
	key, err := f.Create(ctx, KindSubscribers, []byte(`{}`))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	primary.down = false
	if err := f.Delete(ctx, KindSubscribers, key); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok := fallback.collection(KindSubscribers)[key]; ok {
		t.Fatal("fallback copy should be gone")
	}
}

// blockingBackend pauses inside Put until released, exposing the window
// in which the per-key lock must hold off other writers.
type blockingBackend struct {
	*memBackend
	entered sync.Once
	inPut   chan struct{}
	release chan struct{}
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{
		memBackend: newMemBackend(),
		inPut:      make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (b *blockingBackend) Put(ctx context.Context, kind Kind, key string, rec []byte) error {
	b.entered.Do(func() { close(b.inPut) })
	<-b.release
	return b.memBackend.Put(ctx, kind, key, rec)
}

func TestFailover_SerializesSameKeyWriters(t *testing.T) {
	fallback := newBlockingBackend()
	f := NewFailover(nil, fallback, logger.Noop())
	ctx := context.Background()

	putDone := make(chan error, 1)
	go func() { putDone <- f.Put(ctx, KindRegistration, "k", []byte(`{}`)) }()
	<-fallback.inPut // the put now holds the key lock inside the backend call

	deleteDone := make(chan error, 1)
	go func() { deleteDone <- f.Delete(ctx, KindRegistration, "k") }()

	select {
	case <-deleteDone:
		t.Fatal("delete must wait for the in-flight put on the same key")
	case <-time.After(50 * time.Millisecond):
	}

	close(fallback.release)
	if err := <-putDone; err != nil {
		t.Fatalf("Put error: %v", err)
	}
	// Serialized after the put, the delete sees the record it wrote.
	if err := <-deleteDone; err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok := fallback.collection(KindRegistration)["k"]; ok {
		t.Fatal("record should be gone after the serialized delete")
	}
}

func TestFailover_ReleasesIdleKeyLocks(t *testing.T) {
	fallback := newMemBackend()
	f := NewFailover(nil, fallback, logger.Noop())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key, err := f.Create(ctx, KindRegistration, []byte(`{}`))
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if _, err := f.Get(ctx, KindRegistration, key); err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if err := f.Delete(ctx, KindRegistration, key); err != nil {
			t.Fatalf("Delete error: %v", err)
		}
	}

	f.mu.Lock()
	n := len(f.locks)
	f.mu.Unlock()
	if n != 0 {
		t.Fatalf("lock table should be empty when idle, got %d entries", n)
	}
}

func TestFailover_WithoutPrimary(t *testing.T) {
	fallback := newMemBackend()
	f := NewFailover(nil, fallback, logger.Noop())
	ctx := context.Background()

	key, err := f.Create(ctx, KindSchedule, []byte(`{"spec":"daily:09:00"}`))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := f.Get(ctx, KindSchedule, key); err != nil {
		t.Fatalf("Get error: %v", err)
	}
}
