package store

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/yerzhan-dev/manybot/pkg/logger"
)

// Failover is the single primary-then-fallback decision point. Every
// operation independently attempts the primary first, since network
// availability can change between calls. ErrNotFound from a reachable
// backend is an answer, not an outage, and does not trigger fallback.
//
// Writes to the same (kind, key) are serialized by a per-key mutex held
// for the duration of the backend call, so a concurrent delete and
// broadcast cannot interleave inside the store.
type Failover struct {
	primary  Backend // nil when no remote store is configured
	fallback Backend
	log      logger.Logger

	mu    sync.Mutex
	locks map[lockKey]*keyLock
}

type lockKey struct {
	kind Kind
	key  string
}

// keyLock is reference-counted so the lock table stays bounded: the
// entry is evicted once the last holder releases it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewFailover(primary, fallback Backend, log logger.Logger) *Failover {
	return &Failover{
		primary:  primary,
		fallback: fallback,
		log:      log,
		locks:    make(map[lockKey]*keyLock),
	}
}

func (f *Failover) Create(ctx context.Context, kind Kind, rec []byte) (string, error) {
	key := NewKey()
	if err := f.Put(ctx, kind, key, rec); err != nil {
		return "", err
	}
	return key, nil
}

func (f *Failover) Put(ctx context.Context, kind Kind, key string, rec []byte) error {
	unlock := f.lockKey(kind, key)
	defer unlock()

	if f.primary != nil {
		err := f.primary.Put(ctx, kind, key, rec)
		if err == nil {
			return nil
		}
		f.warnPrimary("put", kind, err)
	}

	if err := f.fallback.Put(ctx, kind, key, rec); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (f *Failover) Get(ctx context.Context, kind Kind, key string) ([]byte, error) {
	unlock := f.lockKey(kind, key)
	defer unlock()

	if f.primary != nil {
		rec, err := f.primary.Get(ctx, kind, key)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		f.warnPrimary("get", kind, err)
	}

	rec, err := f.fallback.Get(ctx, kind, key)
	if err == nil || errors.Is(err, ErrNotFound) {
		return rec, err
	}
	return nil, errors.Join(ErrUnavailable, err)
}

func (f *Failover) List(ctx context.Context, kind Kind) (map[string][]byte, error) {
	if f.primary != nil {
		recs, err := f.primary.List(ctx, kind)
		if err == nil {
			return recs, nil
		}
		f.warnPrimary("list", kind, err)
	}

	recs, err := f.fallback.List(ctx, kind)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return recs, nil
}

// Delete sweeps both backends: a record created while the primary was
// down lives only in the fallback and must still be deletable once the
// primary recovers.
func (f *Failover) Delete(ctx context.Context, kind Kind, key string) error {
	unlock := f.lockKey(kind, key)
	defer unlock()

	primaryErr := ErrNotFound
	if f.primary != nil {
		primaryErr = f.primary.Delete(ctx, kind, key)
		if primaryErr != nil && !errors.Is(primaryErr, ErrNotFound) {
			f.warnPrimary("delete", kind, primaryErr)
		}
	}

	fallbackErr := f.fallback.Delete(ctx, kind, key)

	if primaryErr == nil || fallbackErr == nil {
		return nil
	}
	if errors.Is(primaryErr, ErrNotFound) && errors.Is(fallbackErr, ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(fallbackErr, ErrNotFound) {
		// Primary failed hard and the fallback never had the record.
		return errors.Join(ErrUnavailable, primaryErr)
	}
	return errors.Join(ErrUnavailable, fallbackErr)
}

func (f *Failover) lockKey(kind Kind, key string) func() {
	lk := lockKey{kind: kind, key: key}

	f.mu.Lock()
	l, ok := f.locks[lk]
	if !ok {
		l = &keyLock{}
		f.locks[lk] = l
	}
	l.refs++
	f.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		f.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(f.locks, lk)
		}
		f.mu.Unlock()
	}
}

func (f *Failover) warnPrimary(op string, kind Kind, err error) {
	f.log.Warn("primary store failed, using fallback",
		zap.String("op", op),
		zap.String("kind", string(kind)),
		zap.Error(err))
}
