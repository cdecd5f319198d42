// Package store is the persistence layer for every record kind the
// platform owns. Records are opaque JSON documents addressed by
// (kind, key); typed access lives in the registry package.
package store

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

type Kind string

const (
	KindRegistration Kind = "bots"
	KindSubscribers  Kind = "subscribers"
	KindTemplate     Kind = "templates"
	KindAdmin        Kind = "admins"
	KindSchedule     Kind = "schedules"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable means both the primary and the fallback backend
	// failed for this call.
	ErrUnavailable = errors.New("store unavailable")
)

// Backend is one storage target: the remote primary or the local
// fallback. Get and Delete on an absent key return ErrNotFound.
type Backend interface {
	Put(ctx context.Context, kind Kind, key string, rec []byte) error
	Get(ctx context.Context, kind Kind, key string) ([]byte, error)
	List(ctx context.Context, kind Kind) (map[string][]byte, error)
	Delete(ctx context.Context, kind Kind, key string) error
}

// Store is the caller-facing contract: Backend plus opaque key
// generation on create.
type Store interface {
	Backend
	Create(ctx context.Context, kind Kind, rec []byte) (string, error)
}

// NewKey returns a random 128-bit hex key.
func NewKey() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
