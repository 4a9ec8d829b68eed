package storage

import (
	"context"
	"errors"
)

const (
	TypeRedis  = "redis"
	TypeMemory = "memory"
)

// ErrUnavailable marks a backend that cannot serve reads or writes.
var ErrUnavailable = errors.New("storage backend unavailable")

// Store is the key/value contract used for session identity. Callers see the
// same behaviour whichever backend is active.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Type() string
}

// Prober is implemented by backends that can be checked before use.
type Prober interface {
	Probe(ctx context.Context) error
}
