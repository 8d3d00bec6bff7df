// Package kv is the per-profile key/value store the credits ledger, history log
// and onboarding flags persist into.
package kv

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by stores that cannot reach their backing storage.
var ErrUnavailable = errors.New("kv store unavailable")

// Store is one profile's view of the key/value space.
type Store interface {
	// Read returns the stored value and whether the key exists.
	Read(ctx context.Context, key string) (string, bool, error)
	Write(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Backend holds the values of every profile.
type Backend interface {
	Get(ctx context.Context, profileID, key string) (string, bool, error)
	Put(ctx context.Context, profileID, key, value string) error
	Remove(ctx context.Context, profileID, key string) error
}

// Scope binds a backend to one profile.
func Scope(backend Backend, profileID string) Store {
	return &scoped{backend: backend, profileID: profileID}
}

type scoped struct {
	backend   Backend
	profileID string
}

func (s *scoped) Read(ctx context.Context, key string) (string, bool, error) {
	return s.backend.Get(ctx, s.profileID, key)
}

func (s *scoped) Write(ctx context.Context, key, value string) error {
	return s.backend.Put(ctx, s.profileID, key, value)
}

func (s *scoped) Delete(ctx context.Context, key string) error {
	return s.backend.Remove(ctx, s.profileID, key)
}
