// Package kv defines the persistent record store the tracking engine keeps its
// consent and attribution records in. Implementations live in subpackages.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by stores that have been closed.
var ErrClosed = errors.New("record store closed")

// ErrEmptyKey is returned when a caller passes an empty key.
var ErrEmptyKey = errors.New("record key is required")

// Store is a string-keyed record store. Get reports whether the key exists;
// Remove of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Closer is implemented by stores that hold external resources.
type Closer interface {
	Close() error
}

// Namespaced scopes every key of an underlying store under a fixed prefix so
// several visitors can share one backend.
type Namespaced struct {
	store  Store
	prefix string
}

// WithPrefix returns store scoped to prefix.
func WithPrefix(store Store, prefix string) *Namespaced {
	return &Namespaced{store: store, prefix: prefix}
}

// Get implements Store.
func (n *Namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	return n.store.Get(ctx, n.prefix+key)
}

// Set implements Store.
func (n *Namespaced) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return n.store.Set(ctx, n.prefix+key, value)
}

// Remove implements Store.
func (n *Namespaced) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return n.store.Remove(ctx, n.prefix+key)
}
