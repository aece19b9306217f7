// Package repository provides the durable key/value "local storage" the
// conversation, theme and search history are persisted to.
package repository

import (
	"context"
	"fmt"
)

// Well-known storage keys.
const (
	KeyTheme         = "theme"
	KeyChatHistory   = "chatHistory"
	KeySearchHistory = "searchHistory"
)

// Storage is a string key/value store.
type Storage interface {
	// GetItem returns the value stored under key. found is false when the
	// key is absent.
	GetItem(ctx context.Context, key string) (value string, found bool, err error)
	SetItem(ctx context.Context, key, value string) error
	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// Backend is a Storage that owns underlying resources.
type Backend interface {
	Storage
	Close() error
}

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
)

// Open opens the backend for driver. dsn is a sqlite DSN or a pebble directory.
func Open(driver, dsn string) (Backend, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLiteStore(dsn)
	case DriverPebble:
		return NewPebbleStore(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

type namespaced struct {
	inner  Storage
	prefix string
}

// Namespace scopes every key of s under prefix, so several conversations can
// share one backend.
func Namespace(s Storage, prefix string) Storage {
	if prefix == "" {
		return s
	}
	return &namespaced{inner: s, prefix: prefix + ":"}
}

func (n *namespaced) GetItem(ctx context.Context, key string) (string, bool, error) {
	return n.inner.GetItem(ctx, n.prefix+key)
}

func (n *namespaced) SetItem(ctx context.Context, key, value string) error {
	return n.inner.SetItem(ctx, n.prefix+key, value)
}

func (n *namespaced) RemoveItem(ctx context.Context, key string) error {
	return n.inner.RemoveItem(ctx, n.prefix+key)
}
