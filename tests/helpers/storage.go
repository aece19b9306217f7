package helpers

import (
	"context"
	"errors"
	"sync"

	"github.com/xiaot623/csassistant/internal/repository"
)

// ErrInjected is returned by FlakyStorage when a failure is armed.
var ErrInjected = errors.New("injected storage failure")

// FlakyStorage wraps a Storage and fails reads or writes on demand.
type FlakyStorage struct {
	repository.Storage

	mu        sync.Mutex
	failGet   bool
	failWrite bool
}

func NewFlakyStorage(inner repository.Storage) *FlakyStorage {
	return &FlakyStorage{Storage: inner}
}

func (f *FlakyStorage) FailReads(fail bool) {
	f.mu.Lock()
	f.failGet = fail
	f.mu.Unlock()
}

func (f *FlakyStorage) FailWrites(fail bool) {
	f.mu.Lock()
	f.failWrite = fail
	f.mu.Unlock()
}

func (f *FlakyStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return "", false, ErrInjected
	}
	return f.Storage.GetItem(ctx, key)
}

func (f *FlakyStorage) SetItem(ctx context.Context, key, value string) error {
	if f.writesFail() {
		return ErrInjected
	}
	return f.Storage.SetItem(ctx, key, value)
}

func (f *FlakyStorage) RemoveItem(ctx context.Context, key string) error {
	if f.writesFail() {
		return ErrInjected
	}
	return f.Storage.RemoveItem(ctx, key)
}

func (f *FlakyStorage) writesFail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWrite
}
