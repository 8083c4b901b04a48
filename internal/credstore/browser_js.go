//go:build js && wasm

package credstore

import (
	"context"
	"errors"
	"syscall/js"
)

// BrowserStore implements Store on window.localStorage.
type BrowserStore struct {
	storage js.Value
}

func newBrowserStore() (Store, error) {
	storage := js.Global().Get("localStorage")
	if storage.IsUndefined() || storage.IsNull() {
		return nil, errors.New("credstore: localStorage is not available")
	}
	return &BrowserStore{storage: storage}, nil
}

func (b *BrowserStore) Get(_ context.Context, key string) (string, error) {
	v := b.storage.Call("getItem", key)
	if v.IsNull() || v.IsUndefined() {
		return "", ErrNotFound
	}
	return v.String(), nil
}

func (b *BrowserStore) Set(_ context.Context, key, value string) error {
	b.storage.Call("setItem", key, value)
	return nil
}

func (b *BrowserStore) Delete(_ context.Context, key string) error {
	b.storage.Call("removeItem", key)
	return nil
}
