// Package credstore persists the client's session credentials behind a small
// get/set/delete capability. One backend is selected per runtime target when
// the process starts.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jun/docshare/internal/crypto"
)

// Fixed keys under which the session is persisted.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	// KeyIdentity holds the login email; it is not a secret.
	KeyIdentity = "identity"
)

// Keys lists every key the session manager writes.
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyIdentity}

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("credential not found")

// Store is an opaque string key-value store for credentials.
// Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Batcher is implemented by stores that apply several changes in one step.
type Batcher interface {
	SetAll(ctx context.Context, values map[string]string) error
	DeleteAll(ctx context.Context, keys []string) error
}

// Options configures Open.
type Options struct {
	Target Target

	// Path is the credential file for TargetNative.
	Path string

	// Encryptor seals values for TargetNative and TargetServerless.
	Encryptor crypto.Encryptor

	// Dynamo, Table and Principal configure TargetServerless.
	Dynamo    DynamoAPI
	Table     string
	Principal string
}

// Open returns the backend for opts.Target.
func Open(opts Options) (Store, error) {
	switch opts.Target {
	case TargetMemory:
		return NewMemoryStore(), nil
	case TargetNative:
		if opts.Encryptor == nil {
			return nil, errors.New("credstore: native target needs an encryptor")
		}
		return NewFileStore(opts.Path, opts.Encryptor)
	case TargetServerless:
		if opts.Dynamo == nil || opts.Encryptor == nil {
			return nil, errors.New("credstore: serverless target needs a DynamoDB client and an encryptor")
		}
		return NewDynamoStore(opts.Dynamo, opts.Table, opts.Principal, opts.Encryptor), nil
	case TargetWeb:
		return newBrowserStore()
	default:
		return nil, fmt.Errorf("credstore: unknown target %q", opts.Target)
	}
}

// SetAll writes values to s, in one step when s is a Batcher. Otherwise keys
// are written in sorted order and the first error stops the writes.
func SetAll(ctx context.Context, s Store, values map[string]string) error {
	if b, ok := s.(Batcher); ok {
		return b.SetAll(ctx, values)
	}
	for _, k := range slices.Sorted(maps.Keys(values)) {
		if err := s.Set(ctx, k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// Clear deletes every session key from s, returning the first error.
func Clear(ctx context.Context, s Store) error {
	if b, ok := s.(Batcher); ok {
		return b.DeleteAll(ctx, Keys)
	}
	var first error
	for _, k := range Keys {
		if err := s.Delete(ctx, k); err != nil && first == nil {
			first = err
		}
	}
	return first
}
