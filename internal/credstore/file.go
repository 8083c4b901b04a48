package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jun/docshare/internal/crypto"
)

// FileStore keeps all credentials in one encrypted file. Every write replaces
// the file atomically so a crash never leaves a torn credential set.
//
// The decrypted content is cached and read again only when the file on disk
// has been replaced, so a session change costs one seal and a process start
// one unseal.
type FileStore struct {
	path string
	enc  crypto.Encryptor

	mu sync.Mutex
	// cache is the decrypted file as of stat; nil until first loaded.
	cache map[string]string
	stat  fs.FileInfo
}

// NewFileStore creates a FileStore at path, creating its directory (0700).
func NewFileStore(path string, enc crypto.Encryptor) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("credstore: empty credential file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credential directory: %w", err)
	}
	return &FileStore{path: path, enc: enc}, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	return s.SetAll(ctx, map[string]string{key: value})
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.DeleteAll(ctx, []string{key})
}

// SetAll writes every entry of values with a single seal of the file.
func (s *FileStore) SetAll(ctx context.Context, values map[string]string) error {
	return s.update(ctx, func(current map[string]string) bool {
		changed := false
		for k, v := range values {
			if old, ok := current[k]; !ok || old != v {
				current[k] = v
				changed = true
			}
		}
		return changed
	})
}

// DeleteAll removes keys with a single seal of the file. The file is
// removed once it holds nothing.
func (s *FileStore) DeleteAll(ctx context.Context, keys []string) error {
	return s.update(ctx, func(current map[string]string) bool {
		changed := false
		for _, k := range keys {
			if _, ok := current[k]; ok {
				delete(current, k)
				changed = true
			}
		}
		return changed
	})
}

// update applies change to the current content and persists the result
// when change reports a modification.
func (s *FileStore) update(ctx context.Context, change func(map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load(ctx)
	if err != nil {
		return err
	}
	if !change(values) {
		return nil
	}
	if len(values) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.cache = nil
			return fmt.Errorf("remove credential file: %w", err)
		}
		s.cache, s.stat = map[string]string{}, nil
		return nil
	}
	return s.save(ctx, values)
}

// load returns a copy of the file content, decrypting only when the file
// changed since it was last read or written.
func (s *FileStore) load(ctx context.Context) (map[string]string, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.cache, s.stat = map[string]string{}, nil
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat credential file: %w", err)
	}
	if s.cache != nil && s.stat != nil && sameVersion(s.stat, info) {
		return maps.Clone(s.cache), nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	plain, err := s.enc.Decrypt(ctx, strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decrypt credential file: %w", err)
	}

	values := map[string]string{}
	if err := json.Unmarshal([]byte(plain), &values); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	s.cache, s.stat = values, info
	return maps.Clone(values), nil
}

// sameVersion reports whether b is the file a was taken from. Writers
// replace the file by rename, so a new version is a new file.
func sameVersion(a, b fs.FileInfo) bool {
	return os.SameFile(a, b) && a.ModTime().Equal(b.ModTime()) && a.Size() == b.Size()
}

func (s *FileStore) save(ctx context.Context, values map[string]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	sealed, err := s.enc.Encrypt(ctx, string(plain))
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if _, err := tmp.WriteString(sealed + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}

	s.cache = nil
	if info, err := os.Stat(s.path); err == nil {
		s.cache, s.stat = values, info
	}
	return nil
}
