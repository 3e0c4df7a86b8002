package token

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store persists the single token record.
type Store interface {
	// Load returns (nil, nil) when nothing is stored.
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, r *Record) error
	Delete(ctx context.Context) error
}

// FileStore keeps the record as one JSON file. Writes go through a temp
// file and rename, so readers never need the lock.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The parent directory is
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Kind: KindCorruptStore, Op: "load", Err: err}
	}

	r, err := decodeRecord(data)
	if err != nil {
		return nil, &Error{
			Kind: KindCorruptStore,
			Op:   "load",
			Err:  fmt.Errorf("failed to parse token file %s: %w", s.path, err),
		}
	}
	return r, nil
}

func (s *FileStore) Save(ctx context.Context, r *Record) error {
	if r == nil || r.AccessToken == "" || r.RefreshToken == "" || r.ExpiresAt.IsZero() {
		return &Error{Kind: KindInternal, Op: "save", Err: errors.New("refusing to save partial record")}
	}
	if r.SavedAt.IsZero() {
		r.SavedAt = time.Now()
	}

	data, err := encodeRecord(r)
	if err != nil {
		return &Error{Kind: KindInternal, Op: "save", Err: err}
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return &Error{Kind: KindInternal, Op: "save", Err: err}
		}
	}

	lock, err := acquireFileLock(ctx, s.path)
	if err != nil {
		return &Error{Kind: KindInternal, Op: "save", Err: fmt.Errorf("failed to acquire lock: %w", err)}
	}
	defer lock.release() //nolint:errcheck

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return &Error{Kind: KindInternal, Op: "save", Err: fmt.Errorf("failed to write temp file: %w", err)}
	}

	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			err = fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		} else {
			err = fmt.Errorf("failed to rename temp file: %w", err)
		}
		return &Error{Kind: KindInternal, Op: "save", Err: err}
	}

	return nil
}

func (s *FileStore) Delete(ctx context.Context) error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	lock, err := acquireFileLock(ctx, s.path)
	if err != nil {
		return &Error{Kind: KindInternal, Op: "delete", Err: fmt.Errorf("failed to acquire lock: %w", err)}
	}
	defer lock.release() //nolint:errcheck

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &Error{Kind: KindInternal, Op: "delete", Err: err}
	}
	return nil
}
