package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type filesystemStore struct {
	root string
}

var _ Store = (*filesystemStore)(nil)

// NewFilesystem returns a Store rooted at dir, creating it if needed.
func NewFilesystem(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("filesystem blob path is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob path: %w", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &filesystemStore{root: abs}, nil
}

func (s *filesystemStore) pathFor(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *filesystemStore) Put(_ context.Context, key string, data []byte, _ string) error {
	target, err := s.pathFor(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	// Write to a temp file in the same directory and rename so readers never
	// observe a partial object
	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move blob into place: %w", err)
	}
	return nil
}

func (s *filesystemStore) Get(_ context.Context, key string) (io.ReadCloser, *Info, error) {
	target, err := s.pathFor(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(target) // #nosec G304 -- path is confined to the store root by cleanKey
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open blob: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to stat blob: %w", err)
	}
	return f, &Info{ContentType: ContentTypeForKey(key), Size: stat.Size()}, nil
}

func (s *filesystemStore) Delete(_ context.Context, key string) error {
	target, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
