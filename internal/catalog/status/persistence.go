// Package status holds the catalog sync status model and its file persistence.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

//go:generate mockgen -destination=mocks/mock_persistence.go -package=mocks -source=persistence.go StatusPersistence

// StatusFileName is the name of the per scope status file
const StatusFileName = "status.json"

// lockFileName guards StatusFileName across processes sharing basePath
const lockFileName = StatusFileName + ".lock"

const lockRetryDelay = 10 * time.Millisecond

// StatusPersistence stores sync statuses keyed by scope.
//
//nolint:revive // status.StatusPersistence reads fine at call sites
type StatusPersistence interface {
	// SaveStatus replaces the stored status of scope
	SaveStatus(ctx context.Context, scope Scope, status *SyncStatus) error

	// LoadStatus returns the stored status of scope, or nil if none was saved yet
	LoadStatus(ctx context.Context, scope Scope) (*SyncStatus, error)

	// LoadAllStatus returns every stored status
	LoadAllStatus(ctx context.Context) (map[Scope]*SyncStatus, error)
}

type fileStatusPersistence struct {
	basePath string
}

// NewFileStatusPersistence stores each scope under basePath/<scope>/status.json.
func NewFileStatusPersistence(basePath string) StatusPersistence {
	return &fileStatusPersistence{basePath: basePath}
}

// lock takes the scope's file lock, shared for readers. It waits until ctx is done.
func lock(ctx context.Context, dir string, shared bool) (func(), error) {
	fl := flock.New(filepath.Join(dir, lockFileName))
	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("lock %s is held", fl.Path())
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("Failed to release status lock", "path", fl.Path(), "error", err)
		}
	}, nil
}

func (f *fileStatusPersistence) SaveStatus(ctx context.Context, scope Scope, status *SyncStatus) error {
	dir := filepath.Join(f.basePath, string(scope))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for scope %s: %w", scope, err)
	}
	unlock, err := lock(ctx, dir, false)
	if err != nil {
		return fmt.Errorf("failed to lock status file for scope %s: %w", scope, err)
	}
	defer unlock()

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status for scope %s: %w", scope, err)
	}

	target := filepath.Join(dir, StatusFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write status file for scope %s: %w", scope, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename status file for scope %s: %w", scope, err)
	}
	return nil
}

func (f *fileStatusPersistence) LoadStatus(ctx context.Context, scope Scope) (*SyncStatus, error) {
	dir := filepath.Join(f.basePath, string(scope))
	target := filepath.Join(dir, StatusFileName)
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	unlock, err := lock(ctx, dir, true)
	if err != nil {
		return nil, fmt.Errorf("failed to lock status file for scope %s: %w", scope, err)
	}
	defer unlock()

	// #nosec G304 -- scope is one of the fixed Scope values
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status file for scope %s: %w", scope, err)
	}

	var status SyncStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status for scope %s: %w", scope, err)
	}
	status.Scope = scope
	return &status, nil
}

func (f *fileStatusPersistence) LoadAllStatus(ctx context.Context) (map[Scope]*SyncStatus, error) {
	result := make(map[Scope]*SyncStatus)

	entries, err := os.ReadDir(f.basePath)
	if errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scope, err := ParseScope(entry.Name())
		if err != nil {
			continue
		}
		status, err := f.LoadStatus(ctx, scope)
		if err != nil {
			slog.Warn("Skipping unreadable sync status", "scope", scope, "error", err)
			continue
		}
		if status != nil {
			result[scope] = status
		}
	}
	return result, nil
}
