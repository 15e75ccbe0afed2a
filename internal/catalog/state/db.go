package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
)

const syncColumns = `scope, state, message, started_at, finished_at, updated_at`

type syncRow struct {
	Scope      string     `db:"scope"`
	State      string     `db:"state"`
	Message    string     `db:"message"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (r *syncRow) toStatus() *status.SyncStatus {
	s := &status.SyncStatus{
		Scope:     status.Scope(r.Scope),
		State:     status.SyncState(r.State),
		Message:   r.Message,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.StartedAt != nil {
		t := r.StartedAt.UTC()
		s.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := r.FinishedAt.UTC()
		s.FinishedAt = &t
	}
	return s
}

type dbStateService struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewDBStateService creates a state service backed by the catalog_sync_status table.
func NewDBStateService(pool *pgxpool.Pool) StateService {
	return &dbStateService{pool: pool, now: time.Now}
}

func (d *dbStateService) Initialize(ctx context.Context, scopes []status.Scope) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := d.now().UTC()
	for _, scope := range scopes {
		_, err := tx.Exec(ctx,
			`INSERT INTO catalog_sync_status (scope, state, updated_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (scope) DO NOTHING`,
			string(scope), string(status.SyncStateIdle), now)
		if err != nil {
			return fmt.Errorf("failed to initialize sync status for scope %s: %w", scope, err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE catalog_sync_status
			 SET state = $2, message = $3, finished_at = $4, updated_at = $4
			 WHERE scope = $1 AND state IN ($5, $6)`,
			string(scope), string(status.SyncStateFailed), InterruptedMessage, now,
			string(status.SyncStateQueued), string(status.SyncStateRunning))
		if err != nil {
			return fmt.Errorf("failed to recover sync status for scope %s: %w", scope, err)
		}
		if tag.RowsAffected() > 0 {
			// TODO: scopes may be mid-sync on another replica sharing the database;
			// recover only rows whose updated_at is older than the refresh timeout.
			slog.Warn("Previous catalog sync was interrupted, marking it failed", "scope", scope)
		}
	}
	return tx.Commit(ctx)
}

func (d *dbStateService) ListStatuses(ctx context.Context) (map[status.Scope]*status.SyncStatus, error) {
	var rows []*syncRow
	if err := pgxscan.Select(ctx, d.pool, &rows, `SELECT `+syncColumns+` FROM catalog_sync_status`); err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}

	result := make(map[status.Scope]*status.SyncStatus, len(rows))
	for _, row := range rows {
		s := row.toStatus()
		result[s.Scope] = s
	}
	return result, nil
}

func (d *dbStateService) GetStatus(ctx context.Context, scope status.Scope) (*status.SyncStatus, error) {
	return getStatus(ctx, d.pool, scope, "")
}

func (d *dbStateService) UpdateStatusAtomically(
	ctx context.Context,
	scope status.Scope,
	fn func(*status.SyncStatus) bool,
) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := getStatus(ctx, tx, scope, " FOR UPDATE")
	if err != nil {
		return false, err
	}
	if !fn(current) {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE catalog_sync_status
		 SET state = $2, message = $3, started_at = $4, finished_at = $5, updated_at = $6
		 WHERE scope = $1`,
		string(scope), string(current.State), current.Message,
		current.StartedAt, current.FinishedAt, current.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update sync status for scope %s: %w", scope, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit sync status for scope %s: %w", scope, err)
	}
	return true, nil
}

func getStatus(ctx context.Context, q pgxscan.Querier, scope status.Scope, lock string) (*status.SyncStatus, error) {
	var row syncRow
	err := pgxscan.Get(ctx, q, &row, `SELECT `+syncColumns+` FROM catalog_sync_status WHERE scope = $1`+lock, string(scope))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status for scope %s: %w", scope, err)
	}
	return row.toStatus(), nil
}
