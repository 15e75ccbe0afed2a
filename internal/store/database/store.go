// Package database implements the generation store on PostgreSQL using pgx.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
)

// DefaultTimeout bounds every statement issued by the store.
const DefaultTimeout = 5 * time.Second

const (
	uniqueViolation = "23505"
	primaryKeyName  = "generations_pkey"

	columns = `id, endpoint, provider, input, status, provider_request_id,
		tags, artifact, error, created_at, completed_at`
)

type generationRow struct {
	ID                string     `db:"id"`
	Endpoint          string     `db:"endpoint"`
	Provider          string     `db:"provider"`
	Input             []byte     `db:"input"`
	Status            string     `db:"status"`
	ProviderRequestID string     `db:"provider_request_id"`
	Tags              []string   `db:"tags"`
	Artifact          []byte     `db:"artifact"`
	Error             []byte     `db:"error"`
	CreatedAt         time.Time  `db:"created_at"`
	CompletedAt       *time.Time `db:"completed_at"`
}

func (r *generationRow) toGeneration() (*generation.Generation, error) {
	g := &generation.Generation{
		ID:                r.ID,
		Endpoint:          r.Endpoint,
		Provider:          r.Provider,
		Status:            generation.Status(r.Status),
		ProviderRequestID: r.ProviderRequestID,
		Tags:              r.Tags,
		CreatedAt:         r.CreatedAt.UTC(),
	}
	if g.Tags == nil {
		g.Tags = []string{}
	}
	if r.CompletedAt != nil {
		completed := r.CompletedAt.UTC()
		g.CompletedAt = &completed
	}
	if err := json.Unmarshal(r.Input, &g.Input); err != nil {
		return nil, fmt.Errorf("failed to decode input of generation %s: %w", r.ID, err)
	}
	if len(r.Artifact) > 0 {
		g.Artifact = &generation.ArtifactRef{}
		if err := json.Unmarshal(r.Artifact, g.Artifact); err != nil {
			return nil, fmt.Errorf("failed to decode artifact of generation %s: %w", r.ID, err)
		}
	}
	if len(r.Error) > 0 {
		g.Error = &generation.FailureDetail{}
		if err := json.Unmarshal(r.Error, g.Error); err != nil {
			return nil, fmt.Errorf("failed to decode error of generation %s: %w", r.ID, err)
		}
	}
	return g, nil
}

type pgStore struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*pgStore)(nil)

// New returns a Store backed by the given pool. The schema is expected to be
// migrated already.
func New(pool *pgxpool.Pool) store.Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Create(ctx context.Context, g *generation.Generation) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("generation id is required")
	}
	if g.Status != generation.StatusPending {
		return fmt.Errorf("new generations must be pending, got %s", g.Status)
	}

	input, err := json.Marshal(g.Input)
	if err != nil {
		return fmt.Errorf("failed to encode input: %w", err)
	}
	tags := g.Tags
	if tags == nil {
		tags = []string{}
	}
	createdAt := g.CreatedAt.UTC().Truncate(time.Microsecond)

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO generations (id, endpoint, provider, input, status, provider_request_id, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID, g.Endpoint, g.Provider, input, string(g.Status), g.ProviderRequestID, tags, createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == primaryKeyName {
				return store.ErrDuplicateID
			}
			return store.ErrDuplicateProviderRequest
		}
		return fmt.Errorf("failed to insert generation: %w", err)
	}
	g.CreatedAt = createdAt
	return nil
}

func (s *pgStore) Get(ctx context.Context, id string) (*generation.Generation, error) {
	return s.getOne(ctx, `SELECT `+columns+` FROM generations WHERE id = $1`, id)
}

func (s *pgStore) GetByProviderRequestID(
	ctx context.Context,
	provider, requestID string,
) (*generation.Generation, error) {
	return s.getOne(ctx,
		`SELECT `+columns+` FROM generations WHERE provider = $1 AND provider_request_id = $2`,
		provider, requestID,
	)
}

func (s *pgStore) getOne(ctx context.Context, query string, args ...any) (*generation.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var row generationRow
	if err := pgxscan.Get(ctx, s.pool, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}
	return row.toGeneration()
}

func (s *pgStore) List(ctx context.Context, opts store.ListOptions) (*store.ListResult, error) {
	after, err := store.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	limit := store.ClampLimit(opts.Limit)

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Filter.Status != "" {
		where = append(where, "status = "+arg(string(opts.Filter.Status)))
	}
	if opts.Filter.Endpoint != "" {
		where = append(where, "endpoint = "+arg(opts.Filter.Endpoint))
	}
	if len(opts.Filter.Tags) > 0 {
		where = append(where, "tags @> "+arg(opts.Filter.Tags)+"::text[]")
	}
	if after != nil {
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(after.CreatedAt), arg(after.ID)))
	}

	query := `SELECT ` + columns + ` FROM generations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(limit+1)

	items, err := s.selectMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	result := &store.ListResult{}
	if len(items) > limit {
		items = items[:limit]
		result.NextCursor = store.EncodeCursor(store.PositionOf(items[limit-1]))
	}
	result.Items = items
	return result, nil
}

func (s *pgStore) ListPending(ctx context.Context, query store.PendingQuery) ([]*generation.Generation, error) {
	limit := store.ClampLimit(query.Limit)

	if query.After == nil {
		return s.selectMany(ctx, `
			SELECT `+columns+` FROM generations
			WHERE status = 'pending' AND created_at <= $1
			ORDER BY created_at, id
			LIMIT $2`,
			query.CreatedBefore.UTC(), limit,
		)
	}
	return s.selectMany(ctx, `
		SELECT `+columns+` FROM generations
		WHERE status = 'pending' AND created_at <= $1 AND (created_at, id) > ($2, $3)
		ORDER BY created_at, id
		LIMIT $4`,
		query.CreatedBefore.UTC(), query.After.CreatedAt.UTC(), query.After.ID, limit,
	)
}

func (s *pgStore) selectMany(ctx context.Context, query string, args ...any) ([]*generation.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var rows []*generationRow
	if err := pgxscan.Select(ctx, s.pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}

	items := make([]*generation.Generation, 0, len(rows))
	for _, row := range rows {
		g, err := row.toGeneration()
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, nil
}

func (s *pgStore) Transition(
	ctx context.Context,
	id string,
	from, to generation.Status,
	patch generation.Patch,
) (*generation.Generation, error) {
	if err := generation.ValidateTransition(from, to, patch); err != nil {
		return nil, err
	}

	artifact, err := nullableJSON(patch.Artifact)
	if err != nil {
		return nil, err
	}
	failure, err := nullableJSON(patch.Error)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var row generationRow
	err = pgxscan.Get(ctx, s.pool, &row, `
		UPDATE generations
		SET status = $3, artifact = $4, error = $5, completed_at = $6
		WHERE id = $1 AND status = $2
		RETURNING `+columns,
		id, string(from), string(to), artifact, failure, patch.CompletedAt.UTC().Truncate(time.Microsecond),
	)
	if err == nil {
		return row.toGeneration()
	}
	if !pgxscan.NotFound(err) {
		return nil, fmt.Errorf("failed to transition generation: %w", err)
	}

	// Nothing matched: either the record is gone or another writer won
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM generations WHERE id = $1)`, id).
		Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check generation: %w", err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrConflict
}

func (s *pgStore) UpdateTags(ctx context.Context, id string, add, remove []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current []string
	err = tx.QueryRow(ctx, `SELECT tags FROM generations WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	tags := generation.ApplyTagUpdate(current, add, remove)
	if len(tags) > generation.MaxTags {
		return nil, store.ErrTooManyTags
	}
	if _, err := tx.Exec(ctx, `UPDATE generations SET tags = $2 WHERE id = $1`, id, tags); err != nil {
		return nil, fmt.Errorf("failed to update tags: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit tags: %w", err)
	}
	return tags, nil
}

func (s *pgStore) Delete(ctx context.Context, id string) (*generation.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var row generationRow
	err := pgxscan.Get(ctx, s.pool, &row, `DELETE FROM generations WHERE id = $1 RETURNING `+columns, id)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete generation: %w", err)
	}
	return row.toGeneration()
}

func (s *pgStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// nullableJSON encodes v, mapping a nil pointer to SQL NULL.
func nullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return data, nil
}
