// Package storetest holds behavioural tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// NewPending builds a pending generation created at epoch plus offset.
func NewPending(id string, offset time.Duration, tags ...string) *generation.Generation {
	if tags == nil {
		tags = []string{}
	}
	return &generation.Generation{
		ID:                id,
		Endpoint:          "img-gen/fast",
		Provider:          "queue",
		Input:             map[string]any{"prompt": "a cat"},
		Status:            generation.StatusPending,
		ProviderRequestID: "req-" + id,
		Tags:              tags,
		CreatedAt:         epoch.Add(offset),
	}
}

func readyPatch(key string) generation.Patch {
	return generation.ReadyPatch(&generation.ArtifactRef{
		Key:         key,
		ContentType: "image/png",
		Size:        42,
	}, epoch.Add(time.Hour))
}

// Run exercises the full store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		g := NewPending("g1", 0, "a", "b")
		require.NoError(t, s.Create(ctx, g))

		got, err := s.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "img-gen/fast", got.Endpoint)
		assert.Equal(t, generation.StatusPending, got.Status)
		assert.Equal(t, []string{"a", "b"}, got.Tags)
		assert.Equal(t, "a cat", got.Input["prompt"])
		assert.Nil(t, got.Artifact)
		assert.Nil(t, got.Error)
		assert.Nil(t, got.CompletedAt)
		assert.True(t, got.CreatedAt.Equal(epoch))
		require.NoError(t, got.Validate())

		_, err = s.Get(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("create rejects duplicates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, NewPending("g1", 0)))
		require.ErrorIs(t, s.Create(ctx, NewPending("g1", time.Second)), store.ErrDuplicateID)

		dup := NewPending("g2", time.Second)
		dup.ProviderRequestID = "req-g1"
		require.ErrorIs(t, s.Create(ctx, dup), store.ErrDuplicateProviderRequest)
	})

	t.Run("lookup by provider request id", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, NewPending("g1", 0)))

		got, err := s.GetByProviderRequestID(ctx, "queue", "req-g1")
		require.NoError(t, err)
		assert.Equal(t, "g1", got.ID)

		_, err = s.GetByProviderRequestID(ctx, "polling", "req-g1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("transition is conditional", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, NewPending("g1", 0)))

		got, err := s.Transition(ctx, "g1", generation.StatusPending, generation.StatusReady, readyPatch("k1"))
		require.NoError(t, err)
		assert.Equal(t, generation.StatusReady, got.Status)
		require.NotNil(t, got.Artifact)
		assert.Equal(t, "k1", got.Artifact.Key)
		require.NoError(t, got.Validate())
		firstCompletion := *got.CompletedAt

		// a second writer loses and must not alter the record
		later := generation.FailedPatch(generation.FailureProviderFailed, "late", epoch.Add(2*time.Hour))
		_, err = s.Transition(ctx, "g1", generation.StatusPending, generation.StatusFailed, later)
		require.ErrorIs(t, err, store.ErrConflict)

		stored, err := s.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, generation.StatusReady, stored.Status)
		assert.Equal(t, "k1", stored.Artifact.Key)
		assert.Nil(t, stored.Error)
		assert.True(t, stored.CompletedAt.Equal(firstCompletion))
	})

	t.Run("transition on missing record", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Transition(context.Background(), "nope",
			generation.StatusPending, generation.StatusReady, readyPatch("k"))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("transition rejects inconsistent patches", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, NewPending("g1", 0)))

		_, err := s.Transition(ctx, "g1", generation.StatusPending, generation.StatusReady,
			generation.Patch{CompletedAt: epoch})
		require.ErrorIs(t, err, generation.ErrInvalidTransition)

		stored, err := s.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, generation.StatusPending, stored.Status)
	})

	t.Run("concurrent transitions admit one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, NewPending("g1", 0)))

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := range writers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var patch generation.Patch
				to := generation.StatusReady
				if i%2 == 0 {
					patch = readyPatch(fmt.Sprintf("k%d", i))
				} else {
					to = generation.StatusFailed
					patch = generation.FailedPatch(generation.FailureProviderFailed, "x", epoch.Add(time.Hour))
				}
				_, err := s.Transition(ctx, "g1", generation.StatusPending, to, patch)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case assert.ErrorIs(t, err, store.ErrConflict):
					conflicts++
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, writers-1, conflicts)

		stored, err := s.Get(ctx, "g1")
		require.NoError(t, err)
		require.NoError(t, stored.Validate())
	})

	t.Run("update tags", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, NewPending("g1", 0, "a")))

		tags, err := s.UpdateTags(ctx, "g1", []string{"x"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "x"}, tags)

		tags, err = s.UpdateTags(ctx, "g1", []string{"x"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "x"}, tags)

		tags, err = s.UpdateTags(ctx, "g1", []string{"y"}, []string{"y", "a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, tags)

		tags, err = s.UpdateTags(ctx, "g1", nil, []string{"x"})
		require.NoError(t, err)
		assert.Empty(t, tags)

		_, err = s.UpdateTags(ctx, "missing", []string{"x"}, nil)
		require.ErrorIs(t, err, store.ErrNotFound)

		// tag updates never touch status
		stored, err := s.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, generation.StatusPending, stored.Status)
	})

	t.Run("tag limit holds under concurrent updates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		initial := make([]string, generation.MaxTags-2)
		for i := range initial {
			initial[i] = fmt.Sprintf("base-%02d", i)
		}
		require.NoError(t, s.Create(ctx, NewPending("g1", 0, initial...)))

		// each update alone fits; both together do not
		const writers = 2
		var (
			wg   sync.WaitGroup
			errs = make([]error, writers)
		)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = s.UpdateTags(ctx, "g1", []string{fmt.Sprintf("w%d-a", i), fmt.Sprintf("w%d-b", i)}, nil)
			}()
		}
		wg.Wait()

		var rejected int
		for _, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, store.ErrTooManyTags)
				rejected++
			}
		}
		assert.Equal(t, 1, rejected)

		stored, err := s.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Len(t, stored.Tags, generation.MaxTags)

		_, err = s.UpdateTags(ctx, "g1", []string{"overflow"}, nil)
		require.ErrorIs(t, err, store.ErrTooManyTags)
		_, err = s.UpdateTags(ctx, "g1", []string{"overflow"}, []string{"base-00"})
		require.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, NewPending("g1", 0)))
		_, err := s.Transition(ctx, "g1", generation.StatusPending, generation.StatusReady, readyPatch("k1"))
		require.NoError(t, err)

		deleted, err := s.Delete(ctx, "g1")
		require.NoError(t, err)
		require.NotNil(t, deleted.Artifact)
		assert.Equal(t, "k1", deleted.Artifact.Key)

		_, err = s.Get(ctx, "g1")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetByProviderRequestID(ctx, "queue", "req-g1")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.Delete(ctx, "g1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := NewPending("a", 1*time.Second, "red")
		b := NewPending("b", 2*time.Second, "red", "big")
		c := NewPending("c", 3*time.Second, "blue")
		c.Endpoint = "img-gen/quality"
		for _, g := range []*generation.Generation{a, b, c} {
			require.NoError(t, s.Create(ctx, g))
		}
		_, err := s.Transition(ctx, "b", generation.StatusPending, generation.StatusReady, readyPatch("kb"))
		require.NoError(t, err)

		tests := []struct {
			name   string
			filter store.Filter
			want   []string
		}{
			{name: "no filter", want: []string{"c", "b", "a"}},
			{name: "by status", filter: store.Filter{Status: generation.StatusPending}, want: []string{"c", "a"}},
			{name: "by endpoint", filter: store.Filter{Endpoint: "img-gen/quality"}, want: []string{"c"}},
			{name: "by single tag", filter: store.Filter{Tags: []string{"red"}}, want: []string{"b", "a"}},
			{name: "by all tags", filter: store.Filter{Tags: []string{"red", "big"}}, want: []string{"b"}},
			{name: "no match", filter: store.Filter{Status: generation.StatusFailed}, want: []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				page, err := s.List(ctx, store.ListOptions{Filter: tt.filter})
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(page.Items))
				assert.Empty(t, page.NextCursor)
			})
		}
	})

	t.Run("list pagination is stable under inserts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		// two records share a timestamp to exercise the id tie-break
		for i := range 7 {
			require.NoError(t, s.Create(ctx, NewPending(fmt.Sprintf("g%d", i), time.Duration(i/2)*time.Second)))
		}

		var seen []string
		cursor := ""
		for page := 0; ; page++ {
			result, err := s.List(ctx, store.ListOptions{Cursor: cursor, Limit: 3})
			require.NoError(t, err)
			seen = append(seen, ids(result.Items)...)

			// newer records must land before the first page, never inside later ones
			require.NoError(t, s.Create(ctx, NewPending(fmt.Sprintf("new%d", page), time.Hour+time.Duration(page)*time.Second)))

			if result.NextCursor == "" {
				break
			}
			cursor = result.NextCursor
		}

		assert.Equal(t, []string{"g6", "g5", "g4", "g3", "g2", "g1", "g0"}, seen)
	})

	t.Run("list rejects garbage cursor", func(t *testing.T) {
		s := newStore(t)
		_, err := s.List(context.Background(), store.ListOptions{Cursor: "%%%"})
		require.ErrorIs(t, err, store.ErrInvalidCursor)
	})

	t.Run("list clamps limit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := range store.DefaultListLimit + 1 {
			require.NoError(t, s.Create(ctx, NewPending(fmt.Sprintf("g%02d", i), time.Duration(i)*time.Second)))
		}

		page, err := s.List(ctx, store.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, page.Items, store.DefaultListLimit)
		assert.NotEmpty(t, page.NextCursor)

		page, err = s.List(ctx, store.ListOptions{Limit: -1})
		require.NoError(t, err)
		assert.Len(t, page.Items, 1)
	})

	t.Run("list pending for sweeps", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := range 5 {
			require.NoError(t, s.Create(ctx, NewPending(fmt.Sprintf("g%d", i), time.Duration(i)*time.Minute)))
		}
		_, err := s.Transition(ctx, "g1", generation.StatusPending, generation.StatusReady, readyPatch("k"))
		require.NoError(t, err)

		horizon := epoch.Add(3 * time.Minute)
		first, err := s.ListPending(ctx, store.PendingQuery{CreatedBefore: horizon, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"g0", "g2"}, ids(first))

		after := store.PositionOf(first[len(first)-1])
		second, err := s.ListPending(ctx, store.PendingQuery{CreatedBefore: horizon, After: &after, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"g3"}, ids(second))
	})
}

func ids(items []*generation.Generation) []string {
	out := make([]string, 0, len(items))
	for _, g := range items {
		out = append(out, g.ID)
	}
	return out
}
