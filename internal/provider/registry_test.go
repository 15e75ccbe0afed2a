package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider/mocks"
)

func newAdapter(ctrl *gomock.Controller, name string) *mocks.MockAdapter {
	a := mocks.NewMockAdapter(ctrl)
	a.EXPECT().Name().Return(name).AnyTimes()
	return a
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	fast := newAdapter(ctrl, "queue")
	slow := newAdapter(ctrl, "polling")

	r := provider.NewRegistry()
	require.NoError(t, r.Register(fast, "img-gen/*"))
	require.NoError(t, r.Register(slow, "img-gen/quality", "stability/*"))

	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{endpoint: "img-gen/fast", want: "queue"},
		// first registered pattern wins
		{endpoint: "img-gen/quality", want: "queue"},
		{endpoint: "stability/sdxl", want: "polling"},
		{endpoint: " stability/sdxl ", want: "polling"},
		{endpoint: "img-gen/fast/extra", wantErr: true},
		{endpoint: "unknown", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			t.Parallel()
			a, err := r.Resolve(tt.endpoint)
			if tt.wantErr {
				require.ErrorIs(t, err, provider.ErrUnknownEndpoint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Name())
		})
	}

	got, ok := r.Get("polling")
	require.True(t, ok)
	assert.Same(t, slow, got)
	_, ok = r.Get("missing")
	assert.False(t, ok)

	names := make([]string, 0)
	for _, a := range r.Adapters() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"queue", "polling"}, names)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	r := provider.NewRegistry()
	require.NoError(t, r.Register(newAdapter(ctrl, "queue"), "a/*"))

	require.Error(t, r.Register(newAdapter(ctrl, "queue"), "b/*"), "duplicate name")
	require.Error(t, r.Register(newAdapter(ctrl, "other")), "no patterns")
	require.Error(t, r.Register(newAdapter(ctrl, "bad"), "[unclosed"), "bad pattern")
	require.Error(t, r.Register(newAdapter(ctrl, ""), "c/*"), "empty name")
}

func TestMatchAny(t *testing.T) {
	t.Parallel()

	assert.True(t, provider.MatchAny([]string{"x/*", "img-gen/fast"}, "img-gen/fast"))
	assert.False(t, provider.MatchAny([]string{"x/*"}, "img-gen/fast"))
	assert.False(t, provider.MatchAny(nil, "img-gen/fast"))
}
