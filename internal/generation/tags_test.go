package generation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTags(t *testing.T) {
	t.Parallel()

	tooMany := make([]string, MaxTags+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("tag-%d", i)
	}

	tests := []struct {
		name    string
		input   []string
		want    []string
		wantErr string
	}{
		{name: "nil input yields empty", input: nil, want: []string{}},
		{name: "trims and dedupes", input: []string{" cat ", "dog", "cat"}, want: []string{"cat", "dog"}},
		{name: "preserves order", input: []string{"z", "a", "m"}, want: []string{"z", "a", "m"}},
		{name: "rejects empty", input: []string{"ok", "  "}, wantErr: "tags cannot be empty"},
		{name: "rejects long tag", input: []string{strings.Repeat("x", MaxTagLength+1)}, wantErr: "exceeds"},
		{name: "rejects too many", input: tooMany, wantErr: "at most"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeTags(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyTagUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current []string
		add     []string
		remove  []string
		want    []string
	}{
		{name: "add new tag", current: []string{"a"}, add: []string{"b"}, want: []string{"a", "b"}},
		{name: "duplicate add is a no-op", current: []string{"a", "x"}, add: []string{"x"}, want: []string{"a", "x"}},
		{name: "remove existing", current: []string{"a", "b"}, remove: []string{"a"}, want: []string{"b"}},
		{name: "remove missing is a no-op", current: []string{"a"}, remove: []string{"z"}, want: []string{"a"}},
		{name: "remove wins over add", current: []string{"a"}, add: []string{"x"}, remove: []string{"x"}, want: []string{"a"}},
		{name: "everything removed", current: []string{"a"}, remove: []string{"a"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ApplyTagUpdate(tt.current, tt.add, tt.remove))
		})
	}
}

func TestApplyTagUpdate_Idempotent(t *testing.T) {
	t.Parallel()

	once := ApplyTagUpdate([]string{"a"}, []string{"x"}, nil)
	twice := ApplyTagUpdate(once, []string{"x"}, nil)
	assert.Equal(t, once, twice)
}

func TestHasAllTags(t *testing.T) {
	t.Parallel()

	assert.True(t, HasAllTags([]string{"a", "b"}, nil))
	assert.True(t, HasAllTags([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, HasAllTags([]string{"a"}, []string{"a", "b"}))
}
