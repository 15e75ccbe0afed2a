package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-imagegen-server/database"
)

func TestExecutePrimeTemplate(t *testing.T) {
	t.Parallel()

	sql, err := executePrimeTemplate(`app"user`, "pa'ss")
	require.NoError(t, err)

	assert.Contains(t, sql, "CREATE ROLE "+database.PrimeRole)
	assert.Contains(t, sql, `CREATE USER "app""user" WITH PASSWORD 'pa''ss'`)
	assert.Contains(t, sql, `rolname = 'app"user'`)
	assert.Contains(t, sql, `GRANT `+database.PrimeRole+` TO "app""user"`)
}

func TestPrimeDBCmd_DryRun(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "secret\n", "prime-db", "imggen", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, `CREATE USER "imggen" WITH PASSWORD 'secret'`)
}

func TestPrimeDBCmd_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stdin   string
		args    []string
		wantErr string
	}{
		{name: "empty password", stdin: "  \n", args: []string{"prime-db", "imggen", "--dry-run"}, wantErr: "password cannot be empty"},
		{name: "missing config", stdin: "secret\n", args: []string{"prime-db", "imggen"}, wantErr: "--config is required"},
		{name: "no username", stdin: "secret\n", args: []string{"prime-db"}, wantErr: "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := execute(t, tt.stdin, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
