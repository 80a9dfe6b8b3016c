package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/journal?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "journal", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/j?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "j", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		opts  domain.ListOpts
		query string
		args  []any
	}{
		{"no options", domain.ListOpts{}, "SELECT * FROM trades ORDER BY exit_time DESC", nil},
		{"limit only", domain.ListOpts{Limit: 10}, "SELECT * FROM trades ORDER BY exit_time DESC LIMIT $1", []any{10}},
		{
			"all options",
			domain.ListOpts{Since: &since, Limit: 5, Offset: 20},
			"SELECT * FROM trades WHERE exit_time >= $1 ORDER BY exit_time DESC LIMIT $2 OFFSET $3",
			[]any{since, 5, 20},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listQuery("\n\tSELECT * FROM trades", "exit_time", tt.opts)
			assert.Equal(t, tt.query, q)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestMigrations_Embedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_journal.sql", names[0])

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"positions", "trades", "portfolio_snapshots"} {
		assert.True(t, strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
}
