package sqldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithSQLiteParams(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"plain path", "points.db", "points.db?" + sqliteParams},
		{"memory", ":memory:", ":memory:?" + sqliteParams},
		{
			"caller sets one",
			"points.db?_journal_mode=DELETE",
			"points.db?_journal_mode=DELETE&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate",
		},
		{
			"caller sets all",
			"file:p.db?_txlock=deferred&_foreign_keys=off&_journal_mode=WAL&_busy_timeout=1",
			"file:p.db?_txlock=deferred&_foreign_keys=off&_journal_mode=WAL&_busy_timeout=1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withSQLiteParams(tt.dsn))
		})
	}
}
