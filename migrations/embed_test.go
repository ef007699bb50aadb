package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			ups[strings.TrimSuffix(n, ".up.sql")] = true
		case strings.HasSuffix(n, ".down.sql"):
			downs[strings.TrimSuffix(n, ".down.sql")] = true
		default:
			t.Errorf("migration %s is neither up nor down", n)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestLeadsTableHasRepositoryColumns(t *testing.T) {
	body, err := fs.ReadFile(FS, "000001_create_leads.up.sql")
	require.NoError(t, err)
	for _, col := range []string{"session_id   TEXT NOT NULL UNIQUE", "page_context", "readiness", "alerted", "updated_at"} {
		assert.Contains(t, string(body), col)
	}
}
