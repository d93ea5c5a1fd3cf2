package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SortsAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql": {Data: []byte("CREATE TABLE b (id INT);")},
		"pg/001_a.sql": {Data: []byte("CREATE TABLE a (id INT);")},
		"pg/003_c.sql": {Data: []byte("  \n")},
		"pg/README.md": {Data: []byte("docs")},
		"pg/sub/x.sql": {Data: []byte("SELECT 1;")},
	}

	all, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "001_a.sql", all[0].version)
	assert.Equal(t, "002_b.sql", all[1].version)

	rest := pending(all, map[string]bool{"001_a.sql": true})
	require.Len(t, rest, 1)
	assert.Equal(t, "002_b.sql", rest[0].version)
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.NotEmpty(t, pg)

	ch, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		_, err := splitStatements(m.sql)
		assert.NoError(t, err, m.version)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts, err := splitStatements(`
-- header comment
CREATE TABLE a (x String DEFAULT 'it''s');
CREATE TABLE b (y Int64)
ENGINE = MergeTree ORDER BY y;
`)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x String DEFAULT 'it''s')", stmts[0])
	assert.Contains(t, stmts[1], "ENGINE = MergeTree")

	_, err = splitStatements(`INSERT INTO t VALUES ('a;b');`)
	assert.ErrorIs(t, err, errSemicolonInString)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := DatabaseFromDSN("clickhouse://default:@localhost:9000/portfolio?dial_timeout=5s")
	require.NoError(t, err)
	assert.Equal(t, "portfolio", db)

	_, err = DatabaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
