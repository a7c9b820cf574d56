// Package tests holds cross-package and differential checks, the way
// pkg/cowbtree/../tests/benchmark_test.go compared TurDB against SQLite.
// Here the comparison is for correctness rather than throughput: a
// sequence of random operations is applied to both a TreeIndex and a
// SQLite table acting as the reference ordered map, and the two are
// required to agree after every step.
package tests

import (
	"database/sql"
	"math/rand"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"treeindex/pkg/treeindex"
)

type oracle struct {
	db *sql.DB
}

func newOracle(t *testing.T) *oracle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oracle.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE kv (k INTEGER PRIMARY KEY, v INTEGER NOT NULL)")
	require.NoError(t, err)
	return &oracle{db: db}
}

func (o *oracle) insert(t *testing.T, k, v int) bool {
	t.Helper()
	_, err := o.db.Exec("INSERT INTO kv (k, v) VALUES (?, ?)", k, v)
	return err == nil
}

func (o *oracle) remove(t *testing.T, k int) bool {
	t.Helper()
	res, err := o.db.Exec("DELETE FROM kv WHERE k = ?", k)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	return n > 0
}

func (o *oracle) get(t *testing.T, k int) (int, bool) {
	t.Helper()
	row := o.db.QueryRow("SELECT v FROM kv WHERE k = ?", k)
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, false
	}
	return v, true
}

func (o *oracle) orderedKeys(t *testing.T) []int {
	t.Helper()
	rows, err := o.db.Query("SELECT k FROM kv ORDER BY k ASC")
	require.NoError(t, err)
	defer rows.Close()

	var keys []int
	for rows.Next() {
		var k int
		require.NoError(t, rows.Scan(&k))
		keys = append(keys, k)
	}
	return keys
}

// TestDifferentialAgainstSQLite applies the same randomized sequence of
// insert/remove/read operations to a TreeIndex and to a SQLite-backed
// oracle table, asserting they agree on every read and on the final
// ordered key sequence.
func TestDifferentialAgainstSQLite(t *testing.T) {
	tr := treeindex.NewWithConfig[int, int](treeindex.Config{Fanout: 6}, func(a, b int) bool { return a < b })
	o := newOracle(t)

	r := rand.New(rand.NewSource(42))
	const ops = 4000
	const keySpace = 800

	for i := 0; i < ops; i++ {
		k := r.Intn(keySpace)
		switch r.Intn(3) {
		case 0:
			v := r.Int()
			wantOK := o.insert(t, k, v)
			gotErr := tr.Insert(k, v)
			require.Equal(t, wantOK, gotErr == nil, "insert(%d) disagreement", k)
		case 1:
			want := o.remove(t, k)
			got := tr.Remove(k)
			require.Equal(t, want, got, "remove(%d) disagreement", k)
		case 2:
			wantV, wantOK := o.get(t, k)
			gotV, gotOK := tr.Get(k)
			require.Equal(t, wantOK, gotOK, "get(%d) found-mismatch", k)
			if wantOK {
				require.Equal(t, wantV, gotV, "get(%d) value-mismatch", k)
			}
		}
	}

	want := o.orderedKeys(t)
	var got []int
	s := tr.Iter()
	for s.Next() {
		got = append(got, s.Key())
	}
	s.Close()

	require.Equal(t, want, got)
}
