package sedonadb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) (*sql.DB, *Context) {
	t.Helper()
	connector, err := NewConnector("?batch_size=2", nil)
	require.NoError(t, err)
	db := sql.OpenDB(connector)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db, connector.Context()
}

func TestDriverOpen(t *testing.T) {
	db, err := sql.Open("sedonadb", "?target_partitions=2")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())

	_, err = db.Exec("CREATE VIEW answer AS SELECT 42 AS n")
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.QueryRow("SELECT n FROM answer").Scan(&n))
	require.Equal(t, int64(42), n)

	_, err = sql.Open("sedonadb", "?threads=4")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDriverQuery(t *testing.T) {
	db, c := openDB(t)
	registerUsers(t, c)

	res, err := db.Query("SELECT id, name, age, score FROM users ORDER BY id")
	require.NoError(t, err)
	defer res.Close()

	types, err := res.ColumnTypes()
	require.NoError(t, err)
	var names []string
	for _, ct := range types {
		names = append(names, ct.DatabaseTypeName())
	}
	require.Equal(t, []string{"BIGINT", "VARCHAR", "INTEGER", "DOUBLE"}, names)

	var ids []int64
	var missingName, missingAge []int64
	for res.Next() {
		var (
			id    int64
			name  sql.NullString
			age   sql.NullInt64
			score sql.NullFloat64
		)
		require.NoError(t, res.Scan(&id, &name, &age, &score))
		ids = append(ids, id)
		if !name.Valid {
			missingName = append(missingName, id)
		}
		if !age.Valid {
			missingAge = append(missingAge, id)
		}
	}
	require.NoError(t, res.Err())
	require.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
	require.Equal(t, []int64{3}, missingName)
	require.Equal(t, []int64{4}, missingAge)

	var total int64
	require.NoError(t, db.QueryRow("SELECT sum(age) AS total FROM users").Scan(&total))
	require.Equal(t, int64(122), total)
}

func TestDriverGeometry(t *testing.T) {
	db, c := openDB(t)
	require.NoError(t, c.RegisterTable("places", placesTable(t, mustCRS(t, "EPSG:4326"))))

	res, err := db.Query("SELECT geom FROM places WHERE id = 1")
	require.NoError(t, err)
	defer res.Close()
	types, err := res.ColumnTypes()
	require.NoError(t, err)
	require.Equal(t, "GEOMETRY", types[0].DatabaseTypeName())

	require.True(t, res.Next())
	var geom []byte
	require.NoError(t, res.Scan(&geom))
	require.Equal(t, mustWKB(t, orb.Point{1, 2}), geom)
	require.False(t, res.Next())
	require.NoError(t, res.Err())
}

func TestDriverPreparedStatement(t *testing.T) {
	db, c := openDB(t)

	// Statements bind when they run, not when they are prepared.
	stmt, err := db.Prepare("SELECT count(*) AS n FROM users")
	require.NoError(t, err)
	defer stmt.Close()

	registerUsers(t, c)
	for range 2 {
		var n int64
		require.NoError(t, stmt.QueryRow().Scan(&n))
		require.Equal(t, int64(5), n)
	}

	_, err = stmt.Exec(1)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestDriverExec(t *testing.T) {
	db, c := openDB(t)
	registerUsers(t, c)

	res, err := db.Exec("SELECT * FROM users")
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	require.Equal(t, int64(0), affected)
	_, err = res.LastInsertId()
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = db.Exec("DROP TABLE users")
	require.NoError(t, err)
	_, err = c.Table("users")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDriverErrors(t *testing.T) {
	db, c := openDB(t)
	registerUsers(t, c)

	_, err := db.Query("SELECT nope FROM users")
	require.ErrorIs(t, err, ErrBinding)

	_, err = db.Query("SELEC id FROM users")
	require.ErrorIs(t, err, ErrParse)

	_, err = db.Query("SELECT id FROM users WHERE id = ?", 1)
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = db.Begin()
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestConnectorLifecycle(t *testing.T) {
	ctx := context.Background()
	connector, err := NewConnector("", func(execer driver.ExecerContext) error {
		_, err := execer.ExecContext(ctx, "CREATE OR REPLACE VIEW one AS SELECT 1 AS x", nil)
		return err
	})
	require.NoError(t, err)

	db := sql.OpenDB(connector)
	var x int64
	require.NoError(t, db.QueryRow("SELECT x FROM one").Scan(&x))
	require.Equal(t, int64(1), x)
	require.NoError(t, db.Close())

	_, err = connector.Connect(ctx)
	require.ErrorIs(t, err, ErrClosed)

	// A connection opened without a connector owns its context.
	conn, err := Driver{}.Open("")
	require.NoError(t, err)
	require.True(t, conn.(*Conn).IsValid())
	require.NoError(t, conn.Close())
	require.ErrorIs(t, conn.(*Conn).ctx.checkOpen(), ErrClosed)
	require.ErrorIs(t, conn.Close(), ErrClosed)
}
