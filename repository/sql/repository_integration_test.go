//go:build integration

package sql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/3rs4lg4d0/txrelay/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var db *sql.DB

// TestMain starts a containerized Postgres with the relay schema.
func TestMain(m *testing.M) {
	ctx := context.Background()

	database, err := test.InitPostgresContainer(ctx)
	if err != nil {
		fmt.Printf("A problem occurred initializing the database: %v", err)
		os.Exit(1)
	}

	dsn, err := database.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Printf("A problem occurred getting the connection string: %v", err)
		os.Exit(1)
	}

	db, err = sql.Open("pgx", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	db.Close()
	if err := database.Terminate(ctx); err != nil {
		fmt.Printf("an error ocurred terminating the database container: %v", err)
	}
	os.Exit(code)
}

func TestCursorLifecycle(t *testing.T) {
	ctx := context.Background()
	r := New(db, true)

	_, found, err := r.LoadCursor(ctx, "sql-topic", 0)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, r.SaveCursor(ctx, "sql-topic", 0, 3))
	require.NoError(t, r.SaveCursor(ctx, "sql-topic", 0, 7))
	// never moves backwards
	require.NoError(t, r.SaveCursor(ctx, "sql-topic", 0, 5))

	pos, found, err := r.LoadCursor(ctx, "sql-topic", 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(7), pos)
}

func TestDeadLetter(t *testing.T) {
	ctx := context.Background()
	r := New(db, true)

	err := r.Put(ctx, &relay.DeadLetter{
		Topic:     "sql-topic",
		Partition: 0,
		Position:  9,
		Payload:   []byte("garbage"),
		Reason:    "malformed payload",
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM relay_dead_letter WHERE topic=$1 AND position=$2", "sql-topic", 9).Scan(&n))
	assert.Equal(t, 1, n)
}
