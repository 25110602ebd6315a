//go:build integration

package gorm

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/3rs4lg4d0/txrelay/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

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

	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := database.Terminate(ctx); err != nil {
		fmt.Printf("an error ocurred terminating the database container: %v", err)
	}
	os.Exit(code)
}

func TestCursorLifecycle(t *testing.T) {
	ctx := context.Background()
	r := New(db)

	_, found, err := r.LoadCursor(ctx, "gorm-topic", 0)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, r.SaveCursor(ctx, "gorm-topic", 0, 1))
	require.NoError(t, r.SaveCursor(ctx, "gorm-topic", 0, 2))
	require.NoError(t, r.SaveCursor(ctx, "gorm-topic", 0, 0))

	pos, found, err := r.LoadCursor(ctx, "gorm-topic", 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), pos)
}

func TestDeadLetter(t *testing.T) {
	ctx := context.Background()
	r := New(db)

	require.NoError(t, r.Put(ctx, &relay.DeadLetter{
		Topic:    "gorm-topic",
		Position: 8,
		Payload:  []byte("garbage"),
		Reason:   "malformed payload",
		At:       time.Now().UTC(),
	}))

	var n int64
	require.NoError(t, db.Model(&deadLetter{}).Where("topic = ?", "gorm-topic").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
