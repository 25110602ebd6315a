package test

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/integralist/go-findroot/find"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func AssertError(t *testing.T, err error, expectErr bool) {
	t.Helper()
	if expectErr {
		assert.Error(t, err)
	} else {
		assert.NoError(t, err)
	}
}

// InitPostgresContainer initializes a local Postgres instance using Testcontainers.
func InitPostgresContainer(ctx context.Context) (*postgres.PostgresContainer, error) {
	root, _ := find.Repo()
	return postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:15.2-alpine"),
		postgres.WithInitScripts(
			filepath.Join(root.Path, "sql/postgres/000001_relay.up.sql"),
		),
		postgres.WithDatabase("dbname"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(5*time.Second)),
	)
}

func GenerateAnyArgsSlice(n int) []driver.Value {
	var result []driver.Value = make([]driver.Value, n)
	for i := 0; i < n; i++ {
		result[i] = sqlmock.AnyArg()
	}
	return result
}

// MockCursorRow expects a cursor lookup returning position.
func MockCursorRow(mock sqlmock.Sqlmock, position int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"position"}).AddRow(position)
	mock.ExpectQuery("SELECT .*position.* FROM relay_cursor").WillReturnRows(rows)
	return rows
}

// Eventually polls cond until it holds or the timeout expires.
func Eventually(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	assert.Eventually(t, cond, timeout, 5*time.Millisecond)
}
