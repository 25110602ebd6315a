package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/3rs4lg4d0/txrelay/repository"
	"github.com/google/uuid"
)

const (
	getCursorSql        = "SELECT position FROM relay_cursor WHERE topic=? AND partition=?"
	upsertCursorSql     = "INSERT INTO relay_cursor (topic, partition, position, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP) ON CONFLICT (topic, partition) DO UPDATE SET position=excluded.position, updated_at=excluded.updated_at WHERE relay_cursor.position < excluded.position"
	insertDeadLetterSql = "INSERT INTO relay_dead_letter (id, topic, partition, position, payload, reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)"
)

// Repository works with any database/sql driver whose dialect supports
// "ON CONFLICT ... DO UPDATE" (e.g. Postgres with useDollar=true or SQLite).
type Repository struct {
	db        *sql.DB
	queries   map[string]string
	useDollar bool
	logger    relay.Logger
}

var _ relay.Loggable = (*Repository)(nil)
var _ repository.Repository = (*Repository)(nil)

func New(db *sql.DB, useDollar bool) *Repository {
	if db == nil {
		panic("db is mandatory")
	}

	queries := map[string]string{
		getCursorSql:        getCursorSql,
		upsertCursorSql:     upsertCursorSql,
		insertDeadLetterSql: insertDeadLetterSql,
	}
	if useDollar {
		for k, v := range queries {
			queries[k] = convertToDollarPlaceholder(v)
		}
	}

	return &Repository{
		db:        db,
		queries:   queries,
		useDollar: useDollar,
		logger:    &relay.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (r *Repository) SetLogger(l relay.Logger) {
	r.logger = l
}

// LoadCursor returns the stored cursor of a topic partition.
func (r *Repository) LoadCursor(ctx context.Context, topic string, partition int32) (int64, bool, error) {
	var position int64
	err := r.db.QueryRowContext(ctx, r.queries[getCursorSql], topic, partition).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("could not load the cursor: %w", err)
	}
	return position, true, nil
}

// SaveCursor upserts the cursor of a topic partition. A stored cursor is never
// moved backwards.
func (r *Repository) SaveCursor(ctx context.Context, topic string, partition int32, position int64) error {
	res, err := r.db.ExecContext(ctx, r.queries[upsertCursorSql], topic, partition, position)
	if err != nil {
		return fmt.Errorf("could not persist the cursor: %w", err)
	}
	if ra, err := res.RowsAffected(); err == nil && ra == 0 {
		r.logger.Warn(fmt.Sprintf("the stored cursor of %s [%d] is already beyond %d", topic, partition, position))
	}
	return nil
}

// Put stores a dead letter.
func (r *Repository) Put(ctx context.Context, dl *relay.DeadLetter) error {
	_, err := r.db.ExecContext(ctx, r.queries[insertDeadLetterSql], uuid.New(), dl.Topic, dl.Partition, dl.Position, dl.Payload, dl.Reason, dl.At)
	if err != nil {
		return fmt.Errorf("could not persist the dead letter: %w", err)
	}
	return nil
}

func convertToDollarPlaceholder(query string) string {
	count := 0
	for strings.Contains(query, "?") {
		count++
		query = strings.Replace(query, "?", fmt.Sprintf("$%d", count), 1)
	}
	return query
}
