package pgxv5

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/3rs4lg4d0/txrelay/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	getCursorSql        = "SELECT position FROM relay_cursor WHERE topic=$1 AND partition=$2"
	upsertCursorSql     = "INSERT INTO relay_cursor (topic, partition, position, updated_at) VALUES ($1, $2, $3, NOW()) ON CONFLICT (topic, partition) DO UPDATE SET position=excluded.position, updated_at=excluded.updated_at WHERE relay_cursor.position < excluded.position"
	insertDeadLetterSql = "INSERT INTO relay_dead_letter (id, topic, partition, position, payload, reason, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)"
)

// dbpool is a helper interface to work with pgxpool.Pool.
type dbpool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db     dbpool
	logger relay.Logger
}

var _ relay.Loggable = (*Repository)(nil)
var _ repository.Repository = (*Repository)(nil)

func New(pool dbpool) *Repository {
	if pool == nil || reflect.ValueOf(pool).IsNil() {
		panic("pool is mandatory")
	}
	return &Repository{
		db:     pool,
		logger: &relay.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (r *Repository) SetLogger(l relay.Logger) {
	r.logger = l
}

// LoadCursor returns the stored cursor of a topic partition.
func (r *Repository) LoadCursor(ctx context.Context, topic string, partition int32) (int64, bool, error) {
	var position int64
	err := r.db.QueryRow(ctx, getCursorSql, topic, partition).Scan(&position)
	if errors.Is(err, pgx.ErrNoRows) {
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
	ct, err := r.db.Exec(ctx, upsertCursorSql, topic, partition, position)
	if err != nil {
		return fmt.Errorf("could not persist the cursor: %w", err)
	}
	if ct.RowsAffected() == 0 {
		r.logger.Warn(fmt.Sprintf("the stored cursor of %s [%d] is already beyond %d", topic, partition, position))
	}
	return nil
}

// Put stores a dead letter.
func (r *Repository) Put(ctx context.Context, dl *relay.DeadLetter) error {
	_, err := r.db.Exec(ctx, insertDeadLetterSql, uuid.New(), dl.Topic, dl.Partition, dl.Position, dl.Payload, dl.Reason, dl.At)
	if err != nil {
		return fmt.Errorf("could not persist the dead letter: %w", err)
	}
	return nil
}
