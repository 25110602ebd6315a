package gorm

import (
	"context"
	"errors"
	"fmt"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/3rs4lg4d0/txrelay/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	logger relay.Logger
}

var _ relay.Loggable = (*Repository)(nil)
var _ repository.Repository = (*Repository)(nil)

func New(db *gorm.DB) *Repository {
	if db == nil {
		panic("db is mandatory")
	}
	return &Repository{
		db:     db,
		logger: &relay.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (r *Repository) SetLogger(l relay.Logger) {
	r.logger = l
}

// LoadCursor returns the stored cursor of a topic partition.
func (r *Repository) LoadCursor(ctx context.Context, topic string, partition int32) (int64, bool, error) {
	var c cursor
	err := r.db.WithContext(ctx).Where("topic = ? AND partition = ?", topic, partition).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("could not load the cursor: %w", err)
	}
	return c.Position, true, nil
}

// SaveCursor upserts the cursor of a topic partition. A stored cursor is never
// moved backwards.
func (r *Repository) SaveCursor(ctx context.Context, topic string, partition int32, position int64) error {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "topic"}, {Name: "partition"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: repository.CursorTable + ".position < excluded.position"},
		}},
	}).Create(&cursor{Topic: topic, Partition: partition, Position: position})
	if res.Error != nil {
		return fmt.Errorf("could not persist the cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		r.logger.Warn(fmt.Sprintf("the stored cursor of %s [%d] is already beyond %d", topic, partition, position))
	}
	return nil
}

// Put stores a dead letter.
func (r *Repository) Put(ctx context.Context, dl *relay.DeadLetter) error {
	err := r.db.WithContext(ctx).Create(&deadLetter{
		ID:        uuid.New(),
		Topic:     dl.Topic,
		Partition: dl.Partition,
		Position:  dl.Position,
		Payload:   dl.Payload,
		Reason:    dl.Reason,
		CreatedAt: dl.At,
	}).Error
	if err != nil {
		return fmt.Errorf("could not persist the dead letter: %w", err)
	}
	return nil
}
