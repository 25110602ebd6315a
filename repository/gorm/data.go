package gorm

import (
	"time"

	"github.com/3rs4lg4d0/txrelay/repository"
	"github.com/google/uuid"
)

type cursor struct {
	Topic     string `gorm:"primaryKey"`
	Partition int32  `gorm:"primaryKey"`
	Position  int64
	UpdatedAt time.Time
}

func (cursor) TableName() string {
	return repository.CursorTable
}

type deadLetter struct {
	ID        uuid.UUID `gorm:"primaryKey"`
	Topic     string
	Partition int32
	Position  int64
	Payload   []byte
	Reason    string
	CreatedAt time.Time
}

func (deadLetter) TableName() string {
	return repository.DeadLetterTable
}
