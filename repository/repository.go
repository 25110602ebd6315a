package repository

import (
	"github.com/3rs4lg4d0/txrelay/relay"
)

const (
	CursorTable     = "relay_cursor"      // committed cursor per topic partition
	DeadLetterTable = "relay_dead_letter" // messages removed from the normal flow
)

// Repository persists the consumer state in an external storage: the
// committed cursors and the dead letters. All the implementations share the
// schema in 'sql/postgres'.
type Repository interface {
	relay.CursorStore
	relay.DeadLetterSink
}
