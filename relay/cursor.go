package relay

import (
	"fmt"
	"sync"
)

// Cursors holds the last committed position of every partition seen by the
// consumer. A cursor only moves forward one position at a time.
type Cursors struct {
	mu        sync.Mutex
	positions map[int32]int64
}

func NewCursors() *Cursors {
	return &Cursors{positions: make(map[int32]int64)}
}

// Init sets the cursor of a partition unless it already exists.
func (c *Cursors) Init(partition int32, position int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.positions[partition]; !ok {
		c.positions[partition] = position
	}
}

// Get returns the cursor of a partition.
func (c *Cursors) Get(partition int32) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[partition]
	return p, ok
}

// Advance moves the cursor to position only if position is the next one.
func (c *Cursors) Advance(partition int32, position int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.positions[partition]
	if !ok {
		return fmt.Errorf("%w: partition %d has no cursor", ErrOutOfOrderCommit, partition)
	}
	if position != current+1 {
		return fmt.Errorf("%w: partition %d at %d, got %d", ErrOutOfOrderCommit, partition, current, position)
	}
	c.positions[partition] = position
	return nil
}

// Snapshot copies all the cursors.
func (c *Cursors) Snapshot() map[int32]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int32]int64, len(c.positions))
	for k, v := range c.positions {
		out[k] = v
	}
	return out
}
