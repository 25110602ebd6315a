package relay

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Attribute names of the synthetic transactions.
const (
	AttrTransactionID = "transaction_id"
	AttrUserID        = "user_id"
	AttrAmount        = "amount"
	AttrStatus        = "status"
	AttrTimestamp     = "timestamp"

	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Generator produces the records sent by the producer loop.
type Generator interface {
	Generate() *Record
}

// TransactionGenerator creates synthetic payment transactions, 10% of them
// flagged as failed.
type TransactionGenerator struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	failRate float64
	now      func() time.Time
}

var _ Generator = (*TransactionGenerator)(nil)

// NewTransactionGenerator creates a generator using the given seed.
func NewTransactionGenerator(seed int64) *TransactionGenerator {
	return &TransactionGenerator{
		rnd:      rand.New(rand.NewSource(seed)),
		failRate: 0.1,
		now:      time.Now,
	}
}

func (g *TransactionGenerator) Generate() *Record {
	g.mu.Lock()
	status := StatusSuccess
	if g.rnd.Float64() < g.failRate {
		status = StatusFailed
	}
	user := g.rnd.Intn(1000) + 1
	amount := math.Round((10.0+g.rnd.Float64()*490.0)*100) / 100
	g.mu.Unlock()

	id := uuid.New()
	now := g.now().UTC().Round(0)
	return &Record{
		ID: id.String(),
		Attributes: map[string]any{
			AttrTransactionID: "txn_" + strings.ReplaceAll(id.String(), "-", "")[:8],
			AttrUserID:        fmt.Sprintf("user_%d", user),
			AttrAmount:        amount,
			AttrStatus:        status,
			AttrTimestamp:     now.Format(time.RFC3339Nano),
		},
		ProducedAt: now,
	}
}
