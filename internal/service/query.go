package service

import (
	"context"

	"github.com/punchamoorthee/stkledger/internal/domain"
	"github.com/punchamoorthee/stkledger/internal/store"
)

// Query is the read-only view of the ledger that clients poll.
type Query struct {
	ledger store.Ledger
}

func NewQuery(ledger store.Ledger) *Query {
	return &Query{ledger: ledger}
}

func (q *Query) List(ctx context.Context) ([]domain.TransactionRecord, error) {
	return q.ledger.List(ctx)
}

func (q *Query) Latest(ctx context.Context) (*domain.TransactionRecord, error) {
	return q.ledger.Latest(ctx)
}

func (q *Query) FindByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	return q.ledger.FindByID(ctx, id)
}
