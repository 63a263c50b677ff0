package store

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/stkledger/internal/domain"
)

var (
	ErrNotFound   = errors.New("transaction not found")
	ErrStoreRead  = errors.New("ledger read failed")
	ErrStoreWrite = errors.New("ledger write failed")
)

// Ledger is the persisted collection of transaction records. Every mutating
// call is a serialized read-modify-write against current state; nothing is
// cached between calls.
type Ledger interface {
	// Append adds rec. A pending rec whose gateway ids already resolve to a
	// settled record is folded into it instead.
	Append(ctx context.Context, rec domain.TransactionRecord) error
	// Upsert merges the update into the record its correlation ids resolve
	// to, or inserts a new terminal record when nothing matches.
	Upsert(ctx context.Context, u domain.CallbackUpdate) (*domain.TransactionRecord, error)
	// FindByID resolves id against checkoutRequestId, merchantRequestId and
	// id, in that priority.
	FindByID(ctx context.Context, id string) (*domain.TransactionRecord, error)
	// List returns every record in insertion order. An unreadable backing
	// store yields an empty list.
	List(ctx context.Context) ([]domain.TransactionRecord, error)
	Latest(ctx context.Context) (*domain.TransactionRecord, error)
}

// CallbackArchive keeps only the most recent raw callback document.
type CallbackArchive interface {
	SaveRaw(ctx context.Context, raw []byte) error
	LoadRaw(ctx context.Context) ([]byte, error)
}

// upsertRecords applies u to the resolved record in place, or appends a new
// one. It reports whether a record was inserted.
func upsertRecords(records []domain.TransactionRecord, u domain.CallbackUpdate, now time.Time) ([]domain.TransactionRecord, domain.TransactionRecord, bool) {
	idx := domain.ResolveIndex(records, u.CorrelationIDs()...)
	if idx >= 0 {
		records[idx].Apply(u, now)
		return records, records[idx], false
	}
	rec := domain.NewRecordFromUpdate(u, now)
	return append(records, rec), rec, true
}

// appendRecords adds rec, or folds a pending rec into the record a callback
// already settled under the same gateway ids. It returns the index written
// and whether a record was inserted.
func appendRecords(records []domain.TransactionRecord, rec domain.TransactionRecord) ([]domain.TransactionRecord, int, bool) {
	if rec.Status == domain.StatusPending {
		idx := domain.ResolveIndex(records, rec.CheckoutRequestID, rec.MerchantRequestID)
		if idx >= 0 && records[idx].Status != domain.StatusPending {
			records[idx].Absorb(rec)
			return records, idx, false
		}
	}
	return append(records, rec), len(records), true
}

func nonEmpty(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
