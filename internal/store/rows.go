package store

import (
	"encoding/json"
	"fmt"

	"github.com/punchamoorthee/stkledger/internal/domain"
)

// recordRow is the relational shape of a record: indexed identifier columns
// plus the full record as a JSON document.
type recordRow struct {
	ID                string
	CheckoutRequestID *string
	MerchantRequestID *string
	Status            string
	Doc               []byte
}

func toRow(rec domain.TransactionRecord) (recordRow, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return recordRow{}, fmt.Errorf("%w: encode record %s: %v", ErrStoreWrite, rec.ID, err)
	}
	return recordRow{
		ID:                rec.ID,
		CheckoutRequestID: nullable(rec.CheckoutRequestID),
		MerchantRequestID: nullable(rec.MerchantRequestID),
		Status:            string(rec.Status),
		Doc:               doc,
	}, nil
}

func fromDoc(doc []byte) (domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return rec, fmt.Errorf("%w: decode record: %v", ErrStoreRead, err)
	}
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
