package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/punchamoorthee/stkledger/internal/daraja"
	"github.com/punchamoorthee/stkledger/internal/domain"
	"github.com/punchamoorthee/stkledger/internal/store"
)

// Positions of the callback metadata items. The gateway sends them in a fixed
// order and they are read by index, not by Name. Index 2 (Balance) is unused.
const (
	itemAmount          = 0
	itemReceiptNumber   = 1
	itemTransactionDate = 3
	itemPhoneNumber     = 4
)

// PaymentNotifier is told about transactions that completed.
type PaymentNotifier interface {
	PaymentCompleted(ctx context.Context, rec domain.TransactionRecord) error
}

// Metadata is what a successful callback reports about the payment. A field
// is nil when its position is missing or empty.
type Metadata struct {
	Amount          *float64
	ReceiptNumber   *string
	TransactionDate *string
	PhoneNumber     *string
}

// ExtractMetadata reads the positional callback items.
func ExtractMetadata(items []domain.MetadataItem) Metadata {
	var md Metadata
	if s := itemString(items, itemAmount); s != nil {
		if v, err := strconv.ParseFloat(*s, 64); err == nil {
			md.Amount = &v
		}
	}
	md.ReceiptNumber = itemString(items, itemReceiptNumber)
	md.TransactionDate = itemString(items, itemTransactionDate)
	md.PhoneNumber = itemString(items, itemPhoneNumber)
	return md
}

// itemString renders the value at index i as text: strings are unquoted,
// numbers keep their literal digits.
func itemString(items []domain.MetadataItem, i int) *string {
	if i < 0 || i >= len(items) {
		return nil
	}
	raw := bytes.TrimSpace(items[i].Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
	} else {
		s = string(raw)
	}
	return &s
}

// Reconciler merges gateway result notifications into the ledger.
type Reconciler struct {
	ledger   store.Ledger
	archive  store.CallbackArchive
	ids      *IDGenerator
	notifier PaymentNotifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(ledger store.Ledger, archive store.CallbackArchive, ids *IDGenerator, notifier PaymentNotifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		archive:  archive,
		ids:      ids,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// callbackEnvelope locates the stkCallback object without decoding it, so a
// body that has no result can be told apart from one whose result is garbled.
type callbackEnvelope struct {
	Body struct {
		StkCallback json.RawMessage `json:"stkCallback"`
	} `json:"Body"`
}

// Reconcile decodes a callback body, merges it into the matching record (or
// inserts a terminal one) and archives the body verbatim. A body without a
// stkCallback object returns ErrMalformedCallback; a stkCallback that does
// not decode returns ErrInvalidCallback. Neither touches the ledger.
// Redelivered callbacks are merged again.
func (r *Reconciler) Reconcile(ctx context.Context, raw []byte) (*domain.TransactionRecord, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	body := bytes.TrimSpace(env.Body.StkCallback)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, ErrMalformedCallback
	}
	cb := new(domain.STKCallback)
	if err := json.Unmarshal(body, cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	var items []domain.MetadataItem
	if cb.CallbackMetadata != nil {
		items = cb.CallbackMetadata.Item
	}
	md := ExtractMetadata(items)

	update := domain.CallbackUpdate{
		MerchantRequestID:  cb.MerchantRequestID,
		CheckoutRequestID:  cb.CheckoutRequestID,
		ResultCode:         cb.ResultCode.Int(),
		ResultDesc:         cb.ResultDesc,
		Amount:             md.Amount,
		MpesaReceiptNumber: md.ReceiptNumber,
		TransactionDate:    md.TransactionDate,
		PhoneNumber:        md.PhoneNumber,
		Raw:                json.RawMessage(raw),
		ReceivedAt:         r.now().UTC(),
		FallbackID:         r.ids.Next("tx_"),
	}

	merged, err := r.ledger.Upsert(ctx, update)
	if err != nil {
		return nil, err
	}

	if err := r.archive.SaveRaw(ctx, raw); err != nil {
		return merged, err
	}

	r.logger.Info("stored transaction",
		slog.String("id", merged.ID),
		slog.String("checkout_request_id", cb.CheckoutRequestID),
		slog.String("merchant_request_id", cb.MerchantRequestID),
		slog.String("status", string(merged.Status)),
	)

	if merged.Status == domain.StatusCompleted && r.notifier != nil {
		if err := r.notifier.PaymentCompleted(ctx, *merged); err != nil {
			r.logger.Warn("payment notification failed", slog.String("id", merged.ID), slog.String("error", err.Error()))
		}
	}
	return merged, nil
}

// SimulateInput describes a locally produced result notification.
type SimulateInput struct {
	CheckoutRequestID  string
	MerchantRequestID  string
	Amount             *float64
	MpesaReceiptNumber string
	TransactionDate    string
	PhoneNumber        string
	ResultCode         *int
	ResultDesc         string
}

// Simulate builds a callback of the gateway's shape from in, filling the
// gaps with generated values, and reconciles it like a real delivery.
func (r *Reconciler) Simulate(ctx context.Context, in SimulateInput) (*domain.TransactionRecord, error) {
	if in.CheckoutRequestID == "" {
		return nil, ErrMissingCheckoutID
	}

	cb := domain.STKCallback{
		MerchantRequestID: in.MerchantRequestID,
		CheckoutRequestID: in.CheckoutRequestID,
		ResultDesc:        in.ResultDesc,
	}
	if cb.MerchantRequestID == "" {
		cb.MerchantRequestID = r.ids.Next("M")
	}
	code := domain.ResultCode(0)
	if in.ResultCode != nil {
		code = domain.ResultCode(*in.ResultCode)
	}
	cb.ResultCode = &code
	if cb.ResultDesc == "" {
		cb.ResultDesc = "Completed"
	}

	receipt := in.MpesaReceiptNumber
	if receipt == "" {
		receipt = r.ids.Next("RCPT")
	}
	date := in.TransactionDate
	if date == "" {
		date = daraja.Timestamp(r.now(), time.UTC)
	}

	cb.CallbackMetadata = &domain.CallbackMetadata{Item: []domain.MetadataItem{
		{Name: "Amount", Value: rawValue(in.Amount)},
		{Name: "MpesaReceiptNumber", Value: rawValue(receipt)},
		{Name: "Balance"},
		{Name: "TransactionDate", Value: rawValue(date)},
		{Name: "PhoneNumber", Value: rawValue(in.PhoneNumber)},
	}}

	raw, err := json.MarshalIndent(domain.CallbackNotification{Body: domain.CallbackBody{StkCallback: &cb}}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode simulated callback: %w", err)
	}
	return r.Reconcile(ctx, raw)
}

func rawValue(v any) json.RawMessage {
	switch t := v.(type) {
	case *float64:
		if t == nil {
			return nil
		}
	case string:
		if t == "" {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
