package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a push-payment transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// StatusFromResultCode maps a gateway result code to a terminal status.
func StatusFromResultCode(code int) Status {
	if code == 0 {
		return StatusCompleted
	}
	return StatusFailed
}

// TransactionRecord is one entry of the ledger. It is created PENDING when the
// gateway accepts a push request and moved to a terminal state by the callback.
type TransactionRecord struct {
	ID                 string          `json:"id"`
	MerchantRequestID  string          `json:"merchantRequestId,omitempty"`
	CheckoutRequestID  string          `json:"checkoutRequestId,omitempty"`
	Amount             float64         `json:"amount"`
	PhoneNumber        string          `json:"phoneNumber,omitempty"`
	AccountNumber      string          `json:"accountNumber,omitempty"`
	Status             Status          `json:"status"`
	ResultCode         *int            `json:"resultCode,omitempty"`
	ResultDesc         string          `json:"resultDesc,omitempty"`
	MpesaReceiptNumber string          `json:"mpesaReceiptNumber,omitempty"`
	TransactionDate    string          `json:"transactionDate,omitempty"`
	DarajaResponse     json.RawMessage `json:"darajaResponse,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          *time.Time      `json:"updatedAt,omitempty"`
	ReceivedAt         *time.Time      `json:"receivedAt,omitempty"`
	VerifiedAt         *time.Time      `json:"verifiedAt,omitempty"`
}

// CallbackUpdate is the partial state carried by a result notification.
// Nil fields are absent from the notification and never overwrite stored values.
type CallbackUpdate struct {
	MerchantRequestID  string
	CheckoutRequestID  string
	ResultCode         *int // nil when the notification omits it
	ResultDesc         string
	Amount             *float64
	MpesaReceiptNumber *string
	TransactionDate    *string
	PhoneNumber        *string
	Raw                json.RawMessage
	ReceivedAt         time.Time

	// FallbackID names a record created for a notification that carries
	// no correlation id at all.
	FallbackID string
}

// Status derives the terminal status from the result code. A notification
// without a code never counts as a payment.
func (u CallbackUpdate) Status() Status {
	if u.ResultCode == nil {
		return StatusFailed
	}
	return StatusFromResultCode(*u.ResultCode)
}

// CorrelationIDs returns the ids used to find the matching record.
func (u CallbackUpdate) CorrelationIDs() []string {
	return []string{u.CheckoutRequestID, u.MerchantRequestID}
}

// Apply merges the update over the record. Incoming values win on conflict.
func (r *TransactionRecord) Apply(u CallbackUpdate, now time.Time) {
	if u.MerchantRequestID != "" {
		r.MerchantRequestID = u.MerchantRequestID
	}
	if u.CheckoutRequestID != "" {
		r.CheckoutRequestID = u.CheckoutRequestID
	}
	if u.Amount != nil {
		r.Amount = *u.Amount
	}
	if u.MpesaReceiptNumber != nil {
		r.MpesaReceiptNumber = *u.MpesaReceiptNumber
	}
	if u.TransactionDate != nil {
		r.TransactionDate = *u.TransactionDate
	}
	if u.PhoneNumber != nil {
		r.PhoneNumber = *u.PhoneNumber
	}
	if len(u.Raw) > 0 {
		r.Raw = u.Raw
	}

	r.ResultCode = nil
	if u.ResultCode != nil {
		code := *u.ResultCode
		r.ResultCode = &code
	}
	r.ResultDesc = u.ResultDesc
	r.Status = u.Status()

	received := u.ReceivedAt
	if received.IsZero() {
		received = now
	}
	r.ReceivedAt = &received
	r.UpdatedAt = &now
	if r.Status == StatusCompleted {
		r.VerifiedAt = &now
	} else {
		r.VerifiedAt = nil
	}
}

// Absorb fills the request-side fields of a record settled by a callback that
// arrived before its pending record was written. Status and callback fields
// are left alone.
func (r *TransactionRecord) Absorb(p TransactionRecord) {
	if r.MerchantRequestID == "" {
		r.MerchantRequestID = p.MerchantRequestID
	}
	if r.CheckoutRequestID == "" {
		r.CheckoutRequestID = p.CheckoutRequestID
	}
	if r.Amount == 0 {
		r.Amount = p.Amount
	}
	if r.PhoneNumber == "" {
		r.PhoneNumber = p.PhoneNumber
	}
	if r.AccountNumber == "" {
		r.AccountNumber = p.AccountNumber
	}
	if len(r.DarajaResponse) == 0 {
		r.DarajaResponse = p.DarajaResponse
	}
	if !p.CreatedAt.IsZero() && p.CreatedAt.Before(r.CreatedAt) {
		r.CreatedAt = p.CreatedAt
	}
}

// NewRecordFromUpdate builds the terminal record for a notification that
// matched nothing in the ledger.
func NewRecordFromUpdate(u CallbackUpdate, now time.Time) TransactionRecord {
	id := u.CheckoutRequestID
	if id == "" {
		id = u.MerchantRequestID
	}
	if id == "" {
		id = u.FallbackID
	}
	rec := TransactionRecord{ID: id, CreatedAt: now}
	rec.Apply(u, now)
	rec.UpdatedAt = nil
	return rec
}

// Service is a bookable salon service.
type Service struct {
	ID          string          `json:"id" gorm:"primaryKey;size:36"`
	Name        string          `json:"name" gorm:"not null"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Booking is a customer's reservation of a Service.
type Booking struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	CustomerName  string    `json:"customerName" gorm:"not null"`
	CustomerPhone string    `json:"customerPhone" gorm:"not null"`
	ServiceID     string    `json:"serviceId" gorm:"size:36;index;not null"`
	Service       *Service  `json:"service,omitempty" gorm:"foreignKey:ServiceID"`
	Date          time.Time `json:"date" gorm:"index"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
