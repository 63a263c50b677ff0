package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/stkledger/internal/domain"
)

// StkPushRequest is the payload from the booking client. Phone and amount
// arrive as either JSON strings or numbers.
type StkPushRequest struct {
	Phone         Flexible `json:"phone"`
	Amount        Flexible `json:"amount"`
	AccountNumber string   `json:"accountNumber"`
}

// Flexible holds a scalar that may be sent as a string or a number.
type Flexible string

func (f *Flexible) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = Flexible(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		// Booleans, objects and arrays are kept as text and fail validation later.
		*f = Flexible(b)
		return nil
	}
	*f = Flexible(n.String())
	return nil
}

type StkPushResponse struct {
	Success        bool                      `json:"success"`
	Msg            string                    `json:"msg"`
	Transaction    *domain.TransactionRecord `json:"transaction,omitempty"`
	DarajaResponse json.RawMessage           `json:"darajaResponse,omitempty"`
}

type SimulateCallbackRequest struct {
	CheckoutRequestID  string   `json:"checkoutRequestID"`
	MerchantRequestID  string   `json:"merchantRequestID"`
	Amount             *float64 `json:"amount"`
	MpesaReceiptNumber string   `json:"mpesaReceiptNumber"`
	TransactionDate    Flexible `json:"transactionDate"`
	PhoneNumber        Flexible `json:"phoneNumber"`
	ResultCode         *int     `json:"resultCode"`
	ResultDesc         string   `json:"resultDesc"`
}

type SimulateCallbackResponse struct {
	Success bool                      `json:"success"`
	Tx      *domain.TransactionRecord `json:"tx"`
}

type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

// DataResponse is the envelope of every read endpoint.
type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateServiceRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

type CreateBookingRequest struct {
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	ServiceID     string `json:"serviceId"`
	Date          string `json:"date"`
	Notes         string `json:"notes"`
}

// BookingDate parses the requested date. RFC 3339 and plain dates are
// accepted; an empty value means now.
func (r CreateBookingRequest) BookingDate(now time.Time) (time.Time, error) {
	if r.Date == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, r.Date); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(r.Date, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse("2006-01-02", r.Date)
}
