package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/stkledger/internal/daraja"
	"github.com/punchamoorthee/stkledger/internal/domain"
	"github.com/punchamoorthee/stkledger/internal/store"
)

const (
	DefaultTransactionDesc = "RoyalBeauty booking deposit"

	// DefaultAccountReference is sent when the client gives no reference;
	// the gateway rejects an empty AccountReference.
	DefaultAccountReference = "RoyalBeauty"
)

// Gateway is the part of the Daraja client the payment core needs.
type Gateway interface {
	AccessToken(ctx context.Context) (string, error)
	STKPush(ctx context.Context, accessToken string, req daraja.PushRequest) (*daraja.PushResponse, error)
}

type PaymentConfig struct {
	ShortCode       string
	PassKey         string
	ConsumerKey     string
	ConsumerSecret  string
	CallbackURL     string
	TransactionDesc string
	Location        *time.Location
}

// missing names every secret the initiator cannot run without.
func (c PaymentConfig) missing() []string {
	var out []string
	if c.ShortCode == "" {
		out = append(out, "SHORTCODE")
	}
	if c.PassKey == "" {
		out = append(out, "PASSKEY")
	}
	if c.ConsumerKey == "" {
		out = append(out, "CONSUMER_KEY")
	}
	if c.ConsumerSecret == "" {
		out = append(out, "CONSUMER_SECRET")
	}
	return out
}

type InitiateInput struct {
	Phone            string
	Amount           string
	AccountReference string
}

type InitiateResult struct {
	// Transaction is nil when the gateway accepted the push but the pending
	// record could not be persisted.
	Transaction     *domain.TransactionRecord
	GatewayResponse json.RawMessage
}

// Initiator sends push-payment requests and records them as PENDING.
type Initiator struct {
	gateway Gateway
	ledger  store.Ledger
	cfg     PaymentConfig
	ids     *IDGenerator
	logger  *slog.Logger
	now     func() time.Time
}

func NewInitiator(gateway Gateway, ledger store.Ledger, cfg PaymentConfig, ids *IDGenerator, logger *slog.Logger) *Initiator {
	if cfg.TransactionDesc == "" {
		cfg.TransactionDesc = DefaultTransactionDesc
	}
	return &Initiator{
		gateway: gateway,
		ledger:  ledger,
		cfg:     cfg,
		ids:     ids,
		logger:  logger,
		now:     time.Now,
	}
}

// ParseAmount accepts a decimal literal and rejects anything not strictly positive.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// Initiate validates the request, obtains a fresh access token, submits the
// STK push and appends a PENDING record once the gateway accepts it.
// Validation and configuration failures happen before any I/O.
func (s *Initiator) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	phone, err := ValidatePhone(in.Phone)
	if err != nil {
		return nil, err
	}
	if missing := s.cfg.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	token, err := s.gateway.AccessToken(ctx)
	if err != nil {
		s.logger.Error("access token exchange failed", slog.String("error", err.Error()))
		return nil, err
	}

	account := strings.TrimSpace(in.AccountReference)
	reference := account
	if reference == "" {
		reference = DefaultAccountReference
	}

	now := s.now()
	timestamp := daraja.Timestamp(now, s.cfg.Location)
	push := daraja.PushRequest{
		BusinessShortCode: s.cfg.ShortCode,
		Password:          daraja.Password(s.cfg.ShortCode, s.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   daraja.TransactionTypePayBill,
		Amount:            json.Number(amount.String()),
		PartyA:            phone,
		PartyB:            s.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       s.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   s.cfg.TransactionDesc,
	}

	resp, err := s.gateway.STKPush(ctx, token, push)
	if err != nil {
		s.logger.Error("stk push failed", slog.String("phone", phone), slog.String("error", err.Error()))
		return nil, err
	}

	id := resp.CheckoutRequestID
	if id == "" {
		id = resp.MerchantRequestID
	}
	if id == "" {
		id = s.ids.Next("tx_")
	}

	rec := domain.TransactionRecord{
		ID:                id,
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		Amount:            amount.InexactFloat64(),
		PhoneNumber:       phone,
		AccountNumber:     account,
		Status:            domain.StatusPending,
		DarajaResponse:    resp.Raw,
		CreatedAt:         now.UTC(),
	}

	result := &InitiateResult{GatewayResponse: resp.Raw}
	if err := s.ledger.Append(ctx, rec); err != nil {
		s.logger.Error("persisting pending transaction failed", slog.String("id", id), slog.String("error", err.Error()))
		return result, nil
	}

	s.logger.Info("stk push accepted",
		slog.String("id", id),
		slog.String("checkout_request_id", resp.CheckoutRequestID),
		slog.String("phone", phone),
		slog.String("amount", amount.String()),
	)
	result.Transaction = &rec
	return result, nil
}

// AccessToken exposes a fresh gateway credential for diagnostics.
func (s *Initiator) AccessToken(ctx context.Context) (string, error) {
	return s.gateway.AccessToken(ctx)
}
