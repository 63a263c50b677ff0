// Package daraja talks to the M-Pesa Daraja gateway: OAuth client-credential
// exchange and STK push submission.
package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	// TransactionTypePayBill is the STK transaction type for paybill shortcodes.
	TransactionTypePayBill = "CustomerPayBillOnline"

	timestampLayout = "20060102150405"
)

var (
	ErrCredential      = errors.New("access token unavailable")
	ErrGatewayRejected = errors.New("gateway rejected request")
)

// GatewayError carries the gateway's own description of a rejected request.
type GatewayError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway rejected request (%d %s): %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("gateway rejected request (%d): %s", e.StatusCode, e.Description)
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayRejected
}

type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	Timeout         time.Duration
	TokenMaxRetries uint64
	// TokenRetryInterval is the first backoff step between token attempts.
	TokenRetryInterval time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.TokenRetryInterval <= 0 {
		cfg.TokenRetryInterval = 500 * time.Millisecond
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// errorBody covers both the OAuth and the API error payloads.
type errorBody struct {
	RequestID        string `json:"requestId"`
	ErrorCode        string `json:"errorCode"`
	ErrorMessage     string `json:"errorMessage"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b errorBody) description() string {
	switch {
	case b.ErrorMessage != "":
		return b.ErrorMessage
	case b.ErrorDescription != "":
		return b.ErrorDescription
	default:
		return b.Error
	}
}

// AccessToken exchanges the consumer key and secret for a bearer token. A
// fresh token is fetched on every call. Transport failures and 5xx answers
// are retried with exponential backoff; 4xx answers are not.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.cfg.ConsumerKey == "" || c.cfg.ConsumerSecret == "" {
		return "", fmt.Errorf("%w: missing consumer key or secret", ErrCredential)
	}

	var token string
	operation := func() error {
		t, err := c.fetchToken(ctx)
		if err != nil {
			return err
		}
		token = t
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.TokenRetryInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, c.cfg.TokenMaxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("token exchange failed, retrying", slog.String("error", err.Error()), slog.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		if errors.Is(err, ErrCredential) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: %v", ErrCredential, err))
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		desc := eb.description()
		if desc == "" {
			desc = strings.TrimSpace(string(body))
		}
		err := fmt.Errorf("%w: token endpoint returned %d: %s", ErrCredential, resp.StatusCode, desc)
		if resp.StatusCode >= 500 {
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", backoff.Permanent(fmt.Errorf("%w: invalid response from token generation", ErrCredential))
	}
	return tr.AccessToken, nil
}

// PushRequest is the STK push payload.
type PushRequest struct {
	BusinessShortCode string      `json:"BusinessShortCode"`
	Password          string      `json:"Password"`
	Timestamp         string      `json:"Timestamp"`
	TransactionType   string      `json:"TransactionType"`
	Amount            json.Number `json:"Amount"`
	PartyA            string      `json:"PartyA"`
	PartyB            string      `json:"PartyB"`
	PhoneNumber       string      `json:"PhoneNumber"`
	CallBackURL       string      `json:"CallBackURL"`
	AccountReference  string      `json:"AccountReference"`
	TransactionDesc   string      `json:"TransactionDesc"`
}

// PushResponse is the gateway's synchronous acceptance of a push request.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	// Raw is the body exactly as the gateway sent it.
	Raw json.RawMessage `json:"-"`
}

// STKPush submits a push-payment request. A non-2xx answer, an error payload
// or a non-zero ResponseCode is returned as a *GatewayError.
func (c *Client) STKPush(ctx context.Context, accessToken string, pr PushRequest) (*PushResponse, error) {
	payload, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("encode stk push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pushPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build stk push: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stk push: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read stk push response: %w", err)
	}

	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || eb.ErrorCode != "" {
		desc := eb.description()
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return nil, &GatewayError{StatusCode: resp.StatusCode, Code: eb.ErrorCode, Description: desc}
	}

	var out PushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Description: "malformed stk push response"}
	}
	if out.ResponseCode != "" && out.ResponseCode != "0" {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Code: out.ResponseCode, Description: out.ResponseDescription}
	}
	out.Raw = json.RawMessage(body)
	return &out, nil
}

// Password is base64(shortcode + passkey + timestamp). It embeds the
// timestamp, so it must be rebuilt for every request.
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// Timestamp renders t as YYYYMMDDHHmmss in loc.
func Timestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(timestampLayout)
}
