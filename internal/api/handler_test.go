package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stkledger/internal/daraja"
	"github.com/punchamoorthee/stkledger/internal/domain"
	"github.com/punchamoorthee/stkledger/internal/service"
	"github.com/punchamoorthee/stkledger/internal/store"
)

const acceptedBody = `{"MerchantRequestID":"m_1","CheckoutRequestID":"ws_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success"}`

type testEnv struct {
	router http.Handler
	ledger *store.FileLedger
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv wires the real payment core to a file ledger and a local
// gateway that answers pushes with pushStatus and pushBody.
func newTestEnv(t *testing.T, pushStatus int, pushBody string, catalog Catalog) *testEnv {
	t.Helper()
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
		case "/mpesa/stkpush/v1/processrequest":
			w.WriteHeader(pushStatus)
			_, _ = w.Write([]byte(pushBody))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(gw.Close)

	logger := discardLogger()
	dir := t.TempDir()
	ledger := store.NewFileLedger(filepath.Join(dir, "transactions.json"), filepath.Join(dir, "stkcallback.json"), logger)
	ids, err := service.NewIDGenerator(2)
	require.NoError(t, err)

	client := daraja.NewClient(daraja.Config{
		BaseURL:        gw.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Timeout:        5 * time.Second,
	}, logger)
	initiator := service.NewInitiator(client, ledger, service.PaymentConfig{
		ShortCode:      "174379",
		PassKey:        "passkey",
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		CallbackURL:    "http://localhost:5000/api/callback",
		Location:       time.UTC,
	}, ids, logger)
	reconciler := service.NewReconciler(ledger, ledger, ids, nil, logger)

	var catalogHandler *CatalogHandler
	if catalog != nil {
		catalogHandler = NewCatalogHandler(catalog, nil, logger)
	}
	handler := NewHandler(initiator, reconciler, service.NewQuery(ledger), logger)
	return &testEnv{router: NewRouter(handler, catalogHandler, []string{"*"}), ledger: ledger}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestSTKPush_Accepted(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)

	rr := env.do(t, http.MethodPost, "/api/stkpush", `{"phone":"0712345678","amount":50,"accountNumber":"BK-1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	out := decode(t, rr)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, pushSentMsg, out["msg"])
	tx := out["transaction"].(map[string]any)
	assert.Equal(t, "ws_1", tx["id"])
	assert.Equal(t, "ws_1", tx["checkoutRequestId"])
	assert.Equal(t, "PENDING", tx["status"])
	assert.Equal(t, 50.0, tx["amount"])
	assert.Equal(t, "254712345678", tx["phoneNumber"])
	gwResp := out["darajaResponse"].(map[string]any)
	assert.Equal(t, "ws_1", gwResp["CheckoutRequestID"])
}

func TestSTKPush_NumericPhone(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)

	rr := env.do(t, http.MethodPost, "/api/stkpush", `{"phone":712345678,"amount":"10"}`)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestSTKPush_ValidationErrors(t *testing.T) {
	cases := []struct {
		body string
		msg  string
	}{
		{`{"phone":"0712345678","amount":0}`, "Amount must be a positive number"},
		{`{"phone":"0712345678","amount":"abc"}`, "Amount must be a positive number"},
		{`{"amount":10}`, "Phone number is required"},
		{`{"phone":"0612345678","amount":10}`, "Invalid phone number format. Please use a valid Kenyan phone number"},
		{`{not json`, "Malformed JSON body"},
	}
	for _, tc := range cases {
		env := newTestEnv(t, http.StatusOK, acceptedBody, nil)
		rr := env.do(t, http.MethodPost, "/api/stkpush", tc.body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, tc.body)
		out := decode(t, rr)
		assert.Equal(t, false, out["success"])
		assert.Equal(t, tc.msg, out["msg"])

		records, err := env.ledger.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, records)
	}
}

func TestSTKPush_GatewayRejected(t *testing.T) {
	env := newTestEnv(t, http.StatusBadRequest, `{"requestId":"r1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Amount"}`, nil)

	rr := env.do(t, http.MethodPost, "/api/stkpush", `{"phone":"0712345678","amount":1}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	out := decode(t, rr)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Bad Request - Invalid Amount", out["msg"])

	records, err := env.ledger.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAccessToken(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)

	rr := env.do(t, http.MethodGet, "/api/access_token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "tok", decode(t, rr)["access_token"])
}

func TestCallback_CompletesPendingTransaction(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/stkpush", `{"phone":"0712345678","amount":50}`).Code)

	cb := `{"Body":{"stkCallback":{"MerchantRequestID":"m_1","CheckoutRequestID":"ws_1","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":50},{"Name":"MpesaReceiptNumber","Value":"RCPT1"},{"Name":"Balance"},{"Name":"TransactionDate","Value":20240101120000},{"Name":"PhoneNumber","Value":254712345678}]}}}}`
	rr := env.do(t, http.MethodPost, "/api/callback", cb)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Callback processed", rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/transactions/ws_1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	data := decode(t, rr)["data"].(map[string]any)
	assert.Equal(t, "COMPLETED", data["status"])
	assert.Equal(t, "RCPT1", data["mpesaReceiptNumber"])
	assert.Equal(t, "20240101120000", data["transactionDate"])
	assert.NotEmpty(t, data["verifiedAt"])

	rr = env.do(t, http.MethodGet, "/api/transactions", "")
	list := decode(t, rr)["data"].([]any)
	assert.Len(t, list, 1)

	raw, err := env.ledger.LoadRaw(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, cb, string(raw))
}

func TestCallback_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)

	rr := env.do(t, http.MethodPost, "/api/callback", `{"Body":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCallback_MissingResultIsAcknowledged(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)

	rr := env.do(t, http.MethodPost, "/api/callback", `{"Body":{}}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "No callback data", rr.Body.String())

	records, err := env.ledger.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCallback_StringResultCodeIsRecorded(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/stkpush", `{"phone":"0712345678","amount":50}`).Code)

	rr := env.do(t, http.MethodPost, "/api/callback", `{"Body":{"stkCallback":{"MerchantRequestID":"m_1","CheckoutRequestID":"ws_1","ResultCode":"1032","ResultDesc":"Request cancelled by user"}}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Callback processed", rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/transactions/ws_1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	data := decode(t, rr)["data"].(map[string]any)
	assert.Equal(t, "FAILED", data["status"])
	assert.Equal(t, 1032.0, data["resultCode"])
}

func TestCallback_UndecodableResultIsRejected(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/stkpush", `{"phone":"0712345678","amount":50}`).Code)

	for _, body := range []string{
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_1","ResultCode":{"code":0}}}}`,
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_1","ResultCode":"cancelled"}}}`,
		`{"Body":{"stkCallback":"ws_1"}}`,
	} {
		rr := env.do(t, http.MethodPost, "/api/callback", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Equal(t, "Invalid callback payload", rr.Body.String())
	}

	rec, err := env.ledger.FindByID(context.Background(), "ws_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)

	_, err = env.ledger.LoadRaw(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSimulateCallback(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/stkpush", `{"phone":"0712345678","amount":50}`).Code)

	rr := env.do(t, http.MethodPost, "/api/simulate-callback", `{"checkoutRequestID":"ws_1","resultCode":1032,"resultDesc":"Request cancelled by user"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	out := decode(t, rr)
	assert.Equal(t, true, out["success"])
	tx := out["tx"].(map[string]any)
	assert.Equal(t, "FAILED", tx["status"])
	assert.Equal(t, 50.0, tx["amount"])

	rr = env.do(t, http.MethodPost, "/api/simulate-callback", `{"amount":5}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "checkoutRequestID required", decode(t, rr)["msg"])
}

func TestTransactionQueries(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)

	rr := env.do(t, http.MethodGet, "/api/transactions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/stkstatus", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"data":null}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/transactions/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"success":false,"msg":"Not found"}`, rr.Body.String())

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/stkpush", `{"phone":"0712345678","amount":50}`).Code)

	rr = env.do(t, http.MethodPost, "/api/transactions/m_1/verify", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ws_1", decode(t, rr)["data"].(map[string]any)["id"])

	rr = env.do(t, http.MethodGet, "/api/stkstatus", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "PENDING", decode(t, rr)["data"].(map[string]any)["status"])
}

func TestCORSAndMetrics(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://storefront.test")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	env.do(t, http.MethodGet, "/api/transactions/abc", "")
	rr = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `endpoint="/api/transactions/{id}"`)
}

func TestMetrics_CountsUnmatchedRequests(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/nowhere", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodDelete, "/api/stkpush", "").Code)

	body := env.do(t, http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, body, `stkledger_http_requests_total{endpoint="unmatched",method="GET",status="404"}`)
	assert.Contains(t, body, `stkledger_http_requests_total{endpoint="unmatched",method="DELETE",status="405"}`)
	assert.NotContains(t, body, `endpoint="/api/nowhere"`)
}

type stubCatalog struct {
	createService func(ctx context.Context, svc *domain.Service) error
	listServices  func(ctx context.Context) ([]domain.Service, error)
	createBooking func(ctx context.Context, b *domain.Booking) error
	listBookings  func(ctx context.Context) ([]domain.Booking, error)
}

func (s *stubCatalog) CreateService(ctx context.Context, svc *domain.Service) error {
	return s.createService(ctx, svc)
}

func (s *stubCatalog) ListServices(ctx context.Context) ([]domain.Service, error) {
	return s.listServices(ctx)
}

func (s *stubCatalog) CreateBooking(ctx context.Context, b *domain.Booking) error {
	return s.createBooking(ctx, b)
}

func (s *stubCatalog) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	return s.listBookings(ctx)
}

func TestCatalogRoutes(t *testing.T) {
	var created domain.Booking
	catalog := &stubCatalog{
		createService: func(ctx context.Context, svc *domain.Service) error {
			svc.ID = "svc-1"
			return nil
		},
		listServices: func(ctx context.Context) ([]domain.Service, error) { return nil, nil },
		createBooking: func(ctx context.Context, b *domain.Booking) error {
			if b.ServiceID != "svc-1" {
				return store.ErrServiceNotFound
			}
			b.ID = "bk-1"
			created = *b
			return nil
		},
		listBookings: func(ctx context.Context) ([]domain.Booking, error) {
			return nil, errors.New("connection reset")
		},
	}
	env := newTestEnv(t, http.StatusOK, acceptedBody, catalog)

	rr := env.do(t, http.MethodPost, "/api/services", `{"name":"Braids","price":"1500.00"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "svc-1", decode(t, rr)["data"].(map[string]any)["id"])

	rr = env.do(t, http.MethodPost, "/api/services", `{"price":"10"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/services", "")
	assert.JSONEq(t, `{"success":true,"data":[]}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/bookings", `{"customerName":"Akinyi","customerPhone":"0712345678","serviceId":"svc-1","date":"2024-03-01T10:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "254712345678", created.CustomerPhone)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), created.Date.UTC())

	rr = env.do(t, http.MethodPost, "/api/bookings", `{"customerName":"Akinyi","customerPhone":"0712345678","serviceId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/bookings", `{"customerName":"Akinyi"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/bookings", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCatalogRoutesAbsentWithoutDatabase(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, acceptedBody, nil)

	rr := env.do(t, http.MethodGet, "/api/services", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
