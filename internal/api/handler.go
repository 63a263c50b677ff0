package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/stkledger/internal/daraja"
	"github.com/punchamoorthee/stkledger/internal/domain"
	"github.com/punchamoorthee/stkledger/internal/models"
	"github.com/punchamoorthee/stkledger/internal/service"
)

const (
	maxCallbackBytes = 1 << 20
	pushSentMsg      = "Request sent. Enter M-PESA PIN to complete the transaction"
)

type Initiator interface {
	Initiate(ctx context.Context, in service.InitiateInput) (*service.InitiateResult, error)
	AccessToken(ctx context.Context) (string, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, raw []byte) (*domain.TransactionRecord, error)
	Simulate(ctx context.Context, in service.SimulateInput) (*domain.TransactionRecord, error)
}

type TransactionQuery interface {
	List(ctx context.Context) ([]domain.TransactionRecord, error)
	Latest(ctx context.Context) (*domain.TransactionRecord, error)
	FindByID(ctx context.Context, id string) (*domain.TransactionRecord, error)
}

// Handler serves the payment endpoints.
type Handler struct {
	initiator  Initiator
	reconciler Reconciler
	query      TransactionQuery
	logger     *slog.Logger
}

func NewHandler(initiator Initiator, reconciler Reconciler, query TransactionQuery, logger *slog.Logger) *Handler {
	return &Handler{initiator: initiator, reconciler: reconciler, query: query, logger: logger}
}

func (h *Handler) AccessTokenHandler(w http.ResponseWriter, r *http.Request) {
	token, err := h.initiator.AccessToken(r.Context())
	if err != nil {
		h.logger.Error("access token request failed", slog.String("error", err.Error()))
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, models.AccessTokenResponse{AccessToken: token})
}

func (h *Handler) STKPushHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StkPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		stkPushTotal.WithLabelValues("invalid").Inc()
		respondWithMessage(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	res, err := h.initiator.Initiate(r.Context(), service.InitiateInput{
		Phone:            strings.TrimSpace(string(req.Phone)),
		Amount:           string(req.Amount),
		AccountReference: req.AccountNumber,
	})
	if err != nil {
		status, msg, outcome := pushFailure(err)
		stkPushTotal.WithLabelValues(outcome).Inc()
		respondWithMessage(w, status, msg)
		return
	}

	stkPushTotal.WithLabelValues("accepted").Inc()
	respondWithJSON(w, http.StatusOK, models.StkPushResponse{
		Success:        true,
		Msg:            pushSentMsg,
		Transaction:    res.Transaction,
		DarajaResponse: res.GatewayResponse,
	})
}

// pushFailure maps an initiation error to a status code, a client message
// and a metrics outcome label.
func pushFailure(err error) (int, string, string) {
	var gwErr *daraja.GatewayError
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrMissingPhone),
		errors.Is(err, service.ErrInvalidPhone):
		return http.StatusBadRequest, validationMessage(err), "invalid"
	case errors.Is(err, service.ErrConfiguration):
		return http.StatusInternalServerError, err.Error(), "misconfigured"
	case errors.As(err, &gwErr):
		return http.StatusInternalServerError, gwErr.Description, "rejected"
	case errors.Is(err, service.ErrCredential):
		return http.StatusInternalServerError, err.Error(), "credential"
	default:
		return http.StatusInternalServerError, "Request failed", "error"
	}
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		return "Amount must be a positive number"
	case errors.Is(err, service.ErrMissingPhone):
		return "Phone number is required"
	default:
		return "Invalid phone number format. Please use a valid Kenyan phone number"
	}
}

// CallbackHandler receives the gateway's result notification. A well-formed
// JSON body without a result object is still acknowledged with 200 so the
// gateway stops redelivering it. A result object that does not decode is
// rejected with 400 and never acknowledged.
func (h *Handler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil || !json.Valid(body) {
		callbacksTotal.WithLabelValues("invalid").Inc()
		respondWithText(w, http.StatusBadRequest, "Invalid callback payload")
		return
	}

	rec, err := h.reconciler.Reconcile(r.Context(), body)
	switch {
	case errors.Is(err, service.ErrMalformedCallback):
		h.logger.Warn("callback without stkCallback", slog.Int("bytes", len(body)))
		callbacksTotal.WithLabelValues("malformed").Inc()
		respondWithText(w, http.StatusOK, "No callback data")
	case errors.Is(err, service.ErrInvalidCallback):
		h.logger.Error("callback result rejected", slog.String("error", err.Error()))
		callbacksTotal.WithLabelValues("invalid").Inc()
		respondWithText(w, http.StatusBadRequest, "Invalid callback payload")
	case err != nil:
		h.logger.Error("callback processing failed", slog.String("error", err.Error()))
		callbacksTotal.WithLabelValues("error").Inc()
		respondWithText(w, http.StatusInternalServerError, "Error processing callback")
	default:
		callbacksTotal.WithLabelValues(string(rec.Status)).Inc()
		respondWithText(w, http.StatusOK, "Callback processed")
	}
}

func (h *Handler) SimulateCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SimulateCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithMessage(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	rec, err := h.reconciler.Simulate(r.Context(), service.SimulateInput{
		CheckoutRequestID:  req.CheckoutRequestID,
		MerchantRequestID:  req.MerchantRequestID,
		Amount:             req.Amount,
		MpesaReceiptNumber: req.MpesaReceiptNumber,
		TransactionDate:    string(req.TransactionDate),
		PhoneNumber:        string(req.PhoneNumber),
		ResultCode:         req.ResultCode,
		ResultDesc:         req.ResultDesc,
	})
	if errors.Is(err, service.ErrMissingCheckoutID) {
		respondWithMessage(w, http.StatusBadRequest, "checkoutRequestID required")
		return
	}
	if err != nil {
		h.logger.Error("simulated callback failed", slog.String("error", err.Error()))
		respondWithMessage(w, http.StatusInternalServerError, "Error processing callback")
		return
	}
	callbacksTotal.WithLabelValues(string(rec.Status)).Inc()
	respondWithJSON(w, http.StatusOK, models.SimulateCallbackResponse{Success: true, Tx: rec})
}

// ListTransactionsHandler never fails: an unreadable ledger reads as empty.
func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.query.List(r.Context())
	if err != nil {
		h.logger.Warn("listing transactions failed", slog.String("error", err.Error()))
		records = nil
	}
	if records == nil {
		records = []domain.TransactionRecord{}
	}
	respondWithJSON(w, http.StatusOK, models.DataResponse{Success: true, Data: records})
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	h.findTransaction(w, r)
}

// VerifyTransactionHandler returns the current stored state. It does not ask
// the gateway; only a callback moves a record out of PENDING.
func (h *Handler) VerifyTransactionHandler(w http.ResponseWriter, r *http.Request) {
	h.findTransaction(w, r)
}

func (h *Handler) findTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.query.FindByID(r.Context(), id)
	if errors.Is(err, service.ErrNotFound) {
		respondWithMessage(w, http.StatusNotFound, "Not found")
		return
	}
	if err != nil {
		h.logger.Error("reading transaction failed", slog.String("id", id), slog.String("error", err.Error()))
		respondWithMessage(w, http.StatusInternalServerError, "Error reading transactions")
		return
	}
	respondWithJSON(w, http.StatusOK, models.DataResponse{Success: true, Data: rec})
}

func (h *Handler) STKStatusHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := h.query.Latest(r.Context())
	if errors.Is(err, service.ErrNotFound) {
		respondWithJSON(w, http.StatusOK, models.DataResponse{Success: true, Data: nil})
		return
	}
	if err != nil {
		h.logger.Warn("reading latest transaction failed", slog.String("error", err.Error()))
		respondWithJSON(w, http.StatusOK, models.DataResponse{Success: false, Data: nil})
		return
	}
	respondWithJSON(w, http.StatusOK, models.DataResponse{Success: true, Data: rec})
}
