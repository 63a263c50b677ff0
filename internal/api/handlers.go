package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/punchamoorthee/stkledger/internal/domain"
	"github.com/punchamoorthee/stkledger/internal/models"
	"github.com/punchamoorthee/stkledger/internal/service"
	"github.com/punchamoorthee/stkledger/internal/store"
)

// Catalog is the salon's service and booking repository.
type Catalog interface {
	CreateService(ctx context.Context, svc *domain.Service) error
	ListServices(ctx context.Context) ([]domain.Service, error)
	CreateBooking(ctx context.Context, b *domain.Booking) error
	ListBookings(ctx context.Context) ([]domain.Booking, error)
}

type BookingNotifier interface {
	BookingCreated(ctx context.Context, b domain.Booking) error
}

type CatalogHandler struct {
	catalog  Catalog
	notifier BookingNotifier
	logger   *slog.Logger
}

func NewCatalogHandler(catalog Catalog, notifier BookingNotifier, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, notifier: notifier, logger: logger}
}

func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func HomeHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "This is a sample API route."})
}

func (h *CatalogHandler) CreateServiceHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithMessage(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondWithMessage(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Price.IsNegative() {
		respondWithMessage(w, http.StatusBadRequest, "price must not be negative")
		return
	}

	svc := domain.Service{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Price:       req.Price,
	}
	if err := h.catalog.CreateService(r.Context(), &svc); err != nil {
		h.logger.Error("creating service failed", slog.String("error", err.Error()))
		respondWithMessage(w, http.StatusInternalServerError, "System error creating service")
		return
	}
	respondWithJSON(w, http.StatusCreated, models.DataResponse{Success: true, Data: svc})
}

func (h *CatalogHandler) ListServicesHandler(w http.ResponseWriter, r *http.Request) {
	services, err := h.catalog.ListServices(r.Context())
	if err != nil {
		h.logger.Error("listing services failed", slog.String("error", err.Error()))
		respondWithMessage(w, http.StatusInternalServerError, "System error listing services")
		return
	}
	if services == nil {
		services = []domain.Service{}
	}
	respondWithJSON(w, http.StatusOK, models.DataResponse{Success: true, Data: services})
}

func (h *CatalogHandler) CreateBookingHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithMessage(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.CustomerName == "" || req.CustomerPhone == "" || req.ServiceID == "" {
		respondWithMessage(w, http.StatusBadRequest, "customerName, customerPhone and serviceId are required")
		return
	}
	date, err := req.BookingDate(time.Now().UTC())
	if err != nil {
		respondWithMessage(w, http.StatusBadRequest, "Invalid date")
		return
	}

	phone := req.CustomerPhone
	if normalized, err := service.ValidatePhone(phone); err == nil {
		phone = normalized
	}

	booking := domain.Booking{
		CustomerName:  req.CustomerName,
		CustomerPhone: phone,
		ServiceID:     req.ServiceID,
		Date:          date,
		Notes:         req.Notes,
	}
	if err := h.catalog.CreateBooking(r.Context(), &booking); err != nil {
		if errors.Is(err, store.ErrServiceNotFound) {
			respondWithMessage(w, http.StatusNotFound, "Service not found")
			return
		}
		h.logger.Error("creating booking failed", slog.String("error", err.Error()))
		respondWithMessage(w, http.StatusInternalServerError, "System error creating booking")
		return
	}

	if h.notifier != nil {
		if err := h.notifier.BookingCreated(r.Context(), booking); err != nil {
			h.logger.Warn("booking notification failed", slog.String("id", booking.ID), slog.String("error", err.Error()))
		}
	}
	respondWithJSON(w, http.StatusCreated, models.DataResponse{Success: true, Data: booking})
}

func (h *CatalogHandler) ListBookingsHandler(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.catalog.ListBookings(r.Context())
	if err != nil {
		h.logger.Error("listing bookings failed", slog.String("error", err.Error()))
		respondWithMessage(w, http.StatusInternalServerError, "System error listing bookings")
		return
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	respondWithJSON(w, http.StatusOK, models.DataResponse{Success: true, Data: bookings})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithMessage(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.MessageResponse{Success: false, Msg: message})
}

func respondWithText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
