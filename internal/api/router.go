package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every route. catalog may be nil, in which case the
// service and booking routes are not mounted.
func NewRouter(payments *Handler, catalog *CatalogHandler, corsOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/home", HomeHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/access_token", payments.AccessTokenHandler).Methods(http.MethodGet)
	api.HandleFunc("/stkpush", payments.STKPushHandler).Methods(http.MethodPost)
	api.HandleFunc("/callback", payments.CallbackHandler).Methods(http.MethodPost)
	api.HandleFunc("/simulate-callback", payments.SimulateCallbackHandler).Methods(http.MethodPost)
	api.HandleFunc("/transactions", payments.ListTransactionsHandler).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", payments.GetTransactionHandler).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}/verify", payments.VerifyTransactionHandler).Methods(http.MethodPost)
	api.HandleFunc("/stkstatus", payments.STKStatusHandler).Methods(http.MethodGet)

	if catalog != nil {
		api.HandleFunc("/services", catalog.ListServicesHandler).Methods(http.MethodGet)
		api.HandleFunc("/services", catalog.CreateServiceHandler).Methods(http.MethodPost)
		api.HandleFunc("/bookings", catalog.ListBookingsHandler).Methods(http.MethodGet)
		api.HandleFunc("/bookings", catalog.CreateBookingHandler).Methods(http.MethodPost)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return cors(MetricsMiddleware(r))
}
