package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StreamHandlerFunc upgrades a request to the WS /alerts/stream
// connection; supplied by the caller since it depends on the
// wsgateway.Hub wiring, which internal/api does not import.
type StreamHandlerFunc func(w http.ResponseWriter, r *http.Request)

// Routes wires the signal, alert, health, and streaming handlers onto
// a router, mirroring the teacher's cmd/api/main.go route table minus
// the rule, symbol, user, and toplist surfaces this engine doesn't
// carry.
func Routes(signals *SignalHandler, alerts *AlertHandler, health *HealthHandler, stream StreamHandlerFunc) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/signals", signals.ListSignals).Methods(http.MethodGet)
	router.HandleFunc("/signals/search", signals.SearchSignals).Methods(http.MethodGet)
	router.HandleFunc("/signals/{symbol}", signals.GetSignal).Methods(http.MethodGet)
	router.HandleFunc("/stats", signals.Stats).Methods(http.MethodGet)
	router.HandleFunc("/rescan", signals.Rescan).Methods(http.MethodPost)

	router.HandleFunc("/alerts", alerts.ListAlerts).Methods(http.MethodGet)
	router.HandleFunc("/alerts/{id}/read", alerts.MarkAlertRead).Methods(http.MethodPost)

	router.HandleFunc("/healthz", health.Healthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readyz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())

	if stream != nil {
		router.HandleFunc("/alerts/stream", stream)
	}

	return ChainMiddleware(
		CORSMiddleware(),
		RequestIDMiddleware(),
		LoggingMiddleware(),
		ErrorHandlingMiddleware(),
	)(router)
}
