// Package httpserver exposes the command and query buses over HTTP.
package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"courier/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with health, readiness and metrics endpoints. The API
// routes are added with API.Register.
func New(maxBody int64, ready ...ReadyzCheck) *Server {
	m := mux.NewRouter()
	m.Handle("/healthz", Healthz()).Methods(http.MethodGet)
	m.Handle("/readyz", Readyz(2*time.Second, ready...)).Methods(http.MethodGet)
	m.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	m.Use(Metrics(observability.APIRequests), MaxBody(maxBody))
	return &Server{Mux: m}
}

// Handler wraps the router with request logging and a server span per request.
func (s *Server) Handler(service string) http.Handler {
	return otelhttp.NewHandler(Logging(s.Mux), service)
}
