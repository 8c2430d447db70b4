package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/quake-exposure/internal/domain"
)

// TableSource provides the most recently scored table.
type TableSource interface {
	Latest() (domain.RiskTable, bool)
}

// Server exposes health, readiness, metrics, and exposure HTTP endpoints.
type Server struct {
	httpServer *http.Server
	tables     TableSource
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /exposure routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, tables TableSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		tables: tables,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /exposure", s.handleExposure)
	mux.HandleFunc("GET /exposure/{placeID...}", s.handlePlaceExposure)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type recordView struct {
	domain.ExposureRecord
	RiskBand string `json:"risk_band"`
}

type tableView struct {
	RunID        string       `json:"run_id"`
	ModelVersion string       `json:"model_version"`
	ScoredAt     time.Time    `json:"scored_at"`
	EventCount   int          `json:"event_count"`
	PlaceCount   int          `json:"place_count"`
	Exposed      int          `json:"exposed"`
	MaxPGA       float64      `json:"max_pga"`
	Warnings     []string     `json:"warnings,omitempty"`
	Records      []recordView `json:"records"`
}

func newRecordView(r domain.ExposureRecord) recordView {
	return recordView{ExposureRecord: r, RiskBand: domain.RiskBand(r.MaxPGA)}
}

// handleExposure serves the latest table. ?exposed=true keeps only records
// with a non-zero PGA; ?band= keeps only records in that risk band.
func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	table, ok := s.tables.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no exposure table has been scored yet")
		return
	}

	q := r.URL.Query()
	exposedOnly := q.Get("exposed") == "true"
	band := q.Get("band")
	switch band {
	case "", domain.RiskLow, domain.RiskElevated, domain.RiskHigh:
	default:
		writeError(w, http.StatusBadRequest, "unknown risk band "+band)
		return
	}

	view := tableView{
		RunID:        table.RunID,
		ModelVersion: table.ModelVersion,
		ScoredAt:     table.ScoredAt,
		EventCount:   table.EventCount,
		PlaceCount:   len(table.Records),
		Exposed:      table.Exposed(),
		MaxPGA:       table.MaxPGA(),
		Warnings:     table.Warnings,
		Records:      make([]recordView, 0, len(table.Records)),
	}
	for _, rec := range table.Records {
		rv := newRecordView(rec)
		if exposedOnly && rec.MaxPGA == 0 {
			continue
		}
		if band != "" && rv.RiskBand != band {
			continue
		}
		view.Records = append(view.Records, rv)
	}
	writeJSON(w, http.StatusOK, view)
}

// handlePlaceExposure serves the records of one place. Duplicate identifiers
// yield one record each, in input order.
func (s *Server) handlePlaceExposure(w http.ResponseWriter, r *http.Request) {
	table, ok := s.tables.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no exposure table has been scored yet")
		return
	}

	id := r.PathValue("placeID")
	var matches []recordView
	for _, rec := range table.Records {
		if rec.PlaceID == id {
			matches = append(matches, newRecordView(rec))
		}
	}
	if len(matches) == 0 {
		writeError(w, http.StatusNotFound, "unknown place "+id)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
