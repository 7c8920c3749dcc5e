// Package httpapi exposes the ingestion pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/pipeline"
)

// maxUploadBytes bounds the multipart form held in memory per request.
const maxUploadBytes = 32 << 20

// Ingestor runs uploads, single-record submissions, and forecast lookups.
type Ingestor interface {
	IngestBatch(ctx context.Context, upload io.Reader) (*pipeline.BatchResult, error)
	SubmitPatient(ctx context.Context, record domain.PatientRecord) (*pipeline.PatientResult, error)
	Forecast(ctx context.Context, zip string) (domain.ZipLocation, domain.HourlySeries, error)
}

// Querier executes ad hoc read queries against the result store.
type Querier interface {
	Query(ctx context.Context, sql string) ([]map[string]any, error)
}

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server is the HTTP surface: ingestion routes plus health, readiness, and
// metrics.
type Server struct {
	httpServer *http.Server
	ingestor   Ingestor
	querier    Querier
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewServer creates the HTTP server with all API and ops routes.
func NewServer(addr string, ingestor Ingestor, querier Querier, ready ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ingestor: ingestor,
		querier:  querier,
		validate: validator.New(),
		logger:   logger,
	}

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/patient", s.handlePatient)
	mux.HandleFunc("GET /api/forecast/{zip}", s.handleForecast)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

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

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	result, err := s.ingestor.IngestBatch(r.Context(), file)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Processing complete",
		"processedData": result.Rows,
		"apiResults":    result.Env,
	})
}

// patientPayload carries the validated part of a single-record submission;
// the remaining fields pass through to the scorer untouched.
type patientPayload struct {
	Zip string `json:"zip" validate:"required,len=5,numeric"`
}

func (s *Server) handlePatient(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	var payload patientPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if err := s.validate.Struct(payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ZIP code is required"})
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			fields[k] = t
		case float64:
			fields[k] = trimFloat(t)
		case bool:
			fields[k] = fmt.Sprintf("%t", t)
		default:
			data, _ := json.Marshal(t)
			fields[k] = string(data)
		}
	}
	fields["Plan_zip"] = payload.Zip

	record := domain.PatientRecord{
		Fields:   fields,
		MemberID: fields["Member_ID"],
		Zip:      payload.Zip,
	}

	result, err := s.ingestor.SubmitPatient(r.Context(), record)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Processing complete",
		"processedData": result.Risks,
		"apiResult":     result.Series,
	})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	zip := r.PathValue("zip")

	loc, series, err := s.ingestor.Forecast(r.Context(), zip)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"zip":       zip,
		"latitude":  loc.Latitude,
		"longitude": loc.Longitude,
		"hourly": map[string]any{
			"time":           series.Time,
			"us_aqi":         series.AQI,
			"temperature_2m": series.Temperature,
		},
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SQL string `json:"sql"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.SQL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sql is required"})
		return
	}

	rows, err := s.querier.Query(r.Context(), payload.SQL)
	if err != nil {
		// Engine errors are part of the tool's contract, not a server fault.
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rows": rows})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// writePipelineError maps pipeline failures to status codes: bad input 400,
// delegate trouble 502, everything else 500.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var de *domain.DelegateError
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidZip):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid ZIP"})
	case errors.As(err, &de):
		s.logger.Error("scoring delegate failed", "error", de.Message, "exit_code", de.ExitCode)
		resp := map[string]string{"error": de.Message}
		if de.Trace != "" {
			resp["trace"] = de.Trace
		}
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

// trimFloat renders a JSON number the way the source rendered it, without a
// trailing ".0" for integral values.
func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
