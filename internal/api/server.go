// Package api exposes the capture session over HTTP.
package api

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codeberg.org/mutker/pdctl/internal/autopause"
	"codeberg.org/mutker/pdctl/internal/capture"
	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/export"
	"codeberg.org/mutker/pdctl/internal/logger"
	"codeberg.org/mutker/pdctl/internal/metrics"
	"codeberg.org/mutker/pdctl/internal/store"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

const (
	readHeaderTimeout = 5 * time.Second
	maxImportSize     = 32 << 20
)

// Capture is the part of the capture session the API drives
type Capture interface {
	Status() capture.Status
	Start(ctx context.Context) error
	Pause(ctx context.Context, reason string) error
	Toggle(ctx context.Context) error
	Clear(ctx context.Context) error
	SetAutoPause(ctx context.Context, cfg autopause.Config) error
	Records(ctx context.Context) (protocol, measurement []store.Record, err error)
	Load(ctx context.Context, records []store.Record) error
}

type Server struct {
	server  *http.Server
	capture Capture
	log     logger.Logger
}

func NewServer(addr string, c Capture, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}

	router := mux.NewRouter()

	s := &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		capture: c,
		log:     log,
	}

	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/status", s.status).Methods(http.MethodGet)
	router.HandleFunc("/capture/start", s.start).Methods(http.MethodPost)
	router.HandleFunc("/capture/pause", s.pause).Methods(http.MethodPost)
	router.HandleFunc("/capture/toggle", s.toggle).Methods(http.MethodPost)
	router.HandleFunc("/records/clear", s.clear).Methods(http.MethodPost)
	router.HandleFunc("/records/import", s.importCSV).Methods(http.MethodPost)
	router.HandleFunc("/autopause", s.setAutoPause).Methods(http.MethodPut)
	router.HandleFunc("/export.csv", s.exportCSV).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info().Str("addr", l.Addr().String()).Msg("Starting HTTP server")

	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}

	return s.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", r.RemoteAddr).
			Int("status", rw.statusCode).
			Int("response_size", rw.size).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.capture.Status())
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.capture.Start(r.Context()))
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.capture.Pause(r.Context(), "api"))
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.capture.Toggle(r.Context()))
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.capture.Clear(r.Context()))
}

// AutoPauseRequest is the body of PUT /autopause
type AutoPauseRequest struct {
	Enabled          bool    `json:"enabled"`
	Metric           string  `json:"metric"`
	VoltageThreshold float64 `json:"voltage_threshold"`
	CurrentThreshold float64 `json:"current_threshold"`
	DelaySeconds     float64 `json:"delay_seconds"`
}

func (req AutoPauseRequest) config() (autopause.Config, error) {
	metric, err := telemetry.ParseMetric(req.Metric)
	if err != nil {
		fe := autopause.FieldError{Field: "metric", Value: req.Metric, Reason: "must be voltage or current"}
		return autopause.Config{}, errors.New().Wrap(errors.ErrConfigValidationFailed, fe).WithData(fe)
	}

	if !autopause.InRange(req.DelaySeconds, 0, autopause.MaxDelay.Seconds()) {
		fe := autopause.FieldError{Field: "delay_seconds", Value: req.DelaySeconds, Reason: "must be between 0 and 10"}
		return autopause.Config{}, errors.New().Wrap(errors.ErrConfigValidationFailed, fe).WithData(fe)
	}

	cfg := autopause.Config{
		Enabled:          req.Enabled,
		Metric:           metric,
		VoltageThreshold: req.VoltageThreshold,
		CurrentThreshold: req.CurrentThreshold,
		Delay:            time.Duration(req.DelaySeconds * float64(time.Second)),
	}

	return cfg, cfg.Validate()
}

func (s *Server) setAutoPause(w http.ResponseWriter, r *http.Request) {
	var req AutoPauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.New().Wrap(errors.ErrInvalidArgument, err))
		return
	}

	cfg, err := req.config()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.respond(w, s.capture.SetAutoPause(r.Context(), cfg))
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	protocol, measurement, err := s.capture.Records(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, protocol, measurement); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="pdctl.csv"`)
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Error().Err(err).Msg("Failed to write export")
	}
}

// ImportResponse reports the outcome of POST /records/import
type ImportResponse struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

func (s *Server) importCSV(w http.ResponseWriter, r *http.Request) {
	res, err := export.ReadCSV(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.capture.Load(r.Context(), res.Records); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ImportResponse{Imported: res.Imported, Skipped: res.Skipped})
}

func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.capture.Status())
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: string(errors.CodeOf(err))}

	var fe autopause.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
	}

	status := statusFor(errors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("error_code", resp.Code).Msg("Request failed")
	}

	s.writeJSON(w, status, resp)
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalidArgument, errors.ErrConfigValidationFailed, errors.ErrImportFailed:
		return http.StatusBadRequest
	case errors.ErrNothingToExport:
		return http.StatusNotFound
	case errors.ErrNotConnected, errors.ErrInvalidCaptureAction, errors.ErrAlreadyConnected:
		return http.StatusConflict
	case errors.ErrSessionClosed, errors.ErrTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}
