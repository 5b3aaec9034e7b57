// Package httpapi exposes the optimizer queries over HTTP.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aboutPJS/price-api/internal/optimizer"
	"github.com/aboutPJS/price-api/internal/pricing"
	"github.com/aboutPJS/price-api/internal/service"
)

const defaultPriceHours = 48

// QueryService is the part of the service the API needs.
type QueryService interface {
	GetCheapestHour(ctx context.Context, within time.Duration) (pricing.PriceRecord, error)
	GetCheapestSequenceStart(ctx context.Context, duration int, within time.Duration) (optimizer.Sequence, error)
	GetHealth(ctx context.Context) service.HealthReport
	Upcoming(ctx context.Context, hours int) ([]pricing.PriceRecord, error)
	Now() time.Time
}

// Limits bound the query parameters.
type Limits struct {
	MaxWithinHours int
	MaxDuration    int
}

// Server holds the HTTP handlers.
type Server struct {
	svc    QueryService
	hub    *Hub
	limits Limits
	loc    *time.Location
	logger zerolog.Logger
}

// NewServer builds the API. hub may be nil, which disables the stream.
func NewServer(svc QueryService, hub *Hub, limits Limits, loc *time.Location, logger zerolog.Logger) *Server {
	if limits.MaxWithinHours <= 0 {
		limits.MaxWithinHours = 168
	}
	if limits.MaxDuration <= 0 {
		limits.MaxDuration = 24
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		svc:    svc,
		hub:    hub,
		limits: limits,
		loc:    loc,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/cheapest-hour", s.handleCheapestHour)
	mux.HandleFunc("GET /api/v1/cheapest-sequence-start", s.handleCheapestSequence)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/prices", s.handlePrices)
	if s.hub != nil {
		mux.HandleFunc("GET /api/v1/stream", s.hub.serveWS)
	}
	return s.logRequests(mux)
}

type optimalTimeResponse struct {
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	TimeUntil    any             `json:"time_until"`
	Duration     int             `json:"duration"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Tier         pricing.Tier    `json:"tier,omitempty"`
	Hours        []priceResponse `json:"hours,omitempty"`
}

type priceResponse struct {
	StartTime       time.Time       `json:"start_time"`
	SpotPrice       decimal.Decimal `json:"spot_price"`
	TransportAndTax decimal.Decimal `json:"transport_and_tax"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	WindowMedian    decimal.Decimal `json:"window_median"`
	Tier            pricing.Tier    `json:"tier"`
}

type healthResponse struct {
	Status         string     `json:"status"`
	Healthy        bool       `json:"healthy"`
	LastFetch      *time.Time `json:"last_fetch"`
	DataAge        string     `json:"data_age"`
	DataAgeSeconds int64      `json:"data_age_seconds"`
	StoreReachable bool       `json:"store_reachable"`
	StoreError     string     `json:"store_error,omitempty"`
	FutureHours    int        `json:"future_hours"`
	CoveredUntil   *time.Time `json:"covered_until"`
	CheckedAt      time.Time  `json:"checked_at"`
}

func (s *Server) handleCheapestHour(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	within, err := s.withinParam(q.Get("within_hours"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	format, err := formatParam(q.Get("format"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	rec, err := s.svc.GetCheapestHour(r.Context(), time.Duration(within)*time.Hour)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, optimalTimeResponse{
		StartTime:    rec.Timestamp.In(s.loc),
		EndTime:      rec.End().In(s.loc),
		TimeUntil:    TimeUntil(rec.Timestamp, s.svc.Now(), format),
		Duration:     1,
		TotalPrice:   rec.TotalPrice,
		AveragePrice: rec.TotalPrice,
		Tier:         rec.Tier,
	})
}

func (s *Server) handleCheapestSequence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("duration")
	if raw == "" {
		s.writeError(w, fmt.Errorf("%w: duration is required", pricing.ErrInvalidParameter))
		return
	}
	duration, err := intParam("duration", raw, 1, s.limits.MaxDuration)
	if err != nil {
		s.writeError(w, err)
		return
	}
	within, err := s.withinParam(q.Get("within_hours"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if within > 0 && duration > within {
		s.writeError(w, fmt.Errorf("%w: duration cannot be longer than the look ahead window", pricing.ErrInvalidParameter))
		return
	}
	format, err := formatParam(q.Get("format"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	seq, err := s.svc.GetCheapestSequenceStart(r.Context(), duration, time.Duration(within)*time.Hour)
	if err != nil {
		s.writeError(w, err)
		return
	}

	hours := make([]priceResponse, len(seq.Hours))
	for i, rec := range seq.Hours {
		hours[i] = s.toPriceResponse(rec)
	}
	writeJSON(w, http.StatusOK, optimalTimeResponse{
		StartTime:    seq.Start.In(s.loc),
		EndTime:      seq.End().In(s.loc),
		TimeUntil:    TimeUntil(seq.Start, s.svc.Now(), format),
		Duration:     duration,
		TotalPrice:   seq.Total,
		AveragePrice: seq.Average().Round(4),
		Hours:        hours,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.svc.GetHealth(r.Context())

	resp := healthResponse{
		Status:         string(report.Status),
		Healthy:        report.Status.Healthy() && report.StoreReachable,
		LastFetch:      report.LastFetch,
		DataAge:        report.DataAge.Round(time.Second).String(),
		DataAgeSeconds: int64(report.DataAge / time.Second),
		StoreReachable: report.StoreReachable,
		StoreError:     report.StoreError,
		FutureHours:    report.FutureHours,
		CoveredUntil:   report.CoveredUntil,
		CheckedAt:      report.CheckedAt,
	}
	status := http.StatusOK
	if !report.StoreReachable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	hours := defaultPriceHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		v, err := intParam("hours", raw, 1, s.limits.MaxWithinHours)
		if err != nil {
			s.writeError(w, err)
			return
		}
		hours = v
	}

	records, err := s.svc.Upcoming(r.Context(), hours)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]priceResponse, len(records))
	for i, rec := range records {
		out[i] = s.toPriceResponse(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": out})
}

func (s *Server) toPriceResponse(rec pricing.PriceRecord) priceResponse {
	return priceResponse{
		StartTime:       rec.Timestamp.In(s.loc),
		SpotPrice:       rec.SpotPrice,
		TransportAndTax: rec.TransportAndTax,
		TotalPrice:      rec.TotalPrice,
		WindowMedian:    rec.WindowMedian,
		Tier:            rec.Tier,
	}
}

// withinParam returns 0 when the parameter is absent.
func (s *Server) withinParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return intParam("within_hours", raw, 1, s.limits.MaxWithinHours)
}

func intParam(name, raw string, min, max int) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", pricing.ErrInvalidParameter, name, raw)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%w: %s must be between %d and %d, got %d", pricing.ErrInvalidParameter, name, min, max, v)
	}
	return v, nil
}

func formatParam(raw string) (string, error) {
	switch raw {
	case "", FormatHours:
		return FormatHours, nil
	case FormatMinutes:
		return FormatMinutes, nil
	default:
		return "", fmt.Errorf("%w: format must be %q or %q", pricing.ErrInvalidParameter, FormatHours, FormatMinutes)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, pricing.ErrInvalidParameter):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, pricing.ErrNoData), errors.Is(err, pricing.ErrNoSequenceFound):
		status, msg = http.StatusNotFound, err.Error()
	default:
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("query", r.URL.RawQuery).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}
