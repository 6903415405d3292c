package util

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// WithRequestLog emits a structured log for each served HTTP request.
func WithRequestLog(service string, next http.Handler) http.Handler {
	service = normalizeService(service)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		slog.Info(
			"http_request",
			"service", service,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromRequest(r),
		)
	})
}

// LoggingTransport logs every outbound request at debug level, and failures at warn.
type LoggingTransport struct {
	Service string
	Base    http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	start := time.Now()
	resp, err := base.RoundTrip(req)
	logger := LoggerFromContext(req.Context())
	attrs := []any{
		"service", normalizeService(t.Service),
		"method", req.Method,
		"path", req.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", req.Header.Get(RequestIDHeader),
	}
	if err != nil {
		logger.Warn("http_request", append(attrs, "err", err)...)
		return nil, err
	}
	attrs = append(attrs, "status", resp.StatusCode)
	if resp.StatusCode >= http.StatusInternalServerError {
		logger.Warn("http_request", attrs...)
	} else {
		logger.Debug("http_request", attrs...)
	}
	return resp, nil
}

func normalizeService(service string) string {
	service = strings.TrimSpace(service)
	if service == "" {
		return "unknown"
	}
	return service
}
