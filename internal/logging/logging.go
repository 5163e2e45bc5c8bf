// Package logging configures the process-wide slog logger and traces
// outbound HTTP calls.
package logging

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs a JSON logger writing to w as the slog default.
func Init(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	slog.Debug("logger initialized", "level", lvl.String())
	return logger
}

func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Transport tags each outbound request with an X-Request-ID header and logs
// its outcome.
type Transport struct {
	Next http.RoundTripper
}

func NewTransport(next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{Next: next}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	requestID := generateRequestID()

	req = req.Clone(req.Context())
	req.Header.Set("X-Request-ID", requestID)

	resp, err := t.Next.RoundTrip(req)

	attrs := []any{
		"request_id", requestID,
		"method", req.Method,
		"url", req.URL.Redacted(),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		slog.Warn("http request failed", append(attrs, "error", err)...)
		return nil, err
	}
	attrs = append(attrs, "status", resp.StatusCode)
	if resp.StatusCode >= 400 {
		slog.Warn("http request error", attrs...)
	} else {
		slog.Debug("http request completed", attrs...)
	}
	return resp, nil
}
