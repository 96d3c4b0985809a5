package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"inveni/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &logging.Logger{Logger: zap.New(core)}, logs
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logging.RequestIDKey).(string)
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "abc", seen)
		assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
	})
}

func TestLoggerAndRecover(t *testing.T) {
	logger, logs := observed()

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := Chain(panicking, Recover(logger), Logger(logger), RequestID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL")

	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	fields := completed[0].ContextMap()
	assert.Equal(t, int64(http.StatusInternalServerError), fields["status"])
	assert.Equal(t, "/api/status", fields["path"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestLocalOnly(t *testing.T) {
	h := LocalOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		remote string
		want   int
	}{
		{"ipv4 loopback", "127.0.0.1:5000", http.StatusNoContent},
		{"ipv6 loopback", "[::1]:5000", http.StatusNoContent},
		{"remote", "10.1.2.3:5000", http.StatusForbidden},
		{"garbage", "nowhere", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
