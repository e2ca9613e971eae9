package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"congregation-admin-go/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "json", "info")
	logger.Debug("hidden")
	logger.Info("user moved to recycle bin", "user_id", "u1")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	assert.NotContains(t, line, "hidden")

	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &obj))
	assert.Equal(t, "user moved to recycle bin", obj["msg"])
	assert.Equal(t, "u1", obj["user_id"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "text", "debug").Info("sweep finished", "purged", 3)
	assert.Contains(t, buf.String(), "purged=3")
}

func TestSetupLogger_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { SetupLogger("json", "debug") })
	SetupLogger("text", "error")
}

func TestCountAuditEntry(t *testing.T) {
	c := AuditEntriesTotal.WithLabelValues(models.ActionSoftDelete)
	before := testutil.ToFloat64(c)

	CountAuditEntry(context.Background(), models.AuditLogEntry{Action: models.ActionSoftDelete})
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestObserveSweep(t *testing.T) {
	okBefore := testutil.ToFloat64(BinSweepRunsTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(BinSweepRunsTotal.WithLabelValues("error"))
	purgedBefore := testutil.ToFloat64(BinItemsPurgedTotal)

	ObserveSweep(2, time.Millisecond, nil)
	ObserveSweep(1, time.Millisecond, errors.New("db down"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(BinSweepRunsTotal.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(BinSweepRunsTotal.WithLabelValues("error")))
	assert.Equal(t, purgedBefore+3, testutil.ToFloat64(BinItemsPurgedTotal))
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	c := HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/items/{id}", "418")
	before := testutil.ToFloat64(c)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/43", nil))

	assert.Equal(t, before+2, testutil.ToFloat64(c))
	assert.Zero(t, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/items/42", "418")))
}
