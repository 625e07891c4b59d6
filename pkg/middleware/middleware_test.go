package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBotProbe(t *testing.T) {
	probes := []string{
		"/index.php",
		"/wp-login.php",
		"/admin/config.php",
		"/cgi-bin/test.php7",
		"/phpinfo.php/test",
	}
	for _, path := range probes {
		assert.True(t, isBotProbe(path), "path %s", path)
	}

	clean := []string{
		"/",
		"/start-live-activity",
		"/health",
		"/phphelp", // contains "php" but is not a probe path
	}
	for _, path := range clean {
		assert.False(t, isBotProbe(path), "path %s", path)
	}
}

func TestBotFilter_ShortCircuitsBeforeHandler(t *testing.T) {
	called := false
	handler := BotFilter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/index.php", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, called)
}

func TestLogging_RecordsOutcomeOnly(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/start-live-activity", bytes.NewReader([]byte(`{"password":"secret"}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	line := buf.String()
	assert.Contains(t, line, `"method":"POST"`)
	assert.Contains(t, line, `"path":"/start-live-activity"`)
	assert.Contains(t, line, `"status":201`)
	assert.NotContains(t, line, "secret", "request bodies must never be logged")
}

func TestLogging_AttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotEmpty(t, seen)
	assert.Contains(t, buf.String(), seen)
}

func TestGetRequestID_MissingIsEmpty(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}
