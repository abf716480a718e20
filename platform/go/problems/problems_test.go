package problems

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
)

func TestWriteFillsTraceAndInstance(t *testing.T) {
	t.Parallel()

	var rec *httptest.ResponseRecorder
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Write(w, r, Validation("payload is invalid", map[string][]string{"email": {"is required"}}))
	}))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
	req.Header.Set(middleware.RequestIDHeader, "trace-123")
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	require.Equal(t, "trace-123", rec.Header().Get("X-Trace-Id"))

	var body Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, TypeValidation, body.Type)
	require.Equal(t, "trace-123", body.TraceID)
	require.Equal(t, "/api/v1/events", body.Instance)
	require.Equal(t, []string{"is required"}, body.Errors["email"])
}

func TestInternalIsRetryable(t *testing.T) {
	t.Parallel()

	p := Internal("")
	require.True(t, p.Retryable)
	require.Contains(t, p.Detail, RetryHint)
	require.Equal(t, http.StatusInternalServerError, p.Status)
}
