package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xentri-app/xentri-api/contracts"
	platformauth "github.com/xentri-app/xentri-api/platform/go/auth"
	"github.com/xentri-app/xentri-api/platform/go/problems"
)

func newValidatedHandler(t *testing.T) http.Handler {
	t.Helper()

	doc, err := contracts.Load()
	require.NoError(t, err)

	return OpenAPIValidator(doc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func authenticated(r *http.Request) *http.Request {
	return r.WithContext(platformauth.WithUser(r.Context(), &platformauth.UserCredentials{Id: "user_1"}))
}

func TestOpenAPIValidator(t *testing.T) {
	t.Parallel()

	handler := newValidatedHandler(t)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantType   string
	}{
		{
			name:       "valid list request",
			req:        authenticated(httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=10", nil)),
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "limit above cap",
			req:        authenticated(httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=500", nil)),
			wantStatus: http.StatusBadRequest,
			wantType:   problems.TypeBadRequest,
		},
		{
			name:       "non numeric limit",
			req:        authenticated(httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=ten", nil)),
			wantStatus: http.StatusBadRequest,
			wantType:   problems.TypeBadRequest,
		},
		{
			name:       "missing credentials",
			req:        httptest.NewRequest(http.MethodGet, "/api/v1/events", nil),
			wantStatus: http.StatusUnauthorized,
			wantType:   problems.TypeUnauthorized,
		},
		{
			name:       "unknown route",
			req:        authenticated(httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)),
			wantStatus: http.StatusNotFound,
			wantType:   problems.TypeNotFound,
		},
		{
			name:       "preflight bypasses validation",
			req:        httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil),
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tc.req)

			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			if tc.wantType == "" {
				return
			}
			require.Equal(t, problems.ContentType, rec.Header().Get("Content-Type"))

			var body problems.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.wantType, body.Type)
		})
	}
}
