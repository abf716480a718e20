package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/xentri-app/xentri-api/platform/go/auth"
	platformlogging "github.com/xentri-app/xentri-api/platform/go/logging"
	"github.com/xentri-app/xentri-api/platform/go/problems"
	"github.com/xentri-app/xentri-api/platform/go/requesttrace"
)

// RequestTrace stamps the request with its requesttrace.Origin and adds the actor to the request logger.
// Mount it after platformauth.JWT; requests without credentials are traced as anonymous.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := chimw.GetReqID(r.Context())

		origin := requesttrace.Anonymous(requestID)
		if creds, ok := platformauth.UserFromContext(r.Context()); ok && creds != nil {
			var err error
			if origin, err = requesttrace.ForUser(creds, requestID); err != nil {
				platformlogging.FromContextOr(r.Context(), nil).Warn("session without user id", zap.Error(err))
				problems.Write(w, r, problems.Unauthorized("invalid session"))
				return
			}
		}

		ctx := requesttrace.With(r.Context(), origin)
		ctx = platformlogging.Enrich(ctx, origin.LogFields()...)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
