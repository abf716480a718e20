package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	platformauth "github.com/xentri-app/xentri-api/platform/go/auth"
	"github.com/xentri-app/xentri-api/platform/go/problems"
)

// requestAwareWriter lets the validator's error handler, which only receives the writer,
// recover the request to stamp the trace id.
type requestAwareWriter struct {
	http.ResponseWriter
	req *http.Request
}

// OpenAPIValidator validates requests against doc and renders failures as problem details.
// Servers are cleared so routes match on the request path alone.
func OpenAPIValidator(doc *openapi3.T) func(http.Handler) http.Handler {
	if doc == nil {
		panic("openapi validator: document is required")
	}
	doc.Servers = nil

	validator := oapimiddleware.OapiRequestValidatorWithOptions(doc, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: ValidateBearerAuthentication,
			MultiError:         false,
		},
		ErrorHandler: writeValidationProblem,
	})

	return func(next http.Handler) http.Handler {
		validated := validator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if aw, ok := w.(*requestAwareWriter); ok {
				w = aw.ResponseWriter
			}
			next.ServeHTTP(w, r)
		}))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			validated.ServeHTTP(&requestAwareWriter{ResponseWriter: w, req: r}, r)
		})
	}
}

// ValidateBearerAuthentication accepts operations secured by bearerAuth only when the
// auth middleware already attached verified credentials.
func ValidateBearerAuthentication(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
	if input == nil || input.SecuritySchemeName != "bearerAuth" {
		return nil
	}
	r := input.RequestValidationInput.Request
	if r == nil {
		return errors.New("no request in validation input")
	}
	if creds, ok := platformauth.UserFromContext(r.Context()); !ok || creds == nil || creds.Id == "" {
		return errors.New("a valid session is required")
	}
	return nil
}

func writeValidationProblem(w http.ResponseWriter, message string, statusCode int) {
	var r *http.Request
	if aw, ok := w.(*requestAwareWriter); ok {
		r = aw.req
		w = aw.ResponseWriter
	}

	var p problems.Problem
	switch statusCode {
	case http.StatusUnauthorized:
		p = problems.Unauthorized(message)
	case http.StatusForbidden:
		p = problems.Forbidden(message)
	case http.StatusNotFound:
		p = problems.NotFound(message)
	case http.StatusMethodNotAllowed:
		p = problems.BadRequest(message)
		p.Status = http.StatusMethodNotAllowed
	default:
		p = problems.BadRequest(message)
	}
	problems.Write(w, r, p)
}
