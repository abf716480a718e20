// Package requesttrace records who started the current unit of work and under which trace id,
// so that events appended deep inside services can be attributed without threading arguments.
package requesttrace

import (
	"context"
	"errors"

	"go.uber.org/zap"

	platformauth "github.com/xentri-app/xentri-api/platform/go/auth"
)

// ActorKind is the event envelope's actor.type.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindSystem    ActorKind = "system"
	ActorKindJob       ActorKind = "job"
	ActorKindAnonymous ActorKind = "anonymous"
)

// Origin describes the initiator of a request, webhook delivery or CLI job.
//
// ActorID is the user id for users and a component name for system and job origins.
// SessionOrgID is the organization carried by the session token. It is not the
// resolved tenant; handlers read that from tenant.FromContext.
type Origin struct {
	Kind         ActorKind
	ActorID      string
	SessionOrgID string
	SessionID    string
	RequestID    string
}

type originKey struct{}

// With attaches o to ctx.
func With(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// From returns the Origin stored on ctx.
func From(ctx context.Context) (Origin, bool) {
	if ctx == nil {
		return Origin{}, false
	}
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}

// TraceID returns the request id of the current origin, or nil when there is none.
// Services copy it into the event envelope's trace_id.
func TraceID(ctx context.Context) *string {
	o, ok := From(ctx)
	if !ok || o.RequestID == "" {
		return nil
	}
	id := o.RequestID
	return &id
}

// ForUser builds the Origin of an authenticated API call.
func ForUser(creds *platformauth.UserCredentials, requestID string) (Origin, error) {
	if creds == nil || creds.Id == "" {
		return Origin{}, errors.New("requesttrace: authenticated user id is required")
	}
	o := Origin{Kind: ActorKindUser, ActorID: creds.Id, RequestID: requestID}
	if creds.OrgID != nil {
		o.SessionOrgID = *creds.OrgID
	}
	if creds.SessionID != nil {
		o.SessionID = *creds.SessionID
	}
	return o, nil
}

func Anonymous(requestID string) Origin {
	return Origin{Kind: ActorKindAnonymous, RequestID: requestID}
}

// System is used for work the platform starts on its own behalf, such as identity webhooks.
func System(component, requestID string) Origin {
	return Origin{Kind: ActorKindSystem, ActorID: component, RequestID: requestID}
}

// Job is used for operator commands run from the CLI.
func Job(name, runID string) Origin {
	return Origin{Kind: ActorKindJob, ActorID: name, RequestID: runID}
}

// LogFields renders the origin for request loggers. Empty values are omitted.
func (o Origin) LogFields() []zap.Field {
	fields := []zap.Field{zap.String("actor_kind", string(o.Kind))}
	if o.ActorID != "" {
		fields = append(fields, zap.String("actor_id", o.ActorID))
	}
	if o.SessionOrgID != "" {
		fields = append(fields, zap.String("session_org_id", o.SessionOrgID))
	}
	if o.SessionID != "" {
		fields = append(fields, zap.String("session_id", o.SessionID))
	}
	return fields
}
