package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// HeaderOrgOverride is the optional request header selecting another organization of the user.
const HeaderOrgOverride = "x-org-id"

var (
	// ErrNoActiveOrg means the session has no organization and no override was sent.
	ErrNoActiveOrg = errors.New("no active organization")
	// ErrInvalidOrgID means the override is not a well-formed organization id.
	ErrInvalidOrgID = errors.New("invalid organization id")
	// ErrNotMember means the user does not belong to the requested organization.
	ErrNotMember = errors.New("not a member of the requested organization")
	// ErrNoSession means the request carries no verified user.
	ErrNoSession = errors.New("verified session is required")
)

var providerOrgID = regexp.MustCompile(`^org_[A-Za-z0-9]{8,}$`)

// ValidOrgID reports whether id is a UUID or an identity-provider organization id (org_...).
func ValidOrgID(id string) bool {
	if providerOrgID.MatchString(id) {
		return true
	}
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// Session holds the claims the resolver trusts: both come from a verified token.
type Session struct {
	UserID  string
	OrgID   string
	OrgRole string
}

// MembershipVerifier confirms a user's membership with an out-of-process source of truth.
type MembershipVerifier interface {
	IsMember(ctx context.Context, userID, orgID string) (bool, error)
}

// MembershipVerifierFunc adapts a function to MembershipVerifier.
type MembershipVerifierFunc func(ctx context.Context, userID, orgID string) (bool, error)

func (f MembershipVerifierFunc) IsMember(ctx context.Context, userID, orgID string) (bool, error) {
	return f(ctx, userID, orgID)
}

// Resolver derives the effective organization of a request.
type Resolver struct {
	verifier MembershipVerifier
}

func NewResolver(verifier MembershipVerifier) *Resolver {
	if verifier == nil {
		panic("tenant resolver requires membership verifier")
	}
	return &Resolver{verifier: verifier}
}

// Resolve picks the session org unless a different, verified override is supplied.
// A verifier failure is returned as an error and never treated as membership.
func (r *Resolver) Resolve(ctx context.Context, session Session, override string) (OrgContext, error) {
	if strings.TrimSpace(session.UserID) == "" {
		return OrgContext{}, ErrNoSession
	}

	sessionOrg := strings.TrimSpace(session.OrgID)
	override = strings.TrimSpace(override)

	if override == "" || override == sessionOrg {
		if sessionOrg == "" {
			return OrgContext{}, ErrNoActiveOrg
		}
		return OrgContext{OrgID: sessionOrg, UserID: session.UserID, Role: session.OrgRole, Source: SourceSession}, nil
	}

	if !ValidOrgID(override) {
		return OrgContext{}, ErrInvalidOrgID
	}

	ok, err := r.verifier.IsMember(ctx, session.UserID, override)
	if err != nil {
		return OrgContext{}, fmt.Errorf("verify membership: %w", err)
	}
	if !ok {
		return OrgContext{}, ErrNotMember
	}

	return OrgContext{OrgID: override, UserID: session.UserID, Source: SourceOverride}, nil
}

// NewRequestScopedVerifier memoizes successful lookups of inner for the lifetime of one request.
// Errors are not cached.
func NewRequestScopedVerifier(inner MembershipVerifier) MembershipVerifier {
	return &requestScopedVerifier{inner: inner, results: make(map[string]bool)}
}

type requestScopedVerifier struct {
	inner   MembershipVerifier
	mu      sync.Mutex
	results map[string]bool
}

func (v *requestScopedVerifier) IsMember(ctx context.Context, userID, orgID string) (bool, error) {
	key := userID + "\x00" + orgID

	v.mu.Lock()
	if ok, found := v.results[key]; found {
		v.mu.Unlock()
		return ok, nil
	}
	v.mu.Unlock()

	ok, err := v.inner.IsMember(ctx, userID, orgID)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	v.results[key] = ok
	v.mu.Unlock()
	return ok, nil
}
