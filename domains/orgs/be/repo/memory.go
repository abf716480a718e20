package repo

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xentri-app/xentri-api/domains/orgs/be/service"
	"github.com/xentri-app/xentri-api/platform/go/persistence"
)

// Operation names accepted by MemoryRepository.FailOn.
const (
	OpInsertOrganization = "InsertOrganization"
	OpUpsertUser         = "UpsertUser"
	OpEnsureSettings     = "EnsureSettings"
	OpUpdateSettings     = "UpdateSettings"
	OpUpsertMember       = "UpsertMember"
	OpAppendEvent        = "AppendEvent"
)

type memoryState struct {
	orgs     map[string]persistence.Organization
	settings map[string]persistence.OrgSettings
	members  map[string]map[string]persistence.Member
	users    map[string]persistence.UserRecord
	events   []persistence.EventRecord
}

func (s memoryState) clone() memoryState {
	members := make(map[string]map[string]persistence.Member, len(s.members))
	for orgID, byUser := range s.members {
		members[orgID] = maps.Clone(byUser)
	}
	return memoryState{
		orgs:     maps.Clone(s.orgs),
		settings: maps.Clone(s.settings),
		members:  members,
		users:    maps.Clone(s.users),
		events:   slices.Clone(s.events),
	}
}

type failure struct {
	err       error
	remaining int
}

// MemoryRepository keeps orgs in memory. Each unit of work operates on a copy of the state
// that is only swapped in when fn succeeds, so failed units leave nothing behind.
type MemoryRepository struct {
	mu       sync.Mutex
	state    memoryState
	failures map[string]*failure
	now      func() time.Time
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: memoryState{
			orgs:     map[string]persistence.Organization{},
			settings: map[string]persistence.OrgSettings{},
			members:  map[string]map[string]persistence.Member{},
			users:    map[string]persistence.UserRecord{},
		},
		failures: map[string]*failure{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FailOn makes the next times calls of op return err.
func (r *MemoryRepository) FailOn(op string, err error, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = &failure{err: err, remaining: times}
}

func (r *MemoryRepository) WithOrg(ctx context.Context, orgID string, fn func(tx service.Tx) error) error {
	if orgID == "" {
		return persistence.ErrNoOrgContext
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{repo: r, orgID: orgID, state: r.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *MemoryRepository) UpsertUser(ctx context.Context, userID string, email *string) (persistence.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.injected(OpUpsertUser); err != nil {
		return persistence.UserRecord{}, err
	}
	return upsertUser(r.state.users, userID, email, r.now()), nil
}

// Events returns a copy of every stored event of orgID.
func (r *MemoryRepository) Events(orgID string) []persistence.EventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []persistence.EventRecord
	for _, ev := range r.state.events {
		if ev.OrgID == orgID {
			out = append(out, ev)
		}
	}
	return out
}

// DeleteMember removes a membership directly, bypassing the service.
func (r *MemoryRepository) DeleteMember(orgID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state.members[orgID], userID)
}

// HasOrganization reports whether orgID has a stored organization row.
func (r *MemoryRepository) HasOrganization(orgID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.state.orgs[orgID]
	return ok
}

// HasSettings reports whether orgID has a settings row.
func (r *MemoryRepository) HasSettings(orgID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.state.settings[orgID]
	return ok
}

// injected must be called with mu held.
func (r *MemoryRepository) injected(op string) error {
	f, ok := r.failures[op]
	if !ok || f.remaining <= 0 {
		return nil
	}
	f.remaining--
	return f.err
}

type memoryTx struct {
	repo  *MemoryRepository
	orgID string
	state memoryState
}

// visible mimics row level security: rows of other orgs do not exist for the bound org.
func (t *memoryTx) visible(orgID string) bool {
	return orgID == t.orgID
}

func (t *memoryTx) writable(orgID string) error {
	if !t.visible(orgID) {
		return fmt.Errorf("%w: org %s is not bound", persistence.ErrRowSecurity, orgID)
	}
	return nil
}

func (t *memoryTx) InsertOrganization(_ context.Context, org persistence.Organization) (bool, error) {
	if err := t.repo.injected(OpInsertOrganization); err != nil {
		return false, err
	}
	if err := t.writable(org.ID); err != nil {
		return false, err
	}
	if _, ok := t.state.orgs[org.ID]; ok {
		return false, nil
	}
	for _, existing := range t.state.orgs {
		if existing.Slug == org.Slug {
			return false, persistence.ErrSlugTaken
		}
	}

	now := t.repo.now()
	org.CreatedAt, org.UpdatedAt = now, now
	t.state.orgs[org.ID] = org
	return true, nil
}

func (t *memoryTx) GetOrganization(_ context.Context, orgID string) (persistence.Organization, error) {
	org, ok := t.state.orgs[orgID]
	if !ok || !t.visible(orgID) {
		return persistence.Organization{}, persistence.ErrNotFound
	}
	return org, nil
}

func (t *memoryTx) UpsertUser(_ context.Context, userID string, email *string) (persistence.UserRecord, error) {
	if err := t.repo.injected(OpUpsertUser); err != nil {
		return persistence.UserRecord{}, err
	}
	return upsertUser(t.state.users, userID, email, t.repo.now()), nil
}

func (t *memoryTx) EnsureSettings(_ context.Context, orgID string) (bool, error) {
	if err := t.repo.injected(OpEnsureSettings); err != nil {
		return false, err
	}
	if err := t.writable(orgID); err != nil {
		return false, err
	}
	if _, ok := t.state.settings[orgID]; ok {
		return false, nil
	}
	if _, ok := t.state.orgs[orgID]; !ok {
		return false, fmt.Errorf("insert org settings: organization %s does not exist", orgID)
	}

	now := t.repo.now()
	t.state.settings[orgID] = persistence.OrgSettings{
		OrgID:       orgID,
		Plan:        persistence.DefaultPlan,
		Features:    map[string]any{},
		Preferences: map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return true, nil
}

func (t *memoryTx) GetSettings(_ context.Context, orgID string, _ bool) (persistence.OrgSettings, error) {
	settings, ok := t.state.settings[orgID]
	if !ok || !t.visible(orgID) {
		return persistence.OrgSettings{}, persistence.ErrNotFound
	}
	settings.Features = maps.Clone(settings.Features)
	settings.Preferences = maps.Clone(settings.Preferences)
	return settings, nil
}

func (t *memoryTx) UpdateSettings(_ context.Context, settings persistence.OrgSettings) (persistence.OrgSettings, error) {
	if err := t.repo.injected(OpUpdateSettings); err != nil {
		return persistence.OrgSettings{}, err
	}
	if err := t.writable(settings.OrgID); err != nil {
		return persistence.OrgSettings{}, err
	}
	current, ok := t.state.settings[settings.OrgID]
	if !ok {
		return persistence.OrgSettings{}, persistence.ErrNotFound
	}

	current.Plan = settings.Plan
	current.Features = maps.Clone(settings.Features)
	current.Preferences = maps.Clone(settings.Preferences)
	current.UpdatedAt = t.repo.now()
	t.state.settings[settings.OrgID] = current
	return current, nil
}

func (t *memoryTx) UpsertMember(_ context.Context, orgID, userID, role string) (persistence.Member, error) {
	if err := t.repo.injected(OpUpsertMember); err != nil {
		return persistence.Member{}, err
	}
	if err := t.writable(orgID); err != nil {
		return persistence.Member{}, err
	}

	byUser, ok := t.state.members[orgID]
	if !ok {
		byUser = map[string]persistence.Member{}
		t.state.members[orgID] = byUser
	}

	now := t.repo.now()
	member, exists := byUser[userID]
	if !exists {
		member = persistence.Member{OrgID: orgID, UserID: userID, CreatedAt: now}
	}
	if member.Role != persistence.OwnerRole {
		member.Role = role
	}
	member.UpdatedAt = now
	byUser[userID] = member
	return member, nil
}

func (t *memoryTx) MemberRole(_ context.Context, orgID, userID string) (string, error) {
	member, ok := t.state.members[orgID][userID]
	if !ok || !t.visible(orgID) {
		return "", persistence.ErrNotFound
	}
	return member.Role, nil
}

func (t *memoryTx) ListMembers(_ context.Context, orgID string) ([]persistence.Member, error) {
	if !t.visible(orgID) {
		return []persistence.Member{}, nil
	}

	members := make([]persistence.Member, 0, len(t.state.members[orgID]))
	for _, m := range t.state.members[orgID] {
		if user, ok := t.state.users[m.UserID]; ok {
			m.Email = user.Email
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})
	return members, nil
}

func (t *memoryTx) HasEvent(_ context.Context, orgID, eventType string) (bool, error) {
	if !t.visible(orgID) {
		return false, nil
	}
	return slices.ContainsFunc(t.state.events, func(ev persistence.EventRecord) bool {
		return ev.OrgID == orgID && ev.Type == eventType
	}), nil
}

func (t *memoryTx) AppendEvent(_ context.Context, rec persistence.EventRecord) (persistence.EventRecord, bool, error) {
	if err := t.repo.injected(OpAppendEvent); err != nil {
		return persistence.EventRecord{}, false, err
	}
	if err := t.writable(rec.OrgID); err != nil {
		return persistence.EventRecord{}, false, err
	}

	for _, ev := range t.state.events {
		if ev.OrgID != rec.OrgID {
			continue
		}
		sameKey := rec.DedupeKey != nil && ev.DedupeKey != nil && *ev.DedupeKey == *rec.DedupeKey
		provisioned := rec.Type == persistence.ProvisionedEventType && ev.Type == rec.Type
		if sameKey || provisioned {
			return ev, false, nil
		}
	}

	rec.RecordedAt = t.repo.now()
	t.state.events = append(t.state.events, rec)
	return rec, true, nil
}

func upsertUser(users map[string]persistence.UserRecord, userID string, email *string, now time.Time) persistence.UserRecord {
	user, ok := users[userID]
	if !ok {
		user = persistence.UserRecord{ID: userID, CreatedAt: now}
	}
	if email != nil {
		user.Email = email
	}
	user.UpdatedAt = now
	users[userID] = user
	return user
}

var _ service.Repository = (*MemoryRepository)(nil)
