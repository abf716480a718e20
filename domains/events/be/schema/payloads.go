package schema

// Payload is implemented by every registered event payload. The set is closed: each
// type below has exactly one JSON Schema under schemas/.
type Payload interface {
	EventType() string
}

const (
	TypeUserSignup         = "user.signup.v1"
	TypeUserCreated        = "user.created.v1"
	TypeOrgCreated         = "org.created.v1"
	TypeOrgProvisioned     = "org.provisioned.v1"
	TypeOrgSettingsUpdated = "org.settings.updated.v1"
	TypeMemberJoined       = "member.joined.v1"
	TypeBriefCreated       = "brief.created.v1"
	TypeBriefUpdated       = "brief.updated.v1"
)

type UserSignup struct {
	Email        string `json:"email"`
	UserID       string `json:"user_id,omitempty"`
	Name         string `json:"name,omitempty"`
	SignupSource string `json:"signup_source,omitempty"`
}

func (UserSignup) EventType() string { return TypeUserSignup }

type UserCreated struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

func (UserCreated) EventType() string { return TypeUserCreated }

type OrgCreated struct {
	OrgID   string `json:"org_id,omitempty"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	OwnerID string `json:"owner_id"`
}

func (OrgCreated) EventType() string { return TypeOrgCreated }

type OrgProvisioned struct {
	OrgID   string `json:"org_id"`
	OwnerID string `json:"owner_id"`
	Plan    string `json:"plan"`
}

func (OrgProvisioned) EventType() string { return TypeOrgProvisioned }

type OrgSettingsUpdated struct {
	ChangedFields []string `json:"changed_fields"`
	Plan          string   `json:"plan,omitempty"`
}

func (OrgSettingsUpdated) EventType() string { return TypeOrgSettingsUpdated }

type MemberJoined struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (MemberJoined) EventType() string { return TypeMemberJoined }

// BriefCreated lists the sections that carried content at creation time.
type BriefCreated struct {
	BriefID           string   `json:"brief_id"`
	SectionsPopulated []string `json:"sections_populated"`
	CompletionStatus  string   `json:"completion_status"`
}

func (BriefCreated) EventType() string { return TypeBriefCreated }

type BriefUpdated struct {
	BriefID          string   `json:"brief_id"`
	SectionsChanged  []string `json:"sections_changed"`
	CompletionStatus string   `json:"completion_status"`
	Version          int      `json:"version"`
}

func (BriefUpdated) EventType() string { return TypeBriefUpdated }
