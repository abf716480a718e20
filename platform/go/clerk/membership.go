// Package clerk looks up organization memberships with the identity provider's Backend API.
package clerk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	clerksdk "github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/user"
)

const defaultPageSize int64 = 100

// Membership is a user's role in one organization.
type Membership struct {
	OrgID   string
	OrgSlug string
	Role    string
}

type membershipLister interface {
	ListOrganizationMemberships(ctx context.Context, userID string, params *user.ListOrganizationMembershipsParams) (*clerksdk.OrganizationMembershipList, error)
}

// MembershipClient answers membership questions for the tenant resolver.
type MembershipClient struct {
	users    membershipLister
	pageSize int64
}

// Config configures the Backend API client.
type Config struct {
	SecretKey  string
	APIURL     string
	HTTPClient *http.Client
}

func NewMembershipClient(cfg Config) (*MembershipClient, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("clerk secret key is required")
	}

	clientCfg := &clerksdk.ClientConfig{}
	clientCfg.Key = clerksdk.String(cfg.SecretKey)
	if cfg.APIURL != "" {
		clientCfg.URL = clerksdk.String(cfg.APIURL)
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &MembershipClient{users: user.NewClient(clientCfg), pageSize: defaultPageSize}, nil
}

// Memberships lists every organization the user belongs to.
func (c *MembershipClient) Memberships(ctx context.Context, userID string) ([]Membership, error) {
	var (
		out    []Membership
		offset int64
	)
	for {
		params := &user.ListOrganizationMembershipsParams{}
		params.Limit = clerksdk.Int64(c.pageSize)
		params.Offset = clerksdk.Int64(offset)

		page, err := c.users.ListOrganizationMemberships(ctx, userID, params)
		if err != nil {
			return nil, fmt.Errorf("list organization memberships: %w", err)
		}
		if page == nil {
			return out, nil
		}

		for _, m := range page.OrganizationMemberships {
			if m == nil || m.Organization == nil {
				continue
			}
			out = append(out, Membership{OrgID: m.Organization.ID, OrgSlug: m.Organization.Slug, Role: m.Role})
		}

		offset += int64(len(page.OrganizationMemberships))
		if len(page.OrganizationMemberships) == 0 || offset >= page.TotalCount {
			return out, nil
		}
	}
}

// IsMember reports whether userID belongs to orgID.
func (c *MembershipClient) IsMember(ctx context.Context, userID, orgID string) (bool, error) {
	memberships, err := c.Memberships(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, m := range memberships {
		if m.OrgID == orgID {
			return true, nil
		}
	}
	return false, nil
}

// MemberRole maps an identity-provider role ("org:admin", "admin", ...) to a member role.
func MemberRole(providerRole string) string {
	role := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(providerRole)), "org:")
	switch role {
	case "owner", "admin", "viewer":
		return role
	default:
		return "member"
	}
}
