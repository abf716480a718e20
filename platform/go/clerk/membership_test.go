package clerk

import (
	"context"
	"errors"
	"testing"

	clerksdk "github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/user"
	"github.com/stretchr/testify/require"
)

type pagedLister struct {
	orgs  []string
	calls int
	err   error
}

func (p *pagedLister) ListOrganizationMemberships(ctx context.Context, userID string, params *user.ListOrganizationMembershipsParams) (*clerksdk.OrganizationMembershipList, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}

	start := int(*params.Offset)
	end := start + int(*params.Limit)
	if end > len(p.orgs) {
		end = len(p.orgs)
	}

	list := &clerksdk.OrganizationMembershipList{TotalCount: int64(len(p.orgs))}
	for _, id := range p.orgs[start:end] {
		list.OrganizationMemberships = append(list.OrganizationMemberships, &clerksdk.OrganizationMembership{
			Role:         "org:member",
			Organization: &clerksdk.Organization{ID: id},
		})
	}
	return list, nil
}

func TestMembershipClientPaginates(t *testing.T) {
	t.Parallel()

	lister := &pagedLister{orgs: []string{"org_a0000001", "org_b0000001", "org_c0000001"}}
	client := &MembershipClient{users: lister, pageSize: 2}

	ok, err := client.IsMember(context.Background(), "user_1", "org_c0000001")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, lister.calls)

	ok, err = client.IsMember(context.Background(), "user_1", "org_z0000001")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMembershipClientPropagatesErrors(t *testing.T) {
	t.Parallel()

	client := &MembershipClient{users: &pagedLister{err: errors.New("503")}, pageSize: 10}
	ok, err := client.IsMember(context.Background(), "user_1", "org_a0000001")
	require.Error(t, err)
	require.False(t, ok)
}

func TestNewMembershipClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewMembershipClient(Config{})
	require.Error(t, err)

	client, err := NewMembershipClient(Config{SecretKey: "sk_test_123"})
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestMemberRole(t *testing.T) {
	t.Parallel()

	require.Equal(t, "admin", MemberRole("org:admin"))
	require.Equal(t, "member", MemberRole("org:member"))
	require.Equal(t, "member", MemberRole("org:billing_manager"))
	require.Equal(t, "viewer", MemberRole("viewer"))
}
