package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadContract(t *testing.T) {
	t.Parallel()

	doc, err := Load()
	require.NoError(t, err)

	for _, path := range []string{
		"/api/v1/events",
		"/api/v1/briefs",
		"/api/v1/briefs/current",
		"/api/v1/briefs/{briefId}",
		"/api/v1/orgs/current",
		"/api/v1/orgs/current/settings",
		"/api/v1/orgs/current/members",
		"/api/v1/webhooks/clerk",
	} {
		require.NotNil(t, doc.Paths.Value(path), path)
	}

	require.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
}

func TestLoadReturnsIndependentDocuments(t *testing.T) {
	t.Parallel()

	first, err := Load()
	require.NoError(t, err)
	first.Servers = nil

	second, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, second.Servers)
}
