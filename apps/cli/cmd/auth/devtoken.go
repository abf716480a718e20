package auth

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xentri-app/xentri-api/platform/go/auth/devtoken"
)

func devTokenCommand() *cobra.Command {
	var (
		params   devtoken.Params
		asHeader bool
	)

	cmd := &cobra.Command{
		Use:     "devtoken",
		Short:   "Mint an unsigned session token",
		Example: "  xentri auth devtoken --user-id user_1 --email dev@example.com --org-id org_acme12345 --header",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := devtoken.BuildUnsignedSessionToken(params, time.Now().UTC())
			if err != nil {
				return err
			}
			if asHeader {
				token = "Authorization: Bearer " + token
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&params.UserID, "user-id", "", "user id (sub)")
	f.StringVar(&params.Email, "email", "", "primary email")
	f.StringVar(&params.Name, "name", "", "display name")
	f.StringVar(&params.OrgID, "org-id", "", "active organization; omit for a session without one")
	f.StringVar(&params.OrgRole, "org-role", "org:admin", "role in the active organization")
	f.StringVar(&params.SessionID, "session-id", "", "session id (sid), defaults to sess_dev")
	f.StringVar(&params.Issuer, "issuer", "", "issuer (iss)")
	f.DurationVar(&params.ExpiresIn, "expires-in", time.Hour, "lifetime, e.g. 30m or 8h")
	f.BoolVar(&asHeader, "header", false, "print a ready-to-paste Authorization header")

	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
