package handler

import (
	"encoding/json"
	"strings"
)

// Identity provider event types handled by the receiver.
const (
	eventOrganizationCreated = "organization.created"
	eventUserCreated         = "user.created"
	eventMembershipCreated   = "organizationMembership.created"
	eventSessionCreated      = "session.created"
)

type envelope struct {
	Type   string          `json:"type"`
	Object string          `json:"object"`
	Data   json.RawMessage `json:"data"`
}

type organizationData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedBy string `json:"created_by"`
}

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type userData struct {
	ID                    string         `json:"id"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
}

// primaryEmail prefers the flagged primary address and falls back to the first one.
func (u userData) primaryEmail() *string {
	for _, addr := range u.EmailAddresses {
		if addr.ID == u.PrimaryEmailAddressID && strings.TrimSpace(addr.EmailAddress) != "" {
			email := addr.EmailAddress
			return &email
		}
	}
	for _, addr := range u.EmailAddresses {
		if strings.TrimSpace(addr.EmailAddress) != "" {
			email := addr.EmailAddress
			return &email
		}
	}
	return nil
}

type membershipData struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	Organization struct {
		ID string `json:"id"`
	} `json:"organization"`
	PublicUserData struct {
		UserID     string `json:"user_id"`
		Identifier string `json:"identifier"`
	} `json:"public_user_data"`
}

func (m membershipData) email() *string {
	identifier := strings.TrimSpace(m.PublicUserData.Identifier)
	if !strings.Contains(identifier, "@") {
		return nil
	}
	return &identifier
}

type sessionData struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

type ackResponse struct {
	Received           bool `json:"received"`
	Ignored            bool `json:"ignored,omitempty"`
	AlreadyProvisioned bool `json:"already_provisioned,omitempty"`
}
