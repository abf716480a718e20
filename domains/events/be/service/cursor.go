package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xentri-app/xentri-api/platform/go/persistence"
)

type cursorToken struct {
	OccurredAt string `json:"t"`
	ID         string `json:"id"`
}

// EncodeCursor renders the keyset position of the last returned event as an opaque token.
func EncodeCursor(c persistence.EventCursor) string {
	raw, _ := json.Marshal(cursorToken{
		OccurredAt: c.OccurredAt.UTC().Format(time.RFC3339Nano),
		ID:         c.ID.String(),
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(token string) (persistence.EventCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return persistence.EventCursor{}, fmt.Errorf("%w: cursor is not valid base64url", ErrInvalidQuery)
	}

	var decoded cursorToken
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return persistence.EventCursor{}, fmt.Errorf("%w: cursor is malformed", ErrInvalidQuery)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, decoded.OccurredAt)
	if err != nil {
		return persistence.EventCursor{}, fmt.Errorf("%w: cursor timestamp is malformed", ErrInvalidQuery)
	}
	id, err := uuid.Parse(decoded.ID)
	if err != nil {
		return persistence.EventCursor{}, fmt.Errorf("%w: cursor id is malformed", ErrInvalidQuery)
	}

	return persistence.EventCursor{OccurredAt: occurredAt, ID: id}, nil
}
