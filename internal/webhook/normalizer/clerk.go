package normalizer

import (
	"encoding/json"
	"time"

	"idsync/internal/webhook/models"
)

// Clerk wraps every webhook in an event envelope:
//
//	{"type": "user.mfa_enrolled", "data": {...}, "timestamp": 1760000000}
//
// The data object carries user_id, the MFA method, and an RFC3339 occurred_at.
type clerkEnvelope struct {
	Type      string    `json:"type"`
	Data      clerkData `json:"data"`
	Timestamp int64     `json:"timestamp"`
}

type clerkData struct {
	UserID     string `json:"user_id"`
	Method     string `json:"method"`
	OccurredAt string `json:"occurred_at"`
}

const (
	clerkEventMfaEnrolled   = "user.mfa_enrolled"
	clerkEventMfaDisabled   = "user.mfa_disabled"
	clerkEventEmailVerified = "user.email_verified"
)

// ClerkNormalizer parses Clerk's enveloped webhook shape.
type ClerkNormalizer struct{}

func (n *ClerkNormalizer) Provider() models.Provider { return models.ProviderClerk }

func (n *ClerkNormalizer) Normalize(raw []byte) (*models.IdentityEvent, error) {
	if emptyBody(raw) {
		return nil, malformed(nil, "empty webhook body")
	}

	var env clerkEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed(err, "invalid clerk webhook JSON")
	}
	if env.Data.UserID == "" {
		return nil, malformed(nil, "clerk webhook missing data.user_id")
	}

	occurredAt, err := clerkOccurredAt(env)
	if err != nil {
		return nil, err
	}

	event := &models.IdentityEvent{
		Provider:   models.ProviderClerk,
		Subject:    env.Data.UserID,
		OccurredAt: occurredAt,
	}

	switch env.Type {
	case clerkEventMfaEnrolled:
		method, err := models.ParseMfaType(env.Data.Method)
		if err != nil {
			return nil, malformed(err, "clerk webhook carries unknown mfa method")
		}
		event.MFAChange = &models.MFAChange{Type: method, Enabled: true}
	case clerkEventMfaDisabled:
		event.MFAChange = &models.MFAChange{Type: models.MfaNone, Enabled: false}
	case clerkEventEmailVerified:
		verified := true
		event.EmailVerifiedChange = &verified
	default:
		// Unknown event kinds are acknowledged without effect so Clerk can add
		// kinds without breaking the integration.
	}

	return event, nil
}

func clerkOccurredAt(env clerkEnvelope) (time.Time, error) {
	if env.Data.OccurredAt != "" {
		at, err := time.Parse(time.RFC3339, env.Data.OccurredAt)
		if err != nil {
			return time.Time{}, malformed(err, "clerk webhook carries invalid occurred_at")
		}
		return at.UTC(), nil
	}
	// Older clerk envelopes only carry the envelope-level unix timestamp.
	if env.Timestamp > 0 {
		return time.Unix(env.Timestamp, 0).UTC(), nil
	}
	return time.Time{}, malformed(nil, "clerk webhook missing event timestamp")
}
