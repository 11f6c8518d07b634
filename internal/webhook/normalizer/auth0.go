package normalizer

import (
	"encoding/json"
	"time"

	"idsync/internal/webhook/models"
)

// Auth0 sends a flat object, no envelope:
//
//	{"event": "guardian.enrollment.created", "sub": "auth0|abc", "date": "...",
//	 "mfa_type": "sms", "active": true, "email_verified": true}
type auth0Payload struct {
	Event         string `json:"event"`
	Sub           string `json:"sub"`
	Date          string `json:"date"`
	MfaType       string `json:"mfa_type"`
	Active        *bool  `json:"active"`
	EmailVerified *bool  `json:"email_verified"`
}

const (
	auth0EventEnrollmentCreated = "guardian.enrollment.created"
	auth0EventEnrollmentDeleted = "guardian.enrollment.deleted"
	auth0EventEmailVerified     = "email.verified"
)

// Auth0Normalizer parses Auth0's flat webhook shape.
type Auth0Normalizer struct{}

func (n *Auth0Normalizer) Provider() models.Provider { return models.ProviderAuth0 }

func (n *Auth0Normalizer) Normalize(raw []byte) (*models.IdentityEvent, error) {
	if emptyBody(raw) {
		return nil, malformed(nil, "empty webhook body")
	}

	var payload auth0Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, malformed(err, "invalid auth0 webhook JSON")
	}
	if payload.Sub == "" {
		return nil, malformed(nil, "auth0 webhook missing sub")
	}
	if payload.Date == "" {
		return nil, malformed(nil, "auth0 webhook missing date")
	}
	occurredAt, err := time.Parse(time.RFC3339, payload.Date)
	if err != nil {
		return nil, malformed(err, "auth0 webhook carries invalid date")
	}

	event := &models.IdentityEvent{
		Provider:   models.ProviderAuth0,
		Subject:    payload.Sub,
		OccurredAt: occurredAt.UTC(),
	}

	switch payload.Event {
	case auth0EventEnrollmentCreated:
		method, err := models.ParseMfaType(payload.MfaType)
		if err != nil {
			return nil, malformed(err, "auth0 webhook carries unknown mfa type")
		}
		enabled := payload.Active == nil || *payload.Active
		event.MFAChange = &models.MFAChange{Type: method, Enabled: enabled}
	case auth0EventEnrollmentDeleted:
		event.MFAChange = &models.MFAChange{Type: models.MfaNone, Enabled: false}
	case auth0EventEmailVerified:
		verified := payload.EmailVerified == nil || *payload.EmailVerified
		event.EmailVerifiedChange = &verified
	default:
		// Unknown kinds normalize to a no-change event.
	}

	return event, nil
}
