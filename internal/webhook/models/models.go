package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	id "idsync/pkg/domain"
	dErrors "idsync/pkg/domain-errors"
)

// Provider identifies an external identity platform that emits lifecycle webhooks.
type Provider string

const (
	ProviderClerk Provider = "clerk"
	ProviderAuth0 Provider = "auth0"
)

// ParseProvider resolves a route parameter into a known provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderClerk:
		return ProviderClerk, nil
	case ProviderAuth0:
		return ProviderAuth0, nil
	default:
		return "", dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown provider %q", s))
	}
}

func (p Provider) String() string { return string(p) }

// MfaType enumerates the multi-factor methods providers report.
type MfaType string

const (
	MfaNone         MfaType = "none"
	MfaTOTP         MfaType = "totp"
	MfaSMS          MfaType = "sms"
	MfaEmail        MfaType = "email"
	MfaPush         MfaType = "push"
	MfaWebAuthn     MfaType = "webauthn"
	MfaRecoveryCode MfaType = "recovery_code"
)

// ParseMfaType maps a provider-reported method name onto the internal enum.
func ParseMfaType(s string) (MfaType, error) {
	switch MfaType(strings.ToLower(strings.TrimSpace(s))) {
	case MfaNone, MfaTOTP, MfaSMS, MfaEmail, MfaPush, MfaWebAuthn, MfaRecoveryCode:
		return MfaType(strings.ToLower(strings.TrimSpace(s))), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown mfa method %q", s))
	}
}

func (m MfaType) String() string { return string(m) }

// MFAChange describes a reported change to a user's MFA enrollment.
type MFAChange struct {
	Type    MfaType
	Enabled bool
}

// IdentityEvent is the provider-agnostic representation of a lifecycle webhook.
// Normalizers construct it; nothing downstream looks at raw provider payloads.
type IdentityEvent struct {
	Provider   Provider  `validate:"required"`
	Subject    string    `validate:"required,notblank"`
	OccurredAt time.Time `validate:"required"`

	MFAChange           *MFAChange
	EmailVerifiedChange *bool
}

// HasChanges reports whether the event carries any state transition.
// Events without changes are the normalization result of unrecognized provider
// event kinds and are acknowledged without effect.
func (e *IdentityEvent) HasChanges() bool {
	return e.MFAChange != nil || e.EmailVerifiedChange != nil
}

// Fingerprint derives the deterministic event identity used for duplicate
// detection. It is computed from the normalized fields only, so two deliveries
// of the same logical event hash identically regardless of JSON key order,
// whitespace, or envelope metadata - while any semantic difference changes it.
func (e *IdentityEvent) Fingerprint() string {
	var b strings.Builder
	b.WriteString("v1\n")
	b.WriteString(string(e.Provider))
	b.WriteByte('\n')
	b.WriteString(e.Subject)
	b.WriteByte('\n')
	b.WriteString(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	b.WriteByte('\n')
	if e.MFAChange != nil {
		fmt.Fprintf(&b, "mfa:%s:%t", e.MFAChange.Type, e.MFAChange.Enabled)
	} else {
		b.WriteString("mfa:-")
	}
	b.WriteByte('\n')
	if e.EmailVerifiedChange != nil {
		fmt.Fprintf(&b, "email:%t", *e.EmailVerifiedChange)
	} else {
		b.WriteString("email:-")
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// IdentitySnapshot is the slice of a user record this service reads and writes.
// It lives in the external user store; the service never holds it beyond one request.
type IdentitySnapshot struct {
	UserID   id.UserID
	Provider Provider
	Subject  string

	MfaType       MfaType
	MfaEnabledAt  *time.Time
	EmailVerified bool

	LastSyncAt          time.Time
	LastSyncFingerprint string
}

// Apply merges an event into the snapshot and reports whether any identity
// state changed.
//
// Merge policy:
//   - An MFA change wins only when the event is not older than the snapshot's
//     last sync (last-writer-wins by event time, not delivery order). A stale
//     event still gets its sync bookkeeping recorded but cannot downgrade
//     newer state.
//   - Email verification is monotonic: false->true only. Revocation does not
//     travel this path.
//
// LastSyncAt advances to the newest observed event time; the fingerprint of
// the applied event is always recorded.
func (s *IdentitySnapshot) Apply(e *IdentityEvent) bool {
	changed := false

	stale := !s.LastSyncAt.IsZero() && e.OccurredAt.Before(s.LastSyncAt)

	if e.MFAChange != nil && !stale {
		next := e.MFAChange.Type
		if !e.MFAChange.Enabled {
			next = MfaNone
		}
		if s.MfaType != next {
			s.MfaType = next
			changed = true
		}
		if e.MFAChange.Enabled {
			at := e.OccurredAt
			s.MfaEnabledAt = &at
		} else {
			s.MfaEnabledAt = nil
		}
	}

	if e.EmailVerifiedChange != nil && *e.EmailVerifiedChange && !s.EmailVerified {
		s.EmailVerified = true
		changed = true
	}

	if e.OccurredAt.After(s.LastSyncAt) {
		s.LastSyncAt = e.OccurredAt
	}
	s.LastSyncFingerprint = e.Fingerprint()

	return changed
}

// ProcessedEvent is one row of the idempotency ledger. Created on first
// successful application of an event, never updated.
type ProcessedEvent struct {
	Fingerprint string
	UserID      id.UserID
	ProcessedAt time.Time
}

// SyncNotification is the fire-and-forget record that a sync occurred,
// published for downstream consumers.
type SyncNotification struct {
	Provider    Provider  `json:"provider"`
	UserID      id.UserID `json:"-"`
	Fingerprint string    `json:"fingerprint"`
	OccurredAt  time.Time `json:"occurred_at"`
	ProcessedAt time.Time `json:"processed_at"`
}
