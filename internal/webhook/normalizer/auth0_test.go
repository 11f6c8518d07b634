package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"idsync/internal/webhook/models"
	dErrors "idsync/pkg/domain-errors"
)

type Auth0NormalizerSuite struct {
	suite.Suite
	n *Auth0Normalizer
}

func (s *Auth0NormalizerSuite) SetupTest() {
	s.n = &Auth0Normalizer{}
}

func (s *Auth0NormalizerSuite) TestEnrollmentCreated() {
	raw := []byte(`{"event":"guardian.enrollment.created","sub":"auth0|63f8","date":"2026-03-14T09:26:53Z","mfa_type":"sms","active":true}`)

	event, err := s.n.Normalize(raw)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), models.ProviderAuth0, event.Provider)
	assert.Equal(s.T(), "auth0|63f8", event.Subject)
	assert.Equal(s.T(), time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC), event.OccurredAt)
	require.NotNil(s.T(), event.MFAChange)
	assert.Equal(s.T(), models.MfaSMS, event.MFAChange.Type)
	assert.True(s.T(), event.MFAChange.Enabled)
}

func (s *Auth0NormalizerSuite) TestEnrollmentDeleted() {
	raw := []byte(`{"event":"guardian.enrollment.deleted","sub":"auth0|63f8","date":"2026-03-14T09:26:53Z"}`)

	event, err := s.n.Normalize(raw)
	require.NoError(s.T(), err)

	require.NotNil(s.T(), event.MFAChange)
	assert.False(s.T(), event.MFAChange.Enabled)
}

func (s *Auth0NormalizerSuite) TestEmailVerified() {
	raw := []byte(`{"event":"email.verified","sub":"auth0|63f8","date":"2026-03-14T09:26:53Z","email_verified":true}`)

	event, err := s.n.Normalize(raw)
	require.NoError(s.T(), err)

	require.NotNil(s.T(), event.EmailVerifiedChange)
	assert.True(s.T(), *event.EmailVerifiedChange)
}

func (s *Auth0NormalizerSuite) TestUnrecognizedKindIsNoChange() {
	raw := []byte(`{"event":"user.blocked","sub":"auth0|63f8","date":"2026-03-14T09:26:53Z"}`)

	event, err := s.n.Normalize(raw)
	require.NoError(s.T(), err)
	assert.False(s.T(), event.HasChanges())
}

func (s *Auth0NormalizerSuite) TestFingerprintStableAcrossEncodings() {
	compact := []byte(`{"event":"email.verified","sub":"auth0|63f8","date":"2026-03-14T09:26:53Z","email_verified":true}`)
	noisy := []byte(`{
		"email_verified": true,
		"date": "2026-03-14T09:26:53Z",
		"connection": "Username-Password-Authentication",
		"sub": "auth0|63f8",
		"event": "email.verified"
	}`)

	a, err := s.n.Normalize(compact)
	require.NoError(s.T(), err)
	b, err := s.n.Normalize(noisy)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), a.Fingerprint(), b.Fingerprint())
}

func (s *Auth0NormalizerSuite) TestCrossProviderFingerprintsDiffer() {
	// The same logical facts reported by different providers are different
	// events; deduplication never spans providers.
	clerkEvent, err := (&ClerkNormalizer{}).Normalize(
		[]byte(`{"type":"user.email_verified","data":{"user_id":"shared-subject","occurred_at":"2026-03-14T09:26:53Z"}}`))
	require.NoError(s.T(), err)
	auth0Event, err := s.n.Normalize(
		[]byte(`{"event":"email.verified","sub":"shared-subject","date":"2026-03-14T09:26:53Z"}`))
	require.NoError(s.T(), err)

	assert.NotEqual(s.T(), clerkEvent.Fingerprint(), auth0Event.Fingerprint())
}

func (s *Auth0NormalizerSuite) TestMalformedPayloads() {
	cases := map[string][]byte{
		"empty body":       []byte(``),
		"invalid JSON":     []byte(`not json`),
		"missing sub":      []byte(`{"event":"email.verified","date":"2026-03-14T09:26:53Z"}`),
		"missing date":     []byte(`{"event":"email.verified","sub":"auth0|63f8"}`),
		"invalid date":     []byte(`{"event":"email.verified","sub":"auth0|63f8","date":"14/03/2026"}`),
		"unknown mfa type": []byte(`{"event":"guardian.enrollment.created","sub":"auth0|63f8","date":"2026-03-14T09:26:53Z","mfa_type":"telegraph"}`),
	}

	for name, raw := range cases {
		s.T().Run(name, func(t *testing.T) {
			_, err := s.n.Normalize(raw)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "want validation error, got %v", err)
		})
	}
}

func TestAuth0NormalizerSuite(t *testing.T) {
	suite.Run(t, new(Auth0NormalizerSuite))
}
