package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"idsync/internal/webhook/models"
	"idsync/internal/webhook/service"
	"idsync/internal/webhook/store/identity"
	"idsync/internal/webhook/store/ledger"
	id "idsync/pkg/domain"
	dErrors "idsync/pkg/domain-errors"
)

const (
	clerkSecret = "clerk-shared-secret"
	auth0Secret = "auth0-shared-secret"
)

// memoryTxRunner runs the transactional closure against in-memory stores and
// emulates rollback by removing ledger reservations made inside a failed run.
type memoryTxRunner struct {
	identities service.IdentityStore
	ledger     *ledger.InMemoryStore
}

func (r *memoryTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, stores service.TxStores) error) error {
	rec := &recordingLedger{inner: r.ledger}
	err := fn(ctx, service.TxStores{Identities: r.identities, Ledger: rec})
	if err != nil {
		for _, fp := range rec.reserved {
			r.ledger.Delete(fp)
		}
	}
	return err
}

type recordingLedger struct {
	inner    *ledger.InMemoryStore
	reserved []string
}

func (l *recordingLedger) Reserve(ctx context.Context, rec models.ProcessedEvent) (bool, error) {
	ok, err := l.inner.Reserve(ctx, rec)
	if ok {
		l.reserved = append(l.reserved, rec.Fingerprint)
	}
	return ok, err
}

// spyNormalizer counts invocations so tests can prove the secret gate runs
// before any payload parsing.
type spyNormalizer struct {
	provider models.Provider
	calls    int
	event    *models.IdentityEvent
	err      error
}

func (n *spyNormalizer) Provider() models.Provider { return n.provider }

func (n *spyNormalizer) Normalize([]byte) (*models.IdentityEvent, error) {
	n.calls++
	return n.event, n.err
}

// failingIdentityStore lets reads through and fails every write.
type failingIdentityStore struct {
	*identity.InMemoryStore
}

func (s *failingIdentityStore) ApplyUpdate(context.Context, *models.IdentitySnapshot) error {
	return errors.New("connection reset")
}

// capturingNotifier records notifications synchronously.
type capturingNotifier struct {
	sent []models.SyncNotification
}

func (n *capturingNotifier) SyncRecorded(_ context.Context, notification models.SyncNotification) {
	n.sent = append(n.sent, notification)
}

type ServiceSuite struct {
	suite.Suite
	identities *identity.InMemoryStore
	ledger     *ledger.InMemoryStore
	notifier   *capturingNotifier
	svc        *service.Service

	userID id.UserID
}

func (s *ServiceSuite) SetupTest() {
	s.identities = identity.NewInMemory()
	s.ledger = ledger.NewInMemory()
	s.notifier = &capturingNotifier{}
	s.userID = id.NewUserID()
	s.identities.Seed(&models.IdentitySnapshot{
		UserID:   s.userID,
		Provider: models.ProviderClerk,
		Subject:  "user_2abc",
		MfaType:  models.MfaNone,
	})
	s.identities.Seed(&models.IdentitySnapshot{
		UserID:   id.NewUserID(),
		Provider: models.ProviderAuth0,
		Subject:  "auth0|507f1f77",
		MfaType:  models.MfaNone,
	})
	s.svc = s.newService(s.identities)
}

func (s *ServiceSuite) newService(identities service.IdentityStore, opts ...service.Option) *service.Service {
	runner := &memoryTxRunner{identities: identities, ledger: s.ledger}
	base := []service.Option{service.WithNotifier(s.notifier)}
	return service.New(runner, map[models.Provider]string{
		models.ProviderClerk: clerkSecret,
		models.ProviderAuth0: auth0Secret,
	}, append(base, opts...)...)
}

func clerkBody(eventType, userID, method string, at time.Time) []byte {
	body, _ := json.Marshal(map[string]any{
		"type": eventType,
		"data": map[string]any{
			"user_id":     userID,
			"method":      method,
			"occurred_at": at.Format(time.RFC3339Nano),
		},
	})
	return body
}

func (s *ServiceSuite) TestMfaEnrollmentApplied() {
	at := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	res, err := s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret,
		clerkBody("user.mfa_enrolled", "user_2abc", "totp", at))
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, res.Outcome)
	s.NotEmpty(res.Fingerprint)

	snap := s.identities.Get(s.userID)
	s.Equal(models.MfaTOTP, snap.MfaType)
	s.Require().NotNil(snap.MfaEnabledAt)
	s.True(snap.MfaEnabledAt.Equal(at))
	s.Equal(res.Fingerprint, snap.LastSyncFingerprint)
	s.Equal(1, s.ledger.Len())

	s.Require().Len(s.notifier.sent, 1)
	s.Equal(res.Fingerprint, s.notifier.sent[0].Fingerprint)
	s.Equal(s.userID, s.notifier.sent[0].UserID)
}

func (s *ServiceSuite) TestInvalidSecretSkipsNormalization() {
	spy := &spyNormalizer{provider: models.ProviderClerk}
	svc := s.newService(s.identities, service.WithNormalizer(spy))

	res, err := svc.Process(context.Background(), models.ProviderClerk, "wrong-secret",
		clerkBody("user.mfa_enrolled", "user_2abc", "totp", time.Now()))
	s.Require().Error(err)
	s.Nil(res)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Zero(spy.calls)
	s.Equal(0, s.ledger.Len())
}

func (s *ServiceSuite) TestEmptySecretFailsClosed() {
	svc := s.newService(s.identities)
	_, err := svc.Process(context.Background(), models.ProviderClerk, "",
		clerkBody("user.mfa_enrolled", "user_2abc", "totp", time.Now()))
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestReplayedDeliveryAppliesOnce() {
	at := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	body := clerkBody("user.mfa_enrolled", "user_2abc", "totp", at)

	outcomes := make([]service.Outcome, 0, 3)
	for i := 0; i < 3; i++ {
		res, err := s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret, body)
		s.Require().NoError(err)
		outcomes = append(outcomes, res.Outcome)
	}
	s.Equal([]service.Outcome{service.OutcomeApplied, service.OutcomeDuplicate, service.OutcomeDuplicate}, outcomes)
	s.Equal(1, s.ledger.Len())
	s.Len(s.notifier.sent, 1)

	snap := s.identities.Get(s.userID)
	s.Equal(models.MfaTOTP, snap.MfaType)
	s.True(snap.LastSyncAt.Equal(at))
}

func (s *ServiceSuite) TestUnknownSubjectRejectedWithoutLedgerEntry() {
	res, err := s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret,
		clerkBody("user.mfa_enrolled", "user_9missing", "totp", time.Now()))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownSubject))
	s.Nil(res)
	s.Equal(0, s.ledger.Len())
	s.Empty(s.notifier.sent)
}

func (s *ServiceSuite) TestSubjectsAreProviderScoped() {
	// The Auth0 identity shares no subject namespace with Clerk. A Clerk
	// delivery naming an Auth0 subject must not touch it.
	_, err := s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret,
		clerkBody("user.mfa_enrolled", "auth0|507f1f77", "totp", time.Now()))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownSubject))
}

func (s *ServiceSuite) TestUnrecognizedKindIsNoChange() {
	res, err := s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret,
		clerkBody("user.profile_updated", "user_2abc", "", time.Now()))
	s.Require().NoError(err)
	s.Equal(service.OutcomeNoChange, res.Outcome)
	s.Equal(0, s.ledger.Len())
	s.Empty(s.notifier.sent)
}

func (s *ServiceSuite) TestOutOfOrderDeliveryDoesNotDowngrade() {
	t1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	res, err := s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret,
		clerkBody("user.mfa_enrolled", "user_2abc", "webauthn", t2))
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, res.Outcome)

	res, err = s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret,
		clerkBody("user.mfa_disabled", "user_2abc", "webauthn", t1))
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, res.Outcome)

	snap := s.identities.Get(s.userID)
	s.Equal(models.MfaWebAuthn, snap.MfaType, "later enrollment must survive the stale disable")
	s.True(snap.LastSyncAt.Equal(t2))
	s.Equal(2, s.ledger.Len(), "the stale event is still recorded as processed")
}

func (s *ServiceSuite) TestEmailVerificationIsMonotonic() {
	body, _ := json.Marshal(map[string]any{
		"event":          "email.verified",
		"sub":            "auth0|507f1f77",
		"date":           "2026-03-10T09:00:00Z",
		"email_verified": true,
	})
	res, err := s.svc.Process(context.Background(), models.ProviderAuth0, auth0Secret, body)
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, res.Outcome)

	later, _ := json.Marshal(map[string]any{
		"event":          "email.verified",
		"sub":            "auth0|507f1f77",
		"date":           "2026-03-10T10:00:00Z",
		"email_verified": false,
	})
	res, err = s.svc.Process(context.Background(), models.ProviderAuth0, auth0Secret, later)
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, res.Outcome)

	snap, err := s.identities.FindByProviderSubject(context.Background(), models.ProviderAuth0, "auth0|507f1f77")
	s.Require().NoError(err)
	s.True(snap.EmailVerified, "verified state never reverts")
}

func (s *ServiceSuite) TestMalformedPayloadRejected() {
	_, err := s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret, []byte(`{"type":`))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal(0, s.ledger.Len())
}

func (s *ServiceSuite) TestFailedApplyReleasesReservation() {
	failing := &failingIdentityStore{InMemoryStore: s.identities}
	svc := s.newService(failing)
	body := clerkBody("user.mfa_enrolled", "user_2abc", "totp",
		time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC))

	_, err := svc.Process(context.Background(), models.ProviderClerk, clerkSecret, body)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(0, s.ledger.Len(), "rolled-back delivery must not poison the ledger")

	// The provider retries; with the reservation released the retry lands.
	res, err := s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret, body)
	s.Require().NoError(err)
	s.Equal(service.OutcomeApplied, res.Outcome)
}

func (s *ServiceSuite) TestDistinctEventsSameSubjectAllApply() {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, method := range []string{"totp", "sms", "webauthn"} {
		res, err := s.svc.Process(context.Background(), models.ProviderClerk, clerkSecret,
			clerkBody("user.mfa_enrolled", "user_2abc", method, base.Add(time.Duration(i)*time.Minute)))
		s.Require().NoError(err)
		s.Equal(service.OutcomeApplied, res.Outcome, fmt.Sprintf("method %s", method))
	}
	s.Equal(3, s.ledger.Len())
	s.Equal(models.MfaWebAuthn, s.identities.Get(s.userID).MfaType)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func TestUnsupportedProviderRejected(t *testing.T) {
	runner := &memoryTxRunner{identities: identity.NewInMemory(), ledger: ledger.NewInMemory()}
	svc := service.New(runner, map[models.Provider]string{})

	_, err := svc.Process(context.Background(), models.Provider("okta"), "secret", []byte(`{}`))
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}
