package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"idsync/internal/webhook/metrics"
	"idsync/internal/webhook/models"
	"idsync/internal/webhook/normalizer"
	"idsync/internal/webhook/notify"
)

// IdentityStore defines the persistence interface for identity snapshots.
// Error Contract: FindByProviderSubject returns sentinel.ErrNotFound (wrapped)
// when no identity exists for the provider-scoped subject.
type IdentityStore interface {
	FindByProviderSubject(ctx context.Context, provider models.Provider, subject string) (*models.IdentitySnapshot, error)
	ApplyUpdate(ctx context.Context, snap *models.IdentitySnapshot) error
}

// Ledger defines the idempotency ledger interface. Reserve returns true
// exactly once per fingerprint, atomically across concurrent callers and
// process instances.
type Ledger interface {
	Reserve(ctx context.Context, rec models.ProcessedEvent) (bool, error)
}

// TxStores bundles the stores visible inside one transaction.
type TxStores struct {
	Identities IdentityStore
	Ledger     Ledger
}

// TxRunner provides a transactional boundary spanning the idempotency
// reservation and the snapshot mutation. If fn returns an error both are
// rolled back together, so a failed apply never leaves a reservation behind
// to swallow the provider's retry.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores TxStores) error) error
}

// Outcome classifies how an inbound webhook was handled.
type Outcome string

const (
	// OutcomeApplied means the event mutated identity state.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event was already processed; acknowledged
	// without effect so the provider stops retrying.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeNoChange means the provider event kind is not recognized;
	// acknowledged without effect and without a ledger entry.
	OutcomeNoChange Outcome = "no_change"
)

// Result reports the handled outcome of one webhook delivery.
type Result struct {
	Outcome     Outcome
	Provider    models.Provider
	Fingerprint string
}

// Service orchestrates webhook processing: verify, normalize, reserve, apply.
// It holds no cross-call state; every delivery is handled independently.
type Service struct {
	secrets     map[models.Provider]string
	normalizers map[models.Provider]normalizer.Normalizer
	tx          TxRunner

	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier notify.Notifier
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithNormalizer registers or replaces the normalizer for its provider.
// Tests use this to observe normalizer invocations.
func WithNormalizer(n normalizer.Normalizer) Option {
	return func(s *Service) {
		s.normalizers[n.Provider()] = n
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a webhook Service. Both built-in provider normalizers are
// registered; secrets maps each provider to its configured shared secret.
func New(tx TxRunner, secrets map[models.Provider]string, opts ...Option) *Service {
	s := &Service{
		secrets: secrets,
		normalizers: map[models.Provider]normalizer.Normalizer{
			models.ProviderClerk: &normalizer.ClerkNormalizer{},
			models.ProviderAuth0: &normalizer.Auth0Normalizer{},
		},
		tx:       tx,
		logger:   slog.Default(),
		notifier: notify.Noop{},
		tracer:   otel.Tracer("idsync/webhook"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}
