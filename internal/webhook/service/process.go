package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"idsync/internal/sentinel"
	"idsync/internal/webhook/models"
	dErrors "idsync/pkg/domain-errors"
	"idsync/pkg/secrets"
	"idsync/pkg/validation"
)

// Process handles one webhook delivery end to end: secret verification,
// normalization, idempotency reservation and state application. The
// reservation and the snapshot mutation commit in a single transaction, so
// a retry of a failed delivery is never rejected as a duplicate.
//
// Deliveries naming a subject this system has no record of return a
// CodeUnknownSubject domain error, which the transport layer translates to
// an empty-handed 202.
//
// Secret verification runs before the body is parsed; an unauthenticated
// request learns nothing about payload handling.
func (s *Service) Process(ctx context.Context, provider models.Provider, providedSecret string, rawBody []byte) (*Result, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "webhook.process",
		trace.WithAttributes(attribute.String("provider", provider.String())))
	defer span.End()

	res, err := s.process(ctx, provider, providedSecret, rawBody)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	case dErrors.HasCode(err, dErrors.CodeUnknownSubject):
		// Accepted without effect; not a span failure.
		span.SetAttributes(attribute.String("outcome", "unknown_subject"))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ProcessDurationMs.
			WithLabelValues(provider.String()).
			Observe(float64(s.now().Sub(start)) / float64(time.Millisecond))
	}
	return res, err
}

func (s *Service) process(ctx context.Context, provider models.Provider, providedSecret string, rawBody []byte) (*Result, error) {
	if s.metrics != nil {
		s.metrics.EventsReceived.WithLabelValues(provider.String()).Inc()
	}

	n, ok := s.normalizers[provider]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unsupported provider %q", provider))
	}

	if !secrets.VerifyWebhookSecret(providedSecret, s.secrets[provider]) {
		if s.metrics != nil {
			s.metrics.AuthFailures.WithLabelValues(provider.String()).Inc()
		}
		s.logger.WarnContext(ctx, "webhook secret verification failed", "provider", provider)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook secret")
	}

	event, err := n.Normalize(rawBody)
	if err != nil {
		return nil, err
	}
	if err := validation.Validate(event); err != nil {
		return nil, err
	}

	if !event.HasChanges() {
		if s.metrics != nil {
			s.metrics.EventsNoChange.WithLabelValues(provider.String()).Inc()
		}
		s.logger.InfoContext(ctx, "webhook event carried no recognized change",
			"provider", provider, "subject", event.Subject)
		return &Result{Outcome: OutcomeNoChange, Provider: provider}, nil
	}

	fingerprint := event.Fingerprint()
	res := &Result{Provider: provider, Fingerprint: fingerprint}
	var notification *models.SyncNotification

	txErr := s.tx.RunInTx(ctx, func(ctx context.Context, stores TxStores) error {
		snap, err := stores.Identities.FindByProviderSubject(ctx, provider, event.Subject)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeUnknownSubject, "no identity for provider subject")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "looking up identity")
		}

		reserved, err := stores.Ledger.Reserve(ctx, models.ProcessedEvent{
			Fingerprint: fingerprint,
			UserID:      snap.UserID,
			ProcessedAt: s.now(),
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "reserving event fingerprint")
		}
		if !reserved {
			res.Outcome = OutcomeDuplicate
			return nil
		}

		snap.Apply(event)
		if err := stores.Identities.ApplyUpdate(ctx, snap); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "applying identity update")
		}

		res.Outcome = OutcomeApplied
		notification = &models.SyncNotification{
			Provider:    provider,
			UserID:      snap.UserID,
			Fingerprint: fingerprint,
			OccurredAt:  event.OccurredAt,
			ProcessedAt: s.now(),
		}
		return nil
	})
	if txErr != nil {
		if dErrors.HasCode(txErr, dErrors.CodeUnknownSubject) {
			if s.metrics != nil {
				s.metrics.UnknownSubjects.WithLabelValues(provider.String()).Inc()
			}
			s.logger.WarnContext(ctx, "identity event for unknown subject",
				"provider", provider, "subject", event.Subject)
		}
		return nil, txErr
	}

	switch res.Outcome {
	case OutcomeApplied:
		if s.metrics != nil {
			s.metrics.EventsApplied.WithLabelValues(provider.String()).Inc()
		}
		s.logger.InfoContext(ctx, "identity event applied",
			"provider", provider, "subject", event.Subject, "fingerprint", fingerprint)
		s.notifier.SyncRecorded(ctx, *notification)
	case OutcomeDuplicate:
		if s.metrics != nil {
			s.metrics.EventsDuplicate.WithLabelValues(provider.String()).Inc()
		}
		s.logger.InfoContext(ctx, "duplicate identity event acknowledged",
			"provider", provider, "fingerprint", fingerprint)
	}

	return res, nil
}
