// Package normalizer converts provider-specific webhook payloads into the
// provider-agnostic IdentityEvent. Each provider has one implementation that
// knows its own envelope shape; nothing else in the service parses raw payloads.
package normalizer

import (
	"bytes"

	"idsync/internal/webhook/models"
	dErrors "idsync/pkg/domain-errors"
)

// Normalizer is a pure transform from raw webhook bytes to an IdentityEvent.
//
// Contract: unrecognized event kinds normalize to a valid event with no
// changes (providers add event kinds without breaking the integration), but an
// empty body or invalid JSON is an error. Implementations never produce side
// effects and never log payload contents.
type Normalizer interface {
	Provider() models.Provider
	Normalize(raw []byte) (*models.IdentityEvent, error)
}

// ForProvider returns the normalizer for the given provider.
func ForProvider(p models.Provider) (Normalizer, error) {
	switch p {
	case models.ProviderClerk:
		return &ClerkNormalizer{}, nil
	case models.ProviderAuth0:
		return &Auth0Normalizer{}, nil
	default:
		return nil, dErrors.New(dErrors.CodeNotFound, "no normalizer for provider "+p.String())
	}
}

func emptyBody(raw []byte) bool {
	return len(bytes.TrimSpace(raw)) == 0
}

// malformed classifies a payload defect as a validation failure. The code is
// forced rather than wrapped: inner errors may carry their own domain code
// (ParseMfaType returns invalid_input) but every normalization defect must
// surface uniformly as validation_failed.
func malformed(err error, msg string) error {
	return &dErrors.Error{Code: dErrors.CodeValidation, Message: msg, Err: err}
}
