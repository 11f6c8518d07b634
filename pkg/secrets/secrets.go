// Package secrets holds the shared-secret verification used to authenticate
// inbound webhook calls.
package secrets

import (
	"crypto/sha256"
	"crypto/subtle"
)

// VerifyWebhookSecret reports whether a caller-supplied secret matches the
// configured one. Both values are hashed to a fixed-length digest before
// comparison so neither the position of the first differing byte nor a length
// mismatch is observable through timing.
//
// An empty configured secret always fails: a misconfigured endpoint must fail
// closed, never open.
func VerifyWebhookSecret(provided, configured string) bool {
	if configured == "" {
		return false
	}
	p := sha256.Sum256([]byte(provided))
	c := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(p[:], c[:]) == 1
}
