package shared

import (
	"errors"
	"net/http"

	"idsync/internal/transport/http/json"
	dErrors "idsync/pkg/domain-errors"
)

// WriteError centralizes domain error translation to HTTP responses.
// It translates transport-agnostic domain errors into HTTP status codes and error responses.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		status := DomainCodeToHTTPStatus(domainErr.Code)
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" && status < http.StatusInternalServerError {
			response["error_description"] = domainErr.Message
		}
		json.WriteJSON(w, status, response)
		return
	}

	// Fallback for unexpected errors. Message is withheld so internals never leak.
	json.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeUnknownSubject:
		// Accepted without effect: the response must not reveal whether the
		// subject exists in this system.
		return http.StatusAccepted
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
