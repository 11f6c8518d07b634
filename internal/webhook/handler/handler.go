package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idsync/internal/platform/middleware"
	"idsync/internal/transport/http/json"
	"idsync/internal/transport/http/shared"
	"idsync/internal/webhook/models"
	"idsync/internal/webhook/service"
	dErrors "idsync/pkg/domain-errors"
)

// SecretHeader carries the provider's shared webhook secret. Clerk and Auth0
// are both configured to send it under this name.
const SecretHeader = "x-webhook-secret"

type Service interface {
	Process(ctx context.Context, provider models.Provider, providedSecret string, rawBody []byte) (*service.Result, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/{provider}/user-update", h.HandleUserUpdate)
}

// HandleUserUpdate implements POST /webhooks/:provider/user-update.
//
// Input: raw provider payload, secret in the x-webhook-secret header.
// Output: 200 { "status": "applied" | "duplicate" | "no_change" },
// 202 for unknown subjects, 401 on secret mismatch, 400 on malformed payloads.
func (h *Handler) HandleUserUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	provider, err := models.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.logger.WarnContext(ctx, "webhook for unsupported provider",
			"provider", chi.URLParam(r, "provider"),
			"request_id", requestID,
		)
		shared.WriteError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		// MaxBytesReader is installed by router middleware; an oversized
		// body surfaces here.
		h.logger.WarnContext(ctx, "failed to read webhook body",
			"error", err,
			"provider", provider,
			"request_id", requestID,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unable to read request body"))
		return
	}

	res, err := h.service.Process(ctx, provider, r.Header.Get(SecretHeader), body)
	if err != nil {
		// Unauthorized and unknown-subject deliveries are already logged by
		// the service; anything else is unexpected here.
		if !dErrors.HasCode(err, dErrors.CodeUnauthorized) && !dErrors.HasCode(err, dErrors.CodeUnknownSubject) {
			h.logger.ErrorContext(ctx, "webhook processing failed",
				"error", err,
				"provider", provider,
				"request_id", requestID,
			)
		}
		shared.WriteError(w, err)
		return
	}

	json.WriteJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)})
}
