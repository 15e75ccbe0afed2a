// Package webhooks serves provider completion callbacks.
package webhooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-imagegen-server/internal/api/common"
	"github.com/stacklok/toolhive-imagegen-server/internal/orchestrator"
	"github.com/stacklok/toolhive-imagegen-server/internal/reconciler"
	"github.com/stacklok/toolhive-imagegen-server/internal/webhook"
)

//go:generate mockgen -destination=mocks/mock_webhooks.go -package=mocks -source=routes.go Handler,Verifier

// MaxBodyBytes bounds a callback body. Inline artifacts arrive base64 encoded.
const MaxBodyBytes = 96 << 20

// Handler applies a parsed callback.
type Handler interface {
	HandleWebhook(ctx context.Context, providerName string, header http.Header, body []byte) error
}

// Verifier checks the callback token of a provider.
type Verifier interface {
	Verify(token, providerName string) error
}

type routes struct {
	handler  Handler
	verifier Verifier
}

// Router creates the /webhooks router. A nil verifier accepts unsigned callbacks.
func Router(handler Handler, verifier Verifier) http.Handler {
	wr := &routes{handler: handler, verifier: verifier}

	r := chi.NewRouter()
	r.Post("/{provider}", wr.receive)
	return r
}

func (wr *routes) receive(w http.ResponseWriter, r *http.Request) {
	providerName, err := common.PathParam(r, "provider")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), orchestrator.KindValidation, http.StatusBadRequest)
		return
	}

	if wr.verifier != nil {
		if err := wr.verifier.Verify(r.URL.Query().Get(webhook.TokenParam), providerName); err != nil {
			slog.WarnContext(r.Context(), "Rejected webhook with invalid token",
				"provider", providerName,
				"error", err)
			common.WriteErrorResponse(w, "invalid webhook token", "", http.StatusUnauthorized)
			return
		}
	}

	var body []byte
	if r.Body != nil {
		if body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes)); err != nil {
			common.WriteErrorResponse(w, "failed to read webhook body", orchestrator.KindValidation, http.StatusBadRequest)
			return
		}
	}

	err = wr.handler.HandleWebhook(r.Context(), providerName, r.Header, body)
	switch {
	case err == nil:
		common.WriteJSONResponse(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
	case errors.Is(err, reconciler.ErrUnknownProvider), errors.Is(err, reconciler.ErrWebhookUnsupported):
		common.WriteErrorResponse(w, "no webhook route for provider "+providerName, orchestrator.KindNotFound, http.StatusNotFound)
	case errors.Is(err, reconciler.ErrMalformedWebhook):
		slog.WarnContext(r.Context(), "Malformed webhook", "provider", providerName, "error", err)
		common.WriteErrorResponse(w, "malformed webhook", orchestrator.KindValidation, http.StatusBadRequest)
	default:
		slog.ErrorContext(r.Context(), "Failed to apply webhook", "provider", providerName, "error", err)
		common.WriteErrorResponse(w, "failed to apply webhook", orchestrator.KindInternal, http.StatusInternalServerError)
	}
}
