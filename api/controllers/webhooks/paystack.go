package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/settla/settla-backend/api/responses"
	pkgerrors "github.com/settla/settla-backend/pkg/errors"
	"github.com/settla/settla-backend/pkg/logger"
	"github.com/settla/settla-backend/pkg/paystack"
	"github.com/settla/settla-backend/pkg/types"
)

const maxWebhookBody = 1 << 20

// PaystackWebhookService reconciles one verified delivery.
type PaystackWebhookService interface {
	Handle(ctx context.Context, body []byte) error
}

type signatureVerifier interface {
	VerifySignature(payload []byte, header string) bool
}

// PaystackWebhook accepts Paystack deliveries. The signature is checked only
// when a verifier is configured; the reconciler acknowledges data problems
// itself so only malformed payloads and infrastructure failures reach the
// sender as errors.
func PaystackWebhook(svc PaystackWebhookService, verifier signatureVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if verifier != nil && !verifier.VerifySignature(payload, r.Header.Get(paystack.SignatureHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid paystack signature"))
			return
		}

		if err := svc.Handle(ctx, payload); err != nil {
			switch {
			case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
				responses.WriteError(ctx, logg, w, err)
			case pkgerrors.IsTransient(err):
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook processing failed"))
			default:
				responses.WriteError(ctx, logg, w, err)
			}
			return
		}

		responses.WriteSuccess(w, types.WebhookAck{Received: true, Event: eventName(payload)})
	}
}

func eventName(payload []byte) string {
	var peek struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &peek); err != nil {
		return ""
	}
	return peek.Event
}
