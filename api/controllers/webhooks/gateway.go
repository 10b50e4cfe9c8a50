package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/vendorhub-backend/api/responses"
	"github.com/angelmondragon/vendorhub-backend/internal/reconciliation"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
	"github.com/angelmondragon/vendorhub-backend/pkg/razorpay"
	"github.com/angelmondragon/vendorhub-backend/pkg/square"
)

const maxWebhookBody = 1 << 20

// signatureHeaders names the header each gateway family signs its webhooks in.
var signatureHeaders = map[enums.PaymentMethod]string{
	enums.PaymentMethodRazorpay: razorpay.WebhookSignatureHeader,
	enums.PaymentMethodUPI:      razorpay.WebhookSignatureHeader,
	enums.PaymentMethodStripe:   "Stripe-Signature",
	enums.PaymentMethodSquare:   square.SignatureHeader,
}

type WebhookHandler interface {
	HandleWebhook(ctx context.Context, kind enums.PaymentMethod, payload []byte, signature string) (*reconciliation.Result, error)
}

type DeliveryGuard interface {
	CheckAndMark(ctx context.Context, deliveryID string) (bool, error)
	Release(ctx context.Context, deliveryID string) error
}

// Gateway receives server-to-server payment notifications for the {gateway} route parameter.
// The guard may be nil; reconciliation is idempotent on its own.
func Gateway(handler WebhookHandler, guard DeliveryGuard, deliveryID func(string, []byte) string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler unavailable"))
			return
		}

		kind, err := enums.ParsePaymentMethod(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway"))))
		if err != nil || !kind.IsOnline() {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown gateway"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		signature := r.Header.Get(signatureHeaders[kind])
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook signature missing").
				WithReason(pkgerrors.ReasonInvalidSignature))
			return
		}

		var id string
		if guard != nil && deliveryID != nil {
			id = deliveryID(string(kind), payload)
			seen, err := guard.CheckAndMark(ctx, id)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook delivery"))
				return
			}
			if seen {
				responses.WriteSuccess(w, map[string]string{"status": "duplicate"})
				return
			}
		}

		res, err := handler.HandleWebhook(ctx, kind, payload, signature)
		if err != nil {
			if id != "" {
				_ = guard.Release(ctx, id)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if res == nil {
			responses.WriteSuccess(w, map[string]string{"status": "ignored"})
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(logg.WithOrderID(ctx, res.OrderID.String()), map[string]any{
				"gateway":    kind,
				"payment_id": res.PaymentID,
				"outcome":    res.Outcome,
			}), "payment webhook applied")
		}
		responses.WriteSuccess(w, res)
	}
}
