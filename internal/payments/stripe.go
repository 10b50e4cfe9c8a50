package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgstripe "github.com/angelmondragon/vendorhub-backend/pkg/stripe"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

type StripeAPI interface {
	CreatePaymentIntent(ctx context.Context, p pkgstripe.CreateIntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// StripeGateway serves the card/wallet intent family. The client confirms the intent with
// its secret; the server never trusts the redirect and re-reads the intent instead.
type StripeGateway struct {
	api StripeAPI
}

func NewStripeGateway(api StripeAPI) (*StripeGateway, error) {
	if api == nil {
		return nil, fmt.Errorf("stripe api required")
	}
	return &StripeGateway{api: api}, nil
}

func (g *StripeGateway) Kind() enums.PaymentMethod { return enums.PaymentMethodStripe }

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	pi, err := g.api.CreatePaymentIntent(ctx, pkgstripe.CreateIntentParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		IdempotencyKey: "payment-" + req.PaymentID.String(),
		Description:    req.Description,
		Metadata: map[string]string{
			"order_id":   req.OrderID.String(),
			"payment_id": req.PaymentID.String(),
		},
	})
	if err != nil {
		return Intent{}, gatewayFailure(err, "create stripe payment intent")
	}
	return Intent{
		IntentID: pi.ID,
		ClientParams: types.JSONMap{
			"client_secret": pi.ClientSecret,
			"intent_id":     pi.ID,
		},
	}, nil
}

type stripeCallback struct {
	PaymentIntent string `json:"payment_intent"`
}

// VerifyCallback reads the intent id from the redirect and confirms it server-side.
func (g *StripeGateway) VerifyCallback(ctx context.Context, payload []byte, _ string) (CallbackResult, error) {
	var cb stripeCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return CallbackResult{}, malformed(err)
	}
	id := strings.TrimSpace(cb.PaymentIntent)
	if id == "" {
		return CallbackResult{}, InvalidSignature()
	}
	status, err := g.QueryStatus(ctx, AttemptRef{IntentID: id})
	if err != nil {
		return CallbackResult{IntentID: id}, err
	}
	return CallbackResult{IntentID: id, PaymentID: status.GatewayPaymentID, Outcome: status.Outcome, Reason: status.Reason}, nil
}

func (g *StripeGateway) QueryStatus(ctx context.Context, ref AttemptRef) (StatusResult, error) {
	pi, err := g.api.GetPaymentIntent(ctx, ref.IntentID)
	if err != nil {
		return StatusResult{}, gatewayFailure(err, "get stripe payment intent")
	}
	return intentStatus(pi), nil
}

func (g *StripeGateway) VerifyWebhook(_ context.Context, payload []byte, signature string) (CallbackResult, error) {
	event, err := g.api.ConstructEvent(payload, signature)
	if err != nil {
		return CallbackResult{}, InvalidSignature()
	}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled", "payment_intent.processing":
	default:
		return CallbackResult{}, ErrIgnoredEvent
	}
	if event.Data == nil {
		return CallbackResult{}, ErrIgnoredEvent
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return CallbackResult{}, malformed(err)
	}
	status := intentStatus(&pi)
	return CallbackResult{IntentID: pi.ID, PaymentID: status.GatewayPaymentID, Outcome: status.Outcome, Reason: status.Reason}, nil
}

func intentStatus(pi *stripe.PaymentIntent) StatusResult {
	res := StatusResult{Outcome: enums.PaymentOutcomePending}
	if pi == nil {
		return res
	}
	if pi.LatestCharge != nil {
		res.GatewayPaymentID = pi.LatestCharge.ID
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Outcome = enums.PaymentOutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		res.Outcome = enums.PaymentOutcomeFailed
		res.Reason = "payment intent canceled"
		if pi.CancellationReason != "" {
			res.Reason = "payment intent canceled: " + string(pi.CancellationReason)
		}
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A declined confirmation drops the intent back here with the decline attached.
		if pi.LastPaymentError != nil {
			res.Outcome = enums.PaymentOutcomeFailed
			res.Reason = pi.LastPaymentError.Msg
			if res.Reason == "" {
				res.Reason = "card declined"
			}
		}
	}
	return res
}
