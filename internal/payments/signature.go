package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/angelmondragon/vendorhub-backend/pkg/razorpay"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

// OrdersAPI is the slice of the signed-orders REST client used by SignatureGateway.
type OrdersAPI interface {
	KeyID() string
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (*razorpay.Order, error)
	FetchOrderPayments(ctx context.Context, orderID string) ([]razorpay.Payment, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
}

// SignatureGateway serves the redirect/callback family (razorpay cards and netbanking, UPI
// collect). The buyer returns with an HMAC over "order_id|payment_id".
type SignatureGateway struct {
	kind     enums.PaymentMethod
	api      OrdersAPI
	payeeVPA string
}

func NewSignatureGateway(kind enums.PaymentMethod, api OrdersAPI, payeeVPA string) (*SignatureGateway, error) {
	if kind != enums.PaymentMethodRazorpay && kind != enums.PaymentMethodUPI {
		return nil, fmt.Errorf("signature gateway does not serve %q", kind)
	}
	if api == nil {
		return nil, fmt.Errorf("%s orders api required", kind)
	}
	return &SignatureGateway{kind: kind, api: api, payeeVPA: strings.TrimSpace(payeeVPA)}, nil
}

func (g *SignatureGateway) Kind() enums.PaymentMethod { return g.kind }

func (g *SignatureGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	order, err := g.api.CreateOrder(ctx, razorpay.OrderRequest{
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Receipt:     req.PaymentID.String(),
		Notes: map[string]string{
			"order_id":   req.OrderID.String(),
			"payment_id": req.PaymentID.String(),
		},
	})
	if err != nil {
		return Intent{}, gatewayFailure(err, "create gateway order")
	}
	params := types.JSONMap{
		"key_id":       g.api.KeyID(),
		"order_id":     order.ID,
		"amount_cents": order.AmountCents,
		"currency":     order.Currency,
	}
	if g.kind == enums.PaymentMethodUPI && g.payeeVPA != "" {
		params["payee_vpa"] = g.payeeVPA
	}
	return Intent{IntentID: order.ID, ClientParams: params}, nil
}

// VerifyCallback accepts the widget's success payload. The signature argument overrides the
// one embedded in the payload when present.
func (g *SignatureGateway) VerifyCallback(_ context.Context, payload []byte, signature string) (CallbackResult, error) {
	var cb razorpay.CallbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return CallbackResult{}, malformed(err)
	}
	result := CallbackResult{IntentID: strings.TrimSpace(cb.OrderID), PaymentID: strings.TrimSpace(cb.PaymentID)}
	if s := strings.TrimSpace(signature); s != "" {
		cb.Signature = s
	}
	if result.IntentID == "" || result.PaymentID == "" || !g.api.VerifyPaymentSignature(result.IntentID, result.PaymentID, cb.Signature) {
		return result, InvalidSignature()
	}
	result.Outcome = enums.PaymentOutcomeSucceeded
	return result, nil
}

func (g *SignatureGateway) QueryStatus(ctx context.Context, ref AttemptRef) (StatusResult, error) {
	attempts, err := g.api.FetchOrderPayments(ctx, ref.IntentID)
	if err != nil {
		return StatusResult{}, gatewayFailure(err, "fetch gateway payments")
	}
	return summarize(attempts), nil
}

// summarize folds the payments made against one gateway order into a single outcome: any
// captured or authorized payment wins, otherwise the order is failed only if every payment
// failed.
func summarize(attempts []razorpay.Payment) StatusResult {
	if len(attempts) == 0 {
		return StatusResult{Outcome: enums.PaymentOutcomePending}
	}
	var lastFailure *razorpay.Payment
	failed := 0
	for i := range attempts {
		p := attempts[i]
		switch p.Status {
		case razorpay.PaymentStatusCaptured, razorpay.PaymentStatusAuthorized:
			return StatusResult{Outcome: enums.PaymentOutcomeSucceeded, GatewayPaymentID: p.ID}
		case razorpay.PaymentStatusFailed:
			failed++
			if lastFailure == nil {
				lastFailure = &attempts[i]
			}
		}
	}
	if failed == len(attempts) {
		return StatusResult{
			Outcome:          enums.PaymentOutcomeFailed,
			GatewayPaymentID: lastFailure.ID,
			Reason:           failureText(*lastFailure),
		}
	}
	return StatusResult{Outcome: enums.PaymentOutcomePending}
}

func (g *SignatureGateway) VerifyWebhook(_ context.Context, payload []byte, signature string) (CallbackResult, error) {
	if !g.api.VerifyWebhookSignature(payload, signature) {
		return CallbackResult{}, InvalidSignature()
	}
	var event razorpay.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return CallbackResult{}, malformed(err)
	}
	payment := event.Payload.Payment.Entity
	intentID := payment.OrderID
	if intentID == "" {
		intentID = event.Payload.Order.Entity.ID
	}
	result := CallbackResult{IntentID: intentID, PaymentID: payment.ID}
	switch event.Event {
	case "payment.captured", "order.paid":
		result.Outcome = enums.PaymentOutcomeSucceeded
	case "payment.failed":
		result.Outcome = enums.PaymentOutcomeFailed
		result.Reason = failureText(payment)
	default:
		return result, ErrIgnoredEvent
	}
	if result.IntentID == "" {
		return result, ErrIgnoredEvent
	}
	return result, nil
}

func failureText(p razorpay.Payment) string {
	if d := strings.TrimSpace(p.ErrorDescription); d != "" {
		return d
	}
	if c := strings.TrimSpace(p.ErrorCode); c != "" {
		return c
	}
	return "payment failed at gateway"
}
