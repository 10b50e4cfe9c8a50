package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/square"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

type SquareAPI interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	ApplicationID() string
	LocationID() string
	SigningSecret() string
}

// SquareGateway charges a tokenized card when the intent is created. The Square payment id
// doubles as the intent id.
type SquareGateway struct {
	api SquareAPI
}

func NewSquareGateway(api SquareAPI) (*SquareGateway, error) {
	if api == nil {
		return nil, fmt.Errorf("square api required")
	}
	return &SquareGateway{api: api}, nil
}

func (g *SquareGateway) Kind() enums.PaymentMethod { return enums.PaymentMethodSquare }

func (g *SquareGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	source := strings.TrimSpace(req.SourceID)
	if source == "" {
		return Intent{}, pkgerrors.New(pkgerrors.CodeValidation, "a card source is required for square payments").
			WithDetails(map[string]string{"source_id": "required"})
	}
	payment, err := g.api.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		SourceID:       source,
		IdempotencyKey: "payment-" + req.PaymentID.String(),
		Note:           req.Description,
		ReferenceID:    req.PaymentID.String(),
	})
	if err != nil {
		return Intent{}, gatewayFailure(err, "create square payment")
	}
	status := squareStatus(payment)
	id := deref(payment.GetID())
	return Intent{
		IntentID: id,
		ClientParams: types.JSONMap{
			"application_id": g.api.ApplicationID(),
			"location_id":    g.api.LocationID(),
			"payment_id":     id,
			"status":         deref(payment.GetStatus()),
		},
		Outcome: status.Outcome,
	}, nil
}

type squareCallback struct {
	PaymentID string `json:"payment_id"`
}

// VerifyCallback re-reads the payment named by the client; nothing in the redirect is trusted.
func (g *SquareGateway) VerifyCallback(ctx context.Context, payload []byte, _ string) (CallbackResult, error) {
	var cb squareCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return CallbackResult{}, malformed(err)
	}
	id := strings.TrimSpace(cb.PaymentID)
	if id == "" {
		return CallbackResult{}, InvalidSignature()
	}
	status, err := g.QueryStatus(ctx, AttemptRef{IntentID: id})
	if err != nil {
		return CallbackResult{IntentID: id}, err
	}
	return CallbackResult{IntentID: id, PaymentID: id, Outcome: status.Outcome, Reason: status.Reason}, nil
}

func (g *SquareGateway) QueryStatus(ctx context.Context, ref AttemptRef) (StatusResult, error) {
	payment, err := g.api.GetPayment(ctx, ref.IntentID)
	if err != nil {
		return StatusResult{}, gatewayFailure(err, "get square payment")
	}
	return squareStatus(payment), nil
}

func (g *SquareGateway) VerifyWebhook(_ context.Context, payload []byte, signature string) (CallbackResult, error) {
	if !square.VerifySignature(payload, g.api.SigningSecret(), signature) {
		return CallbackResult{}, InvalidSignature()
	}
	var event square.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return CallbackResult{}, malformed(err)
	}
	p := event.Data.Object.Payment
	if p == nil || p.ID == "" || !strings.HasPrefix(event.Type, "payment.") {
		return CallbackResult{}, ErrIgnoredEvent
	}
	status := mapSquareStatus(p.Status)
	return CallbackResult{IntentID: p.ID, PaymentID: p.ID, Outcome: status.Outcome, Reason: status.Reason}, nil
}

func squareStatus(p *sq.Payment) StatusResult {
	if p == nil {
		return StatusResult{Outcome: enums.PaymentOutcomePending}
	}
	res := mapSquareStatus(deref(p.GetStatus()))
	res.GatewayPaymentID = deref(p.GetID())
	return res
}

func mapSquareStatus(status string) StatusResult {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return StatusResult{Outcome: enums.PaymentOutcomeSucceeded}
	case "FAILED", "CANCELED":
		return StatusResult{Outcome: enums.PaymentOutcomeFailed, Reason: "square payment " + strings.ToLower(status)}
	default:
		return StatusResult{Outcome: enums.PaymentOutcomePending}
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
