// Package payments holds payment attempts and the gateway adapters that resolve them.
package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

// ErrIgnoredEvent marks a verified webhook that carries no payment outcome.
var ErrIgnoredEvent = errors.New("webhook event ignored")

// Gateway is the capability set every online payment family implements.
type Gateway interface {
	Kind() enums.PaymentMethod
	// CreateIntent opens a gateway-side intent for one attempt.
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	// VerifyCallback authenticates the buyer's return payload. On a bad signature the
	// result still carries the intent id when it could be read.
	VerifyCallback(ctx context.Context, payload []byte, signature string) (CallbackResult, error)
	// QueryStatus asks the gateway for the authoritative state of an attempt.
	QueryStatus(ctx context.Context, ref AttemptRef) (StatusResult, error)
	// VerifyWebhook authenticates a server-to-server notification.
	VerifyWebhook(ctx context.Context, payload []byte, signature string) (CallbackResult, error)
}

type IntentRequest struct {
	PaymentID   uuid.UUID
	OrderID     uuid.UUID
	AmountCents int64
	Currency    string
	// SourceID is a tokenized card for families that charge on intent creation.
	SourceID    string
	Description string
}

type Intent struct {
	IntentID     string
	ClientParams types.JSONMap
	// Outcome is set when creating the intent already resolved the payment.
	Outcome enums.PaymentOutcome
}

type CallbackResult struct {
	IntentID  string
	PaymentID string
	Outcome   enums.PaymentOutcome
	Reason    string
}

type AttemptRef struct {
	IntentID         string
	GatewayPaymentID string
}

type StatusResult struct {
	Outcome          enums.PaymentOutcome
	GatewayPaymentID string
	Reason           string
}

// InvalidSignature is returned when a callback or webhook fails authentication.
func InvalidSignature() error {
	return pkgerrors.New(pkgerrors.CodeValidation, "payment signature verification failed").
		WithReason(pkgerrors.ReasonInvalidSignature)
}

// IsInvalidSignature reports whether err is a signature failure.
func IsInvalidSignature(err error) bool {
	return pkgerrors.HasReason(err, pkgerrors.ReasonInvalidSignature)
}

func gatewayFailure(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, message).WithReason(pkgerrors.ReasonGatewayFailure)
}

func malformed(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed gateway payload")
}
