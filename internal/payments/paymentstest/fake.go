// Package paymentstest provides a scriptable in-memory gateway.
package paymentstest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/vendorhub-backend/internal/payments"
	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	"github.com/angelmondragon/vendorhub-backend/pkg/razorpay"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

const secret = "fake-gateway-secret"

// Gateway signs callbacks the way the redirect family does and answers QueryStatus from a
// table the test controls.
type Gateway struct {
	kind enums.PaymentMethod

	mu        sync.Mutex
	seq       int
	createErr error
	delay     time.Duration
	statuses  map[string]payments.StatusResult
	requests  []payments.IntentRequest
	queries   int
}

func New(kind enums.PaymentMethod) *Gateway {
	return &Gateway{kind: kind, statuses: map[string]payments.StatusResult{}}
}

func (g *Gateway) Kind() enums.PaymentMethod { return g.kind }

// FailNextCreate makes the next CreateIntent return err.
func (g *Gateway) FailNextCreate(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErr = err
}

// SetDelay makes CreateIntent block for d or until ctx is done.
func (g *Gateway) SetDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = d
}

func (g *Gateway) SetStatus(intentID string, res payments.StatusResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[intentID] = res
}

func (g *Gateway) Requests() []payments.IntentRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.IntentRequest(nil), g.requests...)
}

func (g *Gateway) Queries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries
}

func (g *Gateway) CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	err, delay := g.createErr, g.delay
	g.createErr = nil
	g.requests = append(g.requests, req)
	g.seq++
	id := fmt.Sprintf("%s_intent_%d", g.kind, g.seq)
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return payments.Intent{}, ctx.Err()
		}
	}
	if err != nil {
		return payments.Intent{}, err
	}
	return payments.Intent{IntentID: id, ClientParams: types.JSONMap{"order_id": id}}, nil
}

// Callback is the buyer return payload understood by the fake.
type Callback struct {
	IntentID  string               `json:"intent_id"`
	PaymentID string               `json:"payment_id"`
	Outcome   enums.PaymentOutcome `json:"outcome,omitempty"`
	Reason    string               `json:"reason,omitempty"`
}

// SignedCallback returns a callback payload and its valid signature.
func SignedCallback(cb Callback) ([]byte, string) {
	body, _ := json.Marshal(cb)
	return body, razorpay.Sign(cb.IntentID+"|"+cb.PaymentID, secret)
}

// SignedWebhook returns a webhook body and its valid signature.
func SignedWebhook(cb Callback) ([]byte, string) {
	body, _ := json.Marshal(cb)
	return body, razorpay.Sign(string(body), secret)
}

func (g *Gateway) VerifyCallback(_ context.Context, payload []byte, signature string) (payments.CallbackResult, error) {
	var cb Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return payments.CallbackResult{}, err
	}
	res := payments.CallbackResult{IntentID: cb.IntentID, PaymentID: cb.PaymentID, Outcome: cb.Outcome, Reason: cb.Reason}
	if signature != razorpay.Sign(cb.IntentID+"|"+cb.PaymentID, secret) {
		return res, payments.InvalidSignature()
	}
	if res.Outcome == "" {
		res.Outcome = enums.PaymentOutcomeSucceeded
	}
	return res, nil
}

func (g *Gateway) QueryStatus(_ context.Context, ref payments.AttemptRef) (payments.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries++
	if res, ok := g.statuses[ref.IntentID]; ok {
		return res, nil
	}
	return payments.StatusResult{Outcome: enums.PaymentOutcomePending}, nil
}

func (g *Gateway) VerifyWebhook(_ context.Context, payload []byte, signature string) (payments.CallbackResult, error) {
	if signature != razorpay.Sign(string(payload), secret) {
		return payments.CallbackResult{}, payments.InvalidSignature()
	}
	var cb Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return payments.CallbackResult{}, err
	}
	if cb.Outcome == "" {
		return payments.CallbackResult{}, payments.ErrIgnoredEvent
	}
	return payments.CallbackResult{IntentID: cb.IntentID, PaymentID: cb.PaymentID, Outcome: cb.Outcome, Reason: cb.Reason}, nil
}
