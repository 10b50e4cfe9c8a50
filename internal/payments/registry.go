package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/vendorhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/metrics"
)

// Registry resolves gateway adapters by payment method. Every adapter it returns enforces
// the call timeout and records call metrics.
type Registry struct {
	gateways map[enums.PaymentMethod]Gateway
	metrics  *metrics.GatewayMetrics
	timeout  time.Duration
}

func NewRegistry(m *metrics.GatewayMetrics, timeout time.Duration, gateways ...Gateway) (*Registry, error) {
	r := &Registry{gateways: make(map[enums.PaymentMethod]Gateway, len(gateways)), metrics: m, timeout: timeout}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		kind := g.Kind()
		if !kind.IsOnline() {
			return nil, fmt.Errorf("gateway kind %q is not an online payment method", kind)
		}
		if _, dup := r.gateways[kind]; dup {
			return nil, fmt.Errorf("gateway %q registered twice", kind)
		}
		r.gateways[kind] = &instrumented{inner: g, metrics: m, timeout: timeout}
	}
	return r, nil
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind enums.PaymentMethod) (Gateway, error) {
	if r != nil {
		if g, ok := r.gateways[kind]; ok {
			return g, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment method %q is not available", kind)).
		WithReason(pkgerrors.ReasonInvalidPaymentMethod)
}

func (r *Registry) Supports(kind enums.PaymentMethod) bool {
	if r == nil {
		return false
	}
	_, ok := r.gateways[kind]
	return ok
}

func (r *Registry) Metrics() *metrics.GatewayMetrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

// WithTimeout runs fn with a deadline. A call that overruns is reported as a gateway
// timeout even if the adapter ignores ctx.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return r.value, timeoutError(r.err)
		}
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, timeoutError(ctx.Err())
		}
		return zero, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "gateway call cancelled")
	}
}

func timeoutError(cause error) error {
	return pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, cause, "payment gateway timed out").
		WithReason(pkgerrors.ReasonGatewayTimeout)
}

type instrumented struct {
	inner   Gateway
	metrics *metrics.GatewayMetrics
	timeout time.Duration
}

func (g *instrumented) Kind() enums.PaymentMethod { return g.inner.Kind() }

func (g *instrumented) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	return observe(g, ctx, "create_intent", func(ctx context.Context) (Intent, error) {
		return g.inner.CreateIntent(ctx, req)
	})
}

func (g *instrumented) VerifyCallback(ctx context.Context, payload []byte, signature string) (CallbackResult, error) {
	return observe(g, ctx, "verify_callback", func(ctx context.Context) (CallbackResult, error) {
		return g.inner.VerifyCallback(ctx, payload, signature)
	})
}

func (g *instrumented) QueryStatus(ctx context.Context, ref AttemptRef) (StatusResult, error) {
	return observe(g, ctx, "query_status", func(ctx context.Context) (StatusResult, error) {
		return g.inner.QueryStatus(ctx, ref)
	})
}

func (g *instrumented) VerifyWebhook(ctx context.Context, payload []byte, signature string) (CallbackResult, error) {
	return observe(g, ctx, "verify_webhook", func(ctx context.Context) (CallbackResult, error) {
		return g.inner.VerifyWebhook(ctx, payload, signature)
	})
}

func observe[T any](g *instrumented, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := WithTimeout(ctx, g.timeout, fn)
	g.metrics.ObserveCall(string(g.inner.Kind()), op, resultLabel(err), time.Since(start))
	return v, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIgnoredEvent):
		return "ignored"
	case IsInvalidSignature(err):
		return "invalid_signature"
	case pkgerrors.CodeOf(err) == pkgerrors.CodeGatewayTimeout:
		return "timeout"
	default:
		return "error"
	}
}
