package razorpay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/vendorhub-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestCreateOrderSendsBasicAuthAndAmount(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "http://rzp.test/v1/orders", req.URL.String())
		user, pass, ok := req.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "secret", pass)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		assert.EqualValues(t, 185000, payload["amount"])
		assert.Equal(t, "INR", payload["currency"])
		return jsonResponse(http.StatusOK, `{"id":"order_abc","amount":185000,"currency":"INR","status":"created"}`), nil
	})

	client, err := NewClient("rzp_test_key", "secret", WithBaseURL("http://rzp.test/v1"), WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, err)

	order, err := client.CreateOrder(context.Background(), OrderRequest{AmountCents: 185000, Currency: "inr", Receipt: "pay-1"})
	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.ID)
}

func TestCreateOrderMapsGatewayFailure(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, `{"error":{"code":"BAD_REQUEST_ERROR"}}`), nil
	})
	client, err := NewClient("k", "s", WithBaseURL("http://rzp.test/v1"), WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, err)

	_, err = client.CreateOrder(context.Background(), OrderRequest{AmountCents: 100, Currency: "INR"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeGateway, pkgerrors.CodeOf(err))
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonGatewayFailure))
}

func TestRequestTimeoutMapsToGatewayTimeout(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	client, err := NewClient("k", "s", WithBaseURL("http://rzp.test/v1"), WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.FetchOrderPayments(ctx, "order_abc")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeGatewayTimeout, pkgerrors.CodeOf(err))
}

func TestFetchOrderPayments(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/orders/order_abc/payments", req.URL.Path)
		return jsonResponse(http.StatusOK, `{"items":[{"id":"pay_1","order_id":"order_abc","status":"captured"}]}`), nil
	})
	client, err := NewClient("k", "s", WithBaseURL("http://rzp.test/v1"), WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, err)

	payments, err := client.FetchOrderPayments(context.Background(), "order_abc")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, PaymentStatusCaptured, payments[0].Status)
}

func TestSignatureVerification(t *testing.T) {
	client, err := NewClient("k", "key-secret", WithWebhookSecret("hook-secret"))
	require.NoError(t, err)

	sig := Sign("order_abc|pay_1", "key-secret")
	assert.True(t, client.VerifyPaymentSignature("order_abc", "pay_1", sig))
	assert.False(t, client.VerifyPaymentSignature("order_abc", "pay_2", sig))
	assert.False(t, client.VerifyPaymentSignature("order_abc", "pay_1", ""))

	body := []byte(`{"event":"payment.captured"}`)
	assert.True(t, client.VerifyWebhookSignature(body, Sign(string(body), "hook-secret")))
	assert.False(t, client.VerifyWebhookSignature(body, Sign(string(body), "key-secret")))
}

func TestNewClientRequiresKeys(t *testing.T) {
	_, err := NewClient("", "s")
	require.Error(t, err)
	_, err = NewClient("k", " ")
	require.Error(t, err)
}
