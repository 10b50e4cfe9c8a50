package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/vendorhub-backend/pkg/config"
)

type fakeIntents struct {
	lastNew *stripe.PaymentIntentCreateParams
	lastCtx context.Context
	status  stripe.PaymentIntentStatus
}

func (f *fakeIntents) Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	f.lastNew, f.lastCtx = params, ctx
	return &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret",
		Amount:       *params.Amount,
		Currency:     stripe.Currency(*params.Currency),
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}, nil
}

func (f *fakeIntents) Retrieve(ctx context.Context, id string, _ *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	f.lastCtx = ctx
	return &stripe.PaymentIntent{ID: id, Status: f.status}, nil
}

func TestNewClientValidatesKeyForEnvironment(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_live_x", Secret: "whsec", Env: "test"}, nil)
	require.Error(t, err)

	_, err = NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_x", Env: "test"}, nil)
	require.ErrorIs(t, err, errSecretRequired)

	c, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_x", Secret: "whsec", Env: "TEST"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment())
}

func TestCreatePaymentIntentSetsIdempotencyAndMetadata(t *testing.T) {
	fake := &fakeIntents{}
	c := NewWithIntents(fake, "whsec_test")

	intent, err := c.CreatePaymentIntent(context.Background(), CreateIntentParams{
		AmountCents:    185000,
		Currency:       "INR",
		IdempotencyKey: "payment-1",
		Metadata:       map[string]string{"order_id": "o-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	require.NotNil(t, fake.lastNew)
	assert.Equal(t, "inr", *fake.lastNew.Currency)
	assert.Equal(t, "payment-1", *fake.lastNew.IdempotencyKey)
	assert.Equal(t, "o-1", fake.lastNew.Metadata["order_id"])

	_, err = c.CreatePaymentIntent(context.Background(), CreateIntentParams{AmountCents: 0, Currency: "inr"})
	require.Error(t, err)
}

type ctxKey struct{}

func TestIntentCallsCarryRequestContext(t *testing.T) {
	fake := &fakeIntents{status: stripe.PaymentIntentStatusSucceeded}
	c := NewWithIntents(fake, "whsec_test")
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")

	_, err := c.CreatePaymentIntent(ctx, CreateIntentParams{AmountCents: 500, Currency: "inr"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", fake.lastCtx.Value(ctxKey{}))
	require.NotNil(t, fake.lastNew.AutomaticPaymentMethods)
	assert.True(t, *fake.lastNew.AutomaticPaymentMethods.Enabled)

	fake.lastCtx = nil
	intent, err := c.GetPaymentIntent(ctx, " pi_9 ")
	require.NoError(t, err)
	assert.Equal(t, "pi_9", intent.ID)
	assert.Equal(t, stripe.PaymentIntentStatusSucceeded, intent.Status)
	assert.Equal(t, "req-1", fake.lastCtx.Value(ctxKey{}))
}

func TestConstructEventVerifiesSignature(t *testing.T) {
	c := NewWithIntents(&fakeIntents{}, "whsec_test")
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":%q,"data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded"}}}`, stripe.APIVersion))

	event, err := c.ConstructEvent(payload, SignatureHeader(payload, "whsec_test", time.Now().Unix()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)

	var intent stripe.PaymentIntent
	require.NoError(t, json.Unmarshal(event.Data.Raw, &intent))
	assert.Equal(t, "pi_1", intent.ID)

	_, err = c.ConstructEvent(payload, SignatureHeader(payload, "whsec_other", time.Now().Unix()))
	require.Error(t, err)
}

func TestSignatureHeaderFormat(t *testing.T) {
	payload := []byte(`{}`)
	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write([]byte("10." + string(payload)))
	assert.Equal(t, "t=10,v1="+hex.EncodeToString(mac.Sum(nil)), SignatureHeader(payload, "s", 10))
}
