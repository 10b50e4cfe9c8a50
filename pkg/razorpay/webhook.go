package razorpay

// WebhookEvent is the envelope posted for payment.captured, payment.failed and order.paid.
type WebhookEvent struct {
	Event   string         `json:"event"`
	Payload WebhookPayload `json:"payload"`
}

type WebhookPayload struct {
	Payment struct {
		Entity Payment `json:"entity"`
	} `json:"payment"`
	Order struct {
		Entity Order `json:"entity"`
	} `json:"order"`
}

// CallbackPayload is what the checkout widget hands back to the buyer's browser on success.
type CallbackPayload struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}
