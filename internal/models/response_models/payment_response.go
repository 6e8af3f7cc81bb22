package response_models

// RedirectInfo tells the client where to send the buyer. Webpay posts the
// token as a form field; Stripe/PayPal use plain location redirects.
type RedirectInfo struct {
	URL        string            `json:"url"`
	Token      string            `json:"token"`
	FormFields map[string]string `json:"form_fields,omitempty"`
}

type CreatePaymentResponse struct {
	PaymentID string        `json:"payment_id"`
	BuyOrder  string        `json:"buy_order"`
	Status    string        `json:"status"`
	Redirect  *RedirectInfo `json:"redirect,omitempty"`
}

type PaymentStatusResponse struct {
	PaymentID           string `json:"payment_id"`
	BuyOrder            string `json:"buy_order"`
	Provider            string `json:"provider"`
	Status              string `json:"status"`
	AmountMinor         int64  `json:"amount"`
	AmountRefundedMinor int64  `json:"amount_refunded"`
	Currency            string `json:"currency"`
	ResponseCode        *int   `json:"response_code,omitempty"`
	AuthorizationCode   string `json:"authorization_code,omitempty"`
}

type RefundResponse struct {
	RefundID            string `json:"refund_id"`
	PaymentID           string `json:"payment_id"`
	Status              string `json:"status"`
	AmountMinor         int64  `json:"amount"`
	AmountRefundedMinor int64  `json:"amount_refunded"`
	PaymentStatus       string `json:"payment_status"`
}

type WebhookAckResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Status    string `json:"status,omitempty"`
}

type OperatorLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}
