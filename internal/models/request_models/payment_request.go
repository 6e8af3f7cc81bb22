package request_models

// CreatePaymentRequest starts a checkout attempt. Amount is in minor units of
// Currency; the Idempotency-Key header rides alongside, not in the body.
type CreatePaymentRequest struct {
	BuyOrder    string `json:"buy_order" binding:"required,max=255"`
	AmountMinor int64  `json:"amount" binding:"required,gt=0"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Provider    string `json:"provider" binding:"required"`
	PaymentType string `json:"payment_type"`
	ReturnURL   string `json:"return_url"`
	SuccessURL  string `json:"success_url"`
	FailureURL  string `json:"failure_url"`
	CancelURL   string `json:"cancel_url"`
}

// RefundPaymentRequest: Amount omitted or zero means the remaining refundable
// balance.
type RefundPaymentRequest struct {
	AmountMinor int64  `json:"amount" binding:"omitempty,gt=0"`
	Reason      string `json:"reason" binding:"max=512"`
}

type OperatorLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}
