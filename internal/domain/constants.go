package domain

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Ledger entry kinds. Entries are append-only; the kind decides sign rules
// (adjustment and dispute_hold may drive a balance negative, iap_refund is
// clamped at zero, everything else must keep the balance non-negative).
const (
	KindDeposit               = "deposit"
	KindWithdraw              = "withdraw"
	KindRefund                = "refund"
	KindFee                   = "fee"
	KindAdjustment            = "adjustment"
	KindDisputeHold           = "dispute_hold"
	KindIAPRefund             = "iap_refund"
	KindWebhookEvent          = "webhook_event"
	KindProductPurchaseCredit = "product_purchase_credit"
)

const (
	WithdrawalTypeStandard = "standard"
	WithdrawalTypeInstant  = "instant"
)

const (
	WithdrawalStatusPendingReview = "pending_review"
	WithdrawalStatusProcessing    = "processing"
	WithdrawalStatusPaid          = "paid"
	WithdrawalStatusFailed        = "failed"
	WithdrawalStatusRejected      = "rejected"
)

const (
	PlatformApple  = "apple"
	PlatformGoogle = "google"
)

const (
	ReceiptStatusReceived = "received"
	ReceiptStatusVerified = "verified"
	ReceiptStatusCredited = "credited"
	ReceiptStatusConsumed = "consumed"
	ReceiptStatusRevoked  = "revoked"
	ReceiptStatusFailed   = "failed"
)

// Stable machine-readable error codes returned by the wallet endpoints.
const (
	CodeInsufficientBalance = "insufficient_balance"
	CodeInstantDisabled     = "instant_disabled"
	CodeDailyLimitExceeded  = "daily_limit_exceeded"
	CodeNotOnboarded        = "not_onboarded"
	CodeInvalidState        = "invalid_state"
	CodeCurrencyMismatch    = "currency_mismatch"
)

// SupportedCurrencies are the lower-case ISO codes the ledger accepts.
var SupportedCurrencies = map[string]bool{
	"usd": true,
	"eur": true,
	"gbp": true,
	"cad": true,
	"aud": true,
}
