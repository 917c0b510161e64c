package service

import "errors"

var (
	ErrZeroDelta            = errors.New("delta_minor cannot be zero")
	ErrUnsupportedCurrency  = errors.New("unsupported currency")
	ErrCurrencyMismatch     = errors.New("currency mismatch: cross-currency operations are not allowed")
	ErrInsufficientFunds    = errors.New("insufficient wallet balance")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotOnboarded         = errors.New("payout destination not configured")
	ErrInstantDisabled      = errors.New("instant withdrawals are disabled for this account")
	ErrDailyLimitExceeded   = errors.New("daily instant withdrawal limit exceeded")
	ErrInvalidState         = errors.New("withdrawal is not in a reviewable state")
	ErrWithdrawalNotFound   = errors.New("withdrawal request not found")
	ErrTransactionRevoked   = errors.New("transaction has been revoked")
	ErrVerificationFailed   = errors.New("receipt verification failed")
	ErrUnknownProduct       = errors.New("unknown product id")
)
