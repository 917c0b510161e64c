package gateway

import (
	"context"
	"fmt"
)

// PayoutRequest asks the card processor to move funds to a user's connected
// payout account. IdempotencyKey must be reused on retries of the same
// logical payout so a slow success is not duplicated.
type PayoutRequest struct {
	DestinationAccountID string
	AmountMinor          int64
	Currency             string
	Description          string
	IdempotencyKey       string
}

type PayoutResult struct {
	PayoutID string
}

type PaymentIntentRequest struct {
	CustomerID     string
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// PayoutFailedError is a definitive refusal from the processor; the caller
// must run the refund compensation path.
type PayoutFailedError struct {
	Code    string
	Message string
}

func (e *PayoutFailedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payout failed: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("payout failed: %s", e.Message)
}

// Gateway is the thin, swappable surface over the external card processor.
// Implementations return typed success or failure, never partial state.
type Gateway interface {
	CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	CreateCustomer(ctx context.Context, email string) (string, error)
	CreateEphemeralKey(ctx context.Context, customerID string) (string, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
}
