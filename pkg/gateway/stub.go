package gateway

import (
	"context"

	"github.com/google/uuid"
)

// StubGateway is a no-op processor for development: every operation
// succeeds with a synthetic id.
type StubGateway struct{}

func (s *StubGateway) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	return &PayoutResult{PayoutID: "po_stub_" + uuid.NewString()}, nil
}

func (s *StubGateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	return "cus_stub_" + uuid.NewString(), nil
}

func (s *StubGateway) CreateEphemeralKey(ctx context.Context, customerID string) (string, error) {
	return "ek_stub_" + uuid.NewString(), nil
}

func (s *StubGateway) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	id := "pi_stub_" + uuid.NewString()
	return &PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
}
