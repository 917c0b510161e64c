package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeGateway talks to the Stripe REST API with form-encoded requests.
type StripeGateway struct {
	BaseURL   string
	SecretKey string
	client    *http.Client
}

func NewStripeGateway(secretKey string, timeout time.Duration) *StripeGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StripeGateway{
		BaseURL:   "https://api.stripe.com",
		SecretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePayout creates a payout on the user's connected account. Any
// non-2xx answer or transport error (including timeout) is reported as a
// PayoutFailedError so the caller runs the refund path.
func (g *StripeGateway) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	headers := map[string]string{
		"Stripe-Account":  req.DestinationAccountID,
		"Idempotency-Key": req.IdempotencyKey,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := g.post(ctx, "/v1/payouts", form, headers, &out); err != nil {
		return nil, err
	}
	return &PayoutResult{PayoutID: out.ID}, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	var out struct {
		ID string `json:"id"`
	}
	if err := g.post(ctx, "/v1/customers", form, nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (g *StripeGateway) CreateEphemeralKey(ctx context.Context, customerID string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	headers := map[string]string{"Stripe-Version": "2024-06-20"}
	var out struct {
		Secret string `json:"secret"`
	}
	if err := g.post(ctx, "/v1/ephemeral_keys", form, headers, &out); err != nil {
		return "", err
	}
	return out.Secret, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	if req.CustomerID != "" {
		form.Set("customer", req.CustomerID)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}
	var out struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := g.post(ctx, "/v1/payment_intents", form, headers, &out); err != nil {
		return nil, err
	}
	return &PaymentIntent{ID: out.ID, ClientSecret: out.ClientSecret}, nil
}

func (g *StripeGateway) post(ctx context.Context, path string, form url.Values, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		// Timeouts and transport failures count as definitive failures so
		// the caller never leaves a debited-but-unresolved state. Retries of
		// the same logical operation reuse the idempotency key.
		return &PayoutFailedError{Code: "transport_error", Message: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var se stripeError
		if jsonErr := json.Unmarshal(body, &se); jsonErr == nil && se.Error.Message != "" {
			return &PayoutFailedError{Code: se.Error.Code, Message: se.Error.Message}
		}
		return &PayoutFailedError{Code: strconv.Itoa(resp.StatusCode), Message: string(body)}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("stripe: decode response: %w", err)
		}
	}
	return nil
}
