package iap

import (
	"context"
	"fmt"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"
)

// GooglePurchase is the verified state of a Play one-time product purchase.
type GooglePurchase struct {
	OrderID              string
	PurchaseState        int64 // 0 purchased, 1 canceled, 2 pending
	AcknowledgementState int64 // 0 yet to be acknowledged, 1 acknowledged
	ObfuscatedAccountID  string
	PurchaseTimeMillis   int64
}

const (
	GooglePurchaseStatePurchased = 0
	GooglePurchaseStateCanceled  = 1
	GooglePurchaseStatePending   = 2
)

// GoogleVerifier confirms purchase tokens against the Play Developer API.
type GoogleVerifier struct {
	svc         *androidpublisher.Service
	packageName string
}

func NewGoogleVerifier(ctx context.Context, packageName, credentialsJSON string) (*GoogleVerifier, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create androidpublisher client: %w", err)
	}
	return &GoogleVerifier{svc: svc, packageName: packageName}, nil
}

func (v *GoogleVerifier) PackageName() string { return v.packageName }

// VerifyProduct fetches the purchase record for a token. A token Google has
// never seen comes back as an API error, not a zero-state purchase.
func (v *GoogleVerifier) VerifyProduct(ctx context.Context, productID, purchaseToken string) (*GooglePurchase, error) {
	p, err := v.svc.Purchases.Products.Get(v.packageName, productID, purchaseToken).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("purchases.products.get: %w", err)
	}
	return &GooglePurchase{
		OrderID:              p.OrderId,
		PurchaseState:        p.PurchaseState,
		AcknowledgementState: p.AcknowledgementState,
		ObfuscatedAccountID:  p.ObfuscatedExternalAccountId,
		PurchaseTimeMillis:   p.PurchaseTimeMillis,
	}, nil
}

// Acknowledge tells Play the purchase was granted. Unacknowledged purchases
// are auto-refunded after three days, so callers retry this best-effort.
func (v *GoogleVerifier) Acknowledge(ctx context.Context, productID, purchaseToken string) error {
	req := &androidpublisher.ProductPurchasesAcknowledgeRequest{}
	err := v.svc.Purchases.Products.Acknowledge(v.packageName, productID, purchaseToken, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("purchases.products.acknowledge: %w", err)
	}
	return nil
}

// GoogleTransactionID derives the stable transaction identity for a
// purchase: the Play order id when present, otherwise a product-scoped
// prefix of the token (tokens are long-lived and unique per purchase).
func GoogleTransactionID(productID, purchaseToken, orderID string) string {
	if orderID != "" {
		return orderID
	}
	token := purchaseToken
	if len(token) > 16 {
		token = token[:16]
	}
	return productID + ":" + token
}
