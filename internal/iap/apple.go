package iap

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"bursar/internal/clock"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoTrustedRoots = errors.New("no trusted apple root certificates configured")
	ErrBadCertChain   = errors.New("certificate chain verification failed")
)

// AppleTransaction is the decoded, signature-verified payload of a signed
// App Store transaction.
type AppleTransaction struct {
	TransactionID         string
	OriginalTransactionID string
	BundleID              string
	ProductID             string
	Environment           string
	AppAccountToken       string
	PurchasedAt           time.Time
	RevokedAt             *time.Time
	RevocationReason      string
	Quantity              int
}

// AppleNotification is a decoded App Store Server Notification (V2).
type AppleNotification struct {
	Type        string
	Subtype     string
	UUID        string
	Environment string
	Transaction *AppleTransaction
}

type appleTransactionClaims struct {
	jwt.RegisteredClaims
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	Environment           string `json:"environment"`
	AppAccountToken       string `json:"appAccountToken"`
	PurchaseDateMillis    int64  `json:"purchaseDate"`
	RevocationDateMillis  int64  `json:"revocationDate"`
	RevocationReason      *int   `json:"revocationReason"`
	Quantity              int    `json:"quantity"`
}

type appleNotificationClaims struct {
	jwt.RegisteredClaims
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Data             struct {
		BundleID              string `json:"bundleId"`
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	} `json:"data"`
}

// AppleVerifier checks App Store JWS payloads: the x5c chain must terminate
// at one of the configured Apple root certificates and every certificate
// must be inside its validity window. No roots means nothing verifies.
type AppleVerifier struct {
	bundleID    string
	environment string
	roots       []*x509.Certificate
	clk         clock.Clock
}

func NewAppleVerifier(bundleID, environment, rootCertsPath string, clk clock.Clock) (*AppleVerifier, error) {
	var roots []*x509.Certificate
	if rootCertsPath != "" {
		data, err := os.ReadFile(rootCertsPath)
		if err != nil {
			return nil, fmt.Errorf("read apple root certs: %w", err)
		}
		roots, err = parsePEMCerts(data)
		if err != nil {
			return nil, err
		}
	}
	return NewAppleVerifierWithRoots(bundleID, environment, roots, clk), nil
}

func NewAppleVerifierWithRoots(bundleID, environment string, roots []*x509.Certificate, clk clock.Clock) *AppleVerifier {
	return &AppleVerifier{bundleID: bundleID, environment: environment, roots: roots, clk: clk}
}

// VerifyTransaction validates the JWS signature and chain of a signed
// transaction and decodes its payload. Claim checks against the configured
// bundle id and environment are left to the caller.
func (v *AppleVerifier) VerifyTransaction(signedTransaction string) (*AppleTransaction, error) {
	claims := &appleTransactionClaims{}
	if err := v.parse(signedTransaction, claims); err != nil {
		return nil, err
	}
	tx := &AppleTransaction{
		TransactionID:         claims.TransactionID,
		OriginalTransactionID: claims.OriginalTransactionID,
		BundleID:              claims.BundleID,
		ProductID:             claims.ProductID,
		Environment:           claims.Environment,
		AppAccountToken:       claims.AppAccountToken,
		Quantity:              claims.Quantity,
	}
	if claims.PurchaseDateMillis > 0 {
		tx.PurchasedAt = time.UnixMilli(claims.PurchaseDateMillis).UTC()
	}
	if claims.RevocationDateMillis > 0 {
		t := time.UnixMilli(claims.RevocationDateMillis).UTC()
		tx.RevokedAt = &t
	}
	if claims.RevocationReason != nil {
		tx.RevocationReason = fmt.Sprintf("apple_reason_%d", *claims.RevocationReason)
	}
	return tx, nil
}

// VerifyNotification validates and decodes a server notification payload.
// The inner signedTransactionInfo, when present, is verified independently
// with its own chain.
func (v *AppleVerifier) VerifyNotification(signedPayload string) (*AppleNotification, error) {
	claims := &appleNotificationClaims{}
	if err := v.parse(signedPayload, claims); err != nil {
		return nil, err
	}
	n := &AppleNotification{
		Type:        claims.NotificationType,
		Subtype:     claims.Subtype,
		UUID:        claims.NotificationUUID,
		Environment: claims.Data.Environment,
	}
	if claims.Data.SignedTransactionInfo != "" {
		tx, err := v.VerifyTransaction(claims.Data.SignedTransactionInfo)
		if err != nil {
			return nil, fmt.Errorf("inner transaction: %w", err)
		}
		n.Transaction = tx
	}
	return n, nil
}

func (v *AppleVerifier) BundleID() string    { return v.bundleID }
func (v *AppleVerifier) Environment() string { return v.environment }

func (v *AppleVerifier) parse(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"ES256"}),
		// Apple payloads carry no exp claim; expiry is enforced on the
		// certificate chain instead.
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("verify signed payload: %w", err)
	}
	return nil
}

// keyFunc extracts the x5c header, validates the chain against the trusted
// roots and returns the leaf's ECDSA key for signature verification.
func (v *AppleVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if len(v.roots) == 0 {
		return nil, ErrNoTrustedRoots
	}
	raw, ok := token.Header["x5c"].([]interface{})
	if !ok || len(raw) < 2 {
		return nil, fmt.Errorf("%w: missing or short x5c header", ErrBadCertChain)
	}
	chain := make([]*x509.Certificate, 0, len(raw))
	for i, entry := range raw {
		s, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("%w: x5c[%d] is not a string", ErrBadCertChain, i)
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c[%d]: %v", ErrBadCertChain, i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c[%d]: %v", ErrBadCertChain, i, err)
		}
		chain = append(chain, cert)
	}

	now := v.clk.Now()
	for i, cert := range chain {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return nil, fmt.Errorf("%w: x5c[%d] outside validity window", ErrBadCertChain, i)
		}
	}
	for i := 0; i < len(chain)-1; i++ {
		if err := chain[i].CheckSignatureFrom(chain[i+1]); err != nil {
			return nil, fmt.Errorf("%w: x5c[%d] not signed by x5c[%d]: %v", ErrBadCertChain, i, i+1, err)
		}
	}
	anchor := chain[len(chain)-1]
	if !v.isTrustedRoot(anchor) {
		return nil, fmt.Errorf("%w: chain does not terminate at a trusted root", ErrBadCertChain)
	}
	key, ok := chain[0].PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf key is not ECDSA", ErrBadCertChain)
	}
	return key, nil
}

func (v *AppleVerifier) isTrustedRoot(cert *x509.Certificate) bool {
	for _, root := range v.roots {
		if cert.Equal(root) {
			return true
		}
	}
	return false
}

func parsePEMCerts(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse root certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in root bundle")
	}
	return certs, nil
}
