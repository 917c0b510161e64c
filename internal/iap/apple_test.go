package iap

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"bursar/internal/clock"

	"github.com/golang-jwt/jwt/v5"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type testChain struct {
	rootCert *x509.Certificate
	leafKey  *ecdsa.PrivateKey
	x5c      []interface{} // leaf, intermediate, root (DER, base64)
}

// newTestChain builds root -> intermediate -> leaf, all valid around testNow.
func newTestChain(t *testing.T) *testChain {
	t.Helper()
	rootKey := genKey(t)
	interKey := genKey(t)
	leafKey := genKey(t)

	rootTmpl := caTemplate(1, "Test Root CA")
	rootDER := signCert(t, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	rootCert := parseDER(t, rootDER)

	interTmpl := caTemplate(2, "Test Intermediate CA")
	interDER := signCert(t, interTmpl, rootCert, &interKey.PublicKey, rootKey)
	interCert := parseDER(t, interDER)

	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "Test Signing Leaf"},
		NotBefore:    testNow.Add(-24 * time.Hour),
		NotAfter:     testNow.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER := signCert(t, leafTmpl, interCert, &leafKey.PublicKey, interKey)

	return &testChain{
		rootCert: rootCert,
		leafKey:  leafKey,
		x5c: []interface{}{
			base64.StdEncoding.EncodeToString(leafDER),
			base64.StdEncoding.EncodeToString(interDER),
			base64.StdEncoding.EncodeToString(rootDER),
		},
	}
}

func genKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func caTemplate(serial int64, cn string) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             testNow.Add(-24 * time.Hour),
		NotAfter:              testNow.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
}

func signCert(t *testing.T, tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return der
}

func parseDER(t *testing.T, der []byte) *x509.Certificate {
	t.Helper()
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

func signJWS(t *testing.T, chain *testChain, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = chain.x5c
	signed, err := token.SignedString(chain.leafKey)
	if err != nil {
		t.Fatalf("sign jws: %v", err)
	}
	return signed
}

func newVerifier(chain *testChain) *AppleVerifier {
	return NewAppleVerifierWithRoots("com.example.app", "Production",
		[]*x509.Certificate{chain.rootCert}, clock.Fixed{T: testNow})
}

func TestVerifyTransactionValidChain(t *testing.T) {
	chain := newTestChain(t)
	v := newVerifier(chain)

	signed := signJWS(t, chain, jwt.MapClaims{
		"transactionId":         "1000000999",
		"originalTransactionId": "1000000999",
		"bundleId":              "com.example.app",
		"productId":             "coins_500",
		"environment":           "Production",
		"purchaseDate":          testNow.Add(-time.Hour).UnixMilli(),
		"quantity":              1,
	})
	tx, err := v.VerifyTransaction(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tx.TransactionID != "1000000999" || tx.ProductID != "coins_500" || tx.BundleID != "com.example.app" {
		t.Fatalf("decoded %+v", tx)
	}
	if tx.RevokedAt != nil {
		t.Fatalf("unexpected revocation: %v", tx.RevokedAt)
	}
	if !tx.PurchasedAt.Equal(testNow.Add(-time.Hour)) {
		t.Fatalf("purchase date = %v", tx.PurchasedAt)
	}
}

func TestVerifyTransactionDecodesRevocation(t *testing.T) {
	chain := newTestChain(t)
	v := newVerifier(chain)
	revokedAt := testNow.Add(-30 * time.Minute)

	signed := signJWS(t, chain, jwt.MapClaims{
		"transactionId":    "1000001000",
		"bundleId":         "com.example.app",
		"productId":        "coins_500",
		"environment":      "Production",
		"revocationDate":   revokedAt.UnixMilli(),
		"revocationReason": 0,
	})
	tx, err := v.VerifyTransaction(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tx.RevokedAt == nil || !tx.RevokedAt.Equal(revokedAt) {
		t.Fatalf("revoked at = %v, want %v", tx.RevokedAt, revokedAt)
	}
	if tx.RevocationReason != "apple_reason_0" {
		t.Fatalf("reason = %s", tx.RevocationReason)
	}
}

func TestVerifyTransactionUntrustedRoot(t *testing.T) {
	signingChain := newTestChain(t)
	otherChain := newTestChain(t)
	// Verifier trusts a different root than the one that signed.
	v := newVerifier(otherChain)

	signed := signJWS(t, signingChain, jwt.MapClaims{"transactionId": "1"})
	if _, err := v.VerifyTransaction(signed); err == nil {
		t.Fatalf("chain with untrusted root accepted")
	}
}

func TestVerifyTransactionNoRootsFailsClosed(t *testing.T) {
	chain := newTestChain(t)
	v := NewAppleVerifierWithRoots("com.example.app", "Production", nil, clock.Fixed{T: testNow})

	signed := signJWS(t, chain, jwt.MapClaims{"transactionId": "1"})
	if _, err := v.VerifyTransaction(signed); err == nil {
		t.Fatalf("verification without configured roots must fail")
	}
}

func TestVerifyTransactionExpiredCertificate(t *testing.T) {
	chain := newTestChain(t)
	// Two days past NotAfter.
	v := NewAppleVerifierWithRoots("com.example.app", "Production",
		[]*x509.Certificate{chain.rootCert}, clock.Fixed{T: testNow.Add(72 * time.Hour)})

	signed := signJWS(t, chain, jwt.MapClaims{"transactionId": "1"})
	if _, err := v.VerifyTransaction(signed); err == nil {
		t.Fatalf("expired chain accepted")
	}
}

func TestVerifyTransactionMissingChain(t *testing.T) {
	chain := newTestChain(t)
	v := newVerifier(chain)

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{"transactionId": "1"})
	signed, err := token.SignedString(chain.leafKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.VerifyTransaction(signed); err == nil {
		t.Fatalf("jws without x5c accepted")
	}
}

func TestVerifyTransactionRejectsHMAC(t *testing.T) {
	chain := newTestChain(t)
	v := newVerifier(chain)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"transactionId": "1"})
	token.Header["x5c"] = chain.x5c
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.VerifyTransaction(signed); err == nil {
		t.Fatalf("HS256 token accepted")
	}
}

func TestVerifyNotificationWithInnerTransaction(t *testing.T) {
	chain := newTestChain(t)
	v := newVerifier(chain)

	inner := signJWS(t, chain, jwt.MapClaims{
		"transactionId": "1000001001",
		"bundleId":      "com.example.app",
		"productId":     "coins_500",
		"environment":   "Production",
	})
	outer := signJWS(t, chain, jwt.MapClaims{
		"notificationType": "REFUND",
		"notificationUUID": "e5a4f0b2-0000-4000-8000-000000000001",
		"data": map[string]interface{}{
			"bundleId":              "com.example.app",
			"environment":           "Production",
			"signedTransactionInfo": inner,
		},
	})
	n, err := v.VerifyNotification(outer)
	if err != nil {
		t.Fatalf("verify notification: %v", err)
	}
	if n.Type != "REFUND" || n.UUID != "e5a4f0b2-0000-4000-8000-000000000001" {
		t.Fatalf("decoded %+v", n)
	}
	if n.Transaction == nil || n.Transaction.TransactionID != "1000001001" {
		t.Fatalf("inner transaction = %+v", n.Transaction)
	}
}
