package oidc

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bonsaipay/internal/config"
	"bonsaipay/internal/domain"
)

const (
	testJWKSURL  = "https://jwks.test/keys"
	testClientID = "client-1.apps.googleusercontent.com"
	googleIssuer = "https://accounts.google.com"
)

func newTestVerifier(t *testing.T, key *rsa.PrivateKey) *Verifier {
	t.Helper()
	jwks := buildJWKS(t, &key.PublicKey, "kid-1")
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.String() == testJWKSURL {
				return jsonResponse(http.StatusOK, jwks), nil
			}
			return jsonResponse(http.StatusNotFound, `{}`), nil
		}),
	}
	cfg := config.Config{
		OIDCIssuerURL:     googleIssuer,
		OIDCClientID:      testClientID,
		OIDCJWKSURL:       testJWKSURL,
		OIDCClockSkewSecs: 0,
	}
	v, err := NewVerifier(cfg, WithHTTPClient(client))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func validClaims(now time.Time) map[string]any {
	return map[string]any{
		"iss":            googleIssuer,
		"aud":            testClientID,
		"sub":            "1234567890",
		"email":          "alice@example.com",
		"email_verified": true,
		"iat":            now.Add(-time.Minute).Unix(),
		"exp":            now.Add(5 * time.Minute).Unix(),
	}
}

func TestVerify_ValidToken(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v := newTestVerifier(t, privKey)
	token := signToken(t, privKey, "kid-1", validClaims(time.Now()))

	first, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if first.Email != "alice@example.com" {
		t.Fatalf("unexpected email: %s", first.Email)
	}
	if first.Subject != "1234567890" {
		t.Fatalf("unexpected subject: %s", first.Subject)
	}

	second, err := v.Verify(context.Background(), "  "+token+"\n")
	if err != nil {
		t.Fatalf("verify again: %v", err)
	}
	if second != first {
		t.Fatalf("identity not stable across calls: %+v vs %+v", first, second)
	}
}

func TestVerify_SchemelessGoogleIssuer(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v := newTestVerifier(t, privKey)
	claims := validClaims(time.Now())
	claims["iss"] = "accounts.google.com"
	claims["email_verified"] = "true"

	if _, err := v.Verify(context.Background(), signToken(t, privKey, "kid-1", claims)); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerify_EmptyToken(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v := newTestVerifier(t, privKey)
	for _, token := range []string{"", "   "} {
		if _, err := v.Verify(context.Background(), token); !errors.Is(err, domain.ErrEmptyToken) {
			t.Fatalf("expected ErrEmptyToken, got %v", err)
		}
	}
}

func TestVerify_InvalidTokens(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v := newTestVerifier(t, privKey)
	now := time.Now()

	with := func(mutate func(map[string]any)) map[string]any {
		c := validClaims(now)
		mutate(c)
		return c
	}
	cases := []struct {
		name  string
		key   *rsa.PrivateKey
		kid   string
		claim map[string]any
	}{
		{name: "expired", claim: with(func(c map[string]any) { c["exp"] = now.Add(-5 * time.Minute).Unix() })},
		{name: "wrong issuer", claim: with(func(c map[string]any) { c["iss"] = "https://wrong" })},
		{name: "wrong audience", claim: with(func(c map[string]any) { c["aud"] = "wrong" })},
		{name: "missing email", claim: with(func(c map[string]any) { delete(c, "email") })},
		{name: "unverified email", claim: with(func(c map[string]any) { c["email_verified"] = false })},
		{name: "signed by other key", key: otherKey, claim: validClaims(now)},
		{name: "unknown kid", kid: "kid-9", claim: validClaims(now)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key := tc.key
			if key == nil {
				key = privKey
			}
			kid := tc.kid
			if kid == "" {
				kid = "kid-1"
			}
			_, err := v.Verify(context.Background(), signToken(t, key, kid, tc.claim))
			if !errors.Is(err, domain.ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	if _, err := v.Verify(context.Background(), "not.a.jwt"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestVerify_ClockSkew(t *testing.T) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksFile := filepath.Join(t.TempDir(), "jwks.json")
	if err := os.WriteFile(jwksFile, []byte(buildJWKS(t, &privKey.PublicKey, "kid-1")), 0o600); err != nil {
		t.Fatalf("write jwks: %v", err)
	}
	now := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	cfg := config.Config{
		OIDCIssuerURL:     googleIssuer,
		OIDCClientID:      testClientID,
		OIDCJWKSFile:      jwksFile,
		OIDCClockSkewSecs: 60,
	}
	v, err := NewVerifier(cfg, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims := validClaims(now)
	claims["exp"] = now.Add(-30 * time.Second).Unix()
	if _, err := v.Verify(context.Background(), signToken(t, privKey, "kid-1", claims)); err != nil {
		t.Fatalf("expected token within skew to verify: %v", err)
	}
	claims["exp"] = now.Add(-2 * time.Minute).Unix()
	if _, err := v.Verify(context.Background(), signToken(t, privKey, "kid-1", claims)); err == nil {
		t.Fatal("expected token beyond skew to fail")
	}
}

func TestNewVerifier_RequiresClientID(t *testing.T) {
	_, err := NewVerifier(config.Config{OIDCIssuerURL: googleIssuer, OIDCJWKSURL: testJWKSURL})
	if err == nil {
		t.Fatal("expected error without client id")
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func buildJWKS(t *testing.T, key *rsa.PublicKey, kid string) string {
	t.Helper()
	n := base64.RawURLEncoding.EncodeToString(key.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(bigIntToBytes(key.E))
	payload := map[string]any{
		"keys": []map[string]any{
			{"kty": "RSA", "kid": kid, "alg": "RS256", "use": "sig", "n": n, "e": e},
		},
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return string(out)
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims map[string]any) string {
	t.Helper()
	headerBytes, err := json.Marshal(map[string]any{"alg": "RS256", "typ": "JWT", "kid": kid})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	claimsBytes, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	signingInput := base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(claimsBytes)
	hash := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func bigIntToBytes(value int) []byte {
	out := []byte{}
	for v := value; v > 0; v >>= 8 {
		out = append([]byte{byte(v & 0xff)}, out...)
	}
	if len(out) == 0 {
		return []byte{0}
	}
	return out
}
