package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"

	"bonsaipay/internal/config"
	"bonsaipay/internal/domain"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	discoveryPath      = "/.well-known/openid-configuration"
)

// Verifier checks Google-style ID tokens and turns them into identities.
// Signature lookup goes through the JWKS cache; issuer, audience and expiry
// checks are done by go-oidc.
type Verifier struct {
	issuer    string
	clientID  string
	clockSkew time.Duration
	jwks      *jwksCache
	now       func() time.Time
	verifier  *gooidc.IDTokenVerifier
}

type Option func(*Verifier)

func WithHTTPClient(client *http.Client) Option {
	return func(v *Verifier) {
		if client != nil {
			v.jwks.httpClient = client
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
			v.jwks.now = now
		}
	}
}

func NewVerifier(cfg config.Config, opts ...Option) (*Verifier, error) {
	issuer := strings.TrimSpace(cfg.OIDCIssuerURL)
	if issuer == "" {
		return nil, errors.New("OIDC_ISSUER_URL is required")
	}
	clientID := strings.TrimSpace(cfg.OIDCClientID)
	if clientID == "" {
		return nil, errors.New("OIDC_CLIENT_ID is required")
	}
	client := &http.Client{Timeout: defaultHTTPTimeout}

	var cache *jwksCache
	if path := strings.TrimSpace(cfg.OIDCJWKSFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read OIDC_JWKS_FILE: %w", err)
		}
		cache, err = newStaticJWKSCache(raw)
		if err != nil {
			return nil, fmt.Errorf("parse OIDC_JWKS_FILE: %w", err)
		}
	} else {
		jwksURL := strings.TrimSpace(cfg.OIDCJWKSURL)
		if jwksURL == "" {
			discovered, err := discoverJWKSURL(context.Background(), client, issuer)
			if err != nil {
				return nil, err
			}
			jwksURL = discovered
		}
		cache = newJWKSCache(jwksURL, client)
	}

	v := &Verifier{
		issuer:    issuer,
		clientID:  clientID,
		clockSkew: time.Duration(cfg.OIDCClockSkewSecs) * time.Second,
		jwks:      cache,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.verifier = gooidc.NewVerifier(issuer, v.jwks, &gooidc.Config{
		ClientID:             clientID,
		SupportedSigningAlgs: []string{gooidc.RS256},
		Now:                  v.skewedNow,
	})
	return v, nil
}

// skewedNow lets a token that expired within the skew window through.
func (v *Verifier) skewedNow() time.Time {
	return v.now().Add(-v.clockSkew)
}

type idClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
}

func (v *Verifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	if v == nil {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	raw := strings.TrimSpace(token)
	if raw == "" {
		return domain.Identity{}, domain.ErrEmptyToken
	}
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	email := strings.TrimSpace(claims.Email)
	if email == "" {
		return domain.Identity{}, fmt.Errorf("%w: token has no email claim", domain.ErrInvalidToken)
	}
	if claims.EmailVerified.set && !claims.EmailVerified.value {
		return domain.Identity{}, fmt.Errorf("%w: email not verified", domain.ErrInvalidToken)
	}
	return domain.Identity{
		Email:   email,
		Subject: idToken.Subject,
		Issuer:  idToken.Issuer,
	}, nil
}

// flexBool accepts both true and "true"; older Google tokens used strings.
type flexBool struct {
	set   bool
	value bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		*b = flexBool{set: true, value: asBool}
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return err
	}
	*b = flexBool{set: true, value: strings.EqualFold(asString, "true")}
	return nil
}

func discoverJWKSURL(ctx context.Context, client *http.Client, issuer string) (string, error) {
	base := strings.TrimRight(issuer, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+discoveryPath, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.New("oidc discovery failed")
	}
	var payload struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.JWKSURI == "" {
		return "", errors.New("oidc discovery missing jwks_uri")
	}
	return payload.JWKSURI, nil
}
