package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// ScopeClaims are the JWT claims accepted by JWTResolver. Scopes are carried
// space separated in the "scope" claim, as in OAuth 2.0 access tokens.
type ScopeClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// JWTResolver resolves HS256 signed tokens issued by an identity provider.
type JWTResolver struct {
	secret   []byte
	issuer   string
	audience string
	log      logr.Logger
}

// NewJWTResolver creates a resolver for tokens signed with secret. Empty
// issuer or audience disables that check.
func NewJWTResolver(secret []byte, issuer, audience string, log logr.Logger) (*JWTResolver, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTResolver{secret: secret, issuer: issuer, audience: audience, log: log}, nil
}

// Resolve validates the token and maps sub and scope to a principal.
func (r *JWTResolver) Resolve(_ context.Context, cred Credential) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	if r.audience != "" {
		opts = append(opts, jwt.WithAudience(r.audience))
	}

	claims := &ScopeClaims{}
	token, err := jwt.ParseWithClaims(cred.Token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		r.log.V(1).Info("Rejected bearer token", "reason", err)
		return Principal{}, &adkerrors.InvalidCredentialError{}
	}
	if claims.Subject == "" {
		return Principal{}, &adkerrors.InvalidCredentialError{}
	}

	return Principal{Identity: claims.Subject, Scopes: strings.Fields(claims.Scope)}, nil
}

// Issue signs a token for identity with scopes. It is used by the CLI to mint
// development tokens.
func (r *JWTResolver) Issue(identity string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ScopeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: strings.Join(scopes, " "),
	}
	if r.audience != "" {
		claims.Audience = jwt.ClaimStrings{r.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// ChainResolver tries each resolver in order and returns the first principal.
// It fails closed: when no resolver accepts the credential the result is
// InvalidCredentialError.
type ChainResolver []Resolver

// Resolve implements Resolver.
func (c ChainResolver) Resolve(ctx context.Context, cred Credential) (Principal, error) {
	for _, r := range c {
		p, err := r.Resolve(ctx, cred)
		if err == nil {
			return p, nil
		}
		var invalid *adkerrors.InvalidCredentialError
		if !errors.As(err, &invalid) {
			return Principal{}, err
		}
	}
	return Principal{}, &adkerrors.InvalidCredentialError{}
}
