// Package auth resolves the caller's identity from a session token issued by
// an external identity provider.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. The user signs in with the identity provider (Supabase Auth). Login,
//     registration and password storage all live there, not here.
//  2. The provider hands the browser a signed access token, which it sends
//     back as "Authorization: Bearer <jwt>" or in the session cookie.
//  3. RequireAuth extracts the token, resolves it to an Identity, and stores
//     that Identity in the request context.
//  4. Handlers read it with IdentityFromContext and pass the user ID down.
//
// TWO WAYS TO RESOLVE A TOKEN:
//   - TokenService verifies the JWT signature locally with the shared secret.
//     No network call, so this is the default whenever a secret is configured.
//   - RemoteResolver asks the provider (GET /auth/v1/user). Used when the
//     secret is not available to this service.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims → {"sub":"<user id>","email":"...","aud":"authenticated","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAudience is the "aud" claim Supabase puts on signed-in user tokens.
const DefaultAudience = "authenticated"

// TokenOptions configures which tokens a TokenService accepts.
// Empty Issuer or Audience disables that check.
type TokenOptions struct {
	Issuer   string
	Audience string
}

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret key used to sign and verify tokens. In production
// this is the identity provider's JWT secret, so tokens it issued verify here.
// Generate exists for development and tests (the "token" CLI command).
type TokenService struct {
	secret   []byte
	issuer   string
	audience string
}

var _ Resolver = (*TokenService)(nil)

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string, opts TokenOptions) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{
		secret:   []byte(secret),
		issuer:   opts.Issuer,
		audience: opts.Audience,
	}, nil
}

// claims is the JWT payload. It embeds jwt.RegisteredClaims which includes
// standard fields like Issuer, Subject, Audience, ExpiresAt, IssuedAt.
//
// "sub" carries the provider's user ID; "email" is a Supabase custom claim.
type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Generate creates and signs a one-hour access token, the same lifetime the
// identity provider uses.
func (s *TokenService) Generate(userID, email string) (string, error) {
	return s.GenerateWithDuration(userID, email, time.Hour)
}

// GenerateWithDuration creates a token with a custom expiry duration.
// A negative duration produces an already-expired token, which tests use.
func (s *TokenService) GenerateWithDuration(userID, email string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    s.issuer,
		},
		Email: email,
	}
	if s.audience != "" {
		c.Audience = jwt.ClaimStrings{s.audience}
	}

	// jwt.NewWithClaims creates an unsigned token with the given algorithm.
	// SignedString(key) signs it and returns the complete JWT string.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns the identity it
// carries.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired, and has an expiry at all
//   - Issuer and audience match, when configured
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
//
// ALGORITHM CONFUSION ATTACK:
// Without checking the algorithm, an attacker could send a token signed with
// "none" and the library might accept it. Passing jwt.WithValidMethods prevents this.
func (s *TokenService) Validate(tokenStr string) (*Identity, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(s.audience))
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		parserOpts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return &Identity{UserID: c.Subject, Email: c.Email}, nil
}

// Resolve implements Resolver. Local verification needs no context.
func (s *TokenService) Resolve(_ context.Context, token string) (*Identity, error) {
	return s.Validate(token)
}
