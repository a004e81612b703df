package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteResolver validates tokens by asking the identity provider who they
// belong to: GET {baseURL}/auth/v1/user with the token as bearer and the
// project's anon key as "apikey".
//
// This costs one round trip per request, so it is only used when the JWT
// secret is not configured and TokenService cannot verify tokens locally.
type RemoteResolver struct {
	baseURL string
	anonKey string
	client  *http.Client
}

var _ Resolver = (*RemoteResolver)(nil)

// NewRemoteResolver creates a resolver for the provider at baseURL
// (e.g. "https://xyzcompany.supabase.co"). A nil client gets a 10s timeout.
func NewRemoteResolver(baseURL, anonKey string, client *http.Client) *RemoteResolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  client,
	}
}

// remoteUser is the subset of the provider's user object we read.
type remoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Resolve implements Resolver.
//
// 401 and 403 from the provider mean the token is bad and map to
// ErrInvalidToken. Any other failure is reported as-is.
func (r *RemoteResolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", r.anonKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling identity provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: rejected by identity provider", ErrInvalidToken)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("auth: identity provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var u remoteUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("auth: decoding user: %w", err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("%w: provider returned no user id", ErrInvalidToken)
	}

	return &Identity{UserID: u.ID, Email: u.Email}, nil
}
