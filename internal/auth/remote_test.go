package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newProviderServer fakes the identity provider's /auth/v1/user endpoint.
// Only "good-token" with the right anon key resolves.
func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("apikey") != "anon-key" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"msg":"no api key"}`))
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"user-42","email":"grace@example.com","aud":"authenticated","role":"authenticated"}`))
		case "Bearer broken-provider":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"msg":"invalid JWT"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteResolver_Resolve(t *testing.T) {
	srv := newProviderServer(t)
	r := NewRemoteResolver(srv.URL+"/", "anon-key", srv.Client())

	id, err := r.Resolve(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.UserID != "user-42" || id.Email != "grace@example.com" {
		t.Errorf("Resolve() = %+v", id)
	}
}

func TestRemoteResolver_RejectedToken(t *testing.T) {
	srv := newProviderServer(t)
	r := NewRemoteResolver(srv.URL, "anon-key", srv.Client())

	_, err := r.Resolve(context.Background(), "stolen-token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Resolve() error = %v, want ErrInvalidToken", err)
	}
}

func TestRemoteResolver_ProviderFailure(t *testing.T) {
	srv := newProviderServer(t)
	r := NewRemoteResolver(srv.URL, "anon-key", srv.Client())

	_, err := r.Resolve(context.Background(), "broken-provider")
	if err == nil {
		t.Fatal("Resolve() should fail when the provider errors")
	}
	if errors.Is(err, ErrInvalidToken) {
		t.Errorf("provider outage should not look like a bad token: %v", err)
	}
}

func TestRemoteResolver_Unreachable(t *testing.T) {
	srv := newProviderServer(t)
	url := srv.URL
	srv.Close()

	r := NewRemoteResolver(url, "anon-key", nil)
	if _, err := r.Resolve(context.Background(), "good-token"); err == nil {
		t.Fatal("Resolve() should fail when the provider is unreachable")
	}
}
