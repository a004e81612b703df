package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// DefaultCookieName is the cookie Supabase's browser helpers store the
// access token in.
const DefaultCookieName = "sb-access-token"

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the token (see extractToken), resolves it to an Identity and
// stores that in the request context. If the token is missing or cannot be
// resolved, it returns 401 Unauthorized and stops the request chain.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware is a function that takes an http.Handler and returns a new
// http.Handler. The new handler "wraps" the original:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... do stuff before the handler ...
//	        next.ServeHTTP(w, r)
//	        // ... do stuff after the handler ...
//	    })
//	}
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(resolver Resolver, cookieName string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r, cookieName)
			if token == "" {
				unauthorized(w)
				return
			}

			id, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				logger.Debug("token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// extractToken reads the bearer token from the Authorization header, falling
// back to the session cookie. API clients use the header; the browser sends
// the cookie automatically.
func extractToken(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	if cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		// http.ErrNoCookie: anonymous request
		return ""
	}
	return cookie.Value
}

// unauthorized writes the same error body the handlers use.
func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"Unauthorized","code":"unauthorized"}` + "\n"))
}
