package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/auth"
)

// Balances is the part of service.CreditService the handler calls.
type Balances interface {
	Balance(ctx context.Context, userID string) (int, error)
}

// AccountHandler serves what the signed-in user knows about themselves:
// who they are and how many credits they have left.
type AccountHandler struct {
	credits Balances
	logger  *slog.Logger
}

func NewAccountHandler(credits Balances, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{credits: credits, logger: logger}
}

// HandleMe returns the resolved identity.
//
// HTTP: GET /api/me
// RESPONSE: {"id":"...","email":"..."}
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Unauthorized"))
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// HandleCredits returns the caller's balance.
//
// HTTP: GET /api/credits
// RESPONSE: {"credits":4}
func (h *AccountHandler) HandleCredits(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Unauthorized"))
		return
	}

	n, err := h.credits.Balance(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"credits": n})
}
