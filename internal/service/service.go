// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services accept primitives and domain types, never *http.Request, so the
// same code serves the HTTP API and the CLI. They return *apperror.AppError
// values; the handler turns those into status codes.
//
// DEPENDENCY INJECTION:
// Every service takes interfaces (repository.ProfileRepository,
// inference.Generator, cache.CreditCache), not concrete types. Tests pass
// in-memory fakes; the composition root passes sqldb.DB, the Replicate
// client and Redis.
package service

import (
	"errors"

	"github.com/sakif/imagine/internal/apperror"
)

// storeError passes AppErrors through unchanged and wraps anything else as
// StoreUnavailable with a message that is safe to show the user.
func storeError(message string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.StoreUnavailable(message, err)
}
