package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/auth"
	"github.com/sakif/imagine/internal/cache"
	"github.com/sakif/imagine/internal/model"
	"github.com/sakif/imagine/internal/service"
)

// IdempotencyHeader is the optional request header that deduplicates
// generation requests.
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from the idempotency store.
const ReplayedHeader = "Idempotent-Replayed"

const maxIdempotencyKeyLength = 255

// Generator is the part of service.GenerationService the handler calls.
// Tests substitute a fake.
type Generator interface {
	Generate(ctx context.Context, userID string, in service.GenerateInput) (*service.GenerateResult, error)
}

// GenerateHandler serves POST /api/generate.
type GenerateHandler struct {
	generator   Generator
	idempotency cache.IdempotencyStore // nil disables Idempotency-Key handling
	logger      *slog.Logger
}

// NewGenerateHandler creates a GenerateHandler. A nil store means the
// Idempotency-Key header is ignored.
func NewGenerateHandler(generator Generator, idempotency cache.IdempotencyStore, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{generator: generator, idempotency: idempotency, logger: logger}
}

// GenerateRequest is the JSON body of POST /api/generate.
type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
	NumOutputs  int    `json:"numOutputs"`
	HDR         bool   `json:"hdr"`
}

// GenerateResponse is the success body.
type GenerateResponse struct {
	Images []string `json:"images"`
}

// HandleGenerate spends a credit and returns the generated image URLs.
//
// HTTP: POST /api/generate
// REQUEST BODY: {"prompt":"a red fox","aspectRatio":"16:9","numOutputs":2,"hdr":false}
// RESPONSE:     {"images":["https://...","https://..."]}
//
// IDEMPOTENCY:
// With an Idempotency-Key header, the first request claims the key and its
// response is stored. A repeat replays that response without spending
// another credit; a repeat while the first is still running gets 409.
// Reusing the key with a different body gets 422.
// Server errors release the key so the client can retry.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Unauthorized"))
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "Invalid JSON body"))
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" || h.idempotency == nil {
		status, body := h.generate(r.Context(), id.UserID, req)
		writeJSON(w, status, body)
		return
	}
	if len(key) > maxIdempotencyKeyLength {
		writeError(w, apperror.ValidationFailed("Idempotency-Key", "Idempotency-Key is too long"))
		return
	}

	fp := req.fingerprint()
	stored, err := h.idempotency.Begin(r.Context(), id.UserID, key, fp)
	switch {
	case errors.Is(err, cache.ErrFingerprintMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "Idempotency-Key was already used with a different request",
			Code:  "idempotency_key_reused",
		})
		return
	case errors.Is(err, cache.ErrInFlight):
		writeError(w, &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "A request with this Idempotency-Key is already in progress",
		})
		return
	case err != nil:
		// Without the store we cannot deduplicate, but the request itself
		// is still valid: run it unprotected rather than refuse it.
		h.logger.Warn("idempotency store unavailable",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		status, body := h.generate(r.Context(), id.UserID, req)
		writeJSON(w, status, body)
		return
	case stored != nil:
		w.Header().Set(ReplayedHeader, "true")
		writeRaw(w, stored.Status, stored.Body)
		return
	}

	status, body := h.generate(r.Context(), id.UserID, req)
	raw, err := json.Marshal(body)
	if err != nil {
		h.release(r.Context(), id.UserID, key)
		writeError(w, err)
		return
	}

	// The client may already be gone; the outcome must be recorded anyway.
	ctx := context.WithoutCancel(r.Context())
	if status >= http.StatusInternalServerError {
		h.release(ctx, id.UserID, key)
	} else if err := h.idempotency.Complete(ctx, id.UserID, key, cache.StoredResponse{
		Status:      status,
		Body:        raw,
		Fingerprint: fp,
	}); err != nil {
		h.logger.Error("failed to store idempotent response",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
	}

	writeRaw(w, status, raw)
}

// fingerprint identifies the request for Idempotency-Key reuse checks. It
// hashes the decoded fields, so formatting and key order do not matter.
func (req GenerateRequest) fingerprint() string {
	data, _ := json.Marshal(req) // plain struct, cannot fail
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// generate runs the workflow. It returns the status and body to send, so
// the caller can store them before writing.
func (h *GenerateHandler) generate(ctx context.Context, userID string, req GenerateRequest) (int, any) {
	res, err := h.generator.Generate(ctx, userID, service.GenerateInput{
		Prompt: req.Prompt,
		Settings: model.Settings{
			AspectRatio: req.AspectRatio,
			NumOutputs:  req.NumOutputs,
			HDR:         req.HDR,
		},
	})
	if err != nil {
		status, body := errorBody(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("generation request failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		return status, body
	}

	return http.StatusOK, GenerateResponse{Images: res.Images}
}

func (h *GenerateHandler) release(ctx context.Context, userID, key string) {
	if err := h.idempotency.Release(ctx, userID, key); err != nil {
		h.logger.Error("failed to release idempotency key",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// writeRaw sends an already-encoded JSON body.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
	w.Write([]byte("\n"))
}
