package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/auth"
	"github.com/sakif/imagine/internal/model"
)

// ImageLibrary is the part of service.ImageService the handler calls.
type ImageLibrary interface {
	List(ctx context.Context, userID string) ([]model.ImageDetail, error)
	Get(ctx context.Context, userID, imageID string) (*model.ImageDetail, error)
	Delete(ctx context.Context, userID, imageID string) error
}

// ImageHandler serves the user's image library.
type ImageHandler struct {
	images ImageLibrary
	logger *slog.Logger
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(images ImageLibrary, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{images: images, logger: logger}
}

// HandleList returns the caller's images, newest first.
//
// HTTP: GET /api/images
// RESPONSE: {"images":[{"id":"...","image_url":"...","created_at":"...","generation":{...}}]}
func (h *ImageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Unauthorized"))
		return
	}

	images, err := h.images.List(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

// HandleGet returns one image.
//
// HTTP: GET /api/images/{id}
//
// URL PARAMETERS:
// chi.URLParam(r, "id") reads the {id} segment of the matched route pattern.
func (h *ImageHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Unauthorized"))
		return
	}

	img, err := h.images.Get(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"image": img})
}

// HandleDelete removes one image.
//
// HTTP: DELETE /api/images/{id}
// RESPONSE: {"success":true}, also when the image did not exist or belongs
// to another user.
func (h *ImageHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Unauthorized"))
		return
	}

	if err := h.images.Delete(r.Context(), id.UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
