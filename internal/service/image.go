package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/model"
	"github.com/sakif/imagine/internal/repository"
)

// ImageService lists, fetches and deletes a user's images.
//
// OWNERSHIP:
// Every repository call carries the user ID and filters on it in SQL. There
// is no "load, then check owner" step, so another user's image is simply
// invisible: Get reports NotFound and Delete removes nothing.
type ImageService struct {
	images repository.ImageRepository
	logger *slog.Logger
}

func NewImageService(images repository.ImageRepository, logger *slog.Logger) *ImageService {
	return &ImageService{images: images, logger: logger}
}

// List returns the user's images, newest first. Never nil.
func (s *ImageService) List(ctx context.Context, userID string) ([]model.ImageDetail, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("Unauthorized")
	}

	images, err := s.images.ListImages(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list images",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, storeError("Failed to fetch images", err)
	}
	if images == nil {
		images = []model.ImageDetail{}
	}
	return images, nil
}

// Get returns one image the user owns.
func (s *ImageService) Get(ctx context.Context, userID, imageID string) (*model.ImageDetail, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("Unauthorized")
	}
	imageID = strings.TrimSpace(imageID)
	if imageID == "" {
		return nil, apperror.ValidationFailed("id", "Image ID is required")
	}

	img, err := s.images.GetImage(ctx, userID, imageID)
	if err != nil {
		return nil, storeError("Failed to fetch image", err)
	}
	return img, nil
}

// Delete removes the image if the user owns it. Deleting an image that is
// missing or not owned succeeds without doing anything; the caller cannot
// learn which IDs exist.
func (s *ImageService) Delete(ctx context.Context, userID, imageID string) error {
	if userID == "" {
		return apperror.Unauthorized("Unauthorized")
	}
	imageID = strings.TrimSpace(imageID)
	if imageID == "" {
		return apperror.ValidationFailed("id", "Image ID is required")
	}

	n, err := s.images.DeleteImage(ctx, userID, imageID)
	if err != nil {
		s.logger.Error("failed to delete image",
			slog.String("image_id", imageID),
			slog.String("error", err.Error()),
		)
		return storeError("Failed to delete image", err)
	}

	s.logger.Info("image delete",
		slog.String("image_id", imageID),
		slog.String("user_id", userID),
		slog.Int64("deleted", n),
	)
	return nil
}
