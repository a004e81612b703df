// Package repository declares the storage interfaces the services depend on.
//
// The interfaces are small and shaped by what the services need, not by the
// tables. The only concrete implementation lives in repository/sqldb; tests
// use in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/imagine/internal/model"
)

// ProfileRepository is the credit ledger.
//
// There is no "set balance" operation. Every mutation is a
// relative change executed as a single statement, so two requests for the
// same user can never overwrite each other's update.
type ProfileRepository interface {
	// GetProfile returns apperror.ErrNotFound when the user has no profile.
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)

	// Debit subtracts amount only if the balance covers it. It reports false
	// (and changes nothing) when the profile is missing or the balance is
	// too low.
	Debit(ctx context.Context, userID string, amount int) (bool, error)

	// Credit adds amount to an existing profile. Used for refunds.
	Credit(ctx context.Context, userID string, amount int) error

	// Grant adds amount, creating the profile first when it does not exist.
	// Returns the resulting profile.
	Grant(ctx context.Context, userID, email string, amount int) (*model.Profile, error)
}

// GenerationRepository stores generation attempts.
type GenerationRepository interface {
	CreateGeneration(ctx context.Context, gen *model.Generation) error
	GetGeneration(ctx context.Context, id string) (*model.Generation, error)

	// CompleteGeneration inserts the images and marks the generation
	// completed in one transaction, so an image row never points at a
	// generation that is not completed.
	CompleteGeneration(ctx context.Context, generationID string, images []model.Image) error

	// FailGeneration marks a pending generation failed with a message.
	FailGeneration(ctx context.Context, generationID, message string) error

	// ListStaleGenerations returns generations still pending that were
	// created before the cutoff.
	ListStaleGenerations(ctx context.Context, before time.Time) ([]model.Generation, error)
}

// ImageRepository reads and deletes images. Inserts go through
// GenerationRepository.CompleteGeneration.
type ImageRepository interface {
	// ListImages returns the user's images, newest first.
	ListImages(ctx context.Context, userID string) ([]model.ImageDetail, error)

	// GetImage returns apperror.ErrNotFound when the image does not exist or
	// belongs to someone else.
	GetImage(ctx context.Context, userID, imageID string) (*model.ImageDetail, error)

	// DeleteImage removes the image if the user owns it. Reports how many rows
	// were removed; zero is not an error.
	DeleteImage(ctx context.Context, userID, imageID string) (int64, error)
}
