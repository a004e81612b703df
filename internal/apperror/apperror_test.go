package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	storeErr := errors.New("connection refused")

	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("image", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("prompt", "Prompt is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "InsufficientCredits wraps ErrInsufficientCredits",
			err:       InsufficientCredits(),
			target:    ErrInsufficientCredits,
			wantMatch: true,
		},
		{
			name:      "GenerationFailed wraps ErrGenerationFailed",
			err:       GenerationFailed(errors.New("model exploded")),
			target:    ErrGenerationFailed,
			wantMatch: true,
		},
		{
			name:      "StoreUnavailable matches its cause too",
			err:       StoreUnavailable("Failed to fetch images", storeErr),
			target:    storeErr,
			wantMatch: true,
		},
		{
			name:      "wrapped Unauthorized still matches",
			err:       fmt.Errorf("resolving caller: %w", Unauthorized("Unauthorized")),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("image", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "InsufficientCredits does NOT match ErrValidation",
			err:       InsufficientCredits(),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("image", "abc123"),
			wantMessage: "image not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("prompt", "Prompt is required"),
			wantMessage: "Prompt is required",
		},
		{
			name:        "InsufficientCredits has a fixed message",
			err:         InsufficientCredits(),
			wantMessage: "Insufficient credits",
		},
		{
			name:        "GenerationFailed surfaces the cause",
			err:         GenerationFailed(errors.New("prediction failed: NSFW content detected")),
			wantMessage: "prediction failed: NSFW content detected",
		},
		{
			name:        "GenerationFailed without cause falls back",
			err:         GenerationFailed(nil),
			wantMessage: "Failed to generate images",
		},
		{
			name:        "StoreUnavailable hides the cause",
			err:         StoreUnavailable("Failed to delete image", errors.New("disk I/O error")),
			wantMessage: "Failed to delete image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("service: %w", ValidationFailed("numOutputs", "numOutputs must be between 1 and 4"))

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As() did not find the *AppError in the chain")
	}
	if appErr.Field != "numOutputs" {
		t.Errorf("Field = %q, want %q", appErr.Field, "numOutputs")
	}
}
