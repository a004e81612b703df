package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/cache"
	"github.com/sakif/imagine/internal/inference"
	"github.com/sakif/imagine/internal/metrics"
	"github.com/sakif/imagine/internal/model"
	"github.com/sakif/imagine/internal/repository"
)

// Generation rules.
const (
	GenerationCost     = 1 // credits per request, whatever numOutputs is
	MaxPromptLength    = 2000
	MaxNumOutputs      = 4
	DefaultAspectRatio = "1:1"
	DefaultNumOutputs  = 1
)

// AspectRatios are the ratios the model accepts.
var AspectRatios = []string{"1:1", "16:9", "9:16", "21:9", "3:2", "2:3", "4:5", "5:4", "3:4", "4:3", "9:21"}

// GenerateInput is one generation request as the user sent it.
type GenerateInput struct {
	Prompt   string
	Settings model.Settings
}

// GenerateResult is a successful generation.
type GenerateResult struct {
	GenerationID string
	Images       []string
}

// GenerationService runs the spend-credit, call-model, record-result
// workflow.
//
// DEPENDENCIES (injected via NewGenerationService):
//   - profiles     repository.ProfileRepository    → debit and refund credits
//   - generations  repository.GenerationRepository → generation + image rows
//   - generator    inference.Generator             → the hosted model
//   - credits      cache.CreditCache               → invalidated after every attempt
//   - metrics      *metrics.Metrics                → may be nil
type GenerationService struct {
	profiles    repository.ProfileRepository
	generations repository.GenerationRepository
	generator   inference.Generator
	credits     cache.CreditCache
	metrics     *metrics.Metrics
	logger      *slog.Logger
	timeout     time.Duration
	now         func() time.Time
}

// NewGenerationService creates a GenerationService. timeout bounds each
// model call.
func NewGenerationService(
	profiles repository.ProfileRepository,
	generations repository.GenerationRepository,
	generator inference.Generator,
	credits cache.CreditCache,
	m *metrics.Metrics,
	logger *slog.Logger,
	timeout time.Duration,
) *GenerationService {
	if credits == nil {
		credits = cache.NopCreditCache{}
	}
	return &GenerationService{
		profiles:    profiles,
		generations: generations,
		generator:   generator,
		credits:     credits,
		metrics:     m,
		logger:      logger,
		timeout:     timeout,
		now:         time.Now,
	}
}

// ValidateInput trims the prompt, fills in default settings and checks
// everything against the generation rules. It returns the normalised input.
func ValidateInput(in GenerateInput) (GenerateInput, error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Prompt == "" {
		return in, apperror.ValidationFailed("prompt", "Prompt is required")
	}
	if utf8.RuneCountInString(in.Prompt) > MaxPromptLength {
		return in, apperror.ValidationFailed("prompt",
			fmt.Sprintf("Prompt must be %d characters or less", MaxPromptLength))
	}

	if in.Settings.AspectRatio == "" {
		in.Settings.AspectRatio = DefaultAspectRatio
	}
	if !slices.Contains(AspectRatios, in.Settings.AspectRatio) {
		return in, apperror.ValidationFailed("aspectRatio",
			fmt.Sprintf("Aspect ratio must be one of %s", strings.Join(AspectRatios, ", ")))
	}

	if in.Settings.NumOutputs == 0 {
		in.Settings.NumOutputs = DefaultNumOutputs
	}
	if in.Settings.NumOutputs < 1 || in.Settings.NumOutputs > MaxNumOutputs {
		return in, apperror.ValidationFailed("numOutputs",
			fmt.Sprintf("Number of outputs must be between 1 and %d", MaxNumOutputs))
	}

	return in, nil
}

// Generate spends one credit, calls the model and records the outcome.
//
// THE WORKFLOW:
//  1. Debit one credit with a single conditional UPDATE. Zero rows means the
//     user cannot pay, and nothing else happens.
//  2. Insert a pending generation row.
//  3. Call the model, bounded by the configured timeout.
//  4. Success: insert the images and mark the generation completed, in one
//     transaction.
//  5. Failure: mark the generation failed and refund the credit.
//
// COMPENSATING WRITES:
// Steps 4 and 5 run on context.WithoutCancel(ctx). If the client hangs up
// mid-generation, ctx is cancelled, the model call aborts, and we still need
// to record the failure and hand the credit back. A cancelled context would
// make those writes fail too.
func (s *GenerationService) Generate(ctx context.Context, userID string, in GenerateInput) (*GenerateResult, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("Unauthorized")
	}

	in, err := ValidateInput(in)
	if err != nil {
		return nil, err
	}

	// === 1. DEBIT ===
	ok, err := s.profiles.Debit(ctx, userID, GenerationCost)
	if err != nil {
		return nil, storeError("Failed to reserve credits", err)
	}
	if !ok {
		return nil, apperror.InsufficientCredits()
	}

	detached := context.WithoutCancel(ctx)

	// The balance changed (and may change back on refund). The cache is
	// dropped rather than adjusted, whatever happens next.
	defer s.invalidateCredits(detached, userID)

	// === 2. PENDING RECORD ===
	gen := &model.Generation{
		UserID:   userID,
		Prompt:   in.Prompt,
		Settings: in.Settings,
		Status:   model.GenerationPending,
	}
	if err := s.generations.CreateGeneration(ctx, gen); err != nil {
		s.logger.Error("failed to create generation",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		s.refund(detached, userID, "")
		return nil, apperror.StoreUnavailable("Failed to create generation", err)
	}

	// === 3. INFERENCE ===
	urls, err := s.infer(ctx, in)
	if err != nil {
		return nil, s.fail(detached, gen, err)
	}

	// === 4. RECORD SUCCESS ===
	images := make([]model.Image, len(urls))
	for i, u := range urls {
		images[i] = model.Image{UserID: userID, ImageURL: u}
	}
	if err := s.generations.CompleteGeneration(detached, gen.ID, images); err != nil {
		s.logger.Error("failed to record generated images",
			slog.String("generation_id", gen.ID),
			slog.String("error", err.Error()),
		)
		// A conflict means something else (the stale-generation sweep)
		// already failed this generation and refunded it.
		if !errors.Is(err, apperror.ErrConflict) {
			s.markFailed(detached, gen.ID, "failed to record images: "+err.Error())
			s.refund(detached, userID, gen.ID)
		}
		s.metrics.RecordGeneration(string(model.GenerationFailed))
		return nil, apperror.StoreUnavailable("Failed to save images", err)
	}

	s.metrics.RecordGeneration(string(model.GenerationCompleted))
	s.logger.Info("generation completed",
		slog.String("generation_id", gen.ID),
		slog.String("user_id", userID),
		slog.Int("images", len(urls)),
	)

	return &GenerateResult{GenerationID: gen.ID, Images: urls}, nil
}

// infer calls the model under the configured timeout and records its
// duration.
func (s *GenerationService) infer(ctx context.Context, in GenerateInput) ([]string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.now()
	urls, err := s.generator.Generate(ctx, inference.Request{Prompt: in.Prompt, Settings: in.Settings})
	s.metrics.ObserveInference(s.now().Sub(start))
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, inference.ErrNoImages
	}
	return urls, nil
}

// fail runs the failure branch: mark failed, refund, and build the error the
// caller sees.
func (s *GenerationService) fail(ctx context.Context, gen *model.Generation, cause error) error {
	cause = describeInferenceError(cause, s.timeout)

	s.logger.Warn("generation failed",
		slog.String("generation_id", gen.ID),
		slog.String("user_id", gen.UserID),
		slog.String("error", cause.Error()),
	)

	s.markFailed(ctx, gen.ID, cause.Error())
	s.refund(ctx, gen.UserID, gen.ID)
	s.metrics.RecordGeneration(string(model.GenerationFailed))

	return apperror.GenerationFailed(cause)
}

// describeInferenceError replaces context errors with messages a user can
// act on. Model errors are passed through; the web client shows them as-is.
func describeInferenceError(err error, timeout time.Duration) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &inferenceError{msg: fmt.Sprintf("Image generation timed out after %s", timeout), err: err}
	case errors.Is(err, context.Canceled):
		return &inferenceError{msg: "Image generation was cancelled", err: err}
	case errors.Is(err, inference.ErrNoImages):
		return &inferenceError{msg: "The model returned no images", err: err}
	}
	return err
}

// inferenceError shows msg while keeping the original error in the chain.
type inferenceError struct {
	msg string
	err error
}

func (e *inferenceError) Error() string { return e.msg }

func (e *inferenceError) Unwrap() error { return e.err }

func (s *GenerationService) markFailed(ctx context.Context, generationID, message string) {
	if err := s.generations.FailGeneration(ctx, generationID, message); err != nil {
		s.logger.Error("failed to mark generation failed",
			slog.String("generation_id", generationID),
			slog.String("error", err.Error()),
		)
	}
}

// refund gives back the credit taken in step 1. It is a relative increment,
// so a debit made by a concurrent request in the meantime is preserved.
// A failed refund is logged and counted; the caller's error is unchanged.
func (s *GenerationService) refund(ctx context.Context, userID, generationID string) {
	if err := s.profiles.Credit(ctx, userID, GenerationCost); err != nil {
		s.metrics.RecordRefund(metrics.RefundFailed)
		s.logger.Error("credit refund failed",
			slog.String("user_id", userID),
			slog.String("generation_id", generationID),
			slog.Int("amount", GenerationCost),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.RecordRefund(metrics.RefundOK)
}

func (s *GenerationService) invalidateCredits(ctx context.Context, userID string) {
	if err := s.credits.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("failed to invalidate cached credits",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns one generation record by ID.
func (s *GenerationService) Get(ctx context.Context, id string) (*model.Generation, error) {
	gen, err := s.generations.GetGeneration(ctx, id)
	if err != nil {
		return nil, storeError("Failed to fetch generation", err)
	}
	return gen, nil
}

// ListStale returns generations that have been pending for longer than
// olderThan. Only a crash between steps 2 and 4 leaves one behind.
func (s *GenerationService) ListStale(ctx context.Context, olderThan time.Duration) ([]model.Generation, error) {
	gens, err := s.generations.ListStaleGenerations(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, storeError("Failed to list generations", err)
	}
	return gens, nil
}

// FailStale fails every stale generation and refunds its credit. It returns
// the generations it failed. One that finishes concurrently (a conflict) is
// skipped, since it is no longer pending.
func (s *GenerationService) FailStale(ctx context.Context, olderThan time.Duration) ([]model.Generation, error) {
	gens, err := s.ListStale(ctx, olderThan)
	if err != nil {
		return nil, err
	}

	failed := make([]model.Generation, 0, len(gens))
	for _, gen := range gens {
		err := s.generations.FailGeneration(ctx, gen.ID, "abandoned: no result was recorded")
		if errors.Is(err, apperror.ErrConflict) {
			continue
		}
		if err != nil {
			return failed, storeError("Failed to update generation", err)
		}

		s.refund(ctx, gen.UserID, gen.ID)
		s.invalidateCredits(ctx, gen.UserID)
		s.metrics.RecordGeneration(string(model.GenerationFailed))

		gen.Status = model.GenerationFailed
		failed = append(failed, gen)
	}
	return failed, nil
}
