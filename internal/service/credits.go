package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/cache"
	"github.com/sakif/imagine/internal/model"
	"github.com/sakif/imagine/internal/repository"
)

// CreditService reads balances through the cache and grants credits.
//
// READ-THROUGH CACHE:
// Balance asks the cache first and falls back to the profile row, caching
// what it read. Cache failures are logged and otherwise ignored: the
// database can always answer.
type CreditService struct {
	profiles repository.ProfileRepository
	cache    cache.CreditCache
	logger   *slog.Logger
}

func NewCreditService(profiles repository.ProfileRepository, c cache.CreditCache, logger *slog.Logger) *CreditService {
	if c == nil {
		c = cache.NopCreditCache{}
	}
	return &CreditService{profiles: profiles, cache: c, logger: logger}
}

// Balance returns the user's credits. A user without a profile has 0.
func (s *CreditService) Balance(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, apperror.Unauthorized("Unauthorized")
	}

	if n, hit, err := s.cache.Get(ctx, userID); err != nil {
		s.logger.Warn("credit cache read failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	} else if hit {
		return n, nil
	}

	credits := 0
	p, err := s.profiles.GetProfile(ctx, userID)
	switch {
	case err == nil:
		credits = p.Credits
	case errors.Is(err, apperror.ErrNotFound):
		// No profile yet reads as an empty balance.
	default:
		s.logger.Error("failed to read credits",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return 0, apperror.StoreUnavailable("Failed to fetch credits", err)
	}

	if err := s.cache.Set(ctx, userID, credits); err != nil {
		s.logger.Warn("credit cache write failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return credits, nil
}

// Grant adds credits, creating the profile when it does not exist yet.
// Used by the operator CLI; purchases are out of scope for the API.
func (s *CreditService) Grant(ctx context.Context, userID, email string, amount int) (*model.Profile, error) {
	if userID == "" {
		return nil, apperror.ValidationFailed("userId", "User ID is required")
	}
	if amount <= 0 {
		return nil, apperror.ValidationFailed("amount", "Amount must be positive")
	}

	p, err := s.profiles.Grant(ctx, userID, email, amount)
	if err != nil {
		return nil, storeError("Failed to grant credits", err)
	}

	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("failed to invalidate cached credits",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("credits granted",
		slog.String("user_id", userID),
		slog.Int("amount", amount),
		slog.Int("balance", p.Credits),
	)
	return p, nil
}

// Profile returns the stored profile, or NotFound.
func (s *CreditService) Profile(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, storeError("Failed to fetch profile", err)
	}
	return p, nil
}
