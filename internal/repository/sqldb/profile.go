package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/model"
	"github.com/sakif/imagine/internal/repository"
)

var _ repository.ProfileRepository = (*DB)(nil)

// GetProfile reads one profile row.
func (db *DB) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := db.conn.GetContext(ctx, &p, db.conn.Rebind(
		`SELECT id, email, credits, created_at, updated_at
		 FROM profiles WHERE id = ?`),
		userID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", userID)
		}
		return nil, fmt.Errorf("sqldb: getting profile %s: %w", userID, err)
	}
	return &p, nil
}

// Debit subtracts amount from the balance if, and only if, the balance
// covers it.
//
// ATOMIC DECREMENT-IF-SUFFICIENT:
// The check and the write are one statement:
//
//	UPDATE profiles SET credits = credits - 1 WHERE id = ? AND credits >= 1
//
// The database evaluates the WHERE clause against the row it is about to
// write, under its own row lock. Two concurrent debits against a balance of
// 1 therefore cannot both match: the second one sees 0 and affects no rows.
// A read followed by a separate write would let both succeed.
func (db *DB) Debit(ctx context.Context, userID string, amount int) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("sqldb: debit amount must be positive, got %d", amount)
	}

	result, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`UPDATE profiles
		 SET credits = credits - ?, updated_at = ?
		 WHERE id = ? AND credits >= ?`),
		amount, db.now(), userID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("sqldb: debiting profile %s: %w", userID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	return n == 1, nil
}

// Credit adds amount to the balance. It is a relative update, so a refund
// never discards a debit made by a concurrent request in the meantime.
func (db *DB) Credit(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("sqldb: credit amount must be positive, got %d", amount)
	}

	result, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`UPDATE profiles
		 SET credits = credits + ?, updated_at = ?
		 WHERE id = ?`),
		amount, db.now(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqldb: crediting profile %s: %w", userID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("profile", userID)
	}
	return nil
}

// Grant adds credits, creating the profile if needed.
//
// UPSERT:
// INSERT ... ON CONFLICT DO UPDATE is supported by both SQLite (3.24+) and
// PostgreSQL. An empty email keeps the stored one. The row is read back
// afterwards so the caller sees the resulting balance.
func (db *DB) Grant(ctx context.Context, userID, email string, amount int) (*model.Profile, error) {
	if amount < 0 {
		return nil, fmt.Errorf("sqldb: grant amount must not be negative, got %d", amount)
	}

	now := db.now()
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`INSERT INTO profiles (id, email, credits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			credits    = profiles.credits + excluded.credits,
			email      = CASE WHEN excluded.email <> '' THEN excluded.email ELSE profiles.email END,
			updated_at = excluded.updated_at`),
		userID, email, amount, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: granting %d credits to %s: %w", amount, userID, err)
	}

	return db.GetProfile(ctx, userID)
}
