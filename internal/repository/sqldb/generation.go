package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/imagine/internal/apperror"
	"github.com/sakif/imagine/internal/model"
	"github.com/sakif/imagine/internal/repository"
)

var _ repository.GenerationRepository = (*DB)(nil)

const generationColumns = `id, user_id, prompt, settings, status, error_message, created_at, updated_at`

// CreateGeneration inserts a generation. The ID and timestamps are assigned
// here and written back into gen; the status defaults to pending.
//
// ID GENERATION WITH xid:
// xid IDs are 20 URL-safe characters and sort by creation time, which also
// makes them a stable tie-breaker when two rows share a timestamp.
func (db *DB) CreateGeneration(ctx context.Context, gen *model.Generation) error {
	gen.ID = xid.New().String()
	now := db.now()
	gen.CreatedAt = now
	gen.UpdatedAt = now
	if gen.Status == "" {
		gen.Status = model.GenerationPending
	}

	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`INSERT INTO generations (`+generationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		gen.ID,
		gen.UserID,
		gen.Prompt,
		gen.Settings,
		gen.Status,
		gen.Error,
		gen.CreatedAt,
		gen.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqldb: creating generation: %w", err)
	}
	return nil
}

// GetGeneration reads one generation by ID.
func (db *DB) GetGeneration(ctx context.Context, id string) (*model.Generation, error) {
	var gen model.Generation
	err := db.conn.GetContext(ctx, &gen, db.conn.Rebind(
		`SELECT `+generationColumns+` FROM generations WHERE id = ?`),
		id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("generation", id)
		}
		return nil, fmt.Errorf("sqldb: getting generation %s: %w", id, err)
	}
	return &gen, nil
}

// CompleteGeneration marks the generation completed and inserts its images
// in a single transaction.
//
// TRANSACTIONS:
// BeginTxx returns a *sqlx.Tx. Every statement on tx sees the same snapshot
// and nothing is visible to other connections until Commit. The deferred
// Rollback is a no-op after a successful Commit, and undoes everything if
// we return early with an error.
//
// The status UPDATE is guarded by status = 'pending', so a generation can
// only reach a terminal state once.
func (db *DB) CompleteGeneration(ctx context.Context, generationID string, images []model.Image) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := db.now()
	result, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE generations SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`),
		model.GenerationCompleted, now, generationID, model.GenerationPending,
	)
	if err != nil {
		return fmt.Errorf("sqldb: completing generation %s: %w", generationID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.Conflict("pending generation", generationID)
	}

	insert := tx.Rebind(
		`INSERT INTO images (id, generation_id, user_id, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?)`)
	for i := range images {
		img := &images[i]
		img.ID = xid.New().String()
		img.GenerationID = generationID
		img.CreatedAt = now
		if _, err := tx.ExecContext(ctx, insert,
			img.ID, img.GenerationID, img.UserID, img.ImageURL, img.CreatedAt,
		); err != nil {
			return fmt.Errorf("sqldb: inserting image for generation %s: %w", generationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqldb: committing generation %s: %w", generationID, err)
	}
	return nil
}

// FailGeneration moves a pending generation to failed and records why.
func (db *DB) FailGeneration(ctx context.Context, generationID, message string) error {
	result, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`UPDATE generations SET status = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`),
		model.GenerationFailed, message, db.now(), generationID, model.GenerationPending,
	)
	if err != nil {
		return fmt.Errorf("sqldb: failing generation %s: %w", generationID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.Conflict("pending generation", generationID)
	}
	return nil
}

// ListStaleGenerations returns pending generations created before the
// cutoff, oldest first. A generation only stays pending this long when the
// process died between creating the row and finishing the inference call.
func (db *DB) ListStaleGenerations(ctx context.Context, before time.Time) ([]model.Generation, error) {
	gens := []model.Generation{}
	err := db.conn.SelectContext(ctx, &gens, db.conn.Rebind(
		`SELECT `+generationColumns+` FROM generations
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at ASC, id ASC`),
		model.GenerationPending, before.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing stale generations: %w", err)
	}
	return gens, nil
}
