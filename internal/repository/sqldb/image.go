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

var _ repository.ImageRepository = (*DB)(nil)

// imageDetailQuery joins each image with the generation that produced it.
// Every query filters on images.user_id, which is how ownership is enforced.
const imageDetailQuery = `
	SELECT i.id, i.image_url, i.created_at, g.id, g.prompt, g.settings
	FROM images i
	JOIN generations g ON g.id = i.generation_id`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanImageDetail(row rowScanner, d *model.ImageDetail) error {
	return row.Scan(
		&d.ID,
		&d.ImageURL,
		&d.CreatedAt,
		&d.Generation.ID,
		&d.Generation.Prompt,
		&d.Generation.Settings,
	)
}

// ListImages returns every image the user owns, newest first.
// The result is never nil, so it encodes as [] rather than null.
func (db *DB) ListImages(ctx context.Context, userID string) ([]model.ImageDetail, error) {
	rows, err := db.conn.QueryContext(ctx, db.conn.Rebind(imageDetailQuery+`
		WHERE i.user_id = ?
		ORDER BY i.created_at DESC, i.id DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing images for %s: %w", userID, err)
	}
	defer rows.Close()

	images := []model.ImageDetail{}
	for rows.Next() {
		var d model.ImageDetail
		if err := scanImageDetail(rows, &d); err != nil {
			return nil, fmt.Errorf("sqldb: scanning image row: %w", err)
		}
		images = append(images, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating images: %w", err)
	}

	return images, nil
}

// GetImage returns one image if, and only if, the user owns it.
// A missing image and someone else's image both produce NotFound.
func (db *DB) GetImage(ctx context.Context, userID, imageID string) (*model.ImageDetail, error) {
	var d model.ImageDetail
	row := db.conn.QueryRowContext(ctx, db.conn.Rebind(imageDetailQuery+`
		WHERE i.id = ? AND i.user_id = ?`),
		imageID, userID,
	)
	if err := scanImageDetail(row, &d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("image", imageID)
		}
		return nil, fmt.Errorf("sqldb: getting image %s: %w", imageID, err)
	}
	return &d, nil
}

// DeleteImage removes an image using a compound (id, user_id) filter.
//
// There is no prior existence check: deleting someone else's image and
// deleting a missing image both affect zero rows, and the caller cannot tell
// them apart.
func (db *DB) DeleteImage(ctx context.Context, userID, imageID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`DELETE FROM images WHERE id = ? AND user_id = ?`),
		imageID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqldb: deleting image %s: %w", imageID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	return n, nil
}
