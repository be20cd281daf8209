package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/calmctl/imagefeed/internal/imagefeed"
)

const imageNamespace = "-img"

func (r Repo) Image(ctx context.Context, id string) (imagefeed.Image, error) {
	const q = `SELECT * FROM images WHERE id = ?;`

	var img imagefeed.Image
	err := r.db.GetContext(ctx, &img, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return imagefeed.Image{}, imagefeed.ErrNotFound
	}
	if err != nil {
		return imagefeed.Image{}, fmt.Errorf("error fetching image: %s", err)
	}

	return img, nil
}

func (r Repo) FeedImages(ctx context.Context, feedID string) ([]imagefeed.Image, error) {
	const q = `SELECT * FROM images WHERE feed_id = ? ORDER BY created_at DESC;`

	imgs := []imagefeed.Image{}
	if err := r.db.SelectContext(ctx, &imgs, q, feedID); err != nil {
		return nil, fmt.Errorf("error fetching feed images: %s", err)
	}

	return imgs, nil
}

func (r Repo) InsertImage(ctx context.Context, img imagefeed.Image) (imagefeed.Image, error) {
	const q = `INSERT INTO images (id, feed_id, filename, content_type, size, storage_path)
	VALUES (:id, :feed_id, :filename, :content_type, :size, :storage_path);`

	img.ID = uuid.NewString() + imageNamespace
	if _, err := r.db.NamedExecContext(ctx, q, img); err != nil {
		return imagefeed.Image{}, fmt.Errorf("error inserting image: %s", err)
	}

	return r.Image(ctx, img.ID)
}

func (r Repo) DeleteImage(ctx context.Context, id string) error {
	const q = `DELETE FROM images WHERE id = ?;`

	if _, err := r.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("error deleting image: %s", err)
	}

	return nil
}
