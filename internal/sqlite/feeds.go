package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"modernc.org/sqlite"

	"github.com/calmctl/imagefeed/internal/imagefeed"
)

const feedNamespace = "-fd"

func (r Repo) Feed(ctx context.Context, id string) (imagefeed.Feed, error) {
	const q = `SELECT * FROM feeds WHERE id = ?;`

	var feed imagefeed.Feed
	err := r.db.GetContext(ctx, &feed, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return imagefeed.Feed{}, imagefeed.ErrNotFound
	}
	if err != nil {
		return imagefeed.Feed{}, fmt.Errorf("error fetching feed: %s", err)
	}

	return feed, nil
}

func (r Repo) Feeds(ctx context.Context, args imagefeed.ListFeedsArgs) ([]imagefeed.Feed, error) {
	q := sq.Select("*").From("feeds").OrderBy("created_at DESC")
	if args.Owner != "" {
		q = q.Where(sq.Eq{"owner": args.Owner})
	}
	if args.Limit > 0 {
		q = q.Limit(args.Limit).Offset(args.Offset)
	}

	query, qArgs, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	feeds := []imagefeed.Feed{}
	if err := r.db.SelectContext(ctx, &feeds, query, qArgs...); err != nil {
		return nil, fmt.Errorf("error fetching feeds: %s", err)
	}

	return feeds, nil
}

func (r Repo) CountFeeds(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM feeds;`

	var count int
	if err := r.db.GetContext(ctx, &count, q); err != nil {
		return 0, fmt.Errorf("error counting feeds: %s", err)
	}

	return count, nil
}

func (r Repo) InsertFeed(ctx context.Context, feed imagefeed.Feed) (imagefeed.Feed, error) {
	const q = `INSERT INTO feeds (id, name, description, owner) VALUES (:id, :name, :description, :owner);`

	feed.ID = uuid.NewString() + feedNamespace
	_, err := r.db.NamedExecContext(ctx, q, feed)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == 2067 {
		return imagefeed.Feed{}, fmt.Errorf("feed already exists: %w", imagefeed.ErrConflict)
	}
	if err != nil {
		return imagefeed.Feed{}, fmt.Errorf("error inserting feed: %s", err)
	}

	return r.Feed(ctx, feed.ID)
}

// DeleteFeed removes the feed along with its images and tokens. The
// rows go in one transaction so a feed never sticks around half
// deleted.
func (r Repo) DeleteFeed(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM access_tokens WHERE feed_id = ?;`,
		`DELETE FROM images WHERE feed_id = ?;`,
		`DELETE FROM feeds WHERE id = ?;`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("error deleting feed: %s", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing feed delete: %s", err)
	}

	return nil
}
