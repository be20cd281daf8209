// Package imagefeed holds the domain types shared between the services:
// feeds, the images they contain, and the share tokens that grant
// read access to them.
package imagefeed

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

type (
	// Feed represents a named collection of images owned by a creator.
	Feed struct {
		ID          string    `db:"id"`
		Name        string    `db:"name"`
		Description string    `db:"description"`
		Owner       string    `db:"owner"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}

	// Image is a single uploaded image belonging to exactly one feed.
	//
	// StoragePath locates the blob in whatever storage driver is
	// configured; the row is the source of truth for its metadata.
	Image struct {
		ID          string    `db:"id"`
		FeedID      string    `db:"feed_id"`
		Filename    string    `db:"filename"`
		ContentType string    `db:"content_type"`
		Size        int64     `db:"size"`
		StoragePath string    `db:"storage_path"`
		CreatedAt   time.Time `db:"created_at"`
	}

	// AccessToken is a share grant for a feed. The token string is the
	// bearer secret: globally unique, generated from a CSPRNG.
	//
	// ConsumedAt is set exactly once: either by a winning one-time
	// validation or by an explicit revoke. ExpiresAt is never acted on
	// by a background job; it is compared against the clock at
	// validation time.
	AccessToken struct {
		ID         string     `db:"id"`
		FeedID     string     `db:"feed_id"`
		Token      string     `db:"token"`
		OneTime    bool       `db:"one_time"`
		ExpiresAt  *time.Time `db:"expires_at"`
		ConsumedAt *time.Time `db:"consumed_at"`
		CreatedAt  time.Time  `db:"created_at"`
	}

	FeedRepo interface {
		Feed(ctx context.Context, id string) (Feed, error)
		Feeds(ctx context.Context, args ListFeedsArgs) ([]Feed, error)
		CountFeeds(ctx context.Context) (int, error)
		InsertFeed(ctx context.Context, feed Feed) (Feed, error)
		DeleteFeed(ctx context.Context, id string) error
	}

	ImageRepo interface {
		Image(ctx context.Context, id string) (Image, error)
		FeedImages(ctx context.Context, feedID string) ([]Image, error)
		InsertImage(ctx context.Context, img Image) (Image, error)
		DeleteImage(ctx context.Context, id string) error
	}

	// TokenRepo is the durable store the token service coordinates
	// through. ConsumeToken is the conditional update that makes
	// one-time semantics hold across processes: it transitions
	// consumed_at from NULL in a single statement and reports whether
	// this call performed the transition.
	TokenRepo interface {
		InsertToken(ctx context.Context, tok AccessToken) (AccessToken, error)
		TokenByString(ctx context.Context, token string) (AccessToken, error)
		FeedTokens(ctx context.Context, feedID string) ([]AccessToken, error)
		ConsumeToken(ctx context.Context, id string, at time.Time) (bool, error)
	}

	// Repository is everything the HTTP layer needs from persistence.
	Repository interface {
		FeedRepo
		ImageRepo
		TokenRepo
	}

	// Holds the paging options when listing feeds.
	ListFeedsArgs struct {
		Owner  string
		Limit  uint64
		Offset uint64
	}
)
