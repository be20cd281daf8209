package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"

	"github.com/calmctl/imagefeed/internal/imagefeed"
)

const tokenNamespace = "-tk"

func (r Repo) InsertToken(ctx context.Context, tok imagefeed.AccessToken) (imagefeed.AccessToken, error) {
	const q = `INSERT INTO access_tokens (id, feed_id, token, one_time, expires_at)
	VALUES (:id, :feed_id, :token, :one_time, :expires_at);`

	tok.ID = uuid.NewString() + tokenNamespace
	_, err := r.db.NamedExecContext(ctx, q, tok)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == 2067 {
		return imagefeed.AccessToken{}, fmt.Errorf("token string collided: %w", imagefeed.ErrConflict)
	}
	if err != nil {
		return imagefeed.AccessToken{}, fmt.Errorf("error inserting token: %s", err)
	}

	return r.tokenByID(ctx, tok.ID)
}

func (r Repo) tokenByID(ctx context.Context, id string) (imagefeed.AccessToken, error) {
	const q = `SELECT * FROM access_tokens WHERE id = ?;`

	var tok imagefeed.AccessToken
	err := r.db.GetContext(ctx, &tok, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return imagefeed.AccessToken{}, imagefeed.ErrNotFound
	}
	if err != nil {
		return imagefeed.AccessToken{}, fmt.Errorf("error fetching token: %s", err)
	}

	return tok, nil
}

// TokenByString does the point lookup by the token string alone; the
// caller checks the feed binding. Exact equality only, backed by the
// unique index.
func (r Repo) TokenByString(ctx context.Context, token string) (imagefeed.AccessToken, error) {
	const q = `SELECT * FROM access_tokens WHERE token = ?;`

	var tok imagefeed.AccessToken
	err := r.db.GetContext(ctx, &tok, q, token)
	if errors.Is(err, sql.ErrNoRows) {
		return imagefeed.AccessToken{}, imagefeed.ErrNotFound
	}
	if err != nil {
		return imagefeed.AccessToken{}, fmt.Errorf("error fetching token: %s", err)
	}

	return tok, nil
}

func (r Repo) FeedTokens(ctx context.Context, feedID string) ([]imagefeed.AccessToken, error) {
	const q = `SELECT * FROM access_tokens WHERE feed_id = ? ORDER BY created_at DESC;`

	toks := []imagefeed.AccessToken{}
	if err := r.db.SelectContext(ctx, &toks, q, feedID); err != nil {
		return nil, fmt.Errorf("error fetching feed tokens: %s", err)
	}

	return toks, nil
}

// ConsumeToken performs the conditional consumption transition: set
// consumed_at only where it is still NULL. The rows-affected count is
// the arbiter when callers race; exactly one gets true.
func (r Repo) ConsumeToken(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `UPDATE access_tokens SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL;`

	res, err := r.db.ExecContext(ctx, q, at, id)
	if err != nil {
		return false, fmt.Errorf("error consuming token: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %s", err)
	}

	return n == 1, nil
}
