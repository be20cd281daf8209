// Package token issues, validates, and revokes the share tokens that
// grant read access to a feed. It is the only authority on whether a
// presented token may view a feed right now.
//
// The service keeps no state between calls: every cross-request
// coordination point is the store's conditional consumption update, so
// any number of processes can serve validations against the same
// database without an in-process lock.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calmctl/imagefeed/internal/imagefeed"
)

// Result classifies the outcome of a validation. These are return
// values, not errors: a denied token is the system working as intended.
type Result string

const (
	ResultValid           Result = "valid"
	ResultInvalid         Result = "invalid"
	ResultExpired         Result = "expired"
	ResultAlreadyConsumed Result = "already_consumed"
)

// Granted reports whether the result permits access.
func (r Result) Granted() bool {
	return r == ResultValid
}

// Policy holds the constraints a token is issued under.
type Policy struct {
	// OneTime permits exactly one successful validation before the
	// token is permanently denied.
	OneTime bool
	// TTL bounds the token's lifetime from issuance. Zero means no
	// expiry.
	TTL time.Duration
}

type Service struct {
	repo imagefeed.TokenRepo

	// Swappable for expiry tests.
	now func() time.Time
}

func NewService(repo imagefeed.TokenRepo) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// Collisions on 256 bits of randomness mean a broken random source,
// but an insert hitting the unique index is still not a reason to 500
// the caller on the spot.
const issueAttempts = 3

// Issue mints a token for the feed under the given policy and persists
// it. The returned token is always durably recorded: a failed write
// fails the issuance.
func (s *Service) Issue(ctx context.Context, feedID string, p Policy) (imagefeed.AccessToken, error) {
	tok := imagefeed.AccessToken{
		FeedID:  feedID,
		OneTime: p.OneTime,
	}
	if p.TTL > 0 {
		expiry := s.now().Add(p.TTL)
		tok.ExpiresAt = &expiry
	}

	var lastErr error
	for range issueAttempts {
		str, err := Generate()
		if err != nil {
			return imagefeed.AccessToken{}, fmt.Errorf("error generating token: %w", err)
		}
		tok.Token = str

		created, err := s.repo.InsertToken(ctx, tok)
		if errors.Is(err, imagefeed.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return imagefeed.AccessToken{}, fmt.Errorf("error persisting token: %w", err)
		}

		return created, nil
	}

	return imagefeed.AccessToken{}, fmt.Errorf("error persisting token after %d attempts: %w", issueAttempts, lastErr)
}

// Validate classifies a presented token against the feed. For one-time
// tokens a Valid result and the consumption transition are the same
// atomic step: the conditional update in the store decides the winner
// when callers race, so at most one of them is ever granted.
//
// Only storage faults come back as errors; every policy denial is a
// Result.
func (s *Service) Validate(ctx context.Context, feedID, tokenString string) (Result, error) {
	rec, err := s.repo.TokenByString(ctx, tokenString)
	if errors.Is(err, imagefeed.ErrNotFound) {
		return ResultInvalid, nil
	}
	if err != nil {
		return "", fmt.Errorf("error looking up token: %w", err)
	}
	if rec.FeedID != feedID {
		// A real token for the wrong feed is indistinguishable from
		// no token at all.
		return ResultInvalid, nil
	}

	// Expiry is derived from the stored timestamp at the moment of the
	// check, never pre-materialized by a sweeper. It outranks the
	// consumption state.
	now := s.now()
	if rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt) {
		return ResultExpired, nil
	}

	if rec.ConsumedAt != nil {
		return ResultAlreadyConsumed, nil
	}

	if !rec.OneTime {
		return ResultValid, nil
	}

	won, err := s.repo.ConsumeToken(ctx, rec.ID, now)
	if err != nil {
		return "", fmt.Errorf("error consuming token: %w", err)
	}
	if !won {
		return ResultAlreadyConsumed, nil
	}

	return ResultValid, nil
}

// Revoke forces the token into the consumed state regardless of its
// policy, making every future validation a denial. Revoking an already
// consumed token is a no-op; an unknown token reports
// [imagefeed.ErrNotFound].
func (s *Service) Revoke(ctx context.Context, feedID, tokenString string) error {
	rec, err := s.repo.TokenByString(ctx, tokenString)
	if errors.Is(err, imagefeed.ErrNotFound) {
		return imagefeed.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error looking up token: %w", err)
	}
	if rec.FeedID != feedID {
		return imagefeed.ErrNotFound
	}

	if _, err := s.repo.ConsumeToken(ctx, rec.ID, s.now()); err != nil {
		return fmt.Errorf("error revoking token: %w", err)
	}

	return nil
}
