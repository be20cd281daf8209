package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goaway "github.com/TwiN/go-away"
	"github.com/gorilla/mux"
	"github.com/microcosm-cc/bluemonday"

	iferrs "github.com/calmctl/imagefeed/internal/errors"
	"github.com/calmctl/imagefeed/internal/imagefeed"
)

const (
	maxNameLength        = 120
	maxDescriptionLength = 2048
)

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the string and bounds its length.
func sanitize(s string) string {
	s = strings.TrimSpace(stripPolicy.Sanitize(s))
	if len(s) > maxDescriptionLength {
		s = s[:maxDescriptionLength]
	}

	return s
}

type PostFeedReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Owner       string `json:"owner"`
}

func (req PostFeedReq) Validate() error {
	var details []iferrs.Detail
	if req.Name == "" {
		details = append(details, iferrs.Detail{Field: "name", Error: "is required"})
	}
	if len(req.Name) > maxNameLength {
		details = append(details, iferrs.Detail{Field: "name", Error: "too long"})
	}
	if len(details) > 0 {
		return iferrs.E("invalid feed", http.StatusBadRequest, details)
	}

	// Feed names end up in share links sent to strangers, so hold
	// them to the same standard as any other displayed text.
	if goaway.IsProfane(req.Name) || goaway.IsProfane(req.Description) {
		return iferrs.E("profanity detected", http.StatusUnprocessableEntity)
	}

	return nil
}

type FeedResp struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func apiFeed(f imagefeed.Feed) FeedResp {
	return FeedResp{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		Owner:       f.Owner,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

func (s Server) postFeeds(w http.ResponseWriter, r *http.Request) error {
	body, err := decodeValid[PostFeedReq](r.Body)
	if err != nil {
		return err
	}

	feed, err := s.repo.InsertFeed(r.Context(), imagefeed.Feed{
		Name:        strings.TrimSpace(body.Name),
		Description: sanitize(body.Description),
		Owner:       strings.TrimSpace(body.Owner),
	})
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusCreated, apiFeed(feed))
}

type FeedListResp struct {
	Feeds      []FeedResp     `json:"feeds"`
	Pagination paginationMeta `json:"pagination"`
}

func (s Server) getFeeds(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	limit, offset := parsePaginationParams(r, 20, 100)

	total, err := s.repo.CountFeeds(ctx)
	if err != nil {
		return err
	}

	feeds, err := s.repo.Feeds(ctx, imagefeed.ListFeedsArgs{
		Owner:  r.URL.Query().Get("owner"),
		Limit:  uint64(limit),
		Offset: uint64(offset),
	})
	if err != nil {
		return err
	}

	resp := FeedListResp{
		Feeds:      []FeedResp{},
		Pagination: calculatePaginationMeta(limit, offset, total),
	}
	for _, feed := range feeds {
		resp.Feeds = append(resp.Feeds, apiFeed(feed))
	}

	return writeJSON(w, http.StatusOK, resp)
}

type FeedDetailResp struct {
	FeedResp

	Images []ImageResp `json:"images"`
}

// getFeed is the shared view: anyone with a valid token for the feed
// gets the feed and its image metadata.
func (s Server) getFeed(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		feedID = mux.Vars(r)["feedID"]
	)

	if err := s.authorizeShare(r, feedID); err != nil {
		return err
	}

	feed, err := s.repo.Feed(ctx, feedID)
	if errors.Is(err, imagefeed.ErrNotFound) {
		// A valid token for a vanished feed; the row was deleted
		// underneath it.
		return shareDenied()
	}
	if err != nil {
		return err
	}

	imgs, err := s.repo.FeedImages(ctx, feedID)
	if err != nil {
		return err
	}

	resp := FeedDetailResp{
		FeedResp: apiFeed(feed),
		Images:   []ImageResp{},
	}
	for _, img := range imgs {
		resp.Images = append(resp.Images, apiImage(img))
	}

	return writeJSON(w, http.StatusOK, resp)
}

func (s Server) deleteFeed(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		feedID = mux.Vars(r)["feedID"]
	)

	if _, err := s.repo.Feed(ctx, feedID); errors.Is(err, imagefeed.ErrNotFound) {
		return iferrs.E("feed not found", http.StatusNotFound)
	} else if err != nil {
		return err
	}

	// Blobs go best effort once the rows are gone; an orphaned blob
	// is storage waste, not a correctness problem.
	imgs, err := s.repo.FeedImages(ctx, feedID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteFeed(ctx, feedID); err != nil {
		return err
	}

	for _, img := range imgs {
		if err := s.blobs.Delete(ctx, img.StoragePath); err != nil {
			slog.Error("error deleting blob", "path", img.StoragePath, "err", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
