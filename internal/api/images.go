package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	iferrs "github.com/calmctl/imagefeed/internal/errors"
	"github.com/calmctl/imagefeed/internal/imagefeed"
)

// Uploads larger than this are rejected before they hit storage.
const maxUploadBytes = 32 << 20

type ImageResp struct {
	ID          string    `json:"id"`
	FeedID      string    `json:"feed_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

func apiImage(img imagefeed.Image) ImageResp {
	return ImageResp{
		ID:          img.ID,
		FeedID:      img.FeedID,
		Filename:    img.Filename,
		ContentType: img.ContentType,
		Size:        img.Size,
		CreatedAt:   img.CreatedAt,
	}
}

// postImages accepts a multipart upload under the "file" field, stores
// the blob, then the metadata row. A failed row insert cleans the blob
// back up so storage doesn't accumulate unreferenced files.
func (s Server) postImages(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		feedID = mux.Vars(r)["feedID"]
	)

	if _, err := s.repo.Feed(ctx, feedID); errors.Is(err, imagefeed.ErrNotFound) {
		return iferrs.E("feed not found", http.StatusNotFound)
	} else if err != nil {
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return iferrs.E(err, http.StatusBadRequest)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return iferrs.E("file field is required", http.StatusBadRequest,
			iferrs.Detail{Field: "file", Error: "missing"})
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// The blob gets its own name; user-supplied filenames are
	// metadata, never paths.
	blobPath := feedID + "/" + uuid.NewString() + filepath.Ext(header.Filename)
	if err := s.blobs.Save(ctx, blobPath, file); err != nil {
		return err
	}

	img, err := s.repo.InsertImage(ctx, imagefeed.Image{
		FeedID:      feedID,
		Filename:    filepath.Base(header.Filename),
		ContentType: contentType,
		Size:        header.Size,
		StoragePath: blobPath,
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, blobPath); delErr != nil {
			slog.Error("error cleaning up blob after failed insert", "path", blobPath, "err", delErr)
		}
		return err
	}

	return writeJSON(w, http.StatusCreated, apiImage(img))
}

type ImageListResp struct {
	Images []ImageResp `json:"images"`
}

func (s Server) getImages(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		feedID = mux.Vars(r)["feedID"]
	)

	if err := s.authorizeShare(r, feedID); err != nil {
		return err
	}

	imgs, err := s.repo.FeedImages(ctx, feedID)
	if err != nil {
		return err
	}

	resp := ImageListResp{Images: []ImageResp{}}
	for _, img := range imgs {
		resp.Images = append(resp.Images, apiImage(img))
	}

	return writeJSON(w, http.StatusOK, resp)
}

// getImage streams the image bytes to a caller holding a valid token.
func (s Server) getImage(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx     = r.Context()
		vars    = mux.Vars(r)
		feedID  = vars["feedID"]
		imageID = vars["imageID"]
	)

	if err := s.authorizeShare(r, feedID); err != nil {
		return err
	}

	// Rows are immutable once uploaded; skip the database when we've
	// seen this image before.
	img, ok := s.imageCache.Get(imageID)
	if !ok {
		var err error
		img, err = s.repo.Image(ctx, imageID)
		if errors.Is(err, imagefeed.ErrNotFound) {
			return shareDenied()
		}
		if err != nil {
			return err
		}
		s.imageCache.Add(imageID, img)
	}
	if img.FeedID != feedID {
		// The token authorized a different feed than the image
		// belongs to.
		return shareDenied()
	}

	rc, err := s.blobs.Open(ctx, img.StoragePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	w.Header().Set("Content-Type", img.ContentType)
	if img.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(img.Size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("error streaming image", "image_id", imageID, "err", err)
	}

	return nil
}
