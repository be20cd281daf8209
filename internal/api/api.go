// Package api is the HTTP surface of the service: feed management,
// image upload and retrieval, and the share-token endpoints. Share
// reads are guarded by the token service; management writes sit behind
// a static key.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"

	iferrs "github.com/calmctl/imagefeed/internal/errors"
	"github.com/calmctl/imagefeed/internal/imagefeed"
	"github.com/calmctl/imagefeed/internal/storage"
	"github.com/calmctl/imagefeed/internal/token"
)

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

// validator is a surface that can validate itself and return an error
// if something is wrong.
type validator interface {
	Validate() error
}

// decodeValid decodes a request and then validates it.
func decodeValid[V validator](r io.Reader) (V, error) {
	var v V
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, iferrs.E(fmt.Errorf("error decoding request: %w", err), http.StatusBadRequest)
	}
	if err := v.Validate(); err != nil {
		return v, err
	}

	return v, nil
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an error.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	// Either it's already a structured error, or coerce it to one
	sErr := &iferrs.Error{}
	if !errors.As(err, &sErr) {
		slog.Error("unstructured handler error", "err", err)
		sErr = iferrs.E(http.StatusInternalServerError, "internal server error")
	}

	if err := writeJSON(w, sErr.Status, sErr); err != nil {
		slog.Error("error writing response", "error", err)
	}
}

// errRouter is a newtype around a mux router that allows attaching handlers that return errors.
type errRouter struct {
	*mux.Router
}

func (r errRouter) HandleFuncE(path string, f HandlerFuncE) *mux.Route {
	return r.Handle(path, f)
}

type (
	// Server handles the service's HTTP requests.
	Server struct {
		*http.Server

		repo   imagefeed.Repository
		tokens *token.Service
		blobs  storage.Storage

		// Image rows never change after upload, so they're safe to
		// cache. Token state is never cached.
		imageCache *lru.Cache[string, imagefeed.Image]

		managementKey string
	}

	ServerConfig struct {
		Port          int
		ManagementKey string
		CorsHeader    string
	}
)

func NewServer(config ServerConfig, repo imagefeed.Repository, tokens *token.Service, blobs storage.Storage) *Server {
	var (
		r        = errRouter{Router: mux.NewRouter()}
		cache, _ = lru.New[string, imagefeed.Image](1024)
	)

	srvr := Server{
		repo:          repo,
		tokens:        tokens,
		blobs:         blobs,
		imageCache:    cache,
		managementKey: config.ManagementKey,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsHeader}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type", shareTokenHeader, managementKeyHeader}),
			)(r),
		},
	}

	r.Use(accessLogMiddleware)

	// Shared reads: anyone presenting a valid token for the feed.
	r.HandleFuncE("/api/v1/feeds/{feedID}", srvr.getFeed).Methods(http.MethodGet)
	r.HandleFuncE("/api/v1/feeds/{feedID}/images", srvr.getImages).Methods(http.MethodGet)
	r.HandleFuncE("/api/v1/feeds/{feedID}/images/{imageID}", srvr.getImage).Methods(http.MethodGet)

	// Management surface
	mgmt := errRouter{Router: r.NewRoute().Subrouter()}
	mgmt.Use(requireManagementKey(config.ManagementKey))

	mgmt.HandleFuncE("/api/v1/feeds", srvr.postFeeds).Methods(http.MethodPost)
	mgmt.HandleFuncE("/api/v1/feeds", srvr.getFeeds).Methods(http.MethodGet)
	mgmt.HandleFuncE("/api/v1/feeds/{feedID}", srvr.deleteFeed).Methods(http.MethodDelete)
	mgmt.HandleFuncE("/api/v1/feeds/{feedID}/images", srvr.postImages).Methods(http.MethodPost)
	mgmt.HandleFuncE("/api/v1/feeds/{feedID}/tokens", srvr.postTokens).Methods(http.MethodPost)
	mgmt.HandleFuncE("/api/v1/feeds/{feedID}/tokens", srvr.getTokens).Methods(http.MethodGet)
	mgmt.HandleFuncE("/api/v1/feeds/{feedID}/tokens/{token}", srvr.deleteToken).Methods(http.MethodDelete)

	slog.Debug("configured api server", "port", config.Port)

	return &srvr
}
