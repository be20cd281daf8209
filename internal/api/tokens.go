package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	iferrs "github.com/calmctl/imagefeed/internal/errors"
	"github.com/calmctl/imagefeed/internal/imagefeed"
	"github.com/calmctl/imagefeed/internal/token"
)

const shareTokenHeader = "X-Feed-Token"

// Every denied share access gets this exact response, whatever the
// internal classification was. Expired, consumed, and never-existed
// must be indistinguishable from the outside or the endpoint becomes a
// token oracle.
func shareDenied() error {
	return iferrs.E("feed not found", http.StatusNotFound)
}

// authorizeShare lets the request through only when it presents a
// token the token service accepts for this feed. The classification is
// logged for operators and never surfaced.
func (s Server) authorizeShare(r *http.Request, feedID string) error {
	presented := r.URL.Query().Get("token")
	if presented == "" {
		presented = r.Header.Get(shareTokenHeader)
	}

	// Garbage that can't be a token skips the database entirely.
	if !token.WellFormed(presented) {
		slog.Info("share access denied", "feed_id", feedID, "result", token.ResultInvalid)
		return shareDenied()
	}

	res, err := s.tokens.Validate(r.Context(), feedID, presented)
	if err != nil {
		return err
	}
	if !res.Granted() {
		slog.Info("share access denied", "feed_id", feedID, "result", res)
		return shareDenied()
	}

	return nil
}

type PostTokenReq struct {
	OneTime   bool `json:"one_time"`
	ExpiresIn int  `json:"expires_in"` // seconds, 0 = never
}

func (req PostTokenReq) Validate() error {
	if req.ExpiresIn < 0 {
		return iferrs.E(http.StatusBadRequest, "expires_in must not be negative",
			iferrs.Detail{Field: "expires_in", Error: "must be >= 0"})
	}

	return nil
}

type TokenResp struct {
	Token      string     `json:"token"`
	FeedID     string     `json:"feed_id"`
	OneTime    bool       `json:"one_time"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func apiToken(tok imagefeed.AccessToken) TokenResp {
	return TokenResp{
		Token:      tok.Token,
		FeedID:     tok.FeedID,
		OneTime:    tok.OneTime,
		ExpiresAt:  tok.ExpiresAt,
		ConsumedAt: tok.ConsumedAt,
		CreatedAt:  tok.CreatedAt,
	}
}

func (s Server) postTokens(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		feedID = mux.Vars(r)["feedID"]
	)

	body, err := decodeValid[PostTokenReq](r.Body)
	if err != nil {
		return err
	}

	// Tokens only get minted against feeds that exist.
	if _, err := s.repo.Feed(ctx, feedID); errors.Is(err, imagefeed.ErrNotFound) {
		return iferrs.E("feed not found", http.StatusNotFound)
	} else if err != nil {
		return err
	}

	tok, err := s.tokens.Issue(ctx, feedID, token.Policy{
		OneTime: body.OneTime,
		TTL:     time.Duration(body.ExpiresIn) * time.Second,
	})
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusCreated, apiToken(tok))
}

type TokenListResp struct {
	Tokens []TokenResp `json:"tokens"`
}

func (s Server) getTokens(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		feedID = mux.Vars(r)["feedID"]
	)

	if _, err := s.repo.Feed(ctx, feedID); errors.Is(err, imagefeed.ErrNotFound) {
		return iferrs.E("feed not found", http.StatusNotFound)
	} else if err != nil {
		return err
	}

	toks, err := s.repo.FeedTokens(ctx, feedID)
	if err != nil {
		return err
	}

	resp := TokenListResp{Tokens: []TokenResp{}}
	for _, tok := range toks {
		resp.Tokens = append(resp.Tokens, apiToken(tok))
	}

	return writeJSON(w, http.StatusOK, resp)
}

func (s Server) deleteToken(w http.ResponseWriter, r *http.Request) error {
	var (
		vars   = mux.Vars(r)
		feedID = vars["feedID"]
	)

	err := s.tokens.Revoke(r.Context(), feedID, vars["token"])
	if errors.Is(err, imagefeed.ErrNotFound) {
		return iferrs.E("token not found", http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
