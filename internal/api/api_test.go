package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/calmctl/imagefeed/internal/imagefeed"
	"github.com/calmctl/imagefeed/internal/migrations"
	"github.com/calmctl/imagefeed/internal/sqlite"
	"github.com/calmctl/imagefeed/internal/storage"
	"github.com/calmctl/imagefeed/internal/token"
)

const testManagementKey = "test-management-key"

type testServer struct {
	*Server

	repo   sqlite.Repo
	tokens *token.Service
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	dir := t.TempDir()
	dbx, err := sqlx.Open("sqlite", filepath.Join(dir, "test.db")+"?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })
	require.NoError(t, migrations.Run(dbx))

	blobs, err := storage.NewLocal(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	var (
		repo = sqlite.New(dbx)
		svc  = token.NewService(repo)
	)

	return testServer{
		Server: NewServer(ServerConfig{
			Port:          0,
			ManagementKey: testManagementKey,
			CorsHeader:    "*",
		}, repo, svc, blobs),
		repo:   repo,
		tokens: svc,
	}
}

// do routes the request through the full handler chain so mux vars and
// middleware apply.
func (ts testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rec, req)

	return rec
}

func (ts testServer) managed(method, path string, body *bytes.Buffer) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(managementKeyHeader, testManagementKey)

	return req
}

func (ts testServer) createFeed(t *testing.T, name string) FeedResp {
	t.Helper()

	req := ts.managed(http.MethodPost, "/api/v1/feeds", bytes.NewBufferString(fmt.Sprintf(`{"name": %q, "owner": "tester"}`, name)))
	rec := ts.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var feed FeedResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))

	return feed
}

func (ts testServer) issueToken(t *testing.T, feedID string, body string) TokenResp {
	t.Helper()

	req := ts.managed(http.MethodPost, "/api/v1/feeds/"+feedID+"/tokens", bytes.NewBufferString(body))
	rec := ts.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var tok TokenResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))

	return tok
}

func TestManagementKeyRequired(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feeds", strings.NewReader(`{"name": "no key"}`))
	rec := ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/feeds", strings.NewReader(`{"name": "bad key"}`))
	req.Header.Set(managementKeyHeader, "wrong")
	rec = ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostFeeds_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(ts.managed(http.MethodPost, "/api/v1/feeds", bytes.NewBufferString(`{"description": "no name"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(ts.managed(http.MethodPost, "/api/v1/feeds", bytes.NewBufferString(`{"name": "f u c k this feed"}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPostFeeds_StripsDescriptionHTML(t *testing.T) {
	ts := newTestServer(t)

	req := ts.managed(http.MethodPost, "/api/v1/feeds", bytes.NewBufferString(`{"name": "pets", "description": "<script>alert(1)</script>cute <b>dogs</b>"}`))
	rec := ts.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var feed FeedResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Equal(t, "cute dogs", feed.Description)
}

func TestTokenIssue_UnknownFeed(t *testing.T) {
	ts := newTestServer(t)

	req := ts.managed(http.MethodPost, "/api/v1/feeds/missing-fd/tokens", bytes.NewBufferString(`{"one_time": true}`))
	rec := ts.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOneTimeTokenFlow(t *testing.T) {
	var (
		ts   = newTestServer(t)
		feed = ts.createFeed(t, "vacation")
		tok  = ts.issueToken(t, feed.ID, `{"one_time": true}`)
	)
	require.True(t, tok.OneTime)
	require.True(t, token.WellFormed(tok.Token))

	// First presentation wins.
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feed.ID+"?token="+tok.Token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Second presentation is denied.
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feed.ID+"?token="+tok.Token, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReusableTokenFlow(t *testing.T) {
	var (
		ts   = newTestServer(t)
		feed = ts.createFeed(t, "garden")
		tok  = ts.issueToken(t, feed.ID, `{}`)
	)

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feed.ID, nil)
		req.Header.Set(shareTokenHeader, tok.Token)
		rec := ts.do(req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestShareDenialIsGeneric(t *testing.T) {
	var (
		ctx  = context.Background()
		ts   = newTestServer(t)
		feed = ts.createFeed(t, "birds")
	)

	// An expired token, planted directly since the API refuses to
	// issue tokens already in the past.
	expiredStr, err := token.Generate()
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	_, err = ts.repo.InsertToken(ctx, imagefeed.AccessToken{
		FeedID:    feed.ID,
		Token:     expiredStr,
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	// A consumed one-time token.
	consumed := ts.issueToken(t, feed.ID, `{"one_time": true}`)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feed.ID+"?token="+consumed.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// A token for some other feed.
	other := ts.createFeed(t, "other")
	foreign := ts.issueToken(t, other.ID, `{}`)

	neverIssued, err := token.Generate()
	require.NoError(t, err)

	var bodies []string
	for _, tok := range []string{neverIssued, expiredStr, consumed.Token, foreign.Token} {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feed.ID+"?token="+tok, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
		bodies = append(bodies, rec.Body.String())
	}

	// Whatever the internal classification, the wire response is
	// byte-identical.
	for _, body := range bodies[1:] {
		assert.Equal(t, bodies[0], body)
	}
}

func TestRevokeToken(t *testing.T) {
	var (
		ts   = newTestServer(t)
		feed = ts.createFeed(t, "city")
		tok  = ts.issueToken(t, feed.ID, `{}`)
	)

	rec := ts.do(ts.managed(http.MethodDelete, "/api/v1/feeds/"+feed.ID+"/tokens/"+tok.Token, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feed.ID+"?token="+tok.Token, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Revoking the unknown reports 404 to the manager.
	rec = ts.do(ts.managed(http.MethodDelete, "/api/v1/feeds/"+feed.ID+"/tokens/ift_never-was", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func uploadImage(t *testing.T, ts testServer, feedID, filename, contentType, contents string) ImageResp {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte(contents))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := ts.managed(http.MethodPost, "/api/v1/feeds/"+feedID+"/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := ts.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var img ImageResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &img))

	return img
}

func TestImageUploadAndDownload(t *testing.T) {
	var (
		ts   = newTestServer(t)
		feed = ts.createFeed(t, "album")
		tok  = ts.issueToken(t, feed.ID, `{}`)
		img  = uploadImage(t, ts, feed.ID, "sunset.png", "image/png", "png bytes here")
	)
	assert.Equal(t, "sunset.png", img.Filename)
	assert.Equal(t, "image/png", img.ContentType)

	// Listing with the token shows the upload.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feed.ID+"/images", nil)
	req.Header.Set(shareTokenHeader, tok.Token)
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list ImageListResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Images, 1)

	// Downloading streams the original bytes back.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feed.ID+"/images/"+img.ID, nil)
	req.Header.Set(shareTokenHeader, tok.Token)
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png bytes here", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestImageDownload_WrongFeedToken(t *testing.T) {
	var (
		ts    = newTestServer(t)
		feedA = ts.createFeed(t, "a")
		feedB = ts.createFeed(t, "b")
		tokB  = ts.issueToken(t, feedB.ID, `{}`)
		img   = uploadImage(t, ts, feedA.ID, "secret.jpg", "image/jpeg", "private")
	)

	// A token for feed B never reaches feed A's image, even when the
	// caller guesses the image ID and routes through feed B.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feedB.ID+"/images/"+img.ID, nil)
	req.Header.Set(shareTokenHeader, tokB.Token)
	rec := ts.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteFeed(t *testing.T) {
	var (
		ts   = newTestServer(t)
		feed = ts.createFeed(t, "doomed")
		tok  = ts.issueToken(t, feed.ID, `{}`)
	)
	uploadImage(t, ts, feed.ID, "gone.png", "image/png", "bye")

	rec := ts.do(ts.managed(http.MethodDelete, "/api/v1/feeds/"+feed.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The old token no longer opens anything.
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/feeds/"+feed.ID+"?token="+tok.Token, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
