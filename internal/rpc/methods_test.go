package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putreap/putreap/internal/putio"
	putreaptest "github.com/putreap/putreap/internal/testing"
)

const testInstanceFolderID = int64(42)

func ptr[T any](v T) *T { return &v }

func newTestServer(t *testing.T, cfg Config, opts ...Option) (*Server, *putreaptest.PutioServer) {
	t.Helper()

	srv := putreaptest.NewPutioServer()
	t.Cleanup(srv.Close)

	cloud := putio.New("test-token", putio.WithBaseURL(srv.URL))
	return New(cloud, cfg, opts...), srv
}

func defaultConfig() Config {
	return Config{
		DownloadDirectory: "/downloads",
		InstanceName:      "putreap-test",
		InstanceFolderID:  testInstanceFolderID,
	}
}

// call performs one authenticated RPC round trip and decodes the envelope.
func call(t *testing.T, s *Server, body string) (response, json.RawMessage) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/transmission/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, s.SessionID())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env struct {
		Result    string          `json:"result"`
		Arguments json.RawMessage `json:"arguments"`
		Tag       *int64          `json:"tag"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return response{Result: env.Result, Tag: env.Tag}, env.Arguments
}

func TestSessionHandshake(t *testing.T) {
	s, _ := newTestServer(t, defaultConfig())

	t.Run("post without session id gets 409 and the id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transmission/rpc", strings.NewReader(`{"method":"session-get"}`))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, s.SessionID(), rec.Header().Get(sessionHeader))
	})

	t.Run("get is answered with 409 and the id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transmission/rpc", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, s.SessionID(), rec.Header().Get(sessionHeader))
	})

	t.Run("stale session id gets 409", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transmission/rpc", strings.NewReader(`{"method":"session-get"}`))
		req.Header.Set(sessionHeader, "stale-id")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestBasicAuth(t *testing.T) {
	cfg := defaultConfig()
	cfg.Username = "arr"
	cfg.Password = "secret"
	s, _ := newTestServer(t, cfg)

	t.Run("missing credentials are rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transmission/rpc", strings.NewReader(`{"method":"session-get"}`))
		req.Header.Set(sessionHeader, s.SessionID())
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid credentials pass", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transmission/rpc", strings.NewReader(`{"method":"session-get"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(sessionHeader, s.SessionID())
		req.SetBasicAuth("arr", "secret")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSessionGet(t *testing.T) {
	s, _ := newTestServer(t, defaultConfig())

	env, args := call(t, s, `{"method":"session-get","tag":7}`)
	assert.Equal(t, "success", env.Result)
	require.NotNil(t, env.Tag)
	assert.Equal(t, int64(7), *env.Tag)

	var got map[string]any
	require.NoError(t, json.Unmarshal(args, &got))
	assert.Equal(t, "/downloads", got["download-dir"])
	assert.EqualValues(t, 18, got["rpc-version"])
}

func TestSessionStats(t *testing.T) {
	s, srv := newTestServer(t, defaultConfig())

	faker := gofakeit.New(7)
	for _, status := range []string{putio.StatusDownloading, putio.StatusSeeding, putio.StatusInQueue} {
		seed := putreaptest.TransferFixture(faker, status)
		seed.SaveParentID = ptr(testInstanceFolderID)
		srv.AddTransfer(seed)
	}

	env, args := call(t, s, `{"method":"session-stats"}`)
	require.Equal(t, "success", env.Result)

	var got map[string]any
	require.NoError(t, json.Unmarshal(args, &got))
	assert.EqualValues(t, 3, got["torrentCount"])
	assert.EqualValues(t, 2, got["activeTorrentCount"])
}

func TestTorrentGet(t *testing.T) {
	s, srv := newTestServer(t, defaultConfig())

	srv.AddTransfer(putio.Transfer{
		Name:         ptr("Show.S01"),
		Hash:         ptr("aabb01"),
		Size:         ptr(int64(2000)),
		Downloaded:   ptr(int64(500)),
		SaveParentID: ptr(testInstanceFolderID),
		Status:       putio.StatusDownloading,
	})
	srv.AddTransfer(putio.Transfer{
		Name:         ptr("Movie.2024"),
		Hash:         ptr("aabb02"),
		Size:         ptr(int64(1000)),
		Downloaded:   ptr(int64(1300)),
		SaveParentID: ptr(testInstanceFolderID),
		Status:       putio.StatusSeeding,
	})

	env, args := call(t, s, `{"method":"torrent-get","arguments":{"fields":["hashString","status"]}}`)
	require.Equal(t, "success", env.Result)

	var got struct {
		Torrents []torrent `json:"torrents"`
	}
	require.NoError(t, json.Unmarshal(args, &got))
	require.Len(t, got.Torrents, 2)

	byHash := map[string]torrent{}
	for _, tor := range got.Torrents {
		byHash[tor.HashString] = tor
	}

	downloading := byHash["aabb01"]
	assert.Equal(t, statusDownloading, downloading.Status)
	assert.Equal(t, "Show.S01", downloading.Name)
	assert.Equal(t, "/downloads", downloading.DownloadDir)
	assert.Equal(t, int64(1500), downloading.LeftUntilDone)
	assert.False(t, downloading.IsFinished)

	seeding := byHash["aabb02"]
	assert.Equal(t, statusSeeding, seeding.Status)
	// Overshooting downloads clamp instead of going negative.
	assert.Equal(t, int64(0), seeding.LeftUntilDone)

	t.Run("ids filter by hash", func(t *testing.T) {
		_, args := call(t, s, `{"method":"torrent-get","arguments":{"ids":["aabb02"],"fields":["hashString"]}}`)
		var got struct {
			Torrents []torrent `json:"torrents"`
		}
		require.NoError(t, json.Unmarshal(args, &got))
		require.Len(t, got.Torrents, 1)
		assert.Equal(t, "aabb02", got.Torrents[0].HashString)
	})
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, statusDownloading, mapStatus(putio.StatusDownloading))
	assert.Equal(t, statusDownloading, mapStatus(putio.StatusCompleting))
	assert.Equal(t, statusDownloading, mapStatus(putio.StatusPreparingDownload))
	assert.Equal(t, statusSeeding, mapStatus(putio.StatusSeeding))
	assert.Equal(t, statusSeeding, mapStatus(putio.StatusSeedingWait))
	assert.Equal(t, statusDownloadWait, mapStatus(putio.StatusInQueue))
	assert.Equal(t, statusDownloadWait, mapStatus(putio.StatusQueued))
	assert.Equal(t, statusCheck, mapStatus(putio.StatusCheck))
	assert.Equal(t, statusCheck, mapStatus(putio.StatusCheckWait))
	assert.Equal(t, statusStopped, mapStatus(putio.StatusCompleted))
	assert.Equal(t, statusStopped, mapStatus(putio.StatusError))
	assert.Equal(t, statusDownloading, mapStatus("downloading"))
}

func TestTorrentAdd(t *testing.T) {
	t.Run("magnet link", func(t *testing.T) {
		s, srv := newTestServer(t, defaultConfig())

		magnet := "magnet:?xt=urn:btih:C12FE1C06BBA254A9DC9F519B335AA7C1367A88A&dn=Show.S01"
		env, args := call(t, s, fmt.Sprintf(`{"method":"torrent-add","arguments":{"filename":%q}}`, magnet))
		require.Equal(t, "success", env.Result)

		var got struct {
			Added struct {
				ID         uint64 `json:"id"`
				HashString string `json:"hashString"`
			} `json:"torrent-added"`
		}
		require.NoError(t, json.Unmarshal(args, &got))
		assert.Equal(t, "c12fe1c06bba254a9dc9f519b335aa7c1367a88a", got.Added.HashString)

		transfers, err := putio.New("t", putio.WithBaseURL(srv.URL)).
			ListTransfers(t.Context(), putio.ListTransfersOptions{})
		require.NoError(t, err)
		require.Len(t, transfers, 1)
		require.NotNil(t, transfers[0].SaveParentID)
		assert.Equal(t, testInstanceFolderID, *transfers[0].SaveParentID)
	})

	t.Run("torrent file", func(t *testing.T) {
		s, srv := newTestServer(t, defaultConfig())

		metainfo := base64.StdEncoding.EncodeToString([]byte("d8:announce0:e"))
		env, _ := call(t, s, fmt.Sprintf(`{"method":"torrent-add","arguments":{"metainfo":%q}}`, metainfo))
		require.Equal(t, "success", env.Result)

		uploads := srv.Uploads()
		require.Len(t, uploads, 1)
		assert.True(t, strings.HasSuffix(uploads[0], ".torrent"))
	})

	t.Run("neither filename nor metainfo fails", func(t *testing.T) {
		s, _ := newTestServer(t, defaultConfig())

		env, _ := call(t, s, `{"method":"torrent-add","arguments":{}}`)
		assert.NotEqual(t, "success", env.Result)
	})
}

func TestTorrentRemove(t *testing.T) {
	s, srv := newTestServer(t, defaultConfig())

	fileID := srv.AddFolder(testInstanceFolderID, "Show.S01")
	seeded := srv.AddTransfer(putio.Transfer{
		Name:         ptr("Show.S01"),
		Hash:         ptr("aabb01"),
		FileID:       &fileID,
		SaveParentID: ptr(testInstanceFolderID),
		Status:       putio.StatusSeeding,
	})

	env, _ := call(t, s, `{"method":"torrent-remove","arguments":{"ids":["AABB01"],"delete-local-data":true}}`)
	require.Equal(t, "success", env.Result)

	assert.Equal(t, []uint64{seeded.ID}, srv.RemovedTransfers())
	assert.Equal(t, []int64{fileID}, srv.DeletedFiles())
}

func TestUnknownMethod(t *testing.T) {
	s, _ := newTestServer(t, defaultConfig())

	env, _ := call(t, s, `{"method":"torrent-start"}`)
	assert.Contains(t, env.Result, "not supported")
}

func TestMetricsServesConfiguredRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "putreap_requests_total",
		Help: "Requests handled.",
	})
	reg.MustRegister(counter)
	counter.Inc()

	s, _ := newTestServer(t, defaultConfig(), WithGatherer(reg))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "putreap_requests_total 1")
}

func TestHashFromMagnet(t *testing.T) {
	assert.Equal(t, "abc123",
		hashFromMagnet("magnet:?xt=urn:btih:ABC123&dn=x", "fallback"))
	assert.Equal(t, "fallback", hashFromMagnet("http://example.com/file.torrent", "fallback"))
	assert.Equal(t, "fallback", hashFromMagnet("magnet:?dn=x", "fallback"))
}
