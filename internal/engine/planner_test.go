package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putreap/putreap/internal/putio"
	putreaptest "github.com/putreap/putreap/internal/testing"
	"github.com/putreap/putreap/internal/transfer"
)

const instanceFolderID = int64(42)

func ptr[T any](v T) *T { return &v }

func newPlannerEngine(t *testing.T, downloadDir string) (*Engine, *putreaptest.PutioServer) {
	t.Helper()

	srv := putreaptest.NewPutioServer()
	t.Cleanup(srv.Close)

	cloud := putio.New("test-token", putio.WithBaseURL(srv.URL))
	e := New(Config{
		DownloadDirectory: downloadDir,
		SkipDirectories:   []string{"sample", "extras"},
		InstanceFolderID:  instanceFolderID,
	}, cloud, nil, nil)

	return e, srv
}

func targetPaths(targets []transfer.DownloadTarget) []string {
	paths := make([]string, 0, len(targets))
	for _, target := range targets {
		paths = append(paths, target.To)
	}
	return paths
}

func TestPlanTargets(t *testing.T) {
	t.Run("season folder", func(t *testing.T) {
		e, srv := newPlannerEngine(t, "/downloads")

		season := srv.AddFolder(instanceFolderID, "Show.S01.1080p")
		srv.AddVideo(season, "e01.mkv", []byte("v1"))
		srv.AddVideo(season, "e02.mkv", []byte("v2"))
		srv.AddFile(season, "e01.srt", "OTHER", []byte("subs"))
		srv.AddFile(season, "release.nfo", "OTHER", []byte("nfo"))

		sample := srv.AddFolder(season, "Sample")
		srv.AddVideo(sample, "sample.mkv", []byte("s"))

		tr := transfer.New(&putio.Transfer{ID: 1, FileID: &season, Hash: ptr("abc123")})
		plan, err := e.planTargets(t.Context(), tr)
		require.NoError(t, err)
		require.Len(t, plan, 4)

		// The directory always precedes the files inside it.
		root := filepath.Join("/downloads", "Show.S01.1080p")
		assert.Equal(t, transfer.TargetDirectory, plan[0].Kind)
		assert.Equal(t, root, plan[0].To)
		assert.True(t, plan[0].TopLevel)

		for _, target := range plan[1:] {
			assert.Equal(t, transfer.TargetFile, target.Kind)
			assert.False(t, target.TopLevel)
			assert.NotEmpty(t, target.From)
			assert.Equal(t, "abc123", target.TransferHash)
		}
		assert.ElementsMatch(t, []string{
			filepath.Join(root, "e01.mkv"),
			filepath.Join(root, "e02.mkv"),
			filepath.Join(root, "e01.srt"),
		}, targetPaths(plan[1:]))
	})

	t.Run("single video file", func(t *testing.T) {
		e, srv := newPlannerEngine(t, "/downloads")
		video := srv.AddVideo(instanceFolderID, "Movie.2024.mkv", []byte("v"))

		tr := transfer.New(&putio.Transfer{ID: 2, FileID: &video, Hash: ptr("def456")})
		plan, err := e.planTargets(t.Context(), tr)
		require.NoError(t, err)
		require.Len(t, plan, 1)

		assert.Equal(t, transfer.TargetFile, plan[0].Kind)
		assert.Equal(t, filepath.Join("/downloads", "Movie.2024.mkv"), plan[0].To)
		assert.True(t, plan[0].TopLevel)
		assert.NotEmpty(t, plan[0].From)
	})

	t.Run("nested folders keep directory order", func(t *testing.T) {
		e, srv := newPlannerEngine(t, "/downloads")

		show := srv.AddFolder(instanceFolderID, "Show")
		season := srv.AddFolder(show, "Season 1")
		srv.AddVideo(season, "e01.mkv", []byte("v"))

		tr := transfer.New(&putio.Transfer{ID: 3, FileID: &show, Hash: ptr("aaa")})
		plan, err := e.planTargets(t.Context(), tr)
		require.NoError(t, err)

		require.Equal(t, []string{
			filepath.Join("/downloads", "Show"),
			filepath.Join("/downloads", "Show", "Season 1"),
			filepath.Join("/downloads", "Show", "Season 1", "e01.mkv"),
		}, targetPaths(plan))
		assert.True(t, plan[0].TopLevel)
		assert.False(t, plan[1].TopLevel)
	})

	t.Run("folder with nothing downloadable yields empty plan", func(t *testing.T) {
		e, srv := newPlannerEngine(t, "/downloads")

		folder := srv.AddFolder(instanceFolderID, "Extras.Pack")
		srv.AddFile(folder, "readme.txt", "OTHER", []byte("t"))
		srv.AddFolder(folder, "empty-sub")

		tr := transfer.New(&putio.Transfer{ID: 4, FileID: &folder, Hash: ptr("bbb")})
		plan, err := e.planTargets(t.Context(), tr)
		require.NoError(t, err)
		assert.Empty(t, plan)
	})

	t.Run("skip directory matching is case-insensitive", func(t *testing.T) {
		e, srv := newPlannerEngine(t, "/downloads")

		season := srv.AddFolder(instanceFolderID, "Show.S01")
		srv.AddVideo(season, "e01.mkv", []byte("v"))
		sample := srv.AddFolder(season, "SAMPLE")
		srv.AddVideo(sample, "sample.mkv", []byte("s"))

		tr := transfer.New(&putio.Transfer{ID: 5, FileID: &season, Hash: ptr("ccc")})
		plan, err := e.planTargets(t.Context(), tr)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{
			filepath.Join("/downloads", "Show.S01"),
			filepath.Join("/downloads", "Show.S01", "e01.mkv"),
		}, targetPaths(plan))
	})

	t.Run("rejects transfer outside instance folder", func(t *testing.T) {
		e, srv := newPlannerEngine(t, "/downloads")

		foreign := srv.AddFolder(7, "Somebody.Elses.Download")
		srv.AddVideo(foreign, "movie.mkv", []byte("v"))

		tr := transfer.New(&putio.Transfer{ID: 6, FileID: &foreign, Hash: ptr("ddd")})
		_, err := e.planTargets(t.Context(), tr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outside instance folder")
	})

	t.Run("rejects transfer without file id", func(t *testing.T) {
		e, _ := newPlannerEngine(t, "/downloads")

		tr := transfer.New(&putio.Transfer{ID: 7})
		_, err := e.planTargets(t.Context(), tr)
		require.Error(t, err)
	})

	t.Run("rejects traversal in remote names", func(t *testing.T) {
		e, srv := newPlannerEngine(t, "/downloads")

		folder := srv.AddFolder(instanceFolderID, "ok")
		srv.AddVideo(folder, "../../../etc/cron.d/evil", []byte("v"))

		tr := transfer.New(&putio.Transfer{ID: 8, FileID: &folder, Hash: ptr("eee")})
		_, err := e.planTargets(t.Context(), tr)
		require.Error(t, err)
	})
}

func TestIsSubtitle(t *testing.T) {
	assert.True(t, isSubtitle("episode.srt"))
	assert.True(t, isSubtitle("episode.SRT"))
	assert.True(t, isSubtitle("movie.en.vtt"))
	assert.True(t, isSubtitle("movie.ass"))
	assert.False(t, isSubtitle("movie.mkv"))
	assert.False(t, isSubtitle("srt"))
}
