package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putreap/putreap/internal/arr"
	"github.com/putreap/putreap/internal/fetch"
	"github.com/putreap/putreap/internal/httpx"
	"github.com/putreap/putreap/internal/putio"
	putreaptest "github.com/putreap/putreap/internal/testing"
	"github.com/putreap/putreap/internal/transfer"
)

const (
	eventuallyTimeout = 10 * time.Second
	eventuallyTick    = 20 * time.Millisecond
)

type testHarness struct {
	engine *Engine
	putio  *putreaptest.PutioServer
	arr    *putreaptest.ArrServer
	dir    string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	putioSrv := putreaptest.NewPutioServer()
	t.Cleanup(putioSrv.Close)

	arrSrv := putreaptest.NewArrServer("arr-key")
	t.Cleanup(arrSrv.Close)

	dir := t.TempDir()

	cloud := putio.New("test-token", putio.WithBaseURL(putioSrv.URL))
	history := arr.New("sonarr-test", arrSrv.URL, "arr-key")

	e := New(Config{
		DownloadDirectory:    dir,
		PollingInterval:      25 * time.Millisecond,
		OrchestrationWorkers: 2,
		DownloadWorkers:      2,
		SkipDirectories:      []string{"sample"},
		InstanceName:         "putreap-test",
		InstanceFolderID:     instanceFolderID,
	}, cloud, []HistoryClient{history}, fetch.New())

	return &testHarness{engine: e, putio: putioSrv, arr: arrSrv, dir: dir}
}

// seedSeasonTransfer seeds a seeding transfer with one video in a season
// folder and returns the transfer and the video's local path.
func seedSeasonTransfer(h *testHarness, name string) (*putio.Transfer, string) {
	season := h.putio.AddFolder(instanceFolderID, name)
	h.putio.AddVideo(season, "e01.mkv", []byte("video-bytes"))

	seeded := h.putio.AddTransfer(putio.Transfer{
		Name:         ptr(name),
		Hash:         ptr("abc123"),
		FileID:       &season,
		SaveParentID: ptr(instanceFolderID),
		Status:       putio.StatusSeeding,
	})
	return seeded, filepath.Join(h.dir, name, "e01.mkv")
}

func TestEngineLifecycle(t *testing.T) {
	h := newHarness(t)

	seeded, videoPath := seedSeasonTransfer(h, "Show.S01.1080p")

	require.NoError(t, h.engine.Start(t.Context()))
	defer h.engine.Stop()

	// Discovery and download.
	require.Eventually(t, func() bool {
		_, err := os.Stat(videoPath)
		return err == nil
	}, eventuallyTimeout, eventuallyTick, "video should be downloaded")

	data, err := os.ReadFile(videoPath)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	// Import: once the Arr history records the file, the local artifact goes.
	h.arr.RecordImport(videoPath)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(h.dir, "Show.S01.1080p"))
		return os.IsNotExist(err)
	}, eventuallyTimeout, eventuallyTick, "local artifact should be deleted after import")

	// Seeding ends: both remote sides get cleaned up.
	h.putio.SetTransferStatus(seeded.ID, putio.StatusCompleted)
	require.Eventually(t, func() bool {
		return len(h.putio.RemovedTransfers()) == 1 && len(h.putio.DeletedFiles()) == 1
	}, eventuallyTimeout, eventuallyTick, "remote transfer and files should be removed")

	assert.Equal(t, []uint64{seeded.ID}, h.putio.RemovedTransfers())
}

func TestEngineSkipsTransfersWithoutFileTree(t *testing.T) {
	h := newHarness(t)

	// Still downloading remotely: no file_id yet.
	h.putio.AddTransfer(putio.Transfer{
		Name:         ptr("Pending"),
		SaveParentID: ptr(instanceFolderID),
		Status:       putio.StatusDownloading,
	})

	require.NoError(t, h.engine.Start(t.Context()))
	defer h.engine.Stop()

	time.Sleep(150 * time.Millisecond)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, h.engine.seen.Len())
}

func TestEngineDispatchesEachTransferOnce(t *testing.T) {
	h := newHarness(t)

	_, videoPath := seedSeasonTransfer(h, "Show.S01")

	require.NoError(t, h.engine.Start(t.Context()))
	defer h.engine.Stop()

	require.Eventually(t, func() bool {
		_, err := os.Stat(videoPath)
		return err == nil
	}, eventuallyTimeout, eventuallyTick)

	// The transfer stays listed and seeding across many polls; the seen set
	// must pin it to exactly one dispatch.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, h.engine.seen.Len())
}

func TestEngineImportsWhenFirstArrServiceIsDown(t *testing.T) {
	h := newHarness(t)

	// A service that is plainly down: its port was released on close, so
	// every probe is refused.
	downSrv := httptest.NewServer(http.NotFoundHandler())
	downURL := downSrv.URL
	downSrv.Close()

	noRetry := &http.Client{Transport: httpx.NewRetryTransport(httpx.WithMaxRetries(0))}
	h.engine.arrs = []HistoryClient{
		arr.New("sonarr-down", downURL, "arr-key", arr.WithHTTPClient(noRetry)),
		arr.New("radarr-main", h.arr.URL, "arr-key", arr.WithHTTPClient(noRetry)),
	}

	seeded, videoPath := seedSeasonTransfer(h, "Show.S01")

	require.NoError(t, h.engine.Start(t.Context()))
	defer h.engine.Stop()

	require.Eventually(t, func() bool {
		_, err := os.Stat(videoPath)
		return err == nil
	}, eventuallyTimeout, eventuallyTick, "video should be downloaded")

	// Only the reachable service knows about the import; the unreachable
	// one must be skipped, not block the watcher.
	h.arr.RecordImport(videoPath)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(h.dir, "Show.S01"))
		return os.IsNotExist(err)
	}, eventuallyTimeout, eventuallyTick, "import should be found via the second service")

	h.putio.SetTransferStatus(seeded.ID, putio.StatusCompleted)
	require.Eventually(t, func() bool {
		return len(h.putio.RemovedTransfers()) == 1
	}, eventuallyTimeout, eventuallyTick)

	assert.Positive(t, h.arr.Requests(), "reachable service should have been probed")
}

func TestReconcileResumesImportedTransfers(t *testing.T) {
	h := newHarness(t)

	seeded, videoPath := seedSeasonTransfer(h, "Show.S01")

	// The file was downloaded and imported in a previous run; the local
	// artifact is already gone and the history remembers the import.
	h.arr.RecordImport(videoPath)

	require.NoError(t, h.engine.Start(t.Context()))
	defer h.engine.Stop()

	// Reconciliation must route the transfer straight to the seed watch:
	// nothing is downloaded again, and cleanup still happens.
	h.putio.SetTransferStatus(seeded.ID, putio.StatusCompleted)
	require.Eventually(t, func() bool {
		return len(h.putio.RemovedTransfers()) == 1
	}, eventuallyTimeout, eventuallyTick, "seed watch should clean up without re-downloading")

	_, err := os.Stat(videoPath)
	assert.True(t, os.IsNotExist(err), "imported transfer must not be downloaded again")
}

func TestEngineStopIsBounded(t *testing.T) {
	h := newHarness(t)
	seedSeasonTransfer(h, "Show.S01")

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, h.engine.Start(ctx))

	time.Sleep(100 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		h.engine.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine.Stop did not return")
	}
}

func TestEmitHonoursCancellation(t *testing.T) {
	e := New(Config{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	// Fill the buffer so the send would block.
	for range eventBuffer {
		e.events <- transfer.Event{}
	}

	assert.False(t, e.emit(ctx, transfer.Event{}))
}
