package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/offcast/offcast/internal/connectivity"
	"github.com/offcast/offcast/internal/credentials"
	"github.com/offcast/offcast/internal/database"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/prefs"
	"github.com/offcast/offcast/internal/session"
)

type fixture struct {
	manager *Manager
	db      *database.DB
	prefs   *prefs.Prefs
	network *connectivity.Monitor
	bus     *events.Bus
	root    string
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("database open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	creds, err := credentials.Open(filepath.Join(dir, "creds"))
	if err != nil {
		t.Fatalf("credentials open failed: %v", err)
	}
	p, err := prefs.Open(dir)
	if err != nil {
		t.Fatalf("prefs open failed: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if err := db.UpsertServer(&database.Server{ID: "srv1", Name: "Home", Address: server.URL}); err != nil {
		t.Fatalf("seed server failed: %v", err)
	}
	if err := db.UpsertUser(&database.User{ID: "user1", ServerID: "srv1", Name: "alice"}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	sessions := session.NewManager(db, creds, p, "test-device")
	if err := sessions.StartSession(context.Background(), server.URL, "srv1", "user1", "tok", "test"); err != nil {
		t.Fatalf("start session failed: %v", err)
	}

	network := connectivity.New()
	network.Set(connectivity.Status{Online: true, Link: connectivity.LinkUnmetered})

	bus := events.NewBus()
	root := filepath.Join(dir, "downloads")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir download root failed: %v", err)
	}
	manager := New(db, sessions, bus, p, network, Config{
		Root:          root,
		MaxConcurrent: 2,
		SweepSchedule: "@every 1h",
	})

	return &fixture{manager: manager, db: db, prefs: p, network: network, bus: bus, root: root}
}

// completeRow walks a queued row through the downloading edge to completed
func completeRow(t *testing.T, db *database.DB, id, path string, size int64) {
	t.Helper()
	if _, err := db.TransitionDownload(id, database.DownloadStatusDownloading, database.DownloadStatusQueued); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	ok, err := db.CompleteDownload(id, path, size)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if !ok {
		t.Fatalf("complete did not change row %s", id)
	}
}

// itemHandler serves a single item with one media source
func itemHandler(mediaBody string) http.Handler {
	item := jellyfin.Item{
		ID:   "item-1",
		Name: "Pilot",
		Type: "Episode",
		MediaSources: []jellyfin.MediaSource{{
			ID:        "src-1",
			Name:      "1080p",
			Container: "mkv",
			Size:      int64(len(mediaBody)),
		}},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/Items/item-1":
			json.NewEncoder(w).Encode(item)
		case strings.HasPrefix(r.URL.Path, "/Videos/item-1/stream"):
			fmt.Fprint(w, mediaBody)
		default:
			http.NotFound(w, r)
		}
	})
}

func TestStartDownload_RejectsDuplicates(t *testing.T) {
	f := newFixture(t, itemHandler("media-bytes"))
	ctx := context.Background()

	d, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if d.Status != database.DownloadStatusQueued {
		t.Fatalf("expected queued, got %s", d.Status)
	}

	if _, err := f.manager.StartDownload(ctx, "item-1", "src-1"); !errors.Is(err, ErrAlreadyDownloading) {
		t.Fatalf("expected ErrAlreadyDownloading, got %v", err)
	}

	completeRow(t, f.db, d.ID, "/tmp/x.mkv", 10)
	if _, err := f.manager.StartDownload(ctx, "item-1", "src-1"); !errors.Is(err, ErrAlreadyDownloaded) {
		t.Fatalf("expected ErrAlreadyDownloaded, got %v", err)
	}
}

func TestStartDownload_UnknownItemAndSource(t *testing.T) {
	f := newFixture(t, itemHandler("media-bytes"))
	ctx := context.Background()

	if _, err := f.manager.StartDownload(ctx, "missing", "src-1"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if _, err := f.manager.StartDownload(ctx, "item-1", "missing"); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestStartDownload_SupersedesFailedAttempt(t *testing.T) {
	f := newFixture(t, itemHandler("media-bytes"))
	ctx := context.Background()

	d, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := f.db.SetDownloadError(d.ID, "download failed: boom"); err != nil {
		t.Fatalf("set error failed: %v", err)
	}

	fresh, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("restart after failure should succeed: %v", err)
	}
	if fresh.ID == d.ID {
		t.Fatal("expected a new download id")
	}
	if old, _ := f.db.GetDownload(d.ID); old != nil {
		t.Fatal("expected failed row to be replaced")
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, itemHandler("media-bytes"))
	ctx := context.Background()

	d, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := f.manager.PauseDownload(d.ID); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	got, _ := f.db.GetDownload(d.ID)
	if got.Status != database.DownloadStatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	// Resume requires paused or failed
	if err := f.manager.ResumeDownload(d.ID); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	got, _ = f.db.GetDownload(d.ID)
	if got.Status != database.DownloadStatusQueued {
		t.Fatalf("expected queued after resume, got %s", got.Status)
	}
	if got.Error != "" {
		t.Fatalf("expected cleared error, got %q", got.Error)
	}

	if err := f.manager.ResumeDownload(d.ID); !errors.Is(err, ErrNotResumable) {
		t.Fatalf("expected ErrNotResumable for queued download, got %v", err)
	}
}

func TestPauseWinsOverFinishingChain(t *testing.T) {
	f := newFixture(t, itemHandler("media-bytes"))
	ctx := context.Background()

	d, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// The worker has claimed the row and is transferring
	if _, err := f.db.TransitionDownload(d.ID, database.DownloadStatusDownloading, database.DownloadStatusQueued); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := f.manager.PauseDownload(d.ID); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	// The chain finishes its last bytes after the pause landed
	if err := f.manager.finishMediaJob(d, d.FilePath, 10); !errors.Is(err, errSuperseded) {
		t.Fatalf("expected errSuperseded, got %v", err)
	}

	row, _ := f.db.GetDownload(d.ID)
	if row.Status != database.DownloadStatusPaused {
		t.Fatalf("expected paused, got %s", row.Status)
	}
	if s, _ := f.db.GetSource(d.ID + "-local"); s != nil {
		t.Fatal("superseded chain must not record a local source")
	}
}

// rangeItemHandler serves the stream through http.ServeContent, which honors
// Range headers and answers requests past the end with 416
func rangeItemHandler(mediaBody string) http.Handler {
	item := jellyfin.Item{
		ID:   "item-1",
		Name: "Pilot",
		Type: "Episode",
		MediaSources: []jellyfin.MediaSource{{
			ID:        "src-1",
			Name:      "1080p",
			Container: "mkv",
			Size:      int64(len(mediaBody)),
		}},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/Items/item-1":
			json.NewEncoder(w).Encode(item)
		case strings.HasPrefix(r.URL.Path, "/Videos/item-1/stream"):
			http.ServeContent(w, r, "src-1.mkv", time.Unix(0, 0), strings.NewReader(mediaBody))
		default:
			http.NotFound(w, r)
		}
	})
}

func TestResumeWithFullyWrittenPartialFile(t *testing.T) {
	const mediaBody = "0123456789abcdef"
	f := newFixture(t, rangeItemHandler(mediaBody))
	ctx := context.Background()

	d, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("start download failed: %v", err)
	}

	// A previous run wrote every byte but died before the rename
	if err := os.MkdirAll(filepath.Dir(d.FilePath), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	partPath := d.FilePath + ".part"
	if err := os.WriteFile(partPath, []byte(mediaBody), 0o644); err != nil {
		t.Fatalf("write partial failed: %v", err)
	}

	busCh, cancelBus := f.bus.Subscribe()
	defer cancelBus()

	if err := f.manager.Start(); err != nil {
		t.Fatalf("manager start failed: %v", err)
	}
	defer f.manager.Stop()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case event := <-busCh:
			if event.Kind == events.KindDownloadFailed {
				t.Fatalf("download failed: %+v", event.Data)
			}
			if event.Kind != events.KindDownloadCompleted {
				continue
			}
		case <-deadline:
			t.Fatal("download never completed")
		}
		break
	}

	if _, err := os.Stat(partPath); !os.IsNotExist(err) {
		t.Fatal("expected partial file to be renamed away")
	}
	data, err := os.ReadFile(d.FilePath)
	if err != nil {
		t.Fatalf("media file missing: %v", err)
	}
	if string(data) != mediaBody {
		t.Fatalf("unexpected media content %q", data)
	}
	row, _ := f.db.GetDownload(d.ID)
	if row.Status != database.DownloadStatusCompleted {
		t.Fatalf("expected completed row, got %s", row.Status)
	}
}

func TestCancelDownload_RemovesOnlyThisSourcesFiles(t *testing.T) {
	f := newFixture(t, itemHandler("media-bytes"))
	ctx := context.Background()

	d, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Simulate a partial file plus a sibling source's completed file
	itemDir := f.manager.layout.itemDir("item-1")
	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	partPath := d.FilePath + ".part"
	sibling := filepath.Join(itemDir, "src-2.mkv")
	os.WriteFile(partPath, []byte("partial"), 0o644)
	os.WriteFile(sibling, []byte("sibling"), 0o644)

	if err := f.manager.CancelDownload(d.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if _, err := os.Stat(partPath); !os.IsNotExist(err) {
		t.Fatal("expected partial file to be removed")
	}
	if _, err := os.Stat(sibling); err != nil {
		t.Fatal("sibling source file must survive cancel")
	}
	if row, _ := f.db.GetDownload(d.ID); row != nil {
		t.Fatal("expected download row to be deleted")
	}
}

func TestDeleteDownload_RemovesItemDirAndLocalSources(t *testing.T) {
	f := newFixture(t, itemHandler("media-bytes"))
	ctx := context.Background()

	d, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	itemDir := f.manager.layout.itemDir("item-1")
	os.MkdirAll(filepath.Join(itemDir, "images"), 0o755)
	os.WriteFile(d.FilePath, []byte("media"), 0o644)

	local := &database.Source{
		ID: d.ID + "-local", ItemID: "item-1", ServerID: "srv1", UserID: "user1",
		Type: database.SourceTypeLocal, Path: d.FilePath,
	}
	if err := f.db.UpsertSource(local); err != nil {
		t.Fatalf("seed local source failed: %v", err)
	}

	if err := f.manager.DeleteDownload(d.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := os.Stat(itemDir); !os.IsNotExist(err) {
		t.Fatal("expected item directory to be removed")
	}
	if s, _ := f.db.GetSource(d.ID + "-local"); s != nil {
		t.Fatal("expected local source record to be deleted")
	}
	if row, _ := f.db.GetDownload(d.ID); row != nil {
		t.Fatal("expected download row to be deleted")
	}
}

func TestReconcile_HealsStaleState(t *testing.T) {
	f := newFixture(t, itemHandler("media-bytes"))
	ctx := context.Background()

	// A download stuck in downloading from a crashed run
	stuck, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := f.db.TransitionDownload(stuck.ID, database.DownloadStatusDownloading, database.DownloadStatusQueued); err != nil {
		t.Fatalf("status update failed: %v", err)
	}

	// A completed download whose file vanished
	gone := &database.Download{
		ID: "gone", ServerID: "srv1", UserID: "user1", ItemID: "item-2",
		SourceID: "src-9", Status: database.DownloadStatusQueued,
		FilePath: filepath.Join(f.root, "item-2", "src-9.mkv"),
	}
	if err := f.db.CreateDownload(gone); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	completeRow(t, f.db, gone.ID, gone.FilePath, 100)

	// A local source row pointing at a missing file
	orphan := &database.Source{
		ID: "orphan-local", ItemID: "item-3", ServerID: "srv1", UserID: "user1",
		Type: database.SourceTypeLocal, Path: filepath.Join(f.root, "item-3", "gone.mkv"),
	}
	if err := f.db.UpsertSource(orphan); err != nil {
		t.Fatalf("seed orphan source failed: %v", err)
	}

	f.manager.Reconcile()

	if s, _ := f.db.GetSource("orphan-local"); s != nil {
		t.Fatal("expected orphaned local source to be removed")
	}

	got, _ := f.db.GetDownload(stuck.ID)
	if got.Status != database.DownloadStatusQueued {
		t.Fatalf("expected orphaned download requeued, got %s", got.Status)
	}
	got, _ = f.db.GetDownload(gone.ID)
	if got.Status != database.DownloadStatusQueued {
		t.Fatalf("expected missing-file download requeued, got %s", got.Status)
	}
}

func TestDownloadRunsToCompletion(t *testing.T) {
	const mediaBody = "0123456789abcdef"
	f := newFixture(t, itemHandler(mediaBody))
	ctx := context.Background()

	busCh, cancelBus := f.bus.Subscribe()
	defer cancelBus()

	if err := f.manager.Start(); err != nil {
		t.Fatalf("manager start failed: %v", err)
	}
	defer f.manager.Stop()

	d, err := f.manager.StartDownload(ctx, "item-1", "src-1")
	if err != nil {
		t.Fatalf("start download failed: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case event := <-busCh:
			if event.Kind == events.KindDownloadFailed {
				t.Fatalf("download failed: %+v", event.Data)
			}
			if event.Kind != events.KindDownloadCompleted {
				continue
			}
		case <-deadline:
			t.Fatal("download never completed")
		}
		break
	}

	data, err := os.ReadFile(d.FilePath)
	if err != nil {
		t.Fatalf("media file missing: %v", err)
	}
	if string(data) != mediaBody {
		t.Fatalf("unexpected media content %q", data)
	}

	row, _ := f.db.GetDownload(d.ID)
	if row.Status != database.DownloadStatusCompleted {
		t.Fatalf("expected completed row, got %s", row.Status)
	}

	downloaded, err := f.manager.IsItemDownloaded("item-1")
	if err != nil || !downloaded {
		t.Fatalf("expected item downloaded, got %v %v", downloaded, err)
	}

	source, err := f.db.GetSource(d.ID + "-local")
	if err != nil || source == nil {
		t.Fatalf("expected local source record: %v", err)
	}
	if source.Type != database.SourceTypeLocal || source.Path != d.FilePath {
		t.Fatalf("unexpected source %+v", source)
	}
}

func TestDispatchRespectsWifiOnly(t *testing.T) {
	f := newFixture(t, itemHandler("media-bytes"))

	f.network.Set(connectivity.Status{Online: true, Link: connectivity.LinkMetered})
	if err := f.prefs.SetWifiOnly(true); err != nil {
		t.Fatalf("set wifi-only failed: %v", err)
	}
	if f.manager.networkAllows() {
		t.Fatal("metered link must not allow downloads when wifi-only is set")
	}

	f.network.Set(connectivity.Status{Online: true, Link: connectivity.LinkUnmetered})
	if !f.manager.networkAllows() {
		t.Fatal("unmetered link must allow downloads")
	}

	f.network.Set(connectivity.Status{Online: false, Link: connectivity.LinkNone})
	if f.manager.networkAllows() {
		t.Fatal("offline must never allow downloads")
	}
}

func TestFailureMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInsufficientSpace, "insufficient storage space"},
		{fmt.Errorf("Get \"http://x\": stopped after 10 redirects"), "too many redirects"},
		{os.ErrExist, "file already exists"},
		{errors.New("connection reset"), "download failed: connection reset"},
	}
	for _, tt := range tests {
		if got := failureMessage(tt.err); got != tt.want {
			t.Errorf("failureMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
