package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/offcast/offcast/internal/credentials"
	"github.com/offcast/offcast/internal/database"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/prefs"
	"github.com/offcast/offcast/internal/session"
)

func TestItemCache_EvictsOldest(t *testing.T) {
	cache := newItemCache(2)
	cache.put("srv", &jellyfin.Item{ID: "a"})
	cache.put("srv", &jellyfin.Item{ID: "b"})

	// Touch "a" so "b" becomes the eviction candidate
	if cache.get("srv", "a") == nil {
		t.Fatal("expected a to be cached")
	}
	cache.put("srv", &jellyfin.Item{ID: "c"})

	if cache.get("srv", "b") != nil {
		t.Fatal("expected b to be evicted")
	}
	if cache.get("srv", "a") == nil || cache.get("srv", "c") == nil {
		t.Fatal("expected a and c to survive")
	}
}

func TestItemCache_InvalidateAbsentIsNoOp(t *testing.T) {
	cache := newItemCache(4)
	cache.invalidate("srv", "missing")
	cache.put("srv", &jellyfin.Item{ID: "a"})
	cache.invalidate("srv", "a")
	cache.invalidate("srv", "a")
	if cache.len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", cache.len())
	}
}

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		source jellyfin.MediaSource
		want   string
	}{
		{
			source: jellyfin.MediaSource{MediaStreams: []jellyfin.MediaStream{
				{Type: "Video", DisplayTitle: "1080p HEVC", Codec: "hevc"},
			}},
			want: "1080p (HEVC)",
		},
		{
			source: jellyfin.MediaSource{MediaStreams: []jellyfin.MediaStream{
				{Type: "Video", Height: 2160, Codec: "av1"},
			}},
			want: "2160p (AV1)",
		},
		{
			source: jellyfin.MediaSource{Name: "Director's Cut"},
			want:   "Director's Cut",
		},
		{
			source: jellyfin.MediaSource{Container: "mkv"},
			want:   "mkv",
		},
	}
	for _, tt := range tests {
		if got := SourceLabel(tt.source); got != tt.want {
			t.Errorf("SourceLabel(%+v) = %q, want %q", tt.source, got, tt.want)
		}
	}
}

func testRepository(t *testing.T, handler http.Handler) (*Repository, *events.Bus) {
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

	bus := events.NewBus()
	repo := NewRepository(sessions, bus)
	return repo, bus
}

func TestRepository_ItemCachesUntilInvalidated(t *testing.T) {
	var fetches atomic.Int64
	repo, bus := testRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/Items/") {
			fetches.Add(1)
			json.NewEncoder(w).Encode(jellyfin.Item{ID: "item-1", Name: "Pilot"})
			return
		}
		http.NotFound(w, r)
	}))

	ctx := context.Background()
	repo.Start(ctx)
	defer repo.Stop()

	for range 3 {
		item, err := repo.Item(ctx, "item-1")
		if err != nil {
			t.Fatalf("item fetch failed: %v", err)
		}
		if item.Name != "Pilot" {
			t.Fatalf("unexpected item %+v", item)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected 1 server fetch, got %d", got)
	}

	bus.Publish(events.Event{Kind: events.KindUserDataChanged, ServerID: "srv1", ItemID: "item-1"})

	// Invalidation is asynchronous
	deadline := time.Now().Add(2 * time.Second)
	for fetches.Load() == 1 {
		if time.Now().After(deadline) {
			t.Fatal("cache was never invalidated")
		}
		if _, err := repo.Item(ctx, "item-1"); err != nil {
			t.Fatalf("item fetch failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRepository_LibraryChangedClearsEverything(t *testing.T) {
	var fetches atomic.Int64
	repo, bus := testRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/Items/"):
			fetches.Add(1)
			id := strings.TrimPrefix(r.URL.Path, "/Items/")
			json.NewEncoder(w).Encode(jellyfin.Item{ID: id})
		case strings.Contains(r.URL.Path, "NextUp"):
			fetches.Add(1)
			fmt.Fprint(w, `{"Items":[{"Id":"next-1"}],"TotalRecordCount":1}`)
		default:
			http.NotFound(w, r)
		}
	}))

	ctx := context.Background()
	repo.Start(ctx)
	defer repo.Stop()

	if _, err := repo.Item(ctx, "item-1"); err != nil {
		t.Fatalf("item fetch failed: %v", err)
	}
	if _, err := repo.NextUp(ctx, 10); err != nil {
		t.Fatalf("next up failed: %v", err)
	}
	if _, err := repo.NextUp(ctx, 10); err != nil {
		t.Fatalf("next up failed: %v", err)
	}
	base := fetches.Load()
	if base != 2 {
		t.Fatalf("expected 2 fetches before invalidation, got %d", base)
	}

	bus.Publish(events.Event{Kind: events.KindLibraryChanged, ServerID: "srv1"})

	deadline := time.Now().Add(2 * time.Second)
	for fetches.Load() < base+2 {
		if time.Now().After(deadline) {
			t.Fatalf("caches were never cleared, fetches=%d", fetches.Load())
		}
		repo.Item(ctx, "item-1")
		repo.NextUp(ctx, 10)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRepository_NoSession(t *testing.T) {
	bus := events.NewBus()
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("database open failed: %v", err)
	}
	defer db.Close()
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

	repo := NewRepository(session.NewManager(db, creds, p, "dev"), bus)
	if _, err := repo.Item(context.Background(), "x"); err != session.ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
