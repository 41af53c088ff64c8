package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wegman-software/osm-tileset/internal/config"
	"github.com/wegman-software/osm-tileset/internal/tilemath"
)

func testDownloader(url string) *Downloader {
	d := NewDownloader(config.FetchParams{
		URLTemplate: url + "/{z}/{x}/{y}.png",
		Concurrency: 3,
		UserAgent:   "osm-tileset-test",
	})
	d.retryDelay = time.Millisecond
	return d
}

func TestFileName(t *testing.T) {
	got := FileName(tilemath.Tile{X: 65236, Y: 43547, Z: 17})
	if got != "lat_43547_lon_65236_zoom_17.png" {
		t.Errorf("FileName = %q", got)
	}
}

func TestURL(t *testing.T) {
	d := NewDownloader(config.FetchParams{
		URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Subdomains:  "abc",
	})
	for i := 0; i < 20; i++ {
		u := d.URL(tilemath.Tile{X: 1, Y: 2, Z: 3})
		ok := false
		for _, s := range []string{"a", "b", "c"} {
			if u == fmt.Sprintf("https://%s.tile.openstreetmap.org/3/1/2.png", s) {
				ok = true
			}
		}
		if !ok {
			t.Fatalf("unexpected URL %q", u)
		}
	}
}

func TestFetchAll(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("User-Agent") != "osm-tileset-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if strings.HasPrefix(r.URL.Path, "/17/9/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprintf(w, "tile %s", r.URL.Path)
	}))
	defer srv.Close()

	dir := t.TempDir()
	existing := tilemath.Tile{X: 5, Y: 5, Z: 17}
	if err := os.WriteFile(filepath.Join(dir, FileName(existing)), []byte("cached"), 0644); err != nil {
		t.Fatal(err)
	}

	tiles := []tilemath.Tile{
		{X: 1, Y: 2, Z: 17},
		{X: 3, Y: 4, Z: 17},
		existing,
		{X: 9, Y: 9, Z: 17},
	}

	d := testDownloader(srv.URL)
	results, stats, err := d.FetchAll(context.Background(), tiles, dir)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if d.Completed() != int64(len(tiles)) {
		t.Errorf("Completed() = %d, want %d", d.Completed(), len(tiles))
	}
	if stats.Downloaded != 2 || stats.Skipped != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 2 downloaded, 1 skipped, 1 failed", stats)
	}
	if requests.Load() != 3 {
		t.Errorf("server saw %d requests, want 3", requests.Load())
	}

	data, err := os.ReadFile(results[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "tile /17/1/2.png" {
		t.Errorf("tile content = %q", data)
	}
	if !results[2].Skipped {
		t.Error("existing tile should be skipped")
	}
	if !errors.Is(results[3].Err, ErrNotFound) {
		t.Errorf("missing tile error = %v, want ErrNotFound", results[3].Err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName(tiles[3])+".tmp")); !os.IsNotExist(err) {
		t.Error("no temp file should be left behind")
	}
}

func TestFetchRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("png"))
	}))
	defer srv.Close()

	path, skipped, err := testDownloader(srv.URL).Fetch(context.Background(), tilemath.Tile{X: 1, Y: 1, Z: 10}, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if skipped || path == "" {
		t.Errorf("Fetch() = %q, %v", path, skipped)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestFetchGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, _, err := testDownloader(srv.URL).Fetch(context.Background(), tilemath.Tile{X: 1, Y: 1, Z: 10}, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Errorf("got %v, want max retries error", err)
	}
}

func TestFetchAllCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := testDownloader(srv.URL).FetchAll(ctx, []tilemath.Tile{{X: 1, Y: 1, Z: 10}}, t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
