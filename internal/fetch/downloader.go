package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm-tileset/internal/config"
	"github.com/wegman-software/osm-tileset/internal/logger"
	"github.com/wegman-software/osm-tileset/internal/tilemath"
)

// ErrNotFound is returned when the tile server has no tile at an address
var ErrNotFound = errors.New("tile not found")

// FileName returns the name a tile is saved under
func FileName(t tilemath.Tile) string {
	return fmt.Sprintf("lat_%d_lon_%d_zoom_%d.png", t.Y, t.X, t.Z)
}

// Result records the outcome for one tile
type Result struct {
	Tile    tilemath.Tile
	Path    string
	Skipped bool // File already existed
	Err     error
}

// Stats summarizes a FetchAll run
type Stats struct {
	Downloaded int64
	Skipped    int64
	Failed     int64
}

// Downloader fetches raster tiles from a slippy map server
type Downloader struct {
	params     config.FetchParams
	client     *http.Client
	maxRetries int
	retryDelay time.Duration

	completed atomic.Int64
}

// NewDownloader creates a new tile downloader
func NewDownloader(params config.FetchParams) *Downloader {
	if params.Concurrency < 1 {
		params.Concurrency = 1
	}
	return &Downloader{
		params: params,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxRetries: 3,
		retryDelay: 5 * time.Second,
	}
}

// URL expands the URL template for a tile, choosing a random subdomain
func (d *Downloader) URL(t tilemath.Tile) string {
	s := ""
	if n := len(d.params.Subdomains); n > 0 {
		s = string(d.params.Subdomains[rand.IntN(n)])
	}
	r := strings.NewReplacer(
		"{s}", s,
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	)
	return r.Replace(d.params.URLTemplate)
}

// FetchAll downloads every tile into dir with bounded concurrency. A tile
// that fails is logged and reported in its Result; only cancellation stops
// the run.
func (d *Downloader) FetchAll(ctx context.Context, tiles []tilemath.Tile, dir string) ([]Result, Stats, error) {
	log := logger.Get()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, Stats{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	results := make([]Result, len(tiles))
	var downloaded, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.params.Concurrency)

	for i, t := range tiles {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			path, wasSkipped, err := d.Fetch(gctx, t, dir)
			results[i] = Result{Tile: t, Path: path, Skipped: wasSkipped, Err: err}
			d.completed.Add(1)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				failed.Add(1)
				log.Warn("Failed to fetch tile", zap.String("tile", t.String()), zap.Error(err))
			case wasSkipped:
				skipped.Add(1)
			default:
				downloaded.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	stats := Stats{Downloaded: downloaded.Load(), Skipped: skipped.Load(), Failed: failed.Load()}

	log.Info("Fetched tiles",
		zap.Int64("downloaded", stats.Downloaded),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("failed", stats.Failed))

	return results, stats, err
}

// Completed returns the number of tiles FetchAll has finished, failed ones
// included
func (d *Downloader) Completed() int64 {
	return d.completed.Load()
}

// Fetch downloads one tile into dir unless the file already exists
func (d *Downloader) Fetch(ctx context.Context, t tilemath.Tile, dir string) (string, bool, error) {
	log := logger.Get()
	path := filepath.Join(dir, FileName(t))

	if _, err := os.Stat(path); err == nil {
		log.Debug("Tile already present", zap.String("path", path))
		return path, true, nil
	}

	if err := d.politenessPause(ctx); err != nil {
		return "", false, err
	}

	url := d.URL(t)
	log.Debug("Fetching tile", zap.String("url", url))

	resp, err := d.fetchWithRetry(ctx, url)
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch %s: %w", t, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, fmt.Errorf("%w: %s", ErrNotFound, t)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("unexpected status code for %s: %d", t, resp.StatusCode)
	}

	tmpFile := path + ".tmp"
	out, err := os.Create(tmpFile)
	if err != nil {
		return "", false, fmt.Errorf("failed to create tile file: %w", err)
	}

	_, err = io.Copy(out, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpFile)
		return "", false, fmt.Errorf("failed to write tile file: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return "", false, fmt.Errorf("failed to rename tile file: %w", err)
	}

	return path, false, nil
}

// politenessPause sleeps for Pause with probability PauseProb
func (d *Downloader) politenessPause(ctx context.Context) error {
	if d.params.PauseProb <= 0 || d.params.Pause <= 0 || rand.Float64() >= d.params.PauseProb {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.params.Pause):
		return nil
	}
}

// fetchWithRetry performs an HTTP GET with retries
func (d *Downloader) fetchWithRetry(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if d.params.UserAgent != "" {
			req.Header.Set("User-Agent", d.params.UserAgent)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		// Retry on throttling and server errors
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
