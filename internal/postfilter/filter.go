package postfilter

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/wegman-software/osm-tileset/internal/logger"
)

// Match is a file selected by a filter along with the measured value
type Match struct {
	Name  string  // Base name within the directory
	Value float64 // Size in bytes or entropy in bits
}

// Names returns the file names of the matches
func Names(matches []Match) []string {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Name
	}
	return names
}

// Intersect keeps the matches of a whose name also appears in b
func Intersect(a, b []Match) []Match {
	inB := make(map[string]struct{}, len(b))
	for _, m := range b {
		inB[m.Name] = struct{}{}
	}
	var out []Match
	for _, m := range a {
		if _, ok := inB[m.Name]; ok {
			out = append(out, m)
		}
	}
	return out
}

// FilterSize returns the PNG files in dir no larger than maxBytes.
// Near-empty tiles (sea, blank land) compress to very small files.
func FilterSize(dir string, maxBytes int64) ([]Match, error) {
	files, err := pngFiles(dir)
	if err != nil {
		return nil, err
	}

	var out []Match
	for _, name := range files {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if info.Size() <= maxBytes {
			out = append(out, Match{Name: name, Value: float64(info.Size())})
		}
	}
	return out, nil
}

// FilterEntropy returns the PNG files in dir whose histogram entropy is at
// most maxEntropy bits
func FilterEntropy(dir string, maxEntropy float64) ([]Match, error) {
	files, err := pngFiles(dir)
	if err != nil {
		return nil, err
	}

	var out []Match
	for _, name := range files {
		e, err := FileEntropy(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if e <= maxEntropy {
			out = append(out, Match{Name: name, Value: e})
		}
	}
	return out, nil
}

// FileEntropy decodes a PNG and returns its histogram entropy
func FileEntropy(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return Entropy(img), nil
}

// Entropy is the Shannon entropy in bits of the image histogram. Paletted
// and gray images use one 256-bin histogram; color images concatenate the
// per-channel histograms, including alpha only when the image is not opaque.
func Entropy(img image.Image) float64 {
	b := img.Bounds()
	var hist []int

	switch src := img.(type) {
	case *image.Paletted:
		hist = make([]int, 256)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				hist[src.ColorIndexAt(x, y)]++
			}
		}
	case *image.Gray:
		hist = make([]int, 256)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				hist[src.GrayAt(x, y).Y]++
			}
		}
	default:
		rgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

		bands := 3
		if !rgba.Opaque() {
			bands = 4
		}
		hist = make([]int, 256*bands)
		for i := 0; i < len(rgba.Pix); i += 4 {
			for c := 0; c < bands; c++ {
				hist[c*256+int(rgba.Pix[i+c])]++
			}
		}
	}

	total := 0
	for _, n := range hist {
		total += n
	}
	if total == 0 {
		return 0
	}

	var e float64
	for _, n := range hist {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		e -= p * math.Log2(p)
	}
	return e
}

// Apply moves the named files from dir into outDir, or deletes them when
// outDir is empty. Names that no longer exist are ignored. It returns the
// number of files handled.
func Apply(dir string, names []string, outDir string) (int, error) {
	log := logger.Get()

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create %s: %w", outDir, err)
		}
	}

	n := 0
	for _, name := range names {
		src := filepath.Join(dir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if outDir == "" {
			if err := os.Remove(src); err != nil {
				return n, fmt.Errorf("failed to remove %s: %w", src, err)
			}
		} else {
			if err := os.Rename(src, filepath.Join(outDir, filepath.Base(name))); err != nil {
				return n, fmt.Errorf("failed to move %s: %w", src, err)
			}
		}
		n++
	}

	log.Info(fmt.Sprintf("Identified %d files to filter", n),
		zap.String("dir", dir),
		zap.String("moved_to", outDir))
	return n, nil
}

func pngFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	sort.Strings(names)
	return names, nil
}
