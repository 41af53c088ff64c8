package sampler

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
	"go.uber.org/zap"

	"github.com/wegman-software/osm-tileset/internal/logger"
)

// DefaultMaxAttempts is the number of draw rounds before giving up
const DefaultMaxAttempts = 5

var (
	// ErrInsufficientSpace means the positives fill their bounding box
	ErrInsufficientSpace = errors.New("insufficient space for negatives")
	// ErrNoPositives means there is nothing to sample the complement of
	ErrNoPositives = errors.New("no positive coordinates")
)

// Coord is an integer tile coordinate
type Coord struct {
	X, Y int
}

// Options controls SampleComplement
type Options struct {
	N             int     // Requested number of negatives
	MinSeparation float64 // >= 1: negatives are farther than this from every positive
	MaxAttempts   int     // Draw rounds; DefaultMaxAttempts when 0
}

// Result holds the sampled negatives. Fewer than Target coordinates is a
// partial result, not an error: callers needing an exact count must check
// Complete.
type Result struct {
	X, Y     []int
	Target   int // min(N, cells in box - positives)
	InBox    int // Cells in the positive bounding box
	Attempts int // Draw rounds used
}

// Len returns the number of sampled coordinates
func (r Result) Len() int {
	return len(r.X)
}

// Complete reports whether the target count was reached
func (r Result) Complete() bool {
	return len(r.X) >= r.Target
}

// Coords returns the sampled coordinates as pairs
func (r Result) Coords() []Coord {
	out := make([]Coord, len(r.X))
	for i := range r.X {
		out[i] = Coord{X: r.X[i], Y: r.Y[i]}
	}
	return out
}

// SampleComplement draws coordinates from the bounding box of positives
// that are not positives themselves. With MinSeparation >= 1 a candidate is
// kept only if its Euclidean distance to the nearest positive exceeds
// MinSeparation. Sampling stops at the target count or after MaxAttempts
// rounds of Target draws each, whichever comes first.
func SampleComplement(positives []Coord, opts Options, rng *rand.Rand) (Result, error) {
	log := logger.Get()

	if len(positives) == 0 {
		return Result{}, ErrNoPositives
	}

	posSet := make(map[Coord]struct{}, len(positives))
	xMin, xMax := positives[0].X, positives[0].X
	yMin, yMax := positives[0].Y, positives[0].Y
	for _, p := range positives {
		posSet[p] = struct{}{}
		xMin, xMax = min(xMin, p.X), max(xMax, p.X)
		yMin, yMax = min(yMin, p.Y), max(yMax, p.Y)
	}

	nPos := len(posSet)
	nInBox := (xMax - xMin + 1) * (yMax - yMin + 1)
	log.Debug("Sampling complement",
		zap.Int("positives", nPos),
		zap.Int("in_box", nInBox))

	if nPos >= nInBox {
		return Result{}, fmt.Errorf("%w: %d positive tiles and %d total tiles", ErrInsufficientSpace, nPos, nInBox)
	}

	res := Result{
		Target: min(nInBox-nPos, max(opts.N, 0)),
		InBox:  nInBox,
	}
	if res.Target == 0 {
		return res, nil
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	accept := func(c Coord) bool {
		_, isPos := posSet[c]
		return !isPos
	}
	if opts.MinSeparation >= 1 {
		nearest := newNearestIndex(posSet, xMin, xMax, yMin, yMax)
		accept = func(c Coord) bool {
			return nearest.distance(c) > opts.MinSeparation
		}
	}

	negSet := make(map[Coord]struct{}, res.Target)
	for res.Attempts < maxAttempts && len(res.X) < res.Target {
		res.Attempts++
		for i := 0; i < res.Target && len(res.X) < res.Target; i++ {
			c := Coord{
				X: xMin + rng.IntN(xMax-xMin+1),
				Y: yMin + rng.IntN(yMax-yMin+1),
			}
			if _, dup := negSet[c]; dup || !accept(c) {
				continue
			}
			negSet[c] = struct{}{}
			res.X = append(res.X, c.X)
			res.Y = append(res.Y, c.Y)
		}
	}

	return res, nil
}

// nearestIndex answers nearest-positive queries
type nearestIndex struct {
	qt *quadtree.Quadtree
}

func newNearestIndex(posSet map[Coord]struct{}, xMin, xMax, yMin, yMax int) *nearestIndex {
	bound := orb.Bound{
		Min: orb.Point{float64(xMin) - 1, float64(yMin) - 1},
		Max: orb.Point{float64(xMax) + 1, float64(yMax) + 1},
	}
	qt := quadtree.New(bound)
	for p := range posSet {
		// Every positive lies inside the padded bound, so Add cannot fail
		_ = qt.Add(orb.Point{float64(p.X), float64(p.Y)})
	}
	return &nearestIndex{qt: qt}
}

func (n *nearestIndex) distance(c Coord) float64 {
	p := n.qt.Find(orb.Point{float64(c.X), float64(c.Y)}).Point()
	return math.Hypot(p.X()-float64(c.X), p.Y()-float64(c.Y))
}
