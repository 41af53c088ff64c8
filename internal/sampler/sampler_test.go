package sampler

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestSampleComplementSmallBox(t *testing.T) {
	positives := []Coord{{0, 0}, {0, 1}, {1, 0}}

	for seed := uint64(1); seed <= 20; seed++ {
		res, err := SampleComplement(positives, Options{N: 5}, newRand(seed))
		if err != nil {
			t.Fatalf("seed %d: unexpected error: %v", seed, err)
		}
		if res.InBox != 4 || res.Target != 1 {
			t.Errorf("seed %d: in box %d target %d, want 4 and 1", seed, res.InBox, res.Target)
		}
		if res.Len() > 1 {
			t.Fatalf("seed %d: expected at most 1 negative, got %d", seed, res.Len())
		}
		if res.Len() == 1 && (res.X[0] != 1 || res.Y[0] != 1) {
			t.Errorf("seed %d: expected (1,1), got (%d,%d)", seed, res.X[0], res.Y[0])
		}
	}
}

func TestSampleComplementSaturated(t *testing.T) {
	var positives []Coord
	for x := 3; x < 6; x++ {
		for y := 10; y < 13; y++ {
			positives = append(positives, Coord{x, y})
		}
	}

	_, err := SampleComplement(positives, Options{N: 4}, newRand(1))
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("expected ErrInsufficientSpace, got %v", err)
	}

	// Duplicates do not make a saturated box sample-able
	_, err = SampleComplement(append(positives, positives...), Options{N: 4}, newRand(1))
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("expected ErrInsufficientSpace with duplicates, got %v", err)
	}
}

func TestSampleComplementNoPositives(t *testing.T) {
	if _, err := SampleComplement(nil, Options{N: 3}, newRand(1)); !errors.Is(err, ErrNoPositives) {
		t.Errorf("expected ErrNoPositives, got %v", err)
	}
}

func TestSampleComplementProperties(t *testing.T) {
	tests := []struct {
		name          string
		n             int
		minSeparation float64
	}{
		{name: "no separation", n: 30, minSeparation: 0},
		{name: "fractional separation acts as none", n: 30, minSeparation: 0.5},
		{name: "separation 1", n: 30, minSeparation: 1},
		{name: "separation 3", n: 30, minSeparation: 3},
		{name: "more than available", n: 10000, minSeparation: 0},
	}

	rng := newRand(99)
	var positives []Coord
	for i := 0; i < 40; i++ {
		positives = append(positives, Coord{100 + rng.IntN(30), 200 + rng.IntN(30)})
	}
	posSet := make(map[Coord]bool)
	for _, p := range positives {
		posSet[p] = true
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := SampleComplement(positives, Options{N: tt.n, MinSeparation: tt.minSeparation}, newRand(5))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.X) != len(res.Y) {
				t.Fatalf("x and y lengths differ: %d vs %d", len(res.X), len(res.Y))
			}
			limit := min(tt.n, res.InBox-len(posSet))
			if res.Len() > limit {
				t.Errorf("got %d negatives, limit %d", res.Len(), limit)
			}

			seen := make(map[Coord]bool)
			for _, c := range res.Coords() {
				if posSet[c] {
					t.Errorf("negative %v is a positive", c)
				}
				if seen[c] {
					t.Errorf("negative %v sampled twice", c)
				}
				seen[c] = true

				if tt.minSeparation >= 1 {
					nearest := math.Inf(1)
					for p := range posSet {
						nearest = math.Min(nearest, math.Hypot(float64(p.X-c.X), float64(p.Y-c.Y)))
					}
					if nearest <= tt.minSeparation {
						t.Errorf("negative %v is %g from a positive, want > %g", c, nearest, tt.minSeparation)
					}
				}
			}
		})
	}
}

func TestSampleComplementPartialResult(t *testing.T) {
	// A diagonal of positives leaves no cell farther than 5 from all of them
	var positives []Coord
	for i := 0; i < 8; i++ {
		positives = append(positives, Coord{i, i})
	}

	res, err := SampleComplement(positives, Options{N: 8, MinSeparation: 5}, newRand(3))
	if err != nil {
		t.Fatalf("partial result should not be an error: %v", err)
	}
	if res.Complete() {
		t.Error("expected an incomplete result")
	}
	if res.Len() != 0 {
		t.Errorf("expected no negatives, got %d", res.Len())
	}
	if res.Attempts != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, res.Attempts)
	}
}

func TestSampleComplementZeroRequested(t *testing.T) {
	res, err := SampleComplement([]Coord{{0, 0}, {2, 2}}, Options{N: 0}, newRand(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Len() != 0 || !res.Complete() {
		t.Errorf("expected an empty complete result, got %+v", res)
	}
}
