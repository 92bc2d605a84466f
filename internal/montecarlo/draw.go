package montecarlo

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rewired-gh/casesim/internal/freqtable"
)

// ErrOversizedDrawRequest is returned when more draws without replacement are
// requested than the 1..100 universe holds.
var ErrOversizedDrawRequest = errors.New("oversized draw request")

// DrawPolicy decides how requests beyond the 100-value universe are handled.
// Requests of up to 100 draws are always sampled without replacement.
type DrawPolicy string

const (
	// DrawReject fails requests for more than 100 draws.
	DrawReject DrawPolicy = "reject"
	// DrawWithReplacement samples each draw independently once the request
	// exceeds 100 draws.
	DrawWithReplacement DrawPolicy = "replace"
)

// ParseDrawPolicy converts a config value into a DrawPolicy. Empty means DrawReject.
func ParseDrawPolicy(s string) (DrawPolicy, error) {
	switch DrawPolicy(s) {
	case "", DrawReject:
		return DrawReject, nil
	case DrawWithReplacement:
		return DrawWithReplacement, nil
	default:
		return "", fmt.Errorf("unknown draw policy %q: must be one of: reject, replace", s)
	}
}

// NewSource returns a random source and the seed it was created from. A nil
// seed draws one from the operating system's entropy pool so that unseeded
// runs differ while remaining replayable from the returned seed.
func NewSource(seed *int64) (*rand.Rand, int64) {
	var s int64
	if seed != nil {
		s = *seed
	} else {
		s = entropySeed()
	}
	return rand.New(rand.NewSource(s)), s
}

func entropySeed() int64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// DrawRandomNumbers returns count integers in 1..100. Up to 100 draws are the
// head of a uniform random permutation, so no value repeats.
func DrawRandomNumbers(rng *rand.Rand, count int, policy DrawPolicy) ([]int, error) {
	if count < 1 {
		return nil, fmt.Errorf("draw count must be at least 1, got %d", count)
	}

	if count <= freqtable.BandMax {
		perm := rng.Perm(freqtable.BandMax)
		draws := make([]int, count)
		for i := range draws {
			draws[i] = perm[i] + 1
		}
		return draws, nil
	}

	if policy != DrawWithReplacement {
		return nil, fmt.Errorf("cannot draw %d distinct values from 1..%d: %w", count, freqtable.BandMax, ErrOversizedDrawRequest)
	}

	draws := make([]int, count)
	for i := range draws {
		draws[i] = rng.Intn(freqtable.BandMax) + 1
	}
	return draws, nil
}
