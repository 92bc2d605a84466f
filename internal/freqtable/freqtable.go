// Package freqtable builds discretized frequency distributions from observed
// daily series and maps them onto random-number bands inside 1..100.
//
// A table is built once per variable and never modified afterwards. The band
// partition is the contract the Monte Carlo lookup relies on: bands start at 1,
// end at 100 and leave no gaps or overlaps, so every draw in 1..100 lands in
// exactly one class.
package freqtable

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rewired-gh/casesim/internal/logger"
	"github.com/rewired-gh/casesim/internal/models"
)

// BandMax is the upper bound of the random-number space. Bands partition 1..BandMax.
const BandMax = 100

var (
	// ErrInsufficientData is returned when a series has fewer than two observations.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrBandIntegrityViolation is returned when the random bands do not partition 1..100.
	ErrBandIntegrityViolation = errors.New("random band integrity violation")
)

// Options controls the per-variable rules of the builder.
type Options struct {
	// ClassCountOffset is added to floor(1 + 3.3·log10(n)).
	ClassCountOffset int `mapstructure:"class_count_offset"`
	// RoundProbabilities rounds class probabilities to two decimals before
	// they are converted to percentages.
	RoundProbabilities bool `mapstructure:"round_probabilities"`
	// DoubleCorrection runs an unconditional percentage correction followed by
	// the generic sum check. Both adjust class 0.
	DoubleCorrection bool `mapstructure:"double_correction"`
}

// DefaultOptions returns the historical rules for v. The discarded table uses
// a smaller class count, unrounded probabilities and two correction passes;
// these asymmetries are kept so that historical tables are reproduced exactly.
func DefaultOptions(v models.Variable) Options {
	if v == models.Discarded {
		return Options{ClassCountOffset: 0, RoundProbabilities: false, DoubleCorrection: true}
	}
	return Options{ClassCountOffset: 1, RoundProbabilities: true, DoubleCorrection: false}
}

// Interval is a closed integer range.
type Interval struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// Contains reports whether x lies inside the closed interval.
func (i Interval) Contains(x int) bool {
	return i.Lower <= x && x <= i.Upper
}

// Width returns the number of integers in the interval. Empty intervals have width 0.
func (i Interval) Width() int {
	return i.Upper - i.Lower + 1
}

func (i Interval) String() string {
	return fmt.Sprintf("%d - %d", i.Lower, i.Upper)
}

// Class is one row of a frequency table.
type Class struct {
	Interval              Interval `json:"interval"`
	Midpoint              int      `json:"midpoint"`
	Frequency             int      `json:"frequency"`
	Probability           float64  `json:"probability"`
	PercentProbability    int      `json:"percent_probability"`
	CumulativeProbability float64  `json:"cumulative_probability"`
	Band                  Interval `json:"band"`
}

// Table is the frequency distribution of one observed series.
type Table struct {
	Variable   models.Variable `json:"variable"`
	N          int             `json:"n"`
	Min        int             `json:"min"`
	Max        int             `json:"max"`
	ClassCount int             `json:"class_count"`
	ClassWidth int             `json:"class_width"`
	Classes    []Class         `json:"classes"`
	// Corrections holds the adjustment added to class 0 by each correction pass.
	Corrections []int   `json:"corrections"`
	Options     Options `json:"options"`
}

// Build computes the frequency table of series using opts.
func Build(series models.ObservedSeries, opts Options) (*Table, error) {
	n := len(series.Values)
	if n < 2 {
		return nil, fmt.Errorf("%s series has %d observations, need at least 2: %w", series.Variable, n, ErrInsufficientData)
	}
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s series: %w", series.Variable, err)
	}

	minVal, maxVal := series.Values[0], series.Values[0]
	for _, v := range series.Values[1:] {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
	}

	k := classCount(n, opts.ClassCountOffset)
	p := classWidth(minVal, maxVal, k)

	t := &Table{
		Variable:   series.Variable,
		N:          n,
		Min:        minVal,
		Max:        maxVal,
		ClassCount: k,
		ClassWidth: p,
		Classes:    make([]Class, k),
		Options:    opts,
	}

	lower := minVal
	for i := range t.Classes {
		iv := Interval{Lower: lower, Upper: lower + p - 1}
		t.Classes[i].Interval = iv
		t.Classes[i].Midpoint = int(math.RoundToEven(float64(iv.Lower+iv.Upper) / 2))
		lower = iv.Upper + 1
	}

	for _, v := range series.Values {
		for i := range t.Classes {
			if t.Classes[i].Interval.Contains(v) {
				t.Classes[i].Frequency++
				break
			}
		}
	}

	probs := make([]float64, k)
	for i := range t.Classes {
		prob := float64(t.Classes[i].Frequency) / float64(n)
		if opts.RoundProbabilities {
			prob = roundTo(prob, 2)
		}
		probs[i] = prob
		t.Classes[i].Probability = prob
		t.Classes[i].PercentProbability = int(math.RoundToEven(prob * 100))
	}

	if opts.DoubleCorrection {
		t.Corrections = append(t.Corrections, t.correct(true))
	}
	t.Corrections = append(t.Corrections, t.correct(false))

	cumulative := floats.CumSum(make([]float64, k), probs)
	bandLower := 1
	for i := range t.Classes {
		t.Classes[i].CumulativeProbability = cumulative[i]
		t.Classes[i].Band = Interval{Lower: bandLower, Upper: bandLower + t.Classes[i].PercentProbability - 1}
		bandLower = t.Classes[i].Band.Upper + 1
		if t.Classes[i].Band.Width() == 0 {
			logger.Debug("%s class %d (%s) has a zero-width band %s", t.Variable, i+1, t.Classes[i].Interval, t.Classes[i].Band)
		}
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// BuildAll builds one table per series, using options[v] when present and
// DefaultOptions(v) otherwise.
func BuildAll(series []models.ObservedSeries, options map[models.Variable]Options) (map[models.Variable]*Table, error) {
	tables := make(map[models.Variable]*Table, len(series))
	for _, s := range series {
		opts, ok := options[s.Variable]
		if !ok {
			opts = DefaultOptions(s.Variable)
		}
		t, err := Build(s, opts)
		if err != nil {
			return nil, err
		}
		tables[s.Variable] = t
	}
	return tables, nil
}

// Validate checks the band partition: first band starts at 1, the last ends at
// 100, widths are non-negative and consecutive bands touch without overlap.
func (t *Table) Validate() error {
	if len(t.Classes) == 0 {
		return fmt.Errorf("%s table has no classes: %w", t.Variable, ErrBandIntegrityViolation)
	}

	next := 1
	total := 0
	for i, c := range t.Classes {
		if c.Band.Lower != next {
			return fmt.Errorf("%s band %d starts at %d, expected %d: %w", t.Variable, i+1, c.Band.Lower, next, ErrBandIntegrityViolation)
		}
		if c.Band.Width() < 0 {
			return fmt.Errorf("%s band %d has negative width %d: %w", t.Variable, i+1, c.Band.Width(), ErrBandIntegrityViolation)
		}
		total += c.PercentProbability
		next = c.Band.Upper + 1
	}

	if last := t.Classes[len(t.Classes)-1].Band.Upper; last != BandMax {
		return fmt.Errorf("%s bands end at %d, expected %d: %w", t.Variable, last, BandMax, ErrBandIntegrityViolation)
	}
	if total != BandMax {
		return fmt.Errorf("%s percentages sum to %d, expected %d: %w", t.Variable, total, BandMax, ErrBandIntegrityViolation)
	}
	return nil
}

// FrequencyTotal returns the sum of class frequencies.
func (t *Table) FrequencyTotal() int {
	total := 0
	for _, c := range t.Classes {
		total += c.Frequency
	}
	return total
}

// correct adds the gap between 100 and the current percentage total to class 0
// and returns the adjustment. Unless force is set, nothing happens when the
// total is already 100.
func (t *Table) correct(force bool) int {
	total := 0
	for _, c := range t.Classes {
		total += c.PercentProbability
	}
	diff := BandMax - total
	if diff == 0 && !force {
		return 0
	}
	t.Classes[0].PercentProbability += diff
	return diff
}

// classCount applies Sturges' rule with the given offset, never going below one class.
func classCount(n, offset int) int {
	k := int(math.Floor(1+3.3*math.Log10(float64(n)))) + offset
	if k < 1 {
		logger.Debug("Class count %d for n=%d clamped to 1", k, n)
		k = 1
	}
	return k
}

// classWidth returns ceil((max-min)/k), at least 1. When the range divides
// evenly the k intervals would stop one short of max, so the width grows by
// one to keep every observation inside a class.
func classWidth(minVal, maxVal, k int) int {
	p := int(math.Ceil(float64(maxVal-minVal) / float64(k)))
	if p < 1 {
		logger.Debug("Class width for range [%d, %d] clamped to 1", minVal, maxVal)
		p = 1
	}
	if minVal+k*p-1 < maxVal {
		logger.Debug("Class width %d for range [%d, %d] with %d classes widened to %d", p, minVal, maxVal, k, p+1)
		p++
	}
	return p
}

// roundTo rounds x to the given number of decimals, ties to even.
func roundTo(x float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.RoundToEven(x*scale) / scale
}
