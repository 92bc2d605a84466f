// Package report renders frequency tables, simulation runs and run summaries
// for the terminal (go-pretty tables), as PNG line charts (gonum/plot) and as
// a PDF report (gofpdf).
package report

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/casesim/internal/freqtable"
	"github.com/rewired-gh/casesim/internal/models"
	"github.com/rewired-gh/casesim/internal/montecarlo"
)

// VariableStats compares the observed and simulated values of one variable.
type VariableStats struct {
	Variable        models.Variable `json:"variable"`
	ObservedDays    int             `json:"observed_days"`
	ObservedMean    float64         `json:"observed_mean"`
	ObservedStdDev  float64         `json:"observed_stddev"`
	SimulatedMean   float64         `json:"simulated_mean"`
	SimulatedStdDev float64         `json:"simulated_stddev"`
	SimulatedMedian float64         `json:"simulated_median"`
	// BandDivergence is the Kullback-Leibler divergence of the realized class
	// frequencies from the band distribution, in nats. NaN without a table.
	BandDivergence float64 `json:"band_divergence"`
}

// RunSummary condenses one simulation run.
type RunSummary struct {
	Label     string          `json:"label"`
	RunID     string          `json:"run_id"`
	Seed      int64           `json:"seed"`
	Seeded    bool            `json:"seeded"`
	Length    int             `json:"length"`
	Variables []VariableStats `json:"variables"`
	// ActiveMean is the mean of the simulated active cases.
	ActiveMean float64 `json:"active_mean"`
	// PositivityMean averages the defined daily rates only. It is NaN when no
	// day has a defined rate.
	PositivityMean float64 `json:"positivity_mean"`
	UndefinedRates int     `json:"undefined_rates"`
}

// probEpsilon stands in for the probability of zero-width bands.
const probEpsilon = 1e-4

// Summarize computes the summary of run. observed supplies the historical
// series the tables were built from; variables without one get zero observed
// statistics. tables may be nil.
func Summarize(label string, run *montecarlo.SimulationRun, observed []models.ObservedSeries, tables montecarlo.Tables) RunSummary {
	byVar := make(map[models.Variable][]int, len(observed))
	for _, s := range observed {
		byVar[s.Variable] = s.Values
	}

	summary := RunSummary{
		Label:  label,
		RunID:  run.ID,
		Seed:   run.Seed,
		Seeded: run.Seeded,
		Length: run.Length,
	}

	for _, v := range models.Variables {
		vs := VariableStats{Variable: v, ObservedDays: len(byVar[v])}
		vs.ObservedMean, vs.ObservedStdDev = meanStdDev(toFloats(byVar[v]))

		simulated := toFloats(run.Series(v))
		vs.SimulatedMean, vs.SimulatedStdDev = meanStdDev(simulated)
		vs.SimulatedMedian = median(simulated)
		vs.BandDivergence = BandDivergence(tables[v], run.Draws[v])
		summary.Variables = append(summary.Variables, vs)
	}

	summary.ActiveMean, _ = meanStdDev(toFloats(run.ActiveCases))

	rates := make([]float64, 0, len(run.PositivityRate))
	for _, r := range run.PositivityRate {
		if !r.Defined {
			summary.UndefinedRates++
			continue
		}
		rates = append(rates, float64(r.Percent))
	}
	summary.PositivityMean = math.NaN()
	if len(rates) > 0 {
		summary.PositivityMean = stat.Mean(rates, nil)
	}

	return summary
}

// Stats returns the statistics of v.
func (s RunSummary) Stats(v models.Variable) (VariableStats, bool) {
	for _, vs := range s.Variables {
		if vs.Variable == v {
			return vs, true
		}
	}
	return VariableStats{}, false
}

// BandDivergence returns D(realized || bands): how far the classes hit by
// draws are from the probabilities given by the band widths of t.
func BandDivergence(t *freqtable.Table, draws []int) float64 {
	if t == nil || len(t.Classes) == 0 || len(draws) == 0 {
		return math.NaN()
	}

	realized := make([]float64, len(t.Classes))
	for _, d := range draws {
		for i := range t.Classes {
			if t.Classes[i].Band.Contains(d) {
				realized[i]++
				break
			}
		}
	}

	expected := make([]float64, len(t.Classes))
	for i := range t.Classes {
		realized[i] /= float64(len(draws))
		expected[i] = math.Max(probEpsilon, float64(t.Classes[i].Band.Width())/freqtable.BandMax)
	}
	return stat.KullbackLeibler(realized, expected)
}

func toFloats(values []int) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// meanStdDev returns zeros for an empty slice and a zero deviation for a
// single value.
func meanStdDev(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

func median(x []float64) float64 {
	m, err := stats.Median(x)
	if err != nil {
		return 0
	}
	return m
}
