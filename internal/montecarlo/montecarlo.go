// Package montecarlo turns random draws into simulated daily counts.
//
// Each draw in 1..100 is matched against the random-number bands of the
// variable's frequency table and replaced by the midpoint of the class whose
// band contains it. Active cases and the positivity rate are then derived day
// by day from the three simulated series.
//
// A run is a pure function of the tables and the draws. Randomness enters only
// through the *rand.Rand handed to Run, so a fixed seed reproduces a run
// exactly and no state is shared between runs.
package montecarlo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/casesim/internal/freqtable"
	"github.com/rewired-gh/casesim/internal/logger"
	"github.com/rewired-gh/casesim/internal/models"
)

// ErrLookupMiss is returned when a draw falls outside every band of a table.
// It can only happen for tables whose bands do not partition 1..100.
var ErrLookupMiss = errors.New("draw outside all random bands")

// Tables maps each variable to its frequency table.
type Tables map[models.Variable]*freqtable.Table

// Rate is a whole-number percentage that may be undefined.
type Rate struct {
	Percent int  `json:"percent"`
	Defined bool `json:"defined"`
}

func (r Rate) String() string {
	if !r.Defined {
		return "undefined"
	}
	return fmt.Sprintf("%d%%", r.Percent)
}

// SimulationRun holds the draws and simulated values of one run.
type SimulationRun struct {
	ID             string                    `json:"id"`
	Seed           int64                     `json:"seed"`
	Seeded         bool                      `json:"seeded"`
	Length         int                       `json:"length"`
	Draws          map[models.Variable][]int `json:"draws"`
	Simulated      map[models.Variable][]int `json:"simulated"`
	ActiveCases    []int                     `json:"active_cases"`
	PositivityRate []Rate                    `json:"positivity_rate"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// Series returns the simulated values of v.
func (r *SimulationRun) Series(v models.Variable) []int {
	return r.Simulated[v]
}

// LookupMidpoint returns the midpoint of the first class whose band contains draw.
func LookupMidpoint(draw int, table *freqtable.Table) (int, error) {
	for _, c := range table.Classes {
		if c.Band.Contains(draw) {
			return c.Midpoint, nil
		}
	}
	return 0, fmt.Errorf("%s table has no band containing %d: %w", table.Variable, draw, ErrLookupMiss)
}

// ActiveCases returns suspected minus the sum of positive and discarded.
func ActiveCases(suspected, positive, discarded int) int {
	return suspected - (positive + discarded)
}

// PositivityRate returns positive as a rounded percentage of suspected.
// The rate is undefined when suspected is zero.
func PositivityRate(positive, suspected int) Rate {
	if suspected == 0 {
		return Rate{}
	}
	pct := math.RoundToEven(100 * float64(positive) / float64(suspected))
	return Rate{Percent: int(pct), Defined: true}
}

// Simulate maps the given draws through tables and derives the daily metrics.
// Every variable needs a table and the same number of draws.
func Simulate(tables Tables, draws map[models.Variable][]int) (*SimulationRun, error) {
	if err := checkTables(tables); err != nil {
		return nil, err
	}

	length := len(draws[models.Suspected])
	run := &SimulationRun{
		ID:        uuid.New().String(),
		Length:    length,
		Draws:     make(map[models.Variable][]int, len(models.Variables)),
		Simulated: make(map[models.Variable][]int, len(models.Variables)),
		CreatedAt: time.Now(),
	}

	for _, v := range models.Variables {
		d := draws[v]
		if len(d) != length {
			return nil, fmt.Errorf("%s has %d draws, expected %d", v, len(d), length)
		}
		values := make([]int, length)
		for day, draw := range d {
			mid, err := LookupMidpoint(draw, tables[v])
			if err != nil {
				return nil, fmt.Errorf("day %d: %w", day+1, err)
			}
			values[day] = mid
		}
		run.Draws[v] = append([]int(nil), d...)
		run.Simulated[v] = values
	}

	run.ActiveCases = make([]int, length)
	run.PositivityRate = make([]Rate, length)
	undefined := 0
	for day := 0; day < length; day++ {
		s := run.Simulated[models.Suspected][day]
		p := run.Simulated[models.Positive][day]
		d := run.Simulated[models.Discarded][day]
		run.ActiveCases[day] = ActiveCases(s, p, d)
		run.PositivityRate[day] = PositivityRate(p, s)
		if !run.PositivityRate[day].Defined {
			undefined++
		}
	}
	if undefined > 0 {
		logger.Warn("Positivity rate undefined on %d of %d simulated days (zero suspected)", undefined, length)
	}

	return run, nil
}

// Simulator runs simulations against a fixed set of tables.
type Simulator struct {
	tables Tables
	policy DrawPolicy
}

// New creates a Simulator. All three variables must have a valid table.
func New(tables Tables, policy DrawPolicy) (*Simulator, error) {
	if err := checkTables(tables); err != nil {
		return nil, err
	}
	if _, err := ParseDrawPolicy(string(policy)); err != nil {
		return nil, err
	}
	return &Simulator{tables: tables, policy: policy}, nil
}

// Run simulates length days. A non-nil seed makes the run reproducible.
func (s *Simulator) Run(length int, seed *int64) (*SimulationRun, error) {
	rng, used := NewSource(seed)
	run, err := s.RunWith(rng, length)
	if err != nil {
		return nil, err
	}
	run.Seed = used
	run.Seeded = seed != nil
	return run, nil
}

// RunWith simulates length days drawing from rng. Draws are taken for
// suspected, positive and discarded in that order.
func (s *Simulator) RunWith(rng *rand.Rand, length int) (*SimulationRun, error) {
	draws := make(map[models.Variable][]int, len(models.Variables))
	for _, v := range models.Variables {
		d, err := DrawRandomNumbers(rng, length, s.policy)
		if err != nil {
			return nil, fmt.Errorf("failed to draw %s numbers: %w", v, err)
		}
		draws[v] = d
	}

	run, err := Simulate(s.tables, draws)
	if err != nil {
		return nil, err
	}
	logger.Debug("Simulation %s completed: %d days", run.ID, run.Length)
	return run, nil
}

func checkTables(tables Tables) error {
	for _, v := range models.Variables {
		t, ok := tables[v]
		if !ok || t == nil {
			return fmt.Errorf("missing %s frequency table", v)
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}
