package montecarlo

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/casesim/internal/freqtable"
	"github.com/rewired-gh/casesim/internal/models"
)

func mustTable(t *testing.T, v models.Variable, values []int) *freqtable.Table {
	t.Helper()
	table, err := freqtable.Build(models.ObservedSeries{Variable: v, Values: values}, freqtable.DefaultOptions(v))
	require.NoError(t, err)
	return table
}

func sampleTables(t *testing.T) Tables {
	t.Helper()
	return Tables{
		models.Suspected: mustTable(t, models.Suspected, []int{18, 25, 21, 30, 27, 19, 24, 33, 22, 26}),
		models.Positive:  mustTable(t, models.Positive, []int{3, 5, 2, 6, 4, 4, 7, 3, 5, 2}),
		models.Discarded: mustTable(t, models.Discarded, []int{8, 11, 9, 12, 10, 7, 13, 9, 10, 11}),
	}
}

func seedPtr(s int64) *int64 {
	return &s
}

func TestLookupMidpoint_SampleTable(t *testing.T) {
	table := mustTable(t, models.Suspected, []int{5, 8, 6, 9, 7, 10, 6})

	tests := []struct {
		draw int
		want int
	}{
		{1, 6},
		{42, 6},
		{43, 8},
		{50, 8},
		{71, 8},
		{72, 10},
		{100, 10},
	}
	for _, tt := range tests {
		got, err := LookupMidpoint(tt.draw, table)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "draw %d", tt.draw)
	}
}

func TestLookupMidpoint_TotalOverUniverse(t *testing.T) {
	for v, table := range sampleTables(t) {
		for d := 1; d <= freqtable.BandMax; d++ {
			matches := 0
			for _, c := range table.Classes {
				if c.Band.Contains(d) {
					matches++
				}
			}
			assert.Equal(t, 1, matches, "%s draw %d", v, d)

			_, err := LookupMidpoint(d, table)
			assert.NoError(t, err)
		}
	}
}

func TestLookupMidpoint_Miss(t *testing.T) {
	table := mustTable(t, models.Suspected, []int{5, 8, 6, 9, 7, 10, 6})

	for _, d := range []int{0, 101} {
		_, err := LookupMidpoint(d, table)
		require.ErrorIs(t, err, ErrLookupMiss)
	}
}

func TestDrawRandomNumbers_FullPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	draws, err := DrawRandomNumbers(rng, 100, DrawReject)
	require.NoError(t, err)
	require.Len(t, draws, 100)

	sorted := append([]int(nil), draws...)
	sort.Ints(sorted)
	for i, d := range sorted {
		assert.Equal(t, i+1, d)
	}
}

func TestDrawRandomNumbers_DistinctWithinRange(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	draws, err := DrawRandomNumbers(rng, 31, DrawReject)
	require.NoError(t, err)
	require.Len(t, draws, 31)

	seen := make(map[int]bool)
	for _, d := range draws {
		assert.GreaterOrEqual(t, d, 1)
		assert.LessOrEqual(t, d, 100)
		assert.False(t, seen[d], "duplicate draw %d", d)
		seen[d] = true
	}
}

func TestDrawRandomNumbers_Oversized(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	_, err := DrawRandomNumbers(rng, 101, DrawReject)
	require.ErrorIs(t, err, ErrOversizedDrawRequest)

	draws, err := DrawRandomNumbers(rng, 250, DrawWithReplacement)
	require.NoError(t, err)
	require.Len(t, draws, 250)
	for _, d := range draws {
		assert.GreaterOrEqual(t, d, 1)
		assert.LessOrEqual(t, d, 100)
	}
}

func TestDrawRandomNumbers_InvalidCount(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for _, n := range []int{0, -5} {
		_, err := DrawRandomNumbers(rng, n, DrawReject)
		require.Error(t, err)
	}
}

func TestParseDrawPolicy(t *testing.T) {
	p, err := ParseDrawPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DrawReject, p)

	p, err = ParseDrawPolicy("replace")
	require.NoError(t, err)
	assert.Equal(t, DrawWithReplacement, p)

	_, err = ParseDrawPolicy("truncate")
	require.Error(t, err)
}

func TestDerivedMetrics(t *testing.T) {
	assert.Equal(t, 3, ActiveCases(8, 3, 2))
	assert.Equal(t, Rate{Percent: 38, Defined: true}, PositivityRate(3, 8))
	assert.Equal(t, "38%", PositivityRate(3, 8).String())

	// half-to-even: 12.5 -> 12
	assert.Equal(t, 12, PositivityRate(1, 8).Percent)

	zero := PositivityRate(3, 0)
	assert.False(t, zero.Defined)
	assert.Equal(t, "undefined", zero.String())

	assert.Equal(t, -2, ActiveCases(4, 3, 3))
}

func TestSimulate_FromDraws(t *testing.T) {
	tables := Tables{
		models.Suspected: mustTable(t, models.Suspected, []int{5, 8, 6, 9, 7, 10, 6}),
		models.Positive:  mustTable(t, models.Positive, []int{5, 8, 6, 9, 7, 10, 6}),
		models.Discarded: mustTable(t, models.Discarded, []int{5, 8, 6, 9, 7, 10, 6}),
	}
	draws := map[models.Variable][]int{
		models.Suspected: {50, 1},
		models.Positive:  {1, 100},
		models.Discarded: {1, 1},
	}

	run, err := Simulate(tables, draws)
	require.NoError(t, err)

	assert.Equal(t, 2, run.Length)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, []int{8, 6}, run.Series(models.Suspected))
	assert.Equal(t, []int{6, 10}, run.Series(models.Positive))
	assert.Equal(t, []int{6, 6}, run.Series(models.Discarded))
	assert.Equal(t, []int{-4, -10}, run.ActiveCases)
	assert.Equal(t, []Rate{{Percent: 75, Defined: true}, {Percent: 167, Defined: true}}, run.PositivityRate)
	assert.Equal(t, draws, run.Draws)
}

func TestSimulate_ZeroSuspectedGivesUndefinedRate(t *testing.T) {
	zeros := mustTable(t, models.Suspected, []int{0, 0, 0})
	tables := Tables{
		models.Suspected: zeros,
		models.Positive:  mustTable(t, models.Positive, []int{0, 0, 0}),
		models.Discarded: mustTable(t, models.Discarded, []int{0, 0, 0}),
	}

	run, err := Simulate(tables, map[models.Variable][]int{
		models.Suspected: {10},
		models.Positive:  {20},
		models.Discarded: {30},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, run.ActiveCases)
	assert.False(t, run.PositivityRate[0].Defined)
}

func TestSimulate_MismatchedDraws(t *testing.T) {
	_, err := Simulate(sampleTables(t), map[models.Variable][]int{
		models.Suspected: {1, 2},
		models.Positive:  {1},
		models.Discarded: {1, 2},
	})
	require.Error(t, err)
}

func TestNew_RequiresAllTables(t *testing.T) {
	tables := sampleTables(t)
	delete(tables, models.Discarded)

	_, err := New(tables, DrawReject)
	require.Error(t, err)
}

func TestNew_RejectsBrokenTable(t *testing.T) {
	tables := sampleTables(t)
	broken := *tables[models.Positive]
	broken.Classes = append([]freqtable.Class(nil), broken.Classes...)
	broken.Classes[0].Band.Upper--
	tables[models.Positive] = &broken

	_, err := New(tables, DrawReject)
	require.ErrorIs(t, err, freqtable.ErrBandIntegrityViolation)
}

func TestRun_SeededIsReproducible(t *testing.T) {
	sim, err := New(sampleTables(t), DrawReject)
	require.NoError(t, err)

	a, err := sim.Run(31, seedPtr(42))
	require.NoError(t, err)
	b, err := sim.Run(31, seedPtr(42))
	require.NoError(t, err)

	assert.True(t, a.Seeded)
	assert.Equal(t, int64(42), a.Seed)
	assert.Equal(t, a.Draws, b.Draws)
	assert.Equal(t, a.Simulated, b.Simulated)
	assert.Equal(t, a.ActiveCases, b.ActiveCases)
	assert.Equal(t, a.PositivityRate, b.PositivityRate)
	assert.NotEqual(t, a.ID, b.ID)

	c, err := sim.Run(31, seedPtr(43))
	require.NoError(t, err)
	assert.NotEqual(t, a.Draws, c.Draws)
}

func TestRun_UnseededCanBeReplayed(t *testing.T) {
	sim, err := New(sampleTables(t), DrawReject)
	require.NoError(t, err)

	a, err := sim.Run(20, nil)
	require.NoError(t, err)
	assert.False(t, a.Seeded)

	b, err := sim.Run(20, seedPtr(a.Seed))
	require.NoError(t, err)
	assert.Equal(t, a.Draws, b.Draws)
}

func TestRun_DrawsAreDistinctPerVariable(t *testing.T) {
	sim, err := New(sampleTables(t), DrawReject)
	require.NoError(t, err)

	run, err := sim.Run(100, seedPtr(9))
	require.NoError(t, err)

	for _, v := range models.Variables {
		sorted := append([]int(nil), run.Draws[v]...)
		sort.Ints(sorted)
		for i, d := range sorted {
			require.Equal(t, i+1, d)
		}
	}
}

func TestRun_OversizedLength(t *testing.T) {
	reject, err := New(sampleTables(t), DrawReject)
	require.NoError(t, err)
	_, err = reject.Run(150, seedPtr(1))
	require.ErrorIs(t, err, ErrOversizedDrawRequest)

	replace, err := New(sampleTables(t), DrawWithReplacement)
	require.NoError(t, err)
	run, err := replace.Run(150, seedPtr(1))
	require.NoError(t, err)
	assert.Len(t, run.ActiveCases, 150)
}

func TestRun_SimulatedValuesAreMidpoints(t *testing.T) {
	tables := sampleTables(t)
	sim, err := New(tables, DrawReject)
	require.NoError(t, err)

	run, err := sim.Run(50, seedPtr(5))
	require.NoError(t, err)

	for _, v := range models.Variables {
		mids := make(map[int]bool)
		for _, c := range tables[v].Classes {
			mids[c.Midpoint] = true
		}
		for day, value := range run.Series(v) {
			assert.True(t, mids[value], "%s day %d value %d is not a midpoint", v, day+1, value)
		}
	}
}
