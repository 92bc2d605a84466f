package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rewired-gh/casesim/internal/freqtable"
	"github.com/rewired-gh/casesim/internal/models"
	"github.com/rewired-gh/casesim/internal/montecarlo"
)

var styles = map[string]table.Style{
	"default": table.StyleDefault,
	"light":   table.StyleLight,
	"rounded": table.StyleRounded,
	"bold":    table.StyleBold,
	"double":  table.StyleDouble,
}

// Style returns the table style registered under name, falling back to light.
func Style(name string) table.Style {
	if s, ok := styles[strings.ToLower(name)]; ok {
		return s
	}
	return table.StyleLight
}

// Renderer writes tables to w.
type Renderer struct {
	w     io.Writer
	style table.Style
}

// NewRenderer creates a Renderer using the named style.
func NewRenderer(w io.Writer, style string) *Renderer {
	return &Renderer{w: w, style: Style(style)}
}

func (r *Renderer) newWriter(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(r.style)
	// Keep labels as written; styles uppercase headers and footers.
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle(title)
	return t
}

// FrequencyTable renders one frequency table with its random bands.
func (r *Renderer) FrequencyTable(ft *freqtable.Table) {
	t := r.newWriter(fmt.Sprintf("Frequency table: %s (n=%d, k=%d, p=%d)", ft.Variable, ft.N, ft.ClassCount, ft.ClassWidth))
	t.AppendHeader(table.Row{"#", "Interval", "Midpoint", "Frequency", "Probability", "Percent", "Cumulative", "Band"})

	percent := 0
	for i, c := range ft.Classes {
		percent += c.PercentProbability
		t.AppendRow(table.Row{
			i + 1,
			c.Interval.String(),
			c.Midpoint,
			c.Frequency,
			fmt.Sprintf("%.2f", c.Probability),
			c.PercentProbability,
			fmt.Sprintf("%.2f", c.CumulativeProbability),
			c.Band.String(),
		})
	}
	t.AppendFooter(table.Row{"", "Total", "", ft.FrequencyTotal(), "", percent, "", ""})
	t.SetCaption("Corrections applied to class 1: %v", ft.Corrections)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	t.Render()
}

// SimulationTable renders the day-by-day values of run.
func (r *Renderer) SimulationTable(label string, run *montecarlo.SimulationRun) {
	seed := "unseeded"
	if run.Seeded {
		seed = fmt.Sprintf("seed %d", run.Seed)
	}
	t := r.newWriter(fmt.Sprintf("%s: %d days, %s", label, run.Length, seed))

	header := table.Row{"Day"}
	for _, v := range models.Variables {
		header = append(header, "Draw", titleCase(v))
	}
	header = append(header, "Active", "Positivity")
	t.AppendHeader(header)

	for day := 0; day < run.Length; day++ {
		row := table.Row{day + 1}
		for _, v := range models.Variables {
			row = append(row, run.Draws[v][day], run.Simulated[v][day])
		}
		row = append(row, run.ActiveCases[day], run.PositivityRate[day].String())
		t.AppendRow(row)
	}
	t.SetCaption("Run %s", run.ID)
	t.Render()
}

// RecordsTable renders the aggregated daily records. Missing values are shown as "-".
func (r *Renderer) RecordsTable(district string, records []models.DailyRecord) {
	t := r.newWriter(fmt.Sprintf("Daily records: %s", district))

	header := table.Row{"Date"}
	for _, v := range models.Variables {
		header = append(header, titleCase(v))
	}
	t.AppendHeader(header)

	for i := range records {
		row := table.Row{records[i].Date.Format("2006-01-02")}
		for _, v := range models.Variables {
			if c, ok := records[i].Count(v); ok {
				row = append(row, c)
			} else {
				row = append(row, "-")
			}
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d days", len(records))})
	t.Render()
}

// SummaryTable renders observed versus simulated statistics for each run.
func (r *Renderer) SummaryTable(summaries []RunSummary) {
	t := r.newWriter("Summary")
	t.AppendHeader(table.Row{"Run", "Variable", "Observed mean", "Observed sd", "Simulated mean", "Simulated sd", "Simulated median", "Band KL"})

	for _, s := range summaries {
		for _, vs := range s.Variables {
			t.AppendRow(table.Row{
				s.Label,
				vs.Variable,
				fmt.Sprintf("%.2f", vs.ObservedMean),
				fmt.Sprintf("%.2f", vs.ObservedStdDev),
				fmt.Sprintf("%.2f", vs.SimulatedMean),
				fmt.Sprintf("%.2f", vs.SimulatedStdDev),
				fmt.Sprintf("%.1f", vs.SimulatedMedian),
				formatFloat(vs.BandDivergence, 4),
			})
		}
		t.AppendRow(table.Row{s.Label, "active cases", "", "", fmt.Sprintf("%.2f", s.ActiveMean), "", "", ""})
		t.AppendRow(table.Row{s.Label, "positivity rate", "", "", FormatPercent(s.PositivityMean), "", "", ""})
		t.AppendSeparator()
	}
	t.Render()
}

// FormatPercent formats a mean rate, printing NaN as undefined.
func FormatPercent(x float64) string {
	if math.IsNaN(x) {
		return "undefined"
	}
	return fmt.Sprintf("%.1f%%", x)
}

func formatFloat(x float64, decimals int) string {
	if math.IsNaN(x) {
		return "-"
	}
	return fmt.Sprintf("%.*f", decimals, x)
}

func titleCase(v models.Variable) string {
	s := string(v)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
