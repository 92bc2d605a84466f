package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/rewired-gh/casesim/internal/models"
	"github.com/rewired-gh/casesim/internal/montecarlo"
)

const (
	inchToMm        = 25.4
	pdfPageWidth    = 11 * inchToMm // Letter landscape
	pdfPageHeight   = 8.5 * inchToMm
	pdfMargin       = 0.5 * inchToMm
	pdfContentWidth = pdfPageWidth - 2*pdfMargin
	pdfBottom       = pdfPageHeight - pdfMargin
	pdfChartWidth   = 200.0
	pdfChartHeight  = pdfChartWidth / 2 // charts are rendered at 2:1
)

// PDFDocument is the content of one run report.
type PDFDocument struct {
	District    string
	GeneratedAt time.Time
	Tables      montecarlo.Tables
	Runs        []PDFRun
}

// PDFRun is one simulation run with its summary and charts.
type PDFRun struct {
	Label   string
	Run     *montecarlo.SimulationRun
	Summary RunSummary
	Charts  []Chart
}

type pdfWriter struct {
	pdf        *gofpdf.Fpdf
	lineHeight float64
	y          float64
}

func newPDFWriter() *pdfWriter {
	pdf := gofpdf.New("L", "mm", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.AddPage()
	return &pdfWriter{pdf: pdf, lineHeight: 6, y: pdfMargin}
}

func (w *pdfWriter) style(name string) {
	switch name {
	case "h1":
		w.pdf.SetFont("Arial", "B", 16)
	case "h2":
		w.pdf.SetFont("Arial", "B", 13)
	case "header":
		w.pdf.SetFont("Arial", "B", 9)
		w.pdf.SetFillColor(200, 200, 200)
	case "cell":
		w.pdf.SetFont("Arial", "", 9)
	default:
		w.pdf.SetFont("Arial", "", 10)
	}
	w.pdf.SetTextColor(0, 0, 0)
}

func (w *pdfWriter) ensure(height float64) {
	if w.y+height > pdfBottom {
		w.pdf.AddPage()
		w.y = pdfMargin
	}
}

func (w *pdfWriter) paragraph(text, style, align string) {
	w.style(style)
	w.ensure(w.lineHeight)
	w.pdf.SetXY(pdfMargin, w.y)
	w.pdf.MultiCell(pdfContentWidth, w.lineHeight, text, "", align, false)
	w.y = w.pdf.GetY() + 1
}

func (w *pdfWriter) space(height float64) {
	w.y += height
	w.ensure(0)
}

// table draws header and rows with relative column widths. The header is
// repeated after a page break.
func (w *pdfWriter) table(header []string, widths []float64, rows [][]string) {
	abs := make([]float64, len(widths))
	for i, rel := range widths {
		abs[i] = rel * pdfContentWidth
	}

	drawRow := func(cells []string, style string, fill bool) {
		w.style(style)
		x := pdfMargin
		for i, cell := range cells {
			w.pdf.SetXY(x, w.y)
			w.pdf.CellFormat(abs[i], w.lineHeight, cell, "1", 0, "C", fill, 0, "")
			x += abs[i]
		}
		w.y += w.lineHeight
	}

	w.ensure(2 * w.lineHeight)
	drawRow(header, "header", true)
	for _, row := range rows {
		if w.y+w.lineHeight > pdfBottom {
			w.pdf.AddPage()
			w.y = pdfMargin
			drawRow(header, "header", true)
		}
		drawRow(row, "cell", false)
	}
	w.space(3)
}

func (w *pdfWriter) image(name string, png []byte, caption string) {
	w.pdf.RegisterImageReader(name, "PNG", bytes.NewReader(png))
	w.ensure(pdfChartHeight + w.lineHeight)
	x := pdfMargin + (pdfContentWidth-pdfChartWidth)/2
	w.pdf.Image(name, x, w.y, pdfChartWidth, pdfChartHeight, false, "PNG", 0, "")
	w.y += pdfChartHeight
	if caption != "" {
		w.paragraph(caption, "normal", "C")
	}
	w.space(2)
}

func (w *pdfWriter) frequencyTable(ft *freqTableView) {
	w.paragraph(ft.title, "h2", "L")
	w.table(
		[]string{"#", "Interval", "Midpoint", "Frequency", "Probability", "Percent", "Cumulative", "Band"},
		[]float64{0.06, 0.16, 0.12, 0.12, 0.12, 0.1, 0.14, 0.18},
		ft.rows,
	)
}

func (w *pdfWriter) simulationTable(label string, run *montecarlo.SimulationRun) {
	header := []string{"Day"}
	for _, v := range models.Variables {
		header = append(header, "Draw", titleCase(v))
	}
	header = append(header, "Active", "Positivity")

	rows := make([][]string, 0, run.Length)
	for day := 0; day < run.Length; day++ {
		row := []string{fmt.Sprint(day + 1)}
		for _, v := range models.Variables {
			row = append(row, fmt.Sprint(run.Draws[v][day]), fmt.Sprint(run.Simulated[v][day]))
		}
		row = append(row, fmt.Sprint(run.ActiveCases[day]), run.PositivityRate[day].String())
		rows = append(rows, row)
	}

	seed := "unseeded"
	if run.Seeded {
		seed = fmt.Sprintf("seed %d", run.Seed)
	}
	w.paragraph(fmt.Sprintf("%s: %d days, %s (run %s)", label, run.Length, seed, run.ID), "h2", "L")
	w.table(header, []float64{0.08, 0.1, 0.11, 0.1, 0.11, 0.1, 0.11, 0.13, 0.16}, rows)
}

func (w *pdfWriter) summaryTable(s RunSummary) {
	rows := make([][]string, 0, len(s.Variables)+2)
	for _, vs := range s.Variables {
		rows = append(rows, []string{
			string(vs.Variable),
			fmt.Sprintf("%.2f", vs.ObservedMean),
			fmt.Sprintf("%.2f", vs.ObservedStdDev),
			fmt.Sprintf("%.2f", vs.SimulatedMean),
			fmt.Sprintf("%.2f", vs.SimulatedStdDev),
			fmt.Sprintf("%.1f", vs.SimulatedMedian),
			formatFloat(vs.BandDivergence, 4),
		})
	}
	rows = append(rows,
		[]string{"active cases", "", "", fmt.Sprintf("%.2f", s.ActiveMean), "", "", ""},
		[]string{"positivity rate", "", "", FormatPercent(s.PositivityMean), "", "", ""},
	)
	w.table(
		[]string{"Variable", "Observed mean", "Observed sd", "Simulated mean", "Simulated sd", "Simulated median", "Band KL"},
		[]float64{0.2, 0.13, 0.13, 0.14, 0.13, 0.14, 0.13},
		rows,
	)
}

type freqTableView struct {
	title string
	rows  [][]string
}

func newFreqTableView(v models.Variable, tables montecarlo.Tables) *freqTableView {
	ft, ok := tables[v]
	if !ok || ft == nil {
		return nil
	}
	rows := make([][]string, 0, len(ft.Classes))
	for i, c := range ft.Classes {
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			c.Interval.String(),
			fmt.Sprint(c.Midpoint),
			fmt.Sprint(c.Frequency),
			fmt.Sprintf("%.2f", c.Probability),
			fmt.Sprint(c.PercentProbability),
			fmt.Sprintf("%.2f", c.CumulativeProbability),
			c.Band.String(),
		})
	}
	return &freqTableView{
		title: fmt.Sprintf("Frequency table: %s (n=%d, k=%d, p=%d)", ft.Variable, ft.N, ft.ClassCount, ft.ClassWidth),
		rows:  rows,
	}
}

// WritePDF renders doc as a Letter landscape PDF at path, creating the
// parent directory if needed.
func WritePDF(path string, doc PDFDocument) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	w := newPDFWriter()
	generated := doc.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	w.paragraph(fmt.Sprintf("Monte Carlo case simulation: %s", doc.District), "h1", "C")
	w.paragraph(fmt.Sprintf("Generated %s", generated.Format("2006-01-02 15:04:05")), "normal", "C")
	w.space(4)

	for _, v := range models.Variables {
		if view := newFreqTableView(v, doc.Tables); view != nil {
			w.frequencyTable(view)
		}
	}

	for _, r := range doc.Runs {
		if r.Run == nil {
			continue
		}
		w.pdf.AddPage()
		w.y = pdfMargin
		w.simulationTable(r.Label, r.Run)
		w.paragraph("Summary", "h2", "L")
		w.summaryTable(r.Summary)

		for _, c := range r.Charts {
			img, err := CreateLinePlot(c)
			if err != nil {
				return fmt.Errorf("failed to render chart %s: %w", c.Name, err)
			}
			w.image(fmt.Sprintf("%s-%s", r.Run.ID, c.Name), img, c.Title)
		}
	}

	if err := w.pdf.Error(); err != nil {
		return fmt.Errorf("failed to build pdf: %w", err)
	}
	if err := w.pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}
