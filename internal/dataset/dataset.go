// Package dataset loads historical case records from a spreadsheet, keeps the
// rows of one district and sums them per date into DailyRecords.
//
// Both .xlsx (via excelize) and .csv files are read. The first row must hold
// the column headers. Rows are ordered by date in the result regardless of
// their order in the file.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/casesim/internal/logger"
	"github.com/rewired-gh/casesim/internal/models"
)

// ErrNoRecords is returned when no row matches the district filter.
var ErrNoRecords = errors.New("no records for district")

// Source describes a spreadsheet and the columns to read from it.
type Source struct {
	Path           string
	Sheet          string
	District       string
	DistrictColumn string
	DateColumn     string
	DateLayouts    []string
	Columns        map[models.Variable]string
}

// Load reads src and returns one record per date for the configured district.
func Load(src Source) ([]models.DailyRecord, error) {
	rows, err := ReadRows(src.Path, src.Sheet)
	if err != nil {
		return nil, err
	}
	logger.Debug("Read %d rows from %s", len(rows), src.Path)
	return Aggregate(rows, src)
}

// ReadRows returns all rows of the file, header first. sheet is ignored for
// CSV files; for workbooks an empty sheet selects the first one.
func ReadRows(path, sheet string) ([][]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("dataset file not found: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx", ".xlsm":
		return readWorkbook(path, sheet)
	default:
		return nil, fmt.Errorf("unsupported dataset file type: %s", filepath.Ext(path))
	}
}

func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	// Raw values keep dates as serial numbers, independent of cell formatting.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// Aggregate filters rows to src.District and sums each variable per date.
// Empty cells are skipped; a variable with no value on a date stays missing
// for that date.
func Aggregate(rows [][]string, src Source) ([]models.DailyRecord, error) {
	if len(rows) == 0 {
		return nil, errors.New("dataset has no header row")
	}

	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	col := func(name string) (int, error) {
		i, ok := index[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("column %q not found in header", name)
		}
		return i, nil
	}

	districtCol, err := col(src.DistrictColumn)
	if err != nil {
		return nil, err
	}
	dateCol, err := col(src.DateColumn)
	if err != nil {
		return nil, err
	}
	varCols := make(map[models.Variable]int, len(src.Columns))
	for _, v := range models.Variables {
		name, ok := src.Columns[v]
		if !ok {
			continue
		}
		i, err := col(name)
		if err != nil {
			return nil, err
		}
		varCols[v] = i
	}

	byDate := make(map[time.Time]*models.DailyRecord)
	matched := 0
	for n, row := range rows[1:] {
		line := n + 2
		if !strings.EqualFold(strings.TrimSpace(cell(row, districtCol)), strings.TrimSpace(src.District)) {
			continue
		}
		matched++

		date, err := parseDate(cell(row, dateCol), src.DateLayouts)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		rec, ok := byDate[date]
		if !ok {
			rec = &models.DailyRecord{Date: date, District: src.District, Counts: make(map[models.Variable]int)}
			byDate[date] = rec
		}

		for v, i := range varCols {
			raw := strings.TrimSpace(cell(row, i))
			if raw == "" {
				continue
			}
			count, err := parseCount(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d, %s: %w", line, v, err)
			}
			rec.Counts[v] += count
		}
	}

	if matched == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoRecords, src.District)
	}

	records := make([]models.DailyRecord, 0, len(byDate))
	for _, rec := range byDate {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record for %s: %w", rec.Date.Format("2006-01-02"), err)
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})

	logger.Info("Aggregated %d rows into %d days for %s", matched, len(records), src.District)
	return records, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// parseDate accepts Excel serial dates and any of layouts.
func parseDate(raw string, layouts []string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty date")
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date serial %q: %w", raw, err)
		}
		return truncateDay(t), nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// parseCount accepts whole numbers, including spreadsheet floats such as "12.0".
func parseCount(raw string) (int, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q", raw)
	}
	if f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("count %q must be a non-negative whole number", raw)
	}
	return int(f), nil
}
