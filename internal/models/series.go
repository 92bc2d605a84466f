package models

import (
	"errors"
	"fmt"
)

// ObservedSeries is the ordered history of one variable, one value per day.
// Days on which the variable was missing are not part of the series.
type ObservedSeries struct {
	Variable Variable `json:"variable"`
	Values   []int    `json:"values"`
}

// Len returns the number of observations.
func (s ObservedSeries) Len() int {
	return len(s.Values)
}

// Validate checks that the series is usable as simulation input.
func (s ObservedSeries) Validate() error {
	if _, err := ParseVariable(string(s.Variable)); err != nil {
		return err
	}
	if len(s.Values) == 0 {
		return errors.New("series must not be empty")
	}
	for i, v := range s.Values {
		if v < 0 {
			return fmt.Errorf("value at day %d must not be negative", i+1)
		}
	}
	return nil
}

// SeriesFromRecords extracts the series of v from records, keeping record
// order and dropping days where v is missing.
func SeriesFromRecords(records []DailyRecord, v Variable) ObservedSeries {
	values := make([]int, 0, len(records))
	for i := range records {
		if c, ok := records[i].Count(v); ok {
			values = append(values, c)
		}
	}
	return ObservedSeries{Variable: v, Values: values}
}
