// Package models defines the core domain entities for casesim.
// These models represent aggregated daily case counts for a district and the
// per-variable observation series derived from them. All models include
// built-in validation to ensure data integrity throughout the application.
//
// Terminology (matching the source dataset):
//   - Suspected: people under observation ("suspek").
//   - Positive: confirmed positive cases ("positif").
//   - Discarded: suspected cases ruled out ("discarded").
package models

import (
	"errors"
	"fmt"
	"time"
)

// Variable identifies one of the tracked daily counts.
type Variable string

const (
	Suspected Variable = "suspected"
	Positive  Variable = "positive"
	Discarded Variable = "discarded"
)

// Variables lists the tracked variables in simulation order.
var Variables = []Variable{Suspected, Positive, Discarded}

// ParseVariable converts a config or CLI name into a Variable.
func ParseVariable(name string) (Variable, error) {
	for _, v := range Variables {
		if string(v) == name {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown variable %q", name)
}

// DailyRecord holds the counts of one district for one date, summed over
// all source rows of that date. A variable absent from Counts had no value
// on that date and is treated as missing.
type DailyRecord struct {
	Date     time.Time        `json:"date"`
	District string           `json:"district"`
	Counts   map[Variable]int `json:"counts"`
}

// Count returns the count for v and whether it was present.
func (r *DailyRecord) Count(v Variable) (int, bool) {
	c, ok := r.Counts[v]
	return c, ok
}

// Validate checks that all record fields are valid
func (r *DailyRecord) Validate() error {
	if r.Date.IsZero() {
		return errors.New("record date must not be empty")
	}
	if r.District == "" {
		return errors.New("district must not be empty")
	}
	for v, c := range r.Counts {
		if _, err := ParseVariable(string(v)); err != nil {
			return err
		}
		if c < 0 {
			return fmt.Errorf("%s count must not be negative", v)
		}
	}
	return nil
}
