// Package audit persists one row per heating decision.
package audit

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/Agrid-Dev/stmq/internal/temperature"
)

// Row is what one decision cycle saw and did. Price and Threshold are in
// EUR/MWh; an unknown price is NaN and a fail-open threshold is +Inf.
type Row struct {
	CycleID   string
	Time      time.Time
	Price     float64
	Threshold float64
	Hours     float64
	Action    string
	Code      int
	Inside    temperature.Reading
	Garage    temperature.Reading
	Outside   temperature.Reading
}

func (r Row) HasPrice() bool { return !math.IsNaN(r.Price) }

// Recorder persists decision rows.
type Recorder interface {
	Record(ctx context.Context, row Row) error
	Close() error
}

// Noop is used when no audit sink is configured.
type Noop struct{}

func (Noop) Record(context.Context, Row) error { return nil }
func (Noop) Close() error                      { return nil }

// Multi writes every row to all recorders and reports every failure.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, row Row) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
