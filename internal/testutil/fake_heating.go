package testutil

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/Agrid-Dev/stmq/internal/audit"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/prices"
	"github.com/Agrid-Dev/stmq/internal/temperature"
	"github.com/Agrid-Dev/stmq/internal/threshold"
)

// FakeHeatingService is a reusable fake implementing ports.HeatingService
// and ports.History. Put ONLY what multiple test packages need here.
type FakeHeatingService struct {
	mu sync.Mutex

	S        heating.Status
	Schedule []prices.Period
	Rows     []audit.Row

	AdjustCalls    int
	AdjustDecision heating.Decision
	AdjustErr      error

	PricesArg time.Time
	RecentArg int
	RecentErr error
}

// SampleDecision is a strong pulse at 10:00 UTC with every field populated.
func SampleDecision() heating.Decision {
	return heating.Decision{
		CycleID: "cycle-1",
		Time:    time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC),
		Price:   52.5,
		Threshold: threshold.Result{
			Hours:     11,
			Target:    6,
			Periods:   14,
			Threshold: 61.25,
		},
		HeatOn: true,
		Action: heating.ActionStrong,
		Readings: temperature.Readings{
			Inside:  temperature.Celsius(21.5),
			Garage:  temperature.Celsius(7),
			Outside: temperature.Celsius(-2.5),
		},
		Published: true,
	}
}

func NewFakeHeatingService() *FakeHeatingService {
	d := SampleDecision()
	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	return &FakeHeatingService{
		S: heating.Status{
			Last:          &d,
			LastStrong:    d.Time,
			PricesFetched: start.Add(time.Minute),
			PricesStart:   start,
			PricesEnd:     start.AddDate(0, 0, 1),
			PricesLeft:    14 * time.Hour,
			PeriodsLeft:   14,
			Resolution:    prices.Resolution60,
		},
		Schedule: []prices.Period{
			{Start: d.Time, End: d.Time.Add(time.Hour), Price: 52.5},
			{Start: d.Time.Add(time.Hour), End: d.Time.Add(2 * time.Hour), Price: 70},
		},
		AdjustDecision: d,
	}
}

// Unpriced returns a decision taken without price data (fail open).
func Unpriced() heating.Decision {
	d := SampleDecision()
	d.Price = math.NaN()
	d.Threshold.Threshold = math.Inf(1)
	d.Threshold.Target = 0
	d.Threshold.Periods = 0
	return d
}

func (f *FakeHeatingService) Status() heating.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.S
}

func (f *FakeHeatingService) Prices(now time.Time) []prices.Period {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PricesArg = now
	return f.Schedule
}

func (f *FakeHeatingService) Adjust(context.Context) (heating.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AdjustCalls++
	return f.AdjustDecision, f.AdjustErr
}

func (f *FakeHeatingService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AdjustCalls
}

func (f *FakeHeatingService) Recent(_ context.Context, n int) ([]audit.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RecentArg = n
	if f.RecentErr != nil {
		return nil, f.RecentErr
	}
	if n < len(f.Rows) {
		return f.Rows[:n], nil
	}
	return f.Rows, nil
}
