// Package view holds the JSON shapes shared by the status controllers.
package view

import (
	"math"
	"time"

	"github.com/Agrid-Dev/stmq/internal/audit"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/prices"
	"github.com/Agrid-Dev/stmq/internal/temperature"
)

// Prices are EUR/MWh. Unknown values and an unrestricted threshold are null.
type Decision struct {
	CycleID   string    `json:"cycle_id"`
	Time      time.Time `json:"time"`
	Action    string    `json:"action"`
	Code      int       `json:"code"`
	HeatOn    bool      `json:"heat_on"`
	Price     *float64  `json:"price"`
	Threshold *float64  `json:"threshold"`
	Hours     float64   `json:"hours"`
	Target    int       `json:"target"`
	Periods   int       `json:"periods"`
	TempIn    *float64  `json:"temp_in"`
	TempGa    *float64  `json:"temp_ga"`
	TempOut   *float64  `json:"temp_out"`
	Published bool      `json:"published"`
}

func FromDecision(d heating.Decision) Decision {
	return Decision{
		CycleID:   d.CycleID,
		Time:      d.Time.UTC(),
		Action:    d.Action.String(),
		Code:      d.Action.Code(),
		HeatOn:    d.HeatOn,
		Price:     finite(d.Price),
		Threshold: finite(d.Threshold.Threshold),
		Hours:     d.Threshold.Hours,
		Target:    d.Threshold.Target,
		Periods:   d.Threshold.Periods,
		TempIn:    reading(d.Readings.Inside),
		TempGa:    reading(d.Readings.Garage),
		TempOut:   reading(d.Readings.Outside),
		Published: d.Published,
	}
}

func FromRow(r audit.Row) Decision {
	return Decision{
		CycleID:   r.CycleID,
		Time:      r.Time.UTC(),
		Action:    r.Action,
		Code:      r.Code,
		HeatOn:    r.Code > 0,
		Price:     finite(r.Price),
		Threshold: finite(r.Threshold),
		Hours:     r.Hours,
		TempIn:    reading(r.Inside),
		TempGa:    reading(r.Garage),
		TempOut:   reading(r.Outside),
		Published: true,
	}
}

type Status struct {
	Last          *Decision  `json:"last"`
	LastStrong    *time.Time `json:"last_strong"`
	PricesFetched *time.Time `json:"prices_fetched"`
	PricesStart   *time.Time `json:"prices_start"`
	PricesEnd     *time.Time `json:"prices_end"`
	HoursLeft     float64    `json:"hours_left"`
	PeriodsLeft   int        `json:"periods_left"`
	Resolution    string     `json:"resolution"`
	CycleRunning  bool       `json:"cycle_running"`
}

func FromStatus(s heating.Status) Status {
	out := Status{
		LastStrong:    instant(s.LastStrong),
		PricesFetched: instant(s.PricesFetched),
		PricesStart:   instant(s.PricesStart),
		PricesEnd:     instant(s.PricesEnd),
		HoursLeft:     s.PricesLeft.Hours(),
		PeriodsLeft:   s.PeriodsLeft,
		Resolution:    s.Resolution.String(),
		CycleRunning:  s.CycleRunning,
	}
	if s.Last != nil {
		d := FromDecision(*s.Last)
		out.Last = &d
	}
	return out
}

type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Price float64   `json:"price"`
}

func FromPeriods(ps []prices.Period) []Period {
	out := make([]Period, 0, len(ps))
	for _, p := range ps {
		out = append(out, Period{Start: p.Start.UTC(), End: p.End.UTC(), Price: p.Price})
	}
	return out
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func reading(r temperature.Reading) *float64 {
	if !r.Valid {
		return nil
	}
	v := r.Value
	return &v
}

func instant(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
