// Package threshold turns an outside temperature and the remaining price
// schedule into the highest price at which heating is still allowed.
package threshold

import (
	"math"
	"sort"

	"github.com/Agrid-Dev/stmq/internal/temperature"
)

// FullDay is the heating budget when nothing restricts heating.
const FullDay = 24.0

type Breakpoint struct {
	Temp  float64 `koanf:"temp" json:"temp" yaml:"temp"`
	Hours float64 `koanf:"hours" json:"hours" yaml:"hours"`
}

// Curve maps outside temperature to heating hours per day. Breakpoints are
// ordered warmest first.
type Curve []Breakpoint

// HeatingHours interpolates linearly between neighbouring breakpoints and
// clamps outside the table. An empty curve or unknown temperature yields a
// full day.
func (c Curve) HeatingHours(outside temperature.Reading) float64 {
	if len(c) == 0 || !outside.Valid {
		return FullDay
	}
	t := outside.Value
	if t >= c[0].Temp {
		return c[0].Hours
	}
	last := c[len(c)-1]
	if t <= last.Temp {
		return last.Hours
	}
	for i := 0; i+1 < len(c); i++ {
		hi, lo := c[i], c[i+1]
		if t <= hi.Temp && t >= lo.Temp {
			if hi.Temp == lo.Temp {
				return hi.Hours
			}
			return hi.Hours + (lo.Hours-hi.Hours)/(lo.Temp-hi.Temp)*(t-hi.Temp)
		}
	}
	return last.Hours
}

// Price returns the target-th cheapest of the remaining prices, where
// target is the share hours/24 of the remaining periods. No prices means
// no restriction, so the threshold is +Inf.
func Price(hours float64, remaining []float64) (threshold float64, target int) {
	if len(remaining) == 0 {
		return math.Inf(1), 0
	}
	target = int(math.Round(hours / FullDay * float64(len(remaining))))

	sorted := append([]float64(nil), remaining...)
	sort.Float64s(sorted)

	i := target - 1
	if i < 0 {
		i = 0
	}
	if i > len(sorted)-1 {
		i = len(sorted) - 1
	}
	return sorted[i], target
}

type Result struct {
	Hours     float64
	Target    int
	Periods   int
	Threshold float64
}

type Calculator struct {
	Curve Curve
}

func (c Calculator) Compute(outside temperature.Reading, remaining []float64) Result {
	hours := c.Curve.HeatingHours(outside)
	th, target := Price(hours, remaining)
	return Result{Hours: hours, Target: target, Periods: len(remaining), Threshold: th}
}
