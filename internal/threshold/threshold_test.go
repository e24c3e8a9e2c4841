package threshold

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Agrid-Dev/stmq/internal/temperature"
)

var testCurve = Curve{{Temp: 10, Hours: 2}, {Temp: -10, Hours: 20}}

func TestCurve_HeatingHours(t *testing.T) {
	multi := Curve{{Temp: 15, Hours: 0}, {Temp: 5, Hours: 6}, {Temp: -5, Hours: 12}, {Temp: -20, Hours: 24}}

	tests := []struct {
		name  string
		curve Curve
		in    temperature.Reading
		want  float64
	}{
		{"midpoint", testCurve, temperature.Celsius(0), 11},
		{"warmer than table", testCurve, temperature.Celsius(25), 2},
		{"at warmest", testCurve, temperature.Celsius(10), 2},
		{"colder than table", testCurve, temperature.Celsius(-30), 20},
		{"at coldest", testCurve, temperature.Celsius(-10), 20},
		{"quarter", testCurve, temperature.Celsius(5), 6.5},
		{"unknown temperature", testCurve, temperature.Reading{}, FullDay},
		{"empty curve", nil, temperature.Celsius(0), FullDay},
		{"second segment", multi, temperature.Celsius(0), 9},
		{"third segment", multi, temperature.Celsius(-12.5), 18},
		{"single point", Curve{{Temp: 0, Hours: 8}}, temperature.Celsius(3), 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.curve.HeatingHours(tt.in), 1e-9)
		})
	}
}

func TestPrice_EmptyFailsOpen(t *testing.T) {
	for _, h := range []float64{0, 11, 24} {
		th, target := Price(h, nil)
		assert.True(t, math.IsInf(th, 1))
		assert.Equal(t, 0, target)
	}
}

func TestPrice_RankSelection(t *testing.T) {
	prices := []float64{5, 3, 8, 1, 13, 21, 2, 34, 55, 89, 7, 6, 4, 9, 10, 11, 12, 14, 15, 16, 17, 18, 19, 20}

	th, target := Price(11, prices)
	assert.Equal(t, 11, target)
	// sorted: 1 2 3 4 5 6 7 8 9 10 11 ...
	assert.Equal(t, 11.0, th)
	assert.Equal(t, 5.0, prices[0], "input is not reordered")

	th, target = Price(0, prices)
	assert.Equal(t, 0, target)
	assert.Equal(t, 1.0, th)

	th, _ = Price(48, prices)
	assert.Equal(t, 89.0, th)
}

func TestPrice_MonotonicInHours(t *testing.T) {
	prices := []float64{42, -3, 17.5, 17.5, 90, 0, 61, 8, 33, 12, 150, 4, 4, 27, 55}
	prev := math.Inf(-1)
	for h := 0.0; h <= 30; h += 0.25 {
		th, _ := Price(h, prices)
		assert.GreaterOrEqual(t, th, prev, "hours %.2f", h)
		prev = th
	}
}

func TestCalculator_Compute(t *testing.T) {
	prices := make([]float64, 24)
	for i := range prices {
		prices[i] = float64(24 - i)
	}
	r := Calculator{Curve: testCurve}.Compute(temperature.Celsius(0), prices)
	assert.Equal(t, Result{Hours: 11, Target: 11, Periods: 24, Threshold: 11}, r)

	r = Calculator{Curve: testCurve}.Compute(temperature.Celsius(0), nil)
	assert.True(t, math.IsInf(r.Threshold, 1))
	assert.Equal(t, 11.0, r.Hours)
}
