package prices

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Agrid-Dev/stmq/internal/applog"
)

// Provider fetches a day-ahead price timeline for [start, end).
// An empty result is reported as ErrNoData.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, start, end time.Time) (*Series, error)
}

// Source tries its providers in order and returns the first non-empty series.
type Source struct {
	providers []Provider
	log       *applog.Logger
}

func NewSource(log *applog.Logger, providers ...Provider) *Source {
	return &Source{providers: providers, log: log.With("prices")}
}

func (s *Source) Fetch(ctx context.Context, start, end time.Time) (*Series, error) {
	var errs []error
	for _, p := range s.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		series, err := p.Fetch(ctx, start, end)
		if err == nil && series.Empty() {
			err = ErrNoData
		}
		if err != nil {
			s.log.Warnf("%s query failed: %v", p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		s.log.Infof("%s query successful: %d periods from %s to %s",
			p.Name(), series.Len(), series.Start().Format(time.RFC3339), series.End().Format(time.RFC3339))
		return series, nil
	}
	if len(errs) == 0 {
		return nil, ErrNoData
	}
	return nil, errors.Join(append([]error{ErrNoData}, errs...)...)
}

// clip forward-fills b and trims it to [start, end). ok is false when
// nothing of b lies inside the window.
func clip(b Block, start, end time.Time) (Block, bool) {
	n, err := b.slots()
	if err != nil {
		return b, true // let NewSeries report it
	}
	res := b.Resolution.Duration()
	from, to := 0, n
	if b.Start.Before(start) {
		from = int((start.Sub(b.Start) + res - 1) / res)
	}
	if b.End.After(end) {
		to = int(end.Sub(b.Start) / res)
	}
	if from >= to {
		return Block{}, false
	}
	if from == 0 && to == n {
		return b, true
	}
	filled := fillForward(b.Points, n)
	out := Block{
		Start:      b.Start.Add(time.Duration(from) * res),
		End:        b.Start.Add(time.Duration(to) * res),
		Resolution: b.Resolution,
		Points:     make(map[int]float64, to-from),
	}
	for i := from; i < to; i++ {
		if !math.IsNaN(filled[i]) {
			out.Points[i-from+1] = filled[i]
		}
	}
	return out, true
}
