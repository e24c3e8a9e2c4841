package heating

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/audit"
	"github.com/Agrid-Dev/stmq/internal/prices"
	"github.com/Agrid-Dev/stmq/internal/temperature"
	"github.com/Agrid-Dev/stmq/internal/threshold"
)

type PriceFetcher interface {
	Fetch(ctx context.Context, start, end time.Time) (*prices.Series, error)
}

type TemperatureReader interface {
	ReadAll(ctx context.Context) temperature.Readings
}

// Actuator delivers the action to the heating device.
type Actuator interface {
	Publish(ctx context.Context, a Action) error
}

type Recorder interface {
	Record(ctx context.Context, row audit.Row) error
}

// Observer is told about every completed decision.
type Observer interface {
	Observe(ctx context.Context, d Decision)
}

type Config struct {
	Prices       PriceFetcher
	Temperatures TemperatureReader
	Actuator     Actuator
	Recorder     Recorder
	Curve        threshold.Curve
	Policy       Policy
	Location     *time.Location
	Log          *applog.Logger

	// Optional; defaults to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Decision is the outcome of one cycle. Price is NaN when no price covers now.
type Decision struct {
	CycleID   string
	Time      time.Time
	Price     float64
	Threshold threshold.Result
	HeatOn    bool
	Action    Action
	Readings  temperature.Readings
	Published bool
}

func (d Decision) HasPrice() bool { return !math.IsNaN(d.Price) }

// HeatOn is the decision rule: heat when the price is unknown, within the
// budget threshold, or under the fixed floor.
func HeatOn(price, threshold, floor float64) bool {
	return math.IsNaN(price) || price <= threshold || price <= floor
}

type Engine struct {
	prices    PriceFetcher
	temps     TemperatureReader
	actuator  Actuator
	recorder  Recorder
	calc      threshold.Calculator
	policy    Policy
	loc       *time.Location
	log       *applog.Logger
	now       func() time.Time
	newID     func() string
	observers []Observer

	running atomic.Bool

	mu         sync.RWMutex
	series     *prices.Series
	fetchedAt  time.Time
	lastStrong time.Time
	last       *Decision
}

func New(cfg Config, observers ...Observer) (*Engine, error) {
	if cfg.Prices == nil || cfg.Temperatures == nil || cfg.Actuator == nil {
		return nil, ErrMissingDependency
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		prices:    cfg.Prices,
		temps:     cfg.Temperatures,
		actuator:  cfg.Actuator,
		recorder:  cfg.Recorder,
		calc:      threshold.Calculator{Curve: cfg.Curve},
		policy:    cfg.Policy,
		loc:       cfg.Location,
		log:       cfg.Log.With("heating"),
		now:       cfg.Now,
		newID:     cfg.NewID,
		observers: observers,
	}
	if e.recorder == nil {
		e.recorder = audit.Noop{}
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e, nil
}

// Adjust runs one decision cycle: refresh prices when running low, read
// temperatures, compute the threshold, decide, publish and record.
// Only one cycle runs at a time; a concurrent call gets ErrCycleInProgress.
func (e *Engine) Adjust(ctx context.Context) (d Decision, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return Decision{}, ErrCycleInProgress
	}
	defer e.running.Store(false)

	d.CycleID = e.newID()
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("cycle %s aborted: %v", d.CycleID, r)
			err = fmt.Errorf("%w: %v", ErrCyclePanic, r)
		}
	}()

	now := e.now()
	d.Time = now

	e.refreshPrices(ctx, now)
	d.Readings = e.temps.ReadAll(ctx)

	remaining := e.Series().SliceFrom(now)
	d.Price = math.NaN()
	if len(remaining) > 0 {
		d.Price = remaining[0]
	}
	d.Threshold = e.calc.Compute(d.Readings.Outside, remaining)
	d.HeatOn = HeatOn(d.Price, d.Threshold.Threshold, e.policy.FixedPriceFloor)
	d.Action = e.choose(now, d.HeatOn)

	e.log.Infof("cycle %s: price=%s threshold=%s hours=%.2f target=%d/%d out=%s -> %s",
		d.CycleID, formatPrice(d.Price), formatPrice(d.Threshold.Threshold),
		d.Threshold.Hours, d.Threshold.Target, d.Threshold.Periods, d.Readings.Outside, d.Action)

	if perr := e.actuator.Publish(ctx, d.Action); perr != nil {
		e.log.Errorf("cycle %s: publish %s: %v", d.CycleID, d.Action, perr)
		err = fmt.Errorf("%w %s: %v", ErrPublish, d.Action, perr)
	} else {
		d.Published = true
		if d.Action == ActionStrong {
			e.mu.Lock()
			e.lastStrong = now
			e.mu.Unlock()
		}
	}

	if rerr := e.recorder.Record(ctx, d.row()); rerr != nil {
		e.log.Errorf("cycle %s: audit: %v", d.CycleID, rerr)
	}

	e.mu.Lock()
	last := d
	e.last = &last
	e.mu.Unlock()

	for _, o := range e.observers {
		o.Observe(ctx, d)
	}
	return d, err
}

func (e *Engine) refreshPrices(ctx context.Context, now time.Time) {
	held := e.Series()
	if !held.Empty() && held.Remaining(now) >= e.policy.RefreshBelow {
		return
	}
	start, end := prices.Window(now, e.loc)
	fetched, err := e.prices.Fetch(ctx, start, end)
	if err != nil || fetched.Empty() {
		e.log.Warnf("price refresh failed, keeping %d held periods: %v", held.Len(), err)
		return
	}
	// Same values on the same layout: keep the held series untouched. A
	// reordering or a shorter series counts as new data.
	if held.Equal(fetched) && held.SameLayout(fetched) {
		e.log.Debugf("fetched prices unchanged")
		return
	}

	e.mu.Lock()
	e.series = fetched
	e.fetchedAt = now
	e.mu.Unlock()
	e.log.Infof("prices updated: %d periods %s .. %s",
		fetched.Len(), fetched.Start().In(e.loc).Format(time.RFC3339), fetched.End().In(e.loc).Format(time.RFC3339))
}

func (e *Engine) choose(now time.Time, heatOn bool) Action {
	if !heatOn {
		return ActionOff
	}
	e.mu.RLock()
	last := e.lastStrong
	e.mu.RUnlock()

	due := last.IsZero() || now.Sub(last) >= e.policy.MinReassert
	if due && e.policy.StrongWindow.Contains(now.In(e.loc)) {
		return ActionStrong
	}
	return ActionWeak
}

func (d Decision) row() audit.Row {
	return audit.Row{
		CycleID:   d.CycleID,
		Time:      d.Time,
		Price:     d.Price,
		Threshold: d.Threshold.Threshold,
		Hours:     d.Threshold.Hours,
		Action:    d.Action.String(),
		Code:      d.Action.Code(),
		Inside:    d.Readings.Inside,
		Garage:    d.Readings.Garage,
		Outside:   d.Readings.Outside,
	}
}

func formatPrice(p float64) string {
	switch {
	case math.IsNaN(p):
		return "NaN"
	case math.IsInf(p, 1):
		return "+Inf"
	default:
		return fmt.Sprintf("%.2f", p)
	}
}

// Series returns the held price series, possibly nil.
func (e *Engine) Series() *prices.Series {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.series
}

// Status is a read-only snapshot for the status controllers.
type Status struct {
	Last          *Decision
	LastStrong    time.Time
	PricesFetched time.Time
	PricesStart   time.Time
	PricesEnd     time.Time
	PricesLeft    time.Duration
	PeriodsLeft   int
	Resolution    prices.Resolution
	CycleRunning  bool
}

func (e *Engine) Status() Status {
	now := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Status{
		LastStrong:    e.lastStrong,
		PricesFetched: e.fetchedAt,
		PricesStart:   e.series.Start(),
		PricesEnd:     e.series.End(),
		PricesLeft:    e.series.Remaining(now),
		PeriodsLeft:   len(e.series.SliceFrom(now)),
		Resolution:    e.series.ResolutionAt(now),
		CycleRunning:  e.running.Load(),
	}
	if e.last != nil {
		last := *e.last
		s.Last = &last
	}
	return s
}

// Prices returns the remaining schedule from the period containing now.
func (e *Engine) Prices(now time.Time) []prices.Period {
	return e.Series().PeriodsFrom(now)
}

func (e *Engine) Location() *time.Location { return e.loc }
