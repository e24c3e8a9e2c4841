package temperature

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Agrid-Dev/stmq/internal/applog"
)

var ErrNoReading = errors.New("no temperature reading")

// Reading is a nullable Celsius value.
type Reading struct {
	Value float64
	Valid bool
}

func Celsius(v float64) Reading { return Reading{Value: v, Valid: true} }

func (r Reading) String() string {
	if !r.Valid {
		return "NaN"
	}
	return fmt.Sprintf("%.1f", r.Value)
}

// Readings are the three zones the controller tracks.
type Readings struct {
	Inside  Reading
	Garage  Reading
	Outside Reading
}

// Reader fetches a single temperature.
type Reader interface {
	Name() string
	Read(ctx context.Context) (float64, error)
}

// Source reads all zones and holds the last good value of each, so a
// failed fetch never resets a zone back to unknown.
type Source struct {
	inside  Reader
	garage  Reader
	outside []Reader
	log     *applog.Logger

	held Readings
}

// NewSource takes the inside and garage sensors (either may be nil) and
// the outside chain, primary sensor first, in fallback order.
func NewSource(log *applog.Logger, inside, garage Reader, outside ...Reader) *Source {
	return &Source{inside: inside, garage: garage, outside: outside, log: log.With("temperature")}
}

func (s *Source) ReadAll(ctx context.Context) Readings {
	if v, ok := s.first(ctx, "inside", s.inside); ok {
		s.held.Inside = Celsius(v)
	}
	if v, ok := s.first(ctx, "garage", s.garage); ok {
		s.held.Garage = Celsius(v)
	}
	if v, ok := s.first(ctx, "outside", s.outside...); ok {
		s.held.Outside = Celsius(v)
	}
	return s.held
}

// Held returns the last-known-good readings without fetching.
func (s *Source) Held() Readings { return s.held }

func (s *Source) first(ctx context.Context, zone string, readers ...Reader) (float64, bool) {
	for _, r := range readers {
		if r == nil {
			continue
		}
		v, err := r.Read(ctx)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = ErrNoReading
		}
		if err != nil {
			s.log.Warnf("%s temperature from %s failed: %v", zone, r.Name(), err)
			continue
		}
		s.log.Debugf("%s temperature from %s: %.1f", zone, r.Name(), v)
		return v, true
	}
	return 0, false
}
