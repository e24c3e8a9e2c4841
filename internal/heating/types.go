package heating

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action is the command sent to the heating actuator.
type Action int

const (
	ActionUnknown Action = iota
	ActionOff
	ActionWeak
	ActionStrong
)

func (a Action) Valid() bool {
	return a == ActionOff || a == ActionWeak || a == ActionStrong
}

func (a Action) String() string {
	switch a {
	case ActionOff:
		return "heatoff"
	case ActionWeak:
		return "heaton15"
	case ActionStrong:
		return "heaton60"
	default:
		return "unknown"
	}
}

// Code is the audit value of the action: minutes of heating requested.
func (a Action) Code() int {
	switch a {
	case ActionWeak:
		return 15
	case ActionStrong:
		return 60
	default:
		return 0
	}
}

func (a Action) HeatOn() bool { return a == ActionWeak || a == ActionStrong }

func ParseAction(s string) (Action, error) {
	switch s {
	case "heatoff":
		return ActionOff, nil
	case "heaton15":
		return ActionWeak, nil
	case "heaton60":
		return ActionStrong, nil
	default:
		return ActionUnknown, fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// ClockWindow is a daily local time range [Start, End). A window whose end
// is before its start wraps past midnight. The zero value covers the whole day.
type ClockWindow struct {
	Start time.Duration
	End   time.Duration
	set   bool
}

// ParseClockWindow parses "HH:MM-HH:MM". An empty string means always.
func ParseClockWindow(s string) (ClockWindow, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ClockWindow{}, nil
	}
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return ClockWindow{}, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	start, err := parseClock(from)
	if err != nil {
		return ClockWindow{}, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	end, err := parseClock(to)
	if err != nil {
		return ClockWindow{}, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	return ClockWindow{Start: start, End: end, set: true}, nil
}

func parseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, ErrInvalidWindow
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, ErrInvalidWindow
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, ErrInvalidWindow
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func (w ClockWindow) Always() bool { return !w.set || w.Start == w.End }

// Contains reports whether the wall clock of t falls inside the window.
func (w ClockWindow) Contains(t time.Time) bool {
	if w.Always() {
		return true
	}
	c := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	if w.Start < w.End {
		return c >= w.Start && c < w.End
	}
	return c >= w.Start || c < w.End
}

func (w ClockWindow) String() string {
	if w.Always() {
		return ""
	}
	return clock(w.Start) + "-" + clock(w.End)
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Policy holds the tunable decision constants.
type Policy struct {
	FixedPriceFloor float64       // EUR/MWh, at or below it heating is always allowed
	MinReassert     time.Duration // minimum time between two strong pulses
	StrongWindow    ClockWindow
	RefreshBelow    time.Duration // refetch once the held series covers less than this
}

func DefaultPolicy() Policy {
	w, _ := ParseClockWindow("04:45-18:45")
	return Policy{
		FixedPriceFloor: 30,
		MinReassert:     time.Hour,
		StrongWindow:    w,
		RefreshBelow:    12 * time.Hour,
	}
}

func (p Policy) Validate() error {
	if p.MinReassert < 0 {
		return fmt.Errorf("%w: negative reassert interval", ErrInvalidPolicy)
	}
	if p.RefreshBelow < 0 {
		return fmt.Errorf("%w: negative refresh threshold", ErrInvalidPolicy)
	}
	return nil
}
