package prices

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"
)

// Resolution is the length of one priced period.
type Resolution int

const (
	ResolutionUnknown Resolution = 0
	Resolution15      Resolution = 15
	Resolution60      Resolution = 60
)

func (r Resolution) Valid() bool {
	return r == Resolution15 || r == Resolution60
}

func (r Resolution) Duration() time.Duration {
	return time.Duration(r) * time.Minute
}

func (r Resolution) String() string {
	switch r {
	case Resolution15:
		return "PT15M"
	case Resolution60:
		return "PT60M"
	default:
		return "unknown"
	}
}

// ParseResolution accepts the ISO-8601 duration tags used by market documents.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "PT15M":
		return Resolution15, nil
	case "PT60M", "PT1H":
		return Resolution60, nil
	default:
		return ResolutionUnknown, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
	}
}

// Block is one provider-reported run of periods, normally one civil day.
// Points maps 1-based positions to prices; absent positions are filled
// from the previous position of the same block.
type Block struct {
	Start      time.Time
	End        time.Time
	Resolution Resolution
	Points     map[int]float64
}

func (b Block) slots() (int, error) {
	if !b.Resolution.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidResolution, int(b.Resolution))
	}
	d := b.End.Sub(b.Start)
	res := b.Resolution.Duration()
	if d <= 0 || d%res != 0 {
		return 0, fmt.Errorf("%w: %s at %s", ErrBlockMisaligned, d, b.Resolution)
	}
	return int(d / res), nil
}

// Segment describes Count consecutive periods of a single resolution.
type Segment struct {
	Start      time.Time
	Resolution Resolution
	Count      int
}

func (s Segment) End() time.Time {
	return s.Start.Add(time.Duration(s.Count) * s.Resolution.Duration())
}

// Series is an immutable chronological price timeline. Every value in a
// published Series is a real price.
type Series struct {
	values   []float64
	segments []Segment
	start    time.Time
	end      time.Time
}

// NewSeries normalizes provider blocks into a Series. Slots left without a
// price after carry-forward truncate the series at the first gap, so a block
// that reported nothing ends the usable timeline there.
func NewSeries(blocks ...Block) (*Series, error) {
	if len(blocks) == 0 {
		return &Series{}, nil
	}
	sorted := slices.Clone(blocks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	s := &Series{start: sorted[0].Start, end: sorted[0].Start}
	for i, b := range sorted {
		n, err := b.slots()
		if err != nil {
			return nil, err
		}
		if i > 0 && !b.Start.Equal(sorted[i-1].End) {
			return nil, fmt.Errorf("%w: %s then %s", ErrNonContiguous, sorted[i-1].End.Format(time.RFC3339), b.Start.Format(time.RFC3339))
		}

		filled := fillForward(b.Points, n)
		valid := 0
		for valid < n && !math.IsNaN(filled[valid]) {
			valid++
		}
		if valid > 0 {
			s.values = append(s.values, filled[:valid]...)
			s.segments = append(s.segments, Segment{Start: b.Start, Resolution: b.Resolution, Count: valid})
			s.end = s.segments[len(s.segments)-1].End()
		}
		if valid < n {
			break
		}
	}
	if len(s.values) == 0 {
		return &Series{}, nil
	}
	return s, nil
}

func fillForward(points map[int]float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	for pos, v := range points {
		if pos >= 1 && pos <= n && !math.IsNaN(v) {
			out[pos-1] = v
		}
	}
	for i := 1; i < n; i++ {
		if math.IsNaN(out[i]) {
			out[i] = out[i-1]
		}
	}
	return out
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

func (s *Series) Empty() bool { return s.Len() == 0 }

// Values returns a copy of all prices in chronological order.
func (s *Series) Values() []float64 {
	if s == nil {
		return nil
	}
	return slices.Clone(s.values)
}

func (s *Series) Segments() []Segment {
	if s == nil {
		return nil
	}
	return slices.Clone(s.segments)
}

func (s *Series) Start() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.start
}

func (s *Series) End() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.end
}

// index returns the position of the period containing now, walking the
// segments so a resolution change mid-series keeps the cursor aligned.
// Before the series it returns 0, past the end it returns Len().
func (s *Series) index(now time.Time) int {
	idx := 0
	for _, seg := range s.segments {
		if !now.After(seg.Start) {
			return idx
		}
		if !now.Before(seg.End()) {
			idx += seg.Count
			continue
		}
		return idx + int(now.Sub(seg.Start)/seg.Resolution.Duration())
	}
	return idx
}

// SliceFrom returns the prices from the period containing now onwards.
func (s *Series) SliceFrom(now time.Time) []float64 {
	if s.Empty() {
		return nil
	}
	return slices.Clone(s.values[s.index(now):])
}

// Period is one priced slot with its absolute bounds.
type Period struct {
	Start time.Time
	End   time.Time
	Price float64
}

// PeriodsFrom is SliceFrom with the period bounds attached.
func (s *Series) PeriodsFrom(now time.Time) []Period {
	if s.Empty() {
		return nil
	}
	from := s.index(now)
	out := make([]Period, 0, len(s.values)-from)
	idx := 0
	for _, seg := range s.segments {
		res := seg.Resolution.Duration()
		for i := 0; i < seg.Count; i++ {
			if idx >= from {
				start := seg.Start.Add(time.Duration(i) * res)
				out = append(out, Period{Start: start, End: start.Add(res), Price: s.values[idx]})
			}
			idx++
		}
	}
	return out
}

// ResolutionAt reports the resolution of the period containing now.
func (s *Series) ResolutionAt(now time.Time) Resolution {
	if s.Empty() {
		return ResolutionUnknown
	}
	for _, seg := range s.segments {
		if now.Before(seg.End()) {
			return seg.Resolution
		}
	}
	return ResolutionUnknown
}

// Remaining is the wall-clock time from now until the series runs out.
func (s *Series) Remaining(now time.Time) time.Duration {
	if s.Empty() || !now.Before(s.end) {
		return 0
	}
	if now.Before(s.start) {
		return s.end.Sub(s.start)
	}
	return s.end.Sub(now)
}

// Equal reports value-wise equality of the two timelines.
func (s *Series) Equal(o *Series) bool {
	return slices.Equal(s.Values(), o.Values())
}

// SameLayout reports whether both series start together and share segments.
func (s *Series) SameLayout(o *Series) bool {
	a, b := s.Segments(), o.Segments()
	if len(a) != len(b) || !s.Start().Equal(o.Start()) {
		return false
	}
	for i := range a {
		if !a[i].Start.Equal(b[i].Start) || a[i].Resolution != b[i].Resolution || a[i].Count != b[i].Count {
			return false
		}
	}
	return true
}

// Window is the 48h fetch interval: local midnight of now to two local
// midnights later. AddDate keeps it on civil days across DST changes.
func Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 2)
}
