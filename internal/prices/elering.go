package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Agrid-Dev/stmq/internal/applog"
)

const DefaultEleringURL = "https://dashboard.elering.ee/api/nps/price"

// EleringProvider reads Nord Pool prices from the Elering dashboard API.
// The API returns a flat list of (unix timestamp, EUR/MWh) pairs per
// country, so the resolution is inferred and the list is cut into civil
// days of Location to match the block model.
type EleringProvider struct {
	Client   *http.Client
	BaseURL  string
	Country  string
	Location *time.Location
	log      *applog.Logger
}

func NewEleringProvider(country string, loc *time.Location, timeout time.Duration, log *applog.Logger) *EleringProvider {
	return &EleringProvider{
		Client:   &http.Client{Timeout: timeout},
		BaseURL:  DefaultEleringURL,
		Country:  strings.ToLower(country),
		Location: loc,
		log:      log.With("elering"),
	}
}

func (p *EleringProvider) Name() string { return "elering" }

type eleringResponse struct {
	Success bool                      `json:"success"`
	Data    map[string][]eleringEntry `json:"data"`
}

type eleringEntry struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

func (p *EleringProvider) Fetch(ctx context.Context, start, end time.Time) (*Series, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elering fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elering read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: elering status %d", ErrNoData, resp.StatusCode)
	}

	var r eleringResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: elering decode: %v", ErrNoData, err)
	}
	if !r.Success {
		return nil, fmt.Errorf("%w: elering api reported failure", ErrNoData)
	}
	entries := r.Data[p.Country]
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: elering no prices for %q", ErrNoData, p.Country)
	}
	return p.normalize(entries, start, end)
}

// inferResolution derives the period length from the first two timestamps.
func inferResolution(entries []eleringEntry) (Resolution, bool) {
	if len(entries) < 2 {
		return Resolution60, true
	}
	switch entries[1].Timestamp - entries[0].Timestamp {
	case 900:
		return Resolution15, true
	case 3600:
		return Resolution60, true
	default:
		return Resolution60, false
	}
}

func (p *EleringProvider) normalize(entries []eleringEntry, start, end time.Time) (*Series, error) {
	res, ok := inferResolution(entries)
	if !ok {
		p.log.Warnf("unexpected timestamp difference %ds, assuming %s", entries[1].Timestamp-entries[0].Timestamp, res)
	}
	step := res.Duration()
	first := time.Unix(entries[0].Timestamp, 0)
	last := time.Unix(entries[len(entries)-1].Timestamp, 0).Add(step)

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	var blocks []Block
	for dayStart := civilMidnight(first, loc); dayStart.Before(last); dayStart = dayStart.AddDate(0, 0, 1) {
		b := Block{
			Start:      maxTime(dayStart, first),
			End:        minTime(dayStart.AddDate(0, 0, 1), last),
			Resolution: res,
			Points:     map[int]float64{},
		}
		for _, e := range entries {
			ts := time.Unix(e.Timestamp, 0)
			if ts.Before(b.Start) || !ts.Before(b.End) {
				continue
			}
			b.Points[int(ts.Sub(b.Start)/step)+1] = e.Price
		}
		if clipped, ok := clip(b, start, end); ok {
			blocks = append(blocks, clipped)
		}
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: elering no prices in window", ErrNoData)
	}
	return NewSeries(blocks...)
}

func civilMidnight(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
