package prices

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/stmq/internal/applog"
)

const publicationDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:3">
  <period.timeInterval><start>2025-01-09T23:00Z</start><end>2025-01-10T23:00Z</end></period.timeInterval>
  <TimeSeries>
    <Period>
      <timeInterval><start>2025-01-09T23:00Z</start><end>2025-01-10T23:00Z</end></timeInterval>
      <resolution>PT60M</resolution>
      <Point><position>1</position><price.amount>50.5</price.amount></Point>
      <Point><position>2</position><price.amount>40</price.amount></Point>
      <Point><position>5</position><price.amount>10</price.amount></Point>
    </Period>
  </TimeSeries>
  <TimeSeries>
    <Period>
      <timeInterval><start>2025-01-09T23:00Z</start><end>2025-01-10T23:00Z</end></timeInterval>
      <resolution>PT60M</resolution>
      <Point><position>1</position><price.amount>999</price.amount></Point>
    </Period>
  </TimeSeries>
</Publication_MarketDocument>`

const ackDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Acknowledgement_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-1:acknowledgementdocument:7:0">
  <mRID>abc</mRID>
  <Reason><code>999</code><text>No matching data found for Data item Day-ahead Prices</text></Reason>
</Acknowledgement_MarketDocument>`

func TestParseEntsoe_Publication(t *testing.T) {
	start := time.Date(2025, 1, 9, 23, 0, 0, 0, time.UTC)
	s, err := ParseEntsoe([]byte(publicationDoc), start, start.Add(48*time.Hour))
	require.NoError(t, err)

	require.Equal(t, 24, s.Len())
	v := s.Values()
	assert.Equal(t, []float64{50.5, 40, 40, 40, 10}, v[:5])
	assert.Equal(t, 10.0, v[23])
	assert.True(t, s.Start().Equal(start))
}

func TestParseEntsoe_ClipsToWindow(t *testing.T) {
	start := time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC)
	s, err := ParseEntsoe([]byte(publicationDoc), start, start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []float64{40, 40, 10}, s.Values())
	assert.True(t, s.Start().Equal(start))
}

func TestParseEntsoe_Acknowledgement(t *testing.T) {
	_, err := ParseEntsoe([]byte(ackDoc), time.Now(), time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrNoData)
	assert.Contains(t, err.Error(), "No matching data")
}

func TestEntsoeProvider_Fetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(publicationDoc))
	}))
	defer srv.Close()

	p := NewEntsoeProvider("tok", EntsoeDomains["fi"], time.Second)
	p.BaseURL = srv.URL
	start := time.Date(2025, 1, 9, 23, 0, 0, 0, time.UTC)

	s, err := p.Fetch(context.Background(), start, start.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 24, s.Len())
	assert.Contains(t, gotQuery, "periodStart=202501092300")
	assert.Contains(t, gotQuery, "documentType=A44")
	assert.Contains(t, gotQuery, "in_Domain=10YFI-1--------U")
}

func TestEntsoeProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(ackDoc))
	}))
	defer srv.Close()

	p := NewEntsoeProvider("tok", "X", time.Second)
	p.BaseURL = srv.URL
	_, err := p.Fetch(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrNoData)
	assert.Contains(t, err.Error(), "status 400")
}

func eleringBody(country string, first time.Time, step time.Duration, prices ...float64) string {
	var entries []string
	for i, p := range prices {
		entries = append(entries, fmt.Sprintf(`{"timestamp":%d,"price":%g}`, first.Add(time.Duration(i)*step).Unix(), p))
	}
	return fmt.Sprintf(`{"success":true,"data":{"%s":[%s]}}`, country, strings.Join(entries, ","))
}

func TestEleringProvider_QuarterHourAcrossDays(t *testing.T) {
	loc := berlin(t)
	start := time.Date(2025, 10, 1, 22, 0, 0, 0, loc)
	prices := make([]float64, 16) // 22:00 .. 02:00 local
	for i := range prices {
		prices[i] = float64(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(eleringBody("ee", start, 15*time.Minute, prices...)))
	}))
	defer srv.Close()

	p := NewEleringProvider("EE", loc, time.Second, applog.Discard())
	p.BaseURL = srv.URL
	s, err := p.Fetch(context.Background(), start, start.Add(48*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, prices, s.Values())
	segs := s.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, 8, segs[0].Count)
	assert.Equal(t, Resolution15, segs[0].Resolution)
	assert.True(t, segs[1].Start.Equal(time.Date(2025, 10, 2, 0, 0, 0, 0, loc)))
}

func TestEleringProvider_UnexpectedDeltaDefaultsToHourly(t *testing.T) {
	entries := []eleringEntry{{Timestamp: 0, Price: 1}, {Timestamp: 1800, Price: 2}}
	res, ok := inferResolution(entries)
	assert.False(t, ok)
	assert.Equal(t, Resolution60, res)

	res, ok = inferResolution(entries[:1])
	assert.True(t, ok)
	assert.Equal(t, Resolution60, res)
}

func TestEleringProvider_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"not success", http.StatusOK, `{"success":false}`},
		{"missing country", http.StatusOK, `{"success":true,"data":{"fi":[]}}`},
		{"bad json", http.StatusOK, `{"success":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewEleringProvider("ee", time.UTC, time.Second, applog.Discard())
			p.BaseURL = srv.URL
			_, err := p.Fetch(context.Background(), time.Now(), time.Now().Add(time.Hour))
			assert.ErrorIs(t, err, ErrNoData)
		})
	}
}

type fakeProvider struct {
	name   string
	series *Series
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(context.Context, time.Time, time.Time) (*Series, error) {
	f.calls++
	return f.series, f.err
}

func TestSource_FallsBackOnAcknowledgement(t *testing.T) {
	ack := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ackDoc))
	}))
	defer ack.Close()

	primary := NewEntsoeProvider("tok", "X", time.Second)
	primary.BaseURL = ack.URL

	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	want, err := NewSeries(dayBlock(start, Resolution60, constant(12)))
	require.NoError(t, err)
	secondary := &fakeProvider{name: "secondary", series: want}

	got, err := NewSource(applog.Discard(), primary, secondary).Fetch(context.Background(), start, start.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, secondary.calls)
	assert.True(t, got.Equal(want))
}

func TestSource_EmptyResultFallsThrough(t *testing.T) {
	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	want, _ := NewSeries(dayBlock(start, Resolution60, constant(1)))
	a := &fakeProvider{name: "a", series: &Series{}}
	b := &fakeProvider{name: "b", series: want}

	got, err := NewSource(applog.Discard(), a, b).Fetch(context.Background(), start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, 1, a.calls)
}

func TestSource_AllFail(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("boom")}
	b := &fakeProvider{name: "b", series: &Series{}}

	_, err := NewSource(applog.Discard(), a, b).Fetch(context.Background(), time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	_, err = NewSource(applog.Discard()).Fetch(context.Background(), time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSource_StopsOnCancelledContext(t *testing.T) {
	a := &fakeProvider{name: "a"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSource(applog.Discard(), a).Fetch(ctx, time.Now(), time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.calls)
}
