package prices

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultEntsoeURL = "https://web-api.tp.entsoe.eu/api"

// EntsoeDomains maps country codes to ENTSO-E bidding zone EIC codes.
var EntsoeDomains = map[string]string{
	"fi": "10YFI-1--------U",
	"ee": "10Y1001A1001A39I",
	"se": "10YSE-1--------K",
	"no": "10YNO-0--------C",
	"dk": "10Y1001A1001A65H",
	"is": "IS",
	"lt": "10YLT-1001A0008Q",
	"lv": "10YLV-1001A00074",
}

// EntsoeProvider reads day-ahead prices (A44/A01) from the ENTSO-E
// transparency platform. Prices are EUR/MWh.
type EntsoeProvider struct {
	Client  *http.Client
	BaseURL string
	Token   string
	Domain  string
}

func NewEntsoeProvider(token, domain string, timeout time.Duration) *EntsoeProvider {
	return &EntsoeProvider{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: DefaultEntsoeURL,
		Token:   token,
		Domain:  domain,
	}
}

func (p *EntsoeProvider) Name() string { return "entso-e" }

// entsoeDocument covers both the publication and the acknowledgement
// (error) document; XMLName tells them apart.
type entsoeDocument struct {
	XMLName    xml.Name
	Interval   entsoeInterval     `xml:"period.timeInterval"`
	TimeSeries []entsoeTimeSeries `xml:"TimeSeries"`
	Reasons    []struct {
		Code string `xml:"code"`
		Text string `xml:"text"`
	} `xml:"Reason"`
}

type entsoeInterval struct {
	Start string `xml:"start"`
	End   string `xml:"end"`
}

type entsoeTimeSeries struct {
	Periods []struct {
		Interval   entsoeInterval `xml:"timeInterval"`
		Resolution string         `xml:"resolution"`
		Points     []struct {
			Position string `xml:"position"`
			Price    string `xml:"price.amount"`
		} `xml:"Point"`
	} `xml:"Period"`
}

func (p *EntsoeProvider) Fetch(ctx context.Context, start, end time.Time) (*Series, error) {
	q := url.Values{}
	q.Set("securityToken", p.Token)
	q.Set("documentType", "A44")
	q.Set("processType", "A01")
	q.Set("in_Domain", p.Domain)
	q.Set("out_Domain", p.Domain)
	q.Set("periodStart", start.UTC().Format("200601021504"))
	q.Set("periodEnd", end.UTC().Format("200601021504"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("entso-e fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("entso-e read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// Errors come back as an acknowledgement document with a non-200 status.
		if reason := ackReason(body); reason != "" {
			return nil, fmt.Errorf("%w: entso-e status %d: %s", ErrNoData, resp.StatusCode, reason)
		}
		return nil, fmt.Errorf("%w: entso-e status %d", ErrNoData, resp.StatusCode)
	}
	return ParseEntsoe(body, start, end)
}

func ackReason(body []byte) string {
	var doc entsoeDocument
	if err := xml.Unmarshal(body, &doc); err != nil || doc.XMLName.Local != "Acknowledgement_MarketDocument" {
		return ""
	}
	var texts []string
	for _, r := range doc.Reasons {
		texts = append(texts, strings.TrimSpace(r.Text))
	}
	if len(texts) == 0 {
		return "unknown error"
	}
	return strings.Join(texts, "; ")
}

// ParseEntsoe turns a market document into a Series clipped to [start, end).
func ParseEntsoe(body []byte, start, end time.Time) (*Series, error) {
	var doc entsoeDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: entso-e decode: %v", ErrNoData, err)
	}
	switch doc.XMLName.Local {
	case "Publication_MarketDocument":
	case "Acknowledgement_MarketDocument":
		return nil, fmt.Errorf("%w: entso-e api error: %s", ErrNoData, ackReason(body))
	default:
		return nil, fmt.Errorf("%w: entso-e unexpected document %q", ErrNoData, doc.XMLName.Local)
	}

	var blocks []Block
	seen := map[int64]bool{}
	for i, ts := range doc.TimeSeries {
		for _, period := range ts.Periods {
			res, err := ParseResolution(strings.TrimSpace(period.Resolution))
			if err != nil {
				return nil, fmt.Errorf("entso-e TimeSeries[%d]: %w", i, err)
			}
			pStart, err := parseEntsoeTime(period.Interval.Start)
			if err != nil {
				return nil, fmt.Errorf("entso-e TimeSeries[%d] start: %w", i, err)
			}
			pEnd, err := parseEntsoeTime(period.Interval.End)
			if err != nil {
				return nil, fmt.Errorf("entso-e TimeSeries[%d] end: %w", i, err)
			}
			if seen[pStart.Unix()] {
				continue
			}
			seen[pStart.Unix()] = true

			b := Block{Start: pStart, End: pEnd, Resolution: res, Points: make(map[int]float64, len(period.Points))}
			for _, pt := range period.Points {
				pos, err := strconv.Atoi(strings.TrimSpace(pt.Position))
				if err != nil {
					continue
				}
				price, err := strconv.ParseFloat(strings.TrimSpace(pt.Price), 64)
				if err != nil {
					continue
				}
				b.Points[pos] = price
			}
			if clipped, ok := clip(b, start, end); ok {
				blocks = append(blocks, clipped)
			}
		}
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: entso-e no TimeSeries in window", ErrNoData)
	}
	return NewSeries(blocks...)
}

func parseEntsoeTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02T15:04Z", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
