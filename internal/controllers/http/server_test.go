package httpctrl

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/audit"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/temperature"
	"github.com/Agrid-Dev/stmq/internal/testutil"
)

func TestGET_v1_ReturnsStatus(t *testing.T) {
	srv, _ := newTestServer()

	rr := doRequest(t, srv.srv.Handler, http.MethodGet, "/v1")
	assertStatus(t, rr, http.StatusOK)

	got := decodeJSON[map[string]any](t, rr)
	if got["resolution"] != "PT60M" {
		t.Fatalf("expected resolution=PT60M, got %v", got["resolution"])
	}
	if got["periods_left"] != 14.0 {
		t.Fatalf("expected periods_left=14, got %v", got["periods_left"])
	}
	last, ok := got["last"].(map[string]any)
	if !ok {
		t.Fatalf("expected last decision object, got %v", got["last"])
	}
	if last["action"] != "heaton60" {
		t.Fatalf("expected action=heaton60, got %v", last["action"])
	}
}

func TestGET_v1_NoDecisionYet(t *testing.T) {
	srv, f := newTestServer()
	f.S.Last = nil

	rr := doRequest(t, srv.srv.Handler, http.MethodGet, "/v1")
	assertStatus(t, rr, http.StatusOK)
	if got := decodeJSON[map[string]any](t, rr); got["last"] != nil {
		t.Fatalf("expected last=null, got %v", got["last"])
	}
}

func TestGET_prices(t *testing.T) {
	srv, f := newTestServer()
	now := time.Date(2025, 1, 10, 10, 20, 0, 0, time.UTC)
	srv.now = func() time.Time { return now }

	rr := doRequest(t, srv.srv.Handler, http.MethodGet, "/v1/prices")
	assertStatus(t, rr, http.StatusOK)

	got := decodeJSON[[]map[string]any](t, rr)
	if len(got) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(got))
	}
	if got[1]["price"] != 70.0 {
		t.Fatalf("expected price=70, got %v", got[1]["price"])
	}
	if !f.PricesArg.Equal(now) {
		t.Fatalf("expected cursor at %s, got %s", now, f.PricesArg)
	}
}

func TestPOST_adjust(t *testing.T) {
	srv, f := newTestServer()

	rr := doRequest(t, srv.srv.Handler, http.MethodPost, "/v1/adjust")
	assertStatus(t, rr, http.StatusOK)

	if f.Calls() != 1 {
		t.Fatalf("expected 1 Adjust call, got %d", f.Calls())
	}
	got := decodeJSON[map[string]any](t, rr)
	if got["cycle_id"] != "cycle-1" || got["code"] != 60.0 {
		t.Fatalf("unexpected decision %v", got)
	}
}

func TestPOST_adjust_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"in progress", heating.ErrCycleInProgress, http.StatusConflict},
		{"publish failed", fmt.Errorf("%w heaton60: broker down", heating.ErrPublish), http.StatusBadGateway},
		{"panic", fmt.Errorf("%w: boom", heating.ErrCyclePanic), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, f := newTestServer()
			f.AdjustErr = tc.err

			rr := doRequest(t, srv.srv.Handler, http.MethodPost, "/v1/adjust")
			assertStatus(t, rr, tc.want)
			_ = assertErrorResponse(t, rr)
		})
	}
}

func TestGET_history(t *testing.T) {
	srv, f := newTestServer()
	for i := 0; i < 3; i++ {
		f.Rows = append(f.Rows, audit.Row{
			CycleID:   fmt.Sprintf("c-%d", i),
			Time:      time.Unix(int64(1736500000-i*900), 0),
			Price:     math.NaN(),
			Threshold: math.Inf(1),
			Action:    "heaton15",
			Code:      15,
			Inside:    temperature.Celsius(20),
		})
	}

	rr := doRequest(t, srv.srv.Handler, http.MethodGet, "/v1/history?limit=2")
	assertStatus(t, rr, http.StatusOK)

	got := decodeJSON[[]map[string]any](t, rr)
	if len(got) != 2 || f.RecentArg != 2 {
		t.Fatalf("expected 2 rows with limit 2, got %d (limit %d)", len(got), f.RecentArg)
	}
	if got[0]["price"] != nil || got[0]["heat_on"] != true {
		t.Fatalf("unexpected row %v", got[0])
	}

	rr = doRequest(t, srv.srv.Handler, http.MethodGet, "/v1/history")
	assertStatus(t, rr, http.StatusOK)
	if f.RecentArg != defaultHistoryLimit {
		t.Fatalf("expected default limit, got %d", f.RecentArg)
	}

	rr = doRequest(t, srv.srv.Handler, http.MethodGet, "/v1/history?limit=1000000")
	assertStatus(t, rr, http.StatusOK)
	if f.RecentArg != maxHistoryLimit {
		t.Fatalf("expected capped limit, got %d", f.RecentArg)
	}
}

func TestGET_history_Errors(t *testing.T) {
	srv, f := newTestServer()

	rr := doRequest(t, srv.srv.Handler, http.MethodGet, "/v1/history?limit=abc")
	assertStatus(t, rr, http.StatusBadRequest)
	_ = assertErrorResponse(t, rr)

	f.RecentErr = errors.New("database is locked")
	rr = doRequest(t, srv.srv.Handler, http.MethodGet, "/v1/history")
	assertStatus(t, rr, http.StatusInternalServerError)

	noHistory := New(f, nil, ":0", applog.Discard())
	rr = doRequest(t, noHistory.srv.Handler, http.MethodGet, "/v1/history")
	assertStatus(t, rr, http.StatusNotFound)
}

func TestGET_healthz(t *testing.T) {
	srv, _ := newTestServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.srv.Handler.ServeHTTP(rr, req)

	assertStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "ok" {
		t.Fatalf("expected body 'ok', got %s", rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer()
	rr := doRequest(t, srv.srv.Handler, http.MethodGet, "/v1/adjust")
	assertStatus(t, rr, http.StatusMethodNotAllowed)
}

// ---- test helpers ----

func newTestServer() (*Server, *testutil.FakeHeatingService) {
	f := testutil.NewFakeHeatingService()
	return New(f, f, ":0", applog.Discard()), f
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d body=%s", want, rr.Code, rr.Body.String())
	}
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("json.Unmarshal: %v body=%s", err, rr.Body.String())
	}
	return v
}

// Handy when you only care about error responses.
func assertErrorResponse(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeJSON[struct {
		Error string `json:"error"`
	}](t, rr)
	if resp.Error == "" {
		t.Fatalf("expected non-empty error field, got body=%s", rr.Body.String())
	}
	return resp.Error
}
