package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/controllers/view"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/ports"
)

const (
	defaultHistoryLimit = 96
	maxHistoryLimit     = 2000
)

type Server struct {
	svc     ports.HeatingService
	history ports.History
	srv     *http.Server
	log     *applog.Logger
	now     func() time.Time
}

// New returns a runnable server. history may be nil when no queryable
// audit store is configured.
func New(svc ports.HeatingService, history ports.History, addr string, log *applog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{svc: svc, history: history, log: log.With("http"), now: time.Now}

	// Read
	mux.HandleFunc("GET /v1", s.handleGet)
	mux.HandleFunc("GET /v1/prices", s.handleGetPrices)
	mux.HandleFunc("GET /v1/history", s.handleGetHistory)

	// Write
	mux.HandleFunc("POST /v1/adjust", s.handlePostAdjust)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.log.Infof("listening on %s", s.srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- Handlers ----

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, view.FromStatus(s.svc.Status()))
}

func (s *Server) handleGetPrices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, view.FromPeriods(s.svc.Prices(s.now())))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeErr(w, http.StatusNotFound, "history not configured")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.log.Errorf("history: %v", err)
		writeErr(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	out := make([]view.Decision, 0, len(rows))
	for _, row := range rows {
		out = append(out, view.FromRow(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePostAdjust(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Adjust(r.Context())
	switch {
	case errors.Is(err, heating.ErrCycleInProgress):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, heating.ErrPublish):
		// Decided and recorded, but the actuator did not get it.
		writeJSON(w, http.StatusBadGateway, struct {
			Error    string        `json:"error"`
			Decision view.Decision `json:"decision"`
		}{err.Error(), view.FromDecision(d)})
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, view.FromDecision(d))
	}
}

// ---- generic helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
