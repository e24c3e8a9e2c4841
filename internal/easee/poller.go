package easee

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/audit"
)

const (
	DefaultSchedule = "*/5 * * * *"
	DefaultCSVPath  = "./share/st-mq/easee.csv"
)

var csvHeader = []string{"unix_time", "ch_curr1", "ch_curr2", "ch_curr3", "eq_curr1", "eq_curr2", "eq_curr3"}

// Sample is one poll. Currents are amperes; NaN when the device is not
// configured or could not be read.
type Sample struct {
	Time      time.Time
	Charger   [3]float64
	Equalizer [3]float64
}

type StateReader interface {
	ChargerState(ctx context.Context, id string) (ChargerState, error)
	EqualizerState(ctx context.Context, id string) (EqualizerState, error)
}

type Poller struct {
	client      StateReader
	chargerID   string
	equalizerID string
	path        string
	log         *applog.Logger
	now         func() time.Time

	mu sync.Mutex
}

func NewPoller(client StateReader, chargerID, equalizerID, csvPath string, log *applog.Logger) (*Poller, error) {
	if chargerID == "" && equalizerID == "" {
		return nil, ErrNoDevice
	}
	if csvPath == "" {
		csvPath = DefaultCSVPath
	}
	if err := os.MkdirAll(filepath.Dir(csvPath), 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}
	return &Poller{
		client:      client,
		chargerID:   chargerID,
		equalizerID: equalizerID,
		path:        csvPath,
		log:         log.With("easee"),
		now:         time.Now,
	}, nil
}

// Poll reads both devices and appends a row. A device that fails is logged
// as NaN; Poll only errors when nothing could be read or written.
func (p *Poller) Poll(ctx context.Context) error {
	s := Sample{Time: p.now()}
	for i := range 3 {
		s.Charger[i], s.Equalizer[i] = math.NaN(), math.NaN()
	}

	read := 0
	if p.chargerID != "" {
		if ch, err := p.client.ChargerState(ctx, p.chargerID); err != nil {
			p.log.Warnf("charger %s: %v", p.chargerID, err)
		} else {
			s.Charger = [3]float64{ch.InCurrentT3, ch.InCurrentT4, ch.InCurrentT5}
			read++
		}
	}
	if p.equalizerID != "" {
		if eq, err := p.client.EqualizerState(ctx, p.equalizerID); err != nil {
			p.log.Warnf("equalizer %s: %v", p.equalizerID, err)
		} else {
			s.Equalizer = [3]float64{eq.CurrentL1, eq.CurrentL2, eq.CurrentL3}
			read++
		}
	}
	if read == 0 {
		return fmt.Errorf("easee: no device could be read")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := audit.AppendCSV(p.path, csvHeader, fields(s)); err != nil {
		return err
	}
	p.log.Debugf("charger=%v equalizer=%v", s.Charger, s.Equalizer)
	return nil
}

func fields(s Sample) []string {
	out := []string{strconv.FormatInt(s.Time.Unix(), 10)}
	for _, v := range append(s.Charger[:], s.Equalizer[:]...) {
		out = append(out, formatCurrent(v))
	}
	return out
}

func formatCurrent(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
