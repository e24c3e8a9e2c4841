package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Agrid-Dev/stmq/internal/temperature"
)

const DefaultCSVPath = "./share/st-mq/st-mq.csv"

// CSVRecorder appends rows to a delimited file. The garage column is left
// out when no secondary zone is configured.
type CSVRecorder struct {
	path   string
	garage bool

	mu sync.Mutex
}

func NewCSVRecorder(path string, garage bool) (*CSVRecorder, error) {
	if path == "" {
		path = DefaultCSVPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}
	return &CSVRecorder{path: path, garage: garage}, nil
}

func (c *CSVRecorder) Path() string { return c.path }

func (c *CSVRecorder) Header() []string {
	if c.garage {
		return []string{"unix_time", "price", "heat_on", "temp_in", "temp_ga", "temp_out"}
	}
	return []string{"unix_time", "price", "heat_on", "temp_in", "temp_out"}
}

func (c *CSVRecorder) Record(_ context.Context, row Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return AppendCSV(c.path, c.Header(), c.fields(row))
}

// AppendCSV appends one record to path, writing header first when the file
// is new or empty. Callers serialize access to the same path.
func AppendCSV(path string, header, record []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat csv: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (c *CSVRecorder) Close() error { return nil }

func (c *CSVRecorder) fields(row Row) []string {
	price := "NaN"
	if row.HasPrice() {
		// EUR/MWh to c/kWh
		price = strconv.FormatFloat(row.Price/10, 'f', 3, 64)
	}
	out := []string{
		strconv.FormatInt(row.Time.Unix(), 10),
		price,
		strconv.Itoa(row.Code),
		formatTemp(row.Inside),
	}
	if c.garage {
		out = append(out, formatTemp(row.Garage))
	}
	return append(out, formatTemp(row.Outside))
}

func formatTemp(r temperature.Reading) string {
	if !r.Valid {
		return "NaN"
	}
	return strconv.FormatFloat(r.Value, 'f', 1, 64)
}
