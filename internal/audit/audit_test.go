package audit

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/temperature"
)

func sampleRow(ts int64) Row {
	return Row{
		CycleID:   "c-1",
		Time:      time.Unix(ts, 0).UTC(),
		Price:     123.456,
		Threshold: 98.7,
		Hours:     11,
		Action:    "heaton60",
		Code:      60,
		Inside:    temperature.Celsius(21.04),
		Garage:    temperature.Celsius(8.96),
		Outside:   temperature.Celsius(-3.25),
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func TestCSVRecorder_CreatesWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "st-mq.csv")
	rec, err := NewCSVRecorder(path, true)
	require.NoError(t, err)

	require.NoError(t, rec.Record(context.Background(), sampleRow(1736500000)))

	unknown := sampleRow(1736500900)
	unknown.Price = math.NaN()
	unknown.Code = 0
	unknown.Garage = temperature.Reading{}
	require.NoError(t, rec.Record(context.Background(), unknown))

	assert.Equal(t, []string{
		"unix_time,price,heat_on,temp_in,temp_ga,temp_out",
		"1736500000,12.346,60,21.0,9.0,-3.2",
		"1736500900,NaN,0,21.0,NaN,-3.2",
	}, readLines(t, path))
}

func TestCSVRecorder_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "st-mq.csv")
	require.NoError(t, os.WriteFile(path, []byte("unix_time,price,heat_on,temp_in,temp_out\n1,1.000,15,NaN,NaN\n"), 0o644))

	rec, err := NewCSVRecorder(path, false)
	require.NoError(t, err)
	require.NoError(t, rec.Record(context.Background(), sampleRow(2)))

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "2,12.346,60,21.0,-3.2", lines[2])
}

func TestCSVRecorder_EmptyFileGetsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "st-mq.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	rec, err := NewCSVRecorder(path, false)
	require.NoError(t, err)
	require.NoError(t, rec.Record(context.Background(), sampleRow(3)))
	assert.Equal(t, "unix_time,price,heat_on,temp_in,temp_out", readLines(t, path)[0])
}

func TestSQLiteRecorder_RecentNewestFirst(t *testing.T) {
	rec, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "audit.db"), applog.Discard())
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()
	first := sampleRow(100)
	second := sampleRow(200)
	second.CycleID = "c-2"
	second.Price = math.NaN()
	second.Threshold = math.Inf(1)
	second.Outside = temperature.Reading{}
	require.NoError(t, rec.Record(ctx, first))
	require.NoError(t, rec.Record(ctx, second))

	rows, err := rec.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "c-2", rows[0].CycleID)
	assert.False(t, rows[0].HasPrice())
	assert.True(t, math.IsInf(rows[0].Threshold, 1))
	assert.False(t, rows[0].Outside.Valid)

	assert.Equal(t, first, rows[1])

	rows, err = rec.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLiteRecorder_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	rec, err := NewSQLiteRecorder(path, applog.Discard())
	require.NoError(t, err)
	require.NoError(t, rec.Record(context.Background(), sampleRow(100)))
	require.NoError(t, rec.Close())

	rec, err = NewSQLiteRecorder(path, applog.Discard())
	require.NoError(t, err)
	defer rec.Close()
	rows, err := rec.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, Row) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingRecorder) Close() error { return nil }

func TestMulti_WritesAllAndJoinsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "st-mq.csv")
	csvRec, err := NewCSVRecorder(path, false)
	require.NoError(t, err)
	bad := &failingRecorder{}

	m := Multi{bad, csvRec, Noop{}}
	err = m.Record(context.Background(), sampleRow(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, bad.calls)
	assert.Len(t, readLines(t, path), 2)
	assert.NoError(t, m.Close())
}
