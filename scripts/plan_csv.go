package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/Agrid-Dev/stmq/cmd/app"
	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/prices"
	"github.com/Agrid-Dev/stmq/internal/temperature"
	"github.com/Agrid-Dev/stmq/internal/threshold"
)

// PlanSchedule fetches the current price window and writes, per remaining
// period, whether heating would be allowed at the given outside temperature.
func PlanSchedule(ctx context.Context, cfg app.Config, outside float64, filename string) error {
	logger := applog.New(os.Stderr, applog.LevelInfo, false)
	loc := cfg.Location()

	var providers []prices.Provider
	if domain := cfg.EntsoeDomain(); domain != "" {
		providers = append(providers, prices.NewEntsoeProvider(cfg.Entsoe.Token, domain, cfg.HTTPTimeout))
	}
	if cfg.Elering.Enabled {
		providers = append(providers, prices.NewEleringProvider(cfg.Geoloc.CountryCode, loc, cfg.HTTPTimeout, logger))
	}

	now := time.Now()
	start, end := prices.Window(now, loc)
	series, err := prices.NewSource(logger, providers...).Fetch(ctx, start, end)
	if err != nil {
		return fmt.Errorf("failed to fetch prices: %v", err)
	}

	reading := temperature.Celsius(outside)
	if math.IsNaN(outside) {
		reading = temperature.Reading{}
	}
	res := threshold.Calculator{Curve: cfg.Curve()}.Compute(reading, series.SliceFrom(now))
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"start", "end", "price", "threshold", "heat_on"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}
	for _, p := range series.PeriodsFrom(now) {
		heatOn := 0
		if heating.HeatOn(p.Price, res.Threshold, policy.FixedPriceFloor) {
			heatOn = 1
		}
		if err := writer.Write([]string{
			p.Start.In(loc).Format(time.RFC3339),
			p.End.In(loc).Format(time.RFC3339),
			fmt.Sprintf("%.3f", p.Price/10),
			fmt.Sprintf("%.3f", res.Threshold/10),
			fmt.Sprintf("%d", heatOn),
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %v", err)
		}
	}

	logger.Infof("hours=%.2f target=%d/%d threshold=%.2f -> %s",
		res.Hours, res.Target, res.Periods, res.Threshold, filename)
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	outside := flag.Float64("outside", math.NaN(), "outside temperature in Celsius (unset means unknown)")
	out := flag.String("out", "plan.csv", "output file")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) { explicit = explicit || f.Name == "config" })
	cfg, err := app.LoadConfig(app.ResolvePath(*configPath, explicit))
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if err := PlanSchedule(context.Background(), cfg, *outside, *out); err != nil {
		log.Fatal(err)
	}
}
