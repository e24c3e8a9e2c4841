package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/stmq/cmd/app"
	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/audit"
	httpctrl "github.com/Agrid-Dev/stmq/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/stmq/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/stmq/internal/controllers/mqtt"
	"github.com/Agrid-Dev/stmq/internal/easee"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/ports"
	"github.com/Agrid-Dev/stmq/internal/prices"
	"github.com/Agrid-Dev/stmq/internal/scheduler"
	"github.com/Agrid-Dev/stmq/internal/temperature"
)

func main() {
	var (
		configPath  string
		printConfig bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective config and exit")
	flag.Parse()

	// Secrets may live in .env next to the binary.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := app.LoadConfig(app.ResolvePath(configPath, flagPassed("config")))
	if err != nil {
		log.Fatal(err)
	}
	if printConfig {
		if err := cfg.Dump(os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	level, err := applog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	logger := applog.New(os.Stderr, level, cfg.Log.Color)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("exited: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg app.Config, logger *applog.Logger) error {
	loc := cfg.Location()
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	priceSource := prices.NewSource(logger, priceProviders(cfg, logger)...)
	temps := temperatureSource(cfg, logger)

	recorder, history, err := recorders(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			logger.Warnf("close audit: %v", err)
		}
	}()

	mqttCfg := cfg.Controllers.MQTT
	mq, err := mqttctrl.New(mqttctrl.Config{
		BrokerURL:      mqttCfg.BrokerURL,
		ClientID:       mqttCfg.ClientID,
		Username:       mqttCfg.Username,
		Password:       mqttCfg.Password,
		ActionTopic:    mqttCfg.ActionTopic,
		ReceiptTopic:   mqttCfg.ReceiptTopic,
		BaseTopic:      mqttCfg.BaseTopic,
		QoS:            mqttCfg.QoS,
		RetainStatus:   mqttCfg.RetainStatus,
		PublishTimeout: mqttCfg.PublishTimeout,
	}, logger)
	if err != nil {
		return err
	}

	engine, err := heating.New(heating.Config{
		Prices:       priceSource,
		Temperatures: temps,
		Actuator:     mq,
		Recorder:     recorder,
		Curve:        cfg.Curve(),
		Policy:       policy,
		Location:     loc,
		Log:          logger,
	}, mq)
	if err != nil {
		return err
	}
	mq.Attach(engine)

	sched, err := scheduler.New(scheduler.Config{
		Spec:       cfg.Heating.Schedule,
		Location:   loc,
		RunOnStart: cfg.Heating.RunOnStart,
	}, func(ctx context.Context) error {
		_, err := engine.Adjust(ctx)
		return err
	}, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mq.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	if cfg.Controllers.HTTP.Enabled {
		srv := httpctrl.New(engine, history, cfg.Controllers.HTTP.Addr, logger)
		g.Go(func() error { return srv.Run(ctx) })
	}
	if cfg.Controllers.MODBUS.Enabled {
		mb, err := modbusctrl.New(engine, modbusctrl.Config{
			Addr:   cfg.Controllers.MODBUS.Addr,
			UnitID: cfg.Controllers.MODBUS.UnitID,
		}, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return mb.Run(ctx) })
	}

	if cfg.Easee.Enabled {
		poll, err := easeeScheduler(cfg, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return poll.Run(ctx) })
	}

	logger.Infof("stmq running in %s, country %s", loc, cfg.Geoloc.CountryCode)
	return g.Wait()
}

func flagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// easeeScheduler polls the charger on its own cron job, independent of the
// heating cycle.
func easeeScheduler(cfg app.Config, logger *applog.Logger) (*scheduler.Scheduler, error) {
	ec := cfg.Easee
	client, err := easee.NewClient(ec.Username, ec.Password, ec.TokenFile, cfg.HTTPTimeout, logger)
	if err != nil {
		return nil, err
	}
	poller, err := easee.NewPoller(client, ec.ChargerID, ec.EqualizerID, ec.CSVPath, logger)
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Config{
		Spec:       ec.Schedule,
		Location:   cfg.Location(),
		RunOnStart: true,
	}, poller.Poll, logger.With("easee"))
}

func priceProviders(cfg app.Config, logger *applog.Logger) []prices.Provider {
	var out []prices.Provider
	if domain := cfg.EntsoeDomain(); domain != "" {
		out = append(out, prices.NewEntsoeProvider(cfg.Entsoe.Token, domain, cfg.HTTPTimeout))
	}
	if cfg.Elering.Enabled {
		out = append(out, prices.NewEleringProvider(cfg.Geoloc.CountryCode, cfg.Location(), cfg.HTTPTimeout, logger))
	}
	return out
}

func temperatureSource(cfg app.Config, logger *applog.Logger) *temperature.Source {
	st := cfg.SmartThings
	sensor := func(id string) temperature.Reader {
		if st.Token == "" || id == "" {
			return nil
		}
		return temperature.NewSmartThingsReader(st.Token, id, cfg.HTTPTimeout)
	}

	outside := []temperature.Reader{sensor(st.OutsideTempDevID)}
	geo := cfg.Geo()
	if cfg.OWM.Token != "" && (geo.HasCoords || geo.PostalCode != "") {
		outside = append(outside, temperature.NewOpenWeatherMapReader(cfg.OWM.Token, geo, cfg.HTTPTimeout))
	}
	if cfg.OpenMeteo.Enabled && geo.HasCoords {
		outside = append(outside, temperature.NewOpenMeteoReader(geo, cfg.HTTPTimeout))
	}
	return temperature.NewSource(logger, sensor(st.InsideTempDevID), sensor(st.GarageTempDevID), outside...)
}

func recorders(cfg app.Config, logger *applog.Logger) (audit.Recorder, ports.History, error) {
	var (
		multi   audit.Multi
		history ports.History
	)
	if cfg.Audit.CSVPath != "" {
		csv, err := audit.NewCSVRecorder(cfg.Audit.CSVPath, cfg.SmartThings.GarageTempDevID != "")
		if err != nil {
			return nil, nil, err
		}
		multi = append(multi, csv)
	}
	if cfg.Audit.SQLitePath != "" {
		db, err := audit.NewSQLiteRecorder(cfg.Audit.SQLitePath, logger)
		if err != nil {
			_ = multi.Close()
			return nil, nil, err
		}
		multi = append(multi, db)
		history = db
	}
	return multi, history, nil
}
