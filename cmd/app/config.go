package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/Agrid-Dev/stmq/internal/easee"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/prices"
	"github.com/Agrid-Dev/stmq/internal/temperature"
	"github.com/Agrid-Dev/stmq/internal/threshold"
)

const (
	EnvPrefix = "STMQ_"
	// HASSOptionsPath is where a Home Assistant add-on finds its options.
	HASSOptionsPath = "./data/options.json"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Timezone    string                 `koanf:"timezone" yaml:"timezone"`
	Log         LogConfig              `koanf:"log" yaml:"log"`
	Geoloc      GeolocConfig           `koanf:"geoloc" yaml:"geoloc"`
	Entsoe      EntsoeConfig           `koanf:"entsoe" yaml:"entsoe"`
	Elering     EleringConfig          `koanf:"elering" yaml:"elering"`
	SmartThings SmartThingsConfig      `koanf:"smartthings" yaml:"smartthings"`
	OWM         OpenWeatherMapConfig   `koanf:"openweathermap" yaml:"openweathermap"`
	OpenMeteo   OpenMeteoConfig        `koanf:"openmeteo" yaml:"openmeteo"`
	TempToHours []threshold.Breakpoint `koanf:"temp_to_hours" yaml:"temp_to_hours"`
	Heating     HeatingConfig          `koanf:"heating" yaml:"heating"`
	Audit       AuditConfig            `koanf:"audit" yaml:"audit"`
	Easee       EaseeConfig            `koanf:"easee" yaml:"easee"`
	HTTPTimeout time.Duration          `koanf:"http_timeout" yaml:"http_timeout"`

	Controllers struct {
		HTTP   HTTPConfig   `koanf:"http" yaml:"http"`
		MQTT   MQTTConfig   `koanf:"mqtt" yaml:"mqtt"`
		MODBUS ModbusConfig `koanf:"modbus" yaml:"modbus"`
	} `koanf:"controllers" yaml:"controllers"`
}

type LogConfig struct {
	Level string `koanf:"level" yaml:"level"` // "debug" | "info" | "warn" | "error"
	Color bool   `koanf:"color" yaml:"color"`
}

type GeolocConfig struct {
	CountryCode string   `koanf:"country_code" yaml:"country_code"`
	PostalCode  string   `koanf:"postal_code" yaml:"postal_code"`
	Lat         *float64 `koanf:"lat" yaml:"lat,omitempty"`
	Lon         *float64 `koanf:"lon" yaml:"lon,omitempty"`
}

type EntsoeConfig struct {
	Token string `koanf:"token" yaml:"token"`
	// Domain overrides the bidding zone derived from the country code.
	Domain string `koanf:"domain" yaml:"domain"`
}

type EleringConfig struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
}

type SmartThingsConfig struct {
	Token            string `koanf:"token" yaml:"token"`
	InsideTempDevID  string `koanf:"inside_temp_dev_id" yaml:"inside_temp_dev_id"`
	GarageTempDevID  string `koanf:"garage_temp_dev_id" yaml:"garage_temp_dev_id"`
	OutsideTempDevID string `koanf:"outside_temp_dev_id" yaml:"outside_temp_dev_id"`
}

type OpenWeatherMapConfig struct {
	Token string `koanf:"token" yaml:"token"`
}

type OpenMeteoConfig struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
}

type HeatingConfig struct {
	Schedule        string        `koanf:"schedule" yaml:"schedule"`
	RunOnStart      bool          `koanf:"run_on_start" yaml:"run_on_start"`
	FixedPriceFloor float64       `koanf:"fixed_price_floor" yaml:"fixed_price_floor"` // EUR/MWh
	MinReassert     time.Duration `koanf:"min_reassert" yaml:"min_reassert"`
	StrongWindow    string        `koanf:"strong_window" yaml:"strong_window"` // "HH:MM-HH:MM", empty = always
	RefreshBelow    time.Duration `koanf:"refresh_below" yaml:"refresh_below"`
}

type AuditConfig struct {
	CSVPath    string `koanf:"csv_path" yaml:"csv_path"`
	SQLitePath string `koanf:"sqlite_path" yaml:"sqlite_path"`
}

// EaseeConfig drives the optional charger current logger. It runs on its
// own schedule and never feeds the heating decision.
type EaseeConfig struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	Username    string `koanf:"username" yaml:"username"`
	Password    string `koanf:"password" yaml:"password"`
	ChargerID   string `koanf:"charger_id" yaml:"charger_id"`
	EqualizerID string `koanf:"equalizer_id" yaml:"equalizer_id"`
	Schedule    string `koanf:"schedule" yaml:"schedule"`
	CSVPath     string `koanf:"csv_path" yaml:"csv_path"`
	TokenFile   string `koanf:"token_file" yaml:"token_file"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

type MQTTConfig struct {
	BrokerURL      string        `koanf:"broker_url" yaml:"broker_url"`
	ClientID       string        `koanf:"client_id" yaml:"client_id"`
	Username       string        `koanf:"username" yaml:"username"`
	Password       string        `koanf:"password" yaml:"password"`
	ActionTopic    string        `koanf:"action_topic" yaml:"action_topic"`
	ReceiptTopic   string        `koanf:"receipt_topic" yaml:"receipt_topic"`
	BaseTopic      string        `koanf:"base_topic" yaml:"base_topic"`
	QoS            byte          `koanf:"qos" yaml:"qos"`
	RetainStatus   bool          `koanf:"retain_status" yaml:"retain_status"`
	PublishTimeout time.Duration `koanf:"publish_timeout" yaml:"publish_timeout"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
	UnitID  byte   `koanf:"unit_id" yaml:"unit_id"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	policy := heating.DefaultPolicy()

	var cfg Config
	cfg.Timezone = "Europe/Berlin"
	cfg.Log = LogConfig{Level: "info", Color: true}
	cfg.Elering.Enabled = true
	cfg.OpenMeteo.Enabled = true
	cfg.Heating = HeatingConfig{
		Schedule:        "*/15 * * * *",
		RunOnStart:      true,
		FixedPriceFloor: policy.FixedPriceFloor,
		MinReassert:     policy.MinReassert,
		StrongWindow:    policy.StrongWindow.String(),
		RefreshBelow:    policy.RefreshBelow,
	}
	cfg.Audit.CSVPath = "./share/st-mq/st-mq.csv"
	cfg.Easee = EaseeConfig{
		Schedule: easee.DefaultSchedule,
		CSVPath:  easee.DefaultCSVPath,
	}
	cfg.HTTPTimeout = 30 * time.Second

	cfg.Controllers.HTTP = HTTPConfig{Enabled: true, Addr: ":8080"}
	cfg.Controllers.MQTT = MQTTConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "stmq",
		ActionTopic:    "from_stmq/heat/action",
		ReceiptTopic:   "to_stmq/heat/receipt",
		BaseTopic:      "stmq",
		QoS:            1,
		RetainStatus:   true,
		PublishTimeout: 10 * time.Second,
	}
	cfg.Controllers.MODBUS = ModbusConfig{Addr: "127.0.0.1:1502", UnitID: 1}
	return cfg
}

// ResolvePath returns path when it was given explicitly. Otherwise the Home
// Assistant options file wins over the default path when it exists.
func ResolvePath(path string, explicit bool) string {
	if explicit {
		return path
	}
	if _, err := os.Stat(HASSOptionsPath); err == nil {
		return HASSOptionsPath
	}
	return path
}

// LoadConfig layers defaults, the config file (if any) and STMQ_ environment
// variables, in that order. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = envKeyTransform(strings.TrimPrefix(key, EnvPrefix))
			if key == "temp_to_hours" {
				var curve []any
				if err := json.Unmarshal([]byte(value), &curve); err == nil {
					return key, curve
				}
			}
			return key, value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Geoloc.CountryCode = strings.ToLower(strings.TrimSpace(cfg.Geoloc.CountryCode))
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var parser koanf.Parser
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		parser = kyaml.Parser()
	case ".json":
		parser = kjson.Parser()
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}

	fk := koanf.New(".")
	if err := fk.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	// Home Assistant wraps the add-on settings in "options".
	if fk.Exists("options") {
		fk = fk.Cut("options")
	}
	for from, to := range legacyKeys {
		if fk.Exists(from) && !fk.Exists(to) {
			if err := fk.Set(to, fk.Get(from)); err != nil {
				return fmt.Errorf("map %s: %w", from, err)
			}
		}
		fk.Delete(from)
	}
	return k.Merge(fk)
}

// legacyKeys maps the add-on option names of earlier releases to the
// current ones. The current key wins when both are present.
var legacyKeys = map[string]string{
	"mqtt.address": "controllers.mqtt.broker_url",
	"mqtt.user":    "controllers.mqtt.username",
	"mqtt.pw":      "controllers.mqtt.password",
	"easee.user":   "easee.username",
	"easee.pw":     "easee.password",
}

// envKeyTransform maps STMQ_ variable names (prefix removed) to config keys:
// CONTROLLERS_MQTT_BROKER_URL becomes controllers.mqtt.broker_url and
// HEATING_MIN_REASSERT becomes heating.min_reassert.
func envKeyTransform(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return ""
	}

	if rest, ok := strings.CutPrefix(k, "controllers_"); ok {
		name, field, ok := strings.Cut(rest, "_")
		if !ok {
			return k
		}
		return "controllers." + name + "." + field
	}

	for _, section := range envSections {
		if rest, ok := strings.CutPrefix(k, section+"_"); ok && rest != "" {
			return section + "." + rest
		}
	}
	return k
}

var envSections = []string{
	"log", "geoloc", "entsoe", "elering", "smartthings",
	"openweathermap", "openmeteo", "heating", "audit", "easee",
}

func (c Config) Validate() error {
	var errs []error
	if c.Geoloc.CountryCode == "" {
		errs = append(errs, errors.New("geoloc.country_code is required"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.Controllers.MQTT.BrokerURL == "" {
		errs = append(errs, errors.New("controllers.mqtt.broker_url is required"))
	}
	if c.Controllers.MQTT.QoS > 1 {
		errs = append(errs, errors.New("controllers.mqtt.qos must be 0 or 1"))
	}
	if c.Controllers.MODBUS.Enabled && c.Controllers.MODBUS.UnitID == 0 {
		errs = append(errs, errors.New("controllers.modbus.unit_id is required"))
	}
	if c.Entsoe.Token != "" && c.EntsoeDomain() == "" {
		errs = append(errs, fmt.Errorf("no ENTSO-E bidding zone for country %q, set entsoe.domain", c.Geoloc.CountryCode))
	}
	if c.EntsoeDomain() == "" && !c.Elering.Enabled {
		errs = append(errs, errors.New("no price provider configured"))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	if c.Easee.Enabled {
		if c.Easee.Username == "" || c.Easee.Password == "" {
			errs = append(errs, errors.New("easee.username and easee.password are required"))
		}
		if c.Easee.ChargerID == "" && c.Easee.EqualizerID == "" {
			errs = append(errs, errors.New("easee needs charger_id or equalizer_id"))
		}
		if c.Easee.Schedule == "" {
			errs = append(errs, errors.New("easee.schedule is required"))
		}
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http_timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Location falls back to UTC for an unknown zone; Validate reports it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) Policy() (heating.Policy, error) {
	w, err := heating.ParseClockWindow(c.Heating.StrongWindow)
	if err != nil {
		return heating.Policy{}, err
	}
	p := heating.Policy{
		FixedPriceFloor: c.Heating.FixedPriceFloor,
		MinReassert:     c.Heating.MinReassert,
		StrongWindow:    w,
		RefreshBelow:    c.Heating.RefreshBelow,
	}
	return p, p.Validate()
}

func (c Config) Curve() threshold.Curve { return threshold.Curve(c.TempToHours) }

// EntsoeDomain is empty when ENTSO-E is not usable.
func (c Config) EntsoeDomain() string {
	if c.Entsoe.Token == "" {
		return ""
	}
	if c.Entsoe.Domain != "" {
		return c.Entsoe.Domain
	}
	return prices.EntsoeDomains[c.Geoloc.CountryCode]
}

func (c Config) Geo() temperature.Geo {
	g := temperature.Geo{PostalCode: c.Geoloc.PostalCode, Country: c.Geoloc.CountryCode}
	if c.Geoloc.Lat != nil && c.Geoloc.Lon != nil {
		g.Lat, g.Lon, g.HasCoords = *c.Geoloc.Lat, *c.Geoloc.Lon, true
	}
	return g
}

// Dump writes the effective configuration as YAML with secrets redacted.
func (c Config) Dump(w io.Writer) error {
	r := c
	redact(&r.Entsoe.Token)
	redact(&r.SmartThings.Token)
	redact(&r.OWM.Token)
	redact(&r.Controllers.MQTT.Password)
	redact(&r.Easee.Password)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
