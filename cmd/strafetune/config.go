package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the strafetune daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config.
type Config struct {
	// Engine tuning (AP/RT pairs, write cadence, prediction)
	Tuning TuningConfig `yaml:"tuning"`

	// Optional engine features
	Features FeaturesConfig `yaml:"features"`

	// Per-weapon aggressive profiles, used while telemetry is connected
	Weapons WeaponsConfig `yaml:"weapons"`

	// Game-state telemetry listener
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Keyboard device
	Device DeviceConfig `yaml:"device"`

	// Key-depth input
	Input InputConfig `yaml:"input"`

	// Control loop pacing
	Loop LoopConfig `yaml:"loop"`

	// Websocket status feed
	Status StatusConfig `yaml:"status"`

	// Counter-strafe statistics
	Stats StatsConfig `yaml:"stats"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// TuningConfig holds the base actuation (AP) and rapid-trigger (RT) values in mm.
type TuningConfig struct {
	APNormal         float64 `yaml:"ap_normal"`
	APAggro          float64 `yaml:"ap_aggro"`
	RTNormal         float64 `yaml:"rt_normal"`
	RTAggro          float64 `yaml:"rt_aggro"`
	WriteIntervalMS  int     `yaml:"write_interval_ms"`
	PredictThreshold float64 `yaml:"predict_threshold"`
	PredictMinPeak   float64 `yaml:"predict_min_peak"`
	CrouchRTFactor   float64 `yaml:"crouch_rt_factor"`
	WSAdaptive       bool    `yaml:"ws_adaptive"`
}

type FeaturesConfig struct {
	Velocity   bool `yaml:"velocity"`
	Jiggle     bool `yaml:"jiggle"`
	VelScale   bool `yaml:"vel_scale"`
	PhaseDecay bool `yaml:"phase_decay"`
}

type WeaponProfile struct {
	AP float64 `yaml:"ap"`
	RT float64 `yaml:"rt"`
}

type WeaponsConfig struct {
	Rifle  WeaponProfile `yaml:"rifle"`
	AWP    WeaponProfile `yaml:"awp"`
	Pistol WeaponProfile `yaml:"pistol"`
	SMG    WeaponProfile `yaml:"smg"`
	Knife  WeaponProfile `yaml:"knife"`
	Other  WeaponProfile `yaml:"other"`
}

// Profile returns the aggressive pair for a weapon category.
func (w WeaponsConfig) Profile(c WeaponCategory) WeaponProfile {
	switch c {
	case WeaponRifle:
		return w.Rifle
	case WeaponAWP:
		return w.AWP
	case WeaponPistol:
		return w.Pistol
	case WeaponSMG:
		return w.SMG
	case WeaponKnife:
		return w.Knife
	default:
		return w.Other
	}
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type DeviceConfig struct {
	Profile  int  `yaml:"profile"`  // on-board profile that receives writes (0..3)
	Adaptive bool `yaml:"adaptive"` // write targets to the device (otherwise read-only)
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty"` // evdev paths; empty means auto-detect keyboards
}

type LoopConfig struct {
	PollRateHz int `yaml:"poll_rate_hz"` // 0 = unlimited
}

type StatusConfig struct {
	Listen string `yaml:"listen"` // empty disables the status feed
}

type StatsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MQTTBroker string `yaml:"mqtt_broker,omitempty"`
	MQTTTopic  string `yaml:"mqtt_topic"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults.
func DefaultConfig() Config {
	return Config{
		Tuning: TuningConfig{
			APNormal:         1.2,
			APAggro:          0.4,
			RTNormal:         1.0,
			RTAggro:          0.1,
			WriteIntervalMS:  defaultWriteIntervalMS,
			PredictThreshold: 0.70,
			PredictMinPeak:   0.30,
			CrouchRTFactor:   0.5,
			WSAdaptive:       false,
		},
		Features: FeaturesConfig{
			Velocity:   true,
			Jiggle:     true,
			VelScale:   true,
			PhaseDecay: true,
		},
		Weapons: WeaponsConfig{
			Rifle:  WeaponProfile{AP: 0.4, RT: 0.1},
			AWP:    WeaponProfile{AP: 0.8, RT: 0.4},
			Pistol: WeaponProfile{AP: 0.3, RT: 0.1},
			SMG:    WeaponProfile{AP: 0.5, RT: 0.2},
			Knife:  WeaponProfile{AP: 1.5, RT: 1.0},
			Other:  WeaponProfile{AP: 1.0, RT: 0.5},
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Port:    defaultTelemetryPort,
		},
		Device: DeviceConfig{
			Profile:  0,
			Adaptive: false,
		},
		Loop: LoopConfig{
			PollRateHz: defaultPollRateHz,
		},
		Status: StatusConfig{
			Listen: defaultStatusListen,
		},
		Stats: StatsConfig{
			Enabled:   true,
			MQTTTopic: "strafetune/stats",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config file on top of the defaults.
//
// Problems with the file are never fatal:
//   - a missing file is created with the defaults;
//   - a file that does not parse is logged and the defaults are used;
//   - unknown keys are logged and ignored.
func LoadConfigFile(path string, logger *slog.Logger) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	if logger == nil {
		logger = discardLogger()
	}
	path = ExpandPath(path)

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := SaveConfigFile(path, cfg); err != nil {
			logger.Warn("failed to write default config", "path", path, "error", err)
		} else {
			logger.Info("wrote default config", "path", path)
		}
		return cfg, nil
	}
	if err != nil {
		logger.Warn("failed to read config; using defaults", "path", path, "error", err)
		return DefaultConfig(), nil
	}

	cfg, err := decodeConfig(b, false)
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		// Well-typed fields are already applied; only the listed entries are skipped.
		for _, msg := range typeErr.Errors {
			logger.Warn("ignoring invalid config entry", "path", path, "error", msg)
		}
	} else if err != nil {
		logger.Warn("failed to parse config; using defaults", "path", path, "error", err)
		return DefaultConfig(), nil
	}

	// Second pass only to surface typos. Type errors were reported above.
	if _, err := decodeConfig(b, true); errors.As(err, &typeErr) {
		for _, msg := range typeErr.Errors {
			if strings.Contains(msg, "not found in type") {
				logger.Warn("config contains unknown keys; ignoring them", "path", path, "error", msg)
			}
		}
	}

	return cfg, nil
}

func decodeConfig(b []byte, strict bool) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(strict)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return cfg, err
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// SaveConfigFile writes cfg as YAML, creating parent directories as needed.
func SaveConfigFile(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config yaml: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	header := []byte("# strafetune configuration\n")
	if err := os.WriteFile(path, append(header, b...), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if non-nil.
type FlagOverrides struct {
	Adaptive *bool
	Profile  *int

	PollRateHz    *int
	TelemetryPort *int
	StatusListen  *string
	MQTTBroker    *string
	InputDevice   *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a “zero value”).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Adaptive != nil {
		cfg.Device.Adaptive = *o.Adaptive
	}
	if o.Profile != nil {
		cfg.Device.Profile = *o.Profile
	}
	if o.PollRateHz != nil {
		cfg.Loop.PollRateHz = *o.PollRateHz
	}
	if o.TelemetryPort != nil {
		cfg.Telemetry.Port = *o.TelemetryPort
	}
	if o.StatusListen != nil {
		cfg.Status.Listen = *o.StatusListen
	}
	if o.MQTTBroker != nil {
		cfg.Stats.MQTTBroker = *o.MQTTBroker
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = []string{*o.InputDevice}
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + env + flags are applied.
func (c *Config) Validate() error {
	// Tuning
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"tuning.ap_normal", c.Tuning.APNormal},
		{"tuning.ap_aggro", c.Tuning.APAggro},
		{"tuning.rt_normal", c.Tuning.RTNormal},
		{"tuning.rt_aggro", c.Tuning.RTAggro},
	} {
		if v.val <= 0 || v.val > maxTravelMM {
			return fmt.Errorf("%s must be > 0 and <= %.1f", v.name, maxTravelMM)
		}
	}
	if c.Tuning.WriteIntervalMS < 0 {
		return errors.New("tuning.write_interval_ms must be >= 0")
	}
	if c.Tuning.PredictThreshold <= 0 || c.Tuning.PredictThreshold > 1 {
		return errors.New("tuning.predict_threshold must be > 0 and <= 1")
	}
	if c.Tuning.PredictMinPeak < 0 || c.Tuning.PredictMinPeak > 1 {
		return errors.New("tuning.predict_min_peak must be between 0 and 1")
	}
	if c.Tuning.CrouchRTFactor <= 0 || c.Tuning.CrouchRTFactor > maxCrouchFactor {
		return fmt.Errorf("tuning.crouch_rt_factor must be > 0 and <= %.0f", maxCrouchFactor)
	}

	// Weapons
	for _, w := range []struct {
		name string
		p    WeaponProfile
	}{
		{"rifle", c.Weapons.Rifle},
		{"awp", c.Weapons.AWP},
		{"pistol", c.Weapons.Pistol},
		{"smg", c.Weapons.SMG},
		{"knife", c.Weapons.Knife},
		{"other", c.Weapons.Other},
	} {
		if w.p.AP <= 0 || w.p.AP > maxTravelMM || w.p.RT <= 0 || w.p.RT > maxTravelMM {
			return fmt.Errorf("weapons.%s ap/rt must be > 0 and <= %.1f", w.name, maxTravelMM)
		}
	}

	// Telemetry
	if c.Telemetry.Enabled && (c.Telemetry.Port <= 0 || c.Telemetry.Port > 65535) {
		return errors.New("telemetry.port must be between 1 and 65535")
	}

	// Device
	if c.Device.Profile < 0 || c.Device.Profile >= numProfiles {
		return fmt.Errorf("device.profile must be between 0 and %d", numProfiles-1)
	}

	// Input
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	// Loop
	if c.Loop.PollRateHz < 0 || c.Loop.PollRateHz > maxPollRateHz {
		return fmt.Errorf("loop.poll_rate_hz must be between 0 and %d", maxPollRateHz)
	}

	// Stats
	if c.Stats.MQTTBroker != "" && c.Stats.MQTTTopic == "" {
		return errors.New("stats.mqtt_topic must not be empty when stats.mqtt_broker is set")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

// defaultConfigPath returns ~/.config/strafetune/config.yaml.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "strafetune.yaml"
	}
	return filepath.Join(dir, "strafetune", "config.yaml")
}
