package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "STRAFETUNE_"

// EnvOverrides are STRAFETUNE_* environment variables. They sit between the
// config file and command-line flags.
type EnvOverrides struct {
	APNormal        *float64 `env:"AP_NORMAL"`
	APAggro         *float64 `env:"AP_AGGRO"`
	RTNormal        *float64 `env:"RT_NORMAL"`
	RTAggro         *float64 `env:"RT_AGGRO"`
	WriteIntervalMS *int     `env:"WRITE_INTERVAL_MS"`
	WSAdaptive      *bool    `env:"WS_ADAPTIVE"`

	TelemetryEnabled *bool `env:"TELEMETRY_ENABLED"`
	TelemetryPort    *int  `env:"TELEMETRY_PORT"`

	Adaptive *bool `env:"ADAPTIVE"`
	Profile  *int  `env:"PROFILE"`

	InputDevices []string `env:"INPUT_DEVICES" envSeparator:","`
	PollRateHz   *int     `env:"POLL_RATE_HZ"`

	StatusListen *string `env:"STATUS_LISTEN"`

	StatsEnabled *bool   `env:"STATS_ENABLED"`
	MQTTBroker   *string `env:"MQTT_BROKER"`
	MQTTTopic    *string `env:"MQTT_TOPIC"`

	LogLevel *string `env:"LOG_LEVEL"`
}

// ParseEnvOverrides reads overrides from the process environment.
func ParseEnvOverrides() (EnvOverrides, error) {
	return parseEnvOverrides(env.Options{Prefix: envPrefix})
}

func parseEnvOverrides(opts env.Options) (EnvOverrides, error) {
	var o EnvOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse environment: %w", err)
	}
	return o, nil
}

// Apply merges the set variables into cfg.
func (o EnvOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	setIfPresent(&cfg.Tuning.APNormal, o.APNormal)
	setIfPresent(&cfg.Tuning.APAggro, o.APAggro)
	setIfPresent(&cfg.Tuning.RTNormal, o.RTNormal)
	setIfPresent(&cfg.Tuning.RTAggro, o.RTAggro)
	setIfPresent(&cfg.Tuning.WriteIntervalMS, o.WriteIntervalMS)
	setIfPresent(&cfg.Tuning.WSAdaptive, o.WSAdaptive)

	setIfPresent(&cfg.Telemetry.Enabled, o.TelemetryEnabled)
	setIfPresent(&cfg.Telemetry.Port, o.TelemetryPort)

	setIfPresent(&cfg.Device.Adaptive, o.Adaptive)
	setIfPresent(&cfg.Device.Profile, o.Profile)

	if len(o.InputDevices) > 0 {
		cfg.Input.Devices = o.InputDevices
	}
	setIfPresent(&cfg.Loop.PollRateHz, o.PollRateHz)

	setIfPresent(&cfg.Status.Listen, o.StatusListen)

	setIfPresent(&cfg.Stats.Enabled, o.StatsEnabled)
	setIfPresent(&cfg.Stats.MQTTBroker, o.MQTTBroker)
	setIfPresent(&cfg.Stats.MQTTTopic, o.MQTTTopic)

	setIfPresent(&cfg.Logging.Level, o.LogLevel)
}

func setIfPresent[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
