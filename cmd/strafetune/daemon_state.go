package main

import "time"

// DaemonState is the top-level, daemon-owned state container.
//
// Everything the engine mutates per tick lives here so the reducer can stay
// free of I/O. Other goroutines only ever see a StateSnapshot copy.
type DaemonState struct {
	Start time.Time

	// Key samples from this tick and the previous one (edge detection).
	Keys     KeySample
	PrevKeys KeySample

	H, V AxisTrack

	VelH, VelV     velocityEstimator
	lastVelUpdate  time.Time
	TimeToAccurate time.Duration

	// Telemetry is the copy taken for the current tick.
	Telemetry TelemetrySnapshot

	// Desired is what the synthesizer wants; Applied is what the keyboard
	// last acknowledged.
	Desired    TargetSet
	Applied    TargetSet
	NeedsWrite bool
	LastWrite  time.Time

	WriteCount  uint64
	WriteErrors uint64
	Frames      uint64

	lastStatus time.Time

	// Adaptive is true when a device is open and writes are allowed.
	Adaptive bool
}

// NewDaemonState returns the initial state. Both target buffers start at the
// normal pair so nothing is written until the engine asks for something else.
func NewDaemonState(cfg *Config, now time.Time, adaptive bool) *DaemonState {
	normal := uniformTargets(cfg.Tuning.APNormal, cfg.Tuning.RTNormal)
	return &DaemonState{
		Start:     now,
		Desired:   normal,
		Applied:   normal,
		LastWrite: now,
		Telemetry: TelemetrySnapshot{Category: WeaponOther, Health: -1},
		Adaptive:  adaptive,
	}
}

// StateSnapshot is a coherent, JSON-friendly copy of the engine state.
type StateSnapshot struct {
	Mode   string    `json:"mode"` // "adaptive" or "read-only"
	Uptime float64   `json:"uptime_s"`
	At     time.Time `json:"at"`

	H AxisView `json:"h"`
	V AxisView `json:"v"`

	VelH             float64 `json:"vel_h"`
	VelV             float64 `json:"vel_v"`
	Speed            float64 `json:"speed"`
	TimeToAccurateMS float64 `json:"time_to_accurate_ms"`

	Telemetry TelemetrySnapshot `json:"telemetry"`

	Desired TargetSet `json:"desired"`
	Applied TargetSet `json:"applied"`

	WriteCount  uint64 `json:"write_count"`
	WriteErrors uint64 `json:"write_errors"`
	Frames      uint64 `json:"frames"`
}

// AxisView is the externally visible part of an AxisTrack.
type AxisView struct {
	State        string  `json:"state"`
	Predictive   bool    `json:"predictive"`
	Jiggle       bool    `json:"jiggle"`
	CounterCount uint64  `json:"counter_count"`
	AvgCounterMS float64 `json:"avg_counter_ms"`
}

func axisView(a *AxisTrack) AxisView {
	return AxisView{
		State:        a.State.String(),
		Predictive:   a.Predictive,
		Jiggle:       a.IsJiggle,
		CounterCount: a.CounterCount,
		AvgCounterMS: durationMS(a.AverageCounter()),
	}
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Snapshot copies the state at instant now.
//
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) Snapshot(now time.Time) StateSnapshot {
	mode := "read-only"
	if s.Adaptive {
		mode = "adaptive"
	}
	return StateSnapshot{
		Mode:             mode,
		Uptime:           now.Sub(s.Start).Seconds(),
		At:               now,
		H:                axisView(&s.H),
		V:                axisView(&s.V),
		VelH:             s.VelH.Velocity,
		VelV:             s.VelV.Velocity,
		Speed:            combinedSpeed(s.VelH.Velocity, s.VelV.Velocity),
		TimeToAccurateMS: durationMS(s.TimeToAccurate),
		Telemetry:        s.Telemetry,
		Desired:          s.Desired,
		Applied:          s.Applied,
		WriteCount:       s.WriteCount,
		WriteErrors:      s.WriteErrors,
		Frames:           s.Frames,
	}
}
