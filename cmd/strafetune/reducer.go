package main

import "time"

// ==============================
// Reducer input/output
// ==============================

// ReduceResult is the output of Reduce(): next state plus a set of Commands
// to execute and Broadcasts for out-of-loop consumers.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce is the pure reducer:
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
//
// The daemon loop must:
// - execute Commands
// - translate write results into Events
// - feed those Events back into Reduce()
func Reduce(s *DaemonState, e Event, cfg *Config) ReduceResult {
	if s == nil {
		s = NewDaemonState(cfg, time.Now(), false)
	}

	var cmds []Command
	var bcasts []StateBroadcast

	switch ev := e.(type) {
	case Tick:
		bcasts = reduceTick(s, ev, cfg)

		// Rate-limited write: a change that arrives before the interval elapses
		// stays pending and the next eligible tick writes whatever is latest.
		interval := time.Duration(cfg.Tuning.WriteIntervalMS) * time.Millisecond
		if s.NeedsWrite && s.Adaptive && ev.Now.Sub(s.LastWrite) >= interval {
			cmds = append(cmds, CmdWriteTargets{Profile: cfg.Device.Profile, Targets: s.Desired})
			s.NeedsWrite = false
			s.LastWrite = ev.Now
		}

		if ev.Now.Sub(s.lastStatus) >= statusInterval {
			s.lastStatus = ev.Now
			bcasts = append(bcasts, BroadcastStatus{Snapshot: s.Snapshot(ev.Now)})
		}

	case DeviceWriteCompleted:
		s.Applied = ev.Targets
		s.WriteCount++
		bcasts = append(bcasts, BroadcastTargetsWritten{
			Targets: ev.Targets,
			Count:   s.WriteCount,
			At:      ev.At,
		})

	case DeviceWriteFailed:
		// The device may hold a half-applied set; retry on the next eligible tick.
		s.WriteErrors++
		s.NeedsWrite = true

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{
			Reply:    ev.Reply,
			Snapshot: s.Snapshot(time.Now()),
		})
	}

	return ReduceResult{State: s, Commands: cmds, Broadcasts: bcasts}
}

// reduceTick runs one engine frame: classification, velocity, synthesis.
func reduceTick(s *DaemonState, ev Tick, cfg *Config) []StateBroadcast {
	var out []StateBroadcast

	s.Frames++
	s.PrevKeys = s.Keys
	s.Keys = ev.Keys.clamped()
	s.Telemetry = ev.Telemetry

	k, p := s.Keys, s.PrevKeys
	s.H.Update(k.D, k.A, p.D, p.A, ev.Now, cfg.Tuning)
	s.V.Update(k.W, k.S, p.W, p.S, ev.Now, cfg.Tuning)

	if cfg.Features.Velocity && ev.Now.Sub(s.lastVelUpdate) >= velocityInterval {
		s.lastVelUpdate = ev.Now
		maxSpeed := effectiveMaxSpeed(s.Telemetry.MaxSpeed)
		s.VelH.update(k.D > deadZone, k.A > deadZone, maxSpeed, ev.Now)
		s.VelV.update(k.W > deadZone, k.S > deadZone, maxSpeed, ev.Now)

		countering := s.H.State.IsCounter() || s.V.State.IsCounter()
		s.TimeToAccurate = timeToAccurate(combinedSpeed(s.VelH.Velocity, s.VelV.Velocity), maxSpeed, countering)
	}

	out = appendAxisBroadcasts(out, "h", &s.H, "D", "A", s.Telemetry, ev.Now)
	out = appendAxisBroadcasts(out, "v", &s.V, "W", "S", s.Telemetry, ev.Now)

	next := synthesizeTargets(SynthInput{
		H:         s.H,
		V:         s.V,
		VelH:      s.VelH.Velocity,
		VelV:      s.VelV.Velocity,
		Crouch:    k.Ctrl,
		Telemetry: s.Telemetry,
	}, cfg)
	if next != s.Desired {
		s.Desired = next
		s.NeedsWrite = true
	}

	return out
}

func appendAxisBroadcasts(out []StateBroadcast, axis string, a *AxisTrack, posKey, negKey string, tel TelemetrySnapshot, now time.Time) []StateBroadcast {
	if !a.Transitioned() {
		return out
	}
	out = append(out, BroadcastAxisTransition{Axis: axis, From: a.Prev, To: a.State, At: now})

	if a.CounterCompleted() {
		dir := negKey
		if a.Prev == AxisCounterPos {
			dir = posKey
		}
		out = append(out, BroadcastCounterStrafe{
			Axis:      axis,
			Direction: dir,
			Duration:  a.CounterElapsed,
			Quality:   counterQuality(a.CounterElapsed),
			Weapon:    tel.WeaponName,
			At:        now,
		})
	}
	return out
}
