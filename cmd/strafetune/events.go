package main

import "time"

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
// It can be a Tick, a device write observation or a snapshot request.
type Event interface {
	eventMarker()
}

// Tick is emitted by the daemon loop once per polling interval. Keys and
// Telemetry are copies taken by the loop just before the tick is reduced.
type Tick struct {
	Now       time.Time
	Keys      KeySample
	Telemetry TelemetrySnapshot
}

func (Tick) eventMarker() {}

// DeviceWriteCompleted is emitted after a target set reached the keyboard.
type DeviceWriteCompleted struct {
	Targets TargetSet
	At      time.Time
}

func (DeviceWriteCompleted) eventMarker() {}

// DeviceWriteFailed is emitted when a target write returned an error.
type DeviceWriteFailed struct {
	Targets TargetSet
	Err     error
	At      time.Time
}

func (DeviceWriteFailed) eventMarker() {}

// RequestStateSnapshot asks the daemon for a coherent StateSnapshot.
// Reply must be buffered; the effects layer never blocks on it.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ==============================
// Broadcasts
// ==============================

// StateBroadcast is a reducer-emitted notification for out-of-loop
// consumers (status feed, stats recorder).
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastAxisTransition reports a state change on one axis.
type BroadcastAxisTransition struct {
	Axis string // "h" or "v"
	From AxisState
	To   AxisState
	At   time.Time
}

func (BroadcastAxisTransition) broadcastMarker() {}

// BroadcastCounterStrafe reports a completed counter-strafe.
type BroadcastCounterStrafe struct {
	Axis      string
	Direction string // key that was countered into: A, D, W or S
	Duration  time.Duration
	Quality   string
	Weapon    string
	At        time.Time
}

func (BroadcastCounterStrafe) broadcastMarker() {}

// BroadcastTargetsWritten reports a successful device write.
type BroadcastTargetsWritten struct {
	Targets TargetSet
	Count   uint64
	At      time.Time
}

func (BroadcastTargetsWritten) broadcastMarker() {}

// BroadcastStatus carries the periodic status snapshot.
type BroadcastStatus struct {
	Snapshot StateSnapshot
}

func (BroadcastStatus) broadcastMarker() {}
