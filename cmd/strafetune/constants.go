package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_LEFTCTRL = 29
	KEY_W        = 17
	KEY_A        = 30
	KEY_S        = 31
	KEY_D        = 32
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Key register indices. Order matches the device write order.
const (
	keyW = 0
	keyA = 1
	keyS = 2
	keyD = 3

	numKeys = 4
)

// Movement classification
const (
	deadZone = 0.01 // normalized depth below which a key counts as released

	jiggleWindow   = 300 * time.Millisecond // max age of a counter entry that still counts as recent
	jiggleMinCount = 2                      // recent counter entries needed to arm jiggle
	jigglePrearm   = 300 * time.Millisecond // how long jiggle stays armed after the last arm
)

// Movement physics (64-tick ground movement model)
const (
	svFriction   = 5.2
	svAccelerate = 5.5
	svStopSpeed  = 80.0

	defaultMaxSpeed  = 225.0 // units/s when the held weapon is unknown
	accuracyFraction = 0.34  // fraction of max speed below which shots are accurate
	velocitySnap     = 0.5   // |v| below this snaps to zero
	maxVelocityDt    = 100 * time.Millisecond
	velocityInterval = time.Millisecond // velocity integration cadence (~1 kHz)

	tickSeconds     = 1.0 / 64.0
	tickDecayFactor = 0.91875 // 1 - svFriction*tickSeconds
	tickStopDrop    = 6.5     // svStopSpeed*svFriction*tickSeconds
	maxPredictTicks = 100
)

// Target synthesis
const (
	minSafeAP = 0.15 // mm; lower actuation ghost-triggers from stem wobble

	phaseUltra = 80 * time.Millisecond  // counter phase held at minSafeAP
	phaseDecay = 200 * time.Millisecond // end of linear relax back to base

	velAggroZone    = 0.50 // velocity ratio where AP scaling starts
	velMinAPFactor  = 0.5  // AP multiplier at full velocity ratio
	crouchAPRelaxed = 0.3  // fraction of the way back to ap_normal while crouched
	maxCrouchFactor = 10.0
)

// Loop defaults
const (
	defaultPollRateHz      = 8000
	maxPollRateHz          = 1_000_000
	defaultWriteIntervalMS = 50
	defaultTelemetryPort   = 58732
	defaultStatusListen    = "127.0.0.1:58733"
	statusInterval         = 500 * time.Millisecond

	telemetryBodyLimit   = 8192
	telemetryReadTimeout = 2 * time.Second
	shutdownWait         = 3 * time.Second
)
