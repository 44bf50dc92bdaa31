package main

import (
	"math"
	"time"
)

// velocityEstimator reconstructs a 1-D ground speed from boolean key state.
//
// It follows the 64-tick movement model: friction first, then acceleration
// toward the wish direction, then clamping.
type velocityEstimator struct {
	Velocity float64 // signed units/s, positive toward the positive key
	MaxSpeed float64 // max speed used by the last step

	lastUpdate time.Time
}

// update advances the estimator to now.
//
// This is intended to be called only by the daemon goroutine (single-owner).
func (v *velocityEstimator) update(posPressed, negPressed bool, maxSpeed float64, now time.Time) {
	var dt float64
	if !v.lastUpdate.IsZero() {
		dt = now.Sub(v.lastUpdate).Seconds()
	}
	v.lastUpdate = now
	v.step(posPressed, negPressed, maxSpeed, dt)
}

// step integrates one interval of dt seconds. A non-positive or stale dt only
// records the max speed.
func (v *velocityEstimator) step(posPressed, negPressed bool, maxSpeed, dt float64) {
	v.MaxSpeed = maxSpeed
	if dt <= 0 || dt > maxVelocityDt.Seconds() {
		return
	}

	// Friction
	speed := math.Abs(v.Velocity)
	if speed > 0.001 {
		control := math.Max(speed, svStopSpeed)
		drop := control * svFriction * dt
		newSpeed := math.Max(0, speed-drop)
		v.Velocity *= newSpeed / speed
	}

	// Acceleration
	wish := 0.0
	switch {
	case posPressed && !negPressed:
		wish = 1
	case negPressed && !posPressed:
		wish = -1
	}
	if wish != 0 {
		add := maxSpeed - v.Velocity*wish
		if add > 0 {
			accel := math.Min(svAccelerate*dt*maxSpeed, add)
			v.Velocity += accel * wish
		}
	}

	if v.Velocity > maxSpeed {
		v.Velocity = maxSpeed
	}
	if v.Velocity < -maxSpeed {
		v.Velocity = -maxSpeed
	}
	if math.Abs(v.Velocity) < velocitySnap {
		v.Velocity = 0
	}
}

// combinedSpeed is the magnitude of the horizontal and vertical estimates.
func combinedSpeed(h, v float64) float64 {
	return math.Sqrt(h*h + v*v)
}

// timeToAccurate predicts how long it takes for totalSpeed to drop below the
// accuracy threshold. countering adds the opposing-key acceleration per tick.
func timeToAccurate(totalSpeed, maxSpeed float64, countering bool) time.Duration {
	threshold := maxSpeed * accuracyFraction
	if totalSpeed <= threshold {
		return 0
	}

	v := totalSpeed
	ticks := 0
	for v > threshold && ticks < maxPredictTicks {
		if v >= svStopSpeed {
			v *= tickDecayFactor
		} else {
			v -= tickStopDrop
		}
		if countering {
			v -= svAccelerate / 64.0 * maxSpeed
		}
		if v < 0 {
			v = 0
		}
		ticks++
	}
	return time.Duration(float64(ticks) * tickSeconds * float64(time.Second))
}

// effectiveMaxSpeed returns the held weapon's speed, or the default when unknown.
func effectiveMaxSpeed(weaponSpeed float64) float64 {
	if weaponSpeed > 0 {
		return weaponSpeed
	}
	return defaultMaxSpeed
}
