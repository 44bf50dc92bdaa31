package main

import "time"

// AxisState classifies one movement axis.
type AxisState int

const (
	AxisIdle AxisState = iota
	AxisStrafePos
	AxisStrafeNeg
	AxisCounterPos
	AxisCounterNeg
)

var axisStateLabels = [...]string{"I", "S+", "S-", "C+", "C-"}

func (s AxisState) String() string {
	if s < 0 || int(s) >= len(axisStateLabels) {
		return "?"
	}
	return axisStateLabels[s]
}

// IsCounter reports whether s is one of the counter-movement states.
func (s AxisState) IsCounter() bool {
	return s == AxisCounterPos || s == AxisCounterNeg
}

// AxisTrack is the movement classifier for a single axis (A/D or S/W).
//
// The positive channel is D (horizontal) or W (vertical); the negative channel
// is A or S.
type AxisTrack struct {
	State AxisState
	Prev  AxisState

	PosPeak    float64
	NegPeak    float64
	Predictive bool

	CounterStart   time.Time
	CounterElapsed time.Duration

	CounterCount uint64
	CounterTotal time.Duration

	jiggleTimes [4]time.Time
	jiggleIdx   int
	IsJiggle    bool
	jiggleLast  time.Time
}

// Transitioned reports whether the last Update changed the state.
func (a *AxisTrack) Transitioned() bool {
	return a.State != a.Prev
}

// CounterCompleted reports whether the last Update left a counter state.
func (a *AxisTrack) CounterCompleted() bool {
	return a.State != a.Prev && a.Prev.IsCounter()
}

// Update classifies one sample pair. prevPos/prevNeg are the samples from the
// previous call and are only used for rising-edge detection.
//
// This is intended to be called only by the daemon goroutine (single-owner).
func (a *AxisTrack) Update(pos, neg, prevPos, prevNeg float64, now time.Time, cfg TuningConfig) {
	a.Prev = a.State
	a.Predictive = false

	pp := pos > deadZone
	np := neg > deadZone
	posRise := pp && prevPos <= deadZone
	negRise := np && prevNeg <= deadZone

	switch a.State {
	case AxisIdle:
		if pp && !np {
			a.State = AxisStrafePos
			a.PosPeak = pos
			a.NegPeak = 0
		}
		if np && !pp {
			a.State = AxisStrafeNeg
			a.NegPeak = neg
			a.PosPeak = 0
		}

	case AxisStrafePos:
		if !pp && !np {
			a.State = AxisIdle
			break
		}
		if pos > a.PosPeak {
			a.PosPeak = pos
		}
		if a.PosPeak > cfg.PredictMinPeak && pos < a.PosPeak*cfg.PredictThreshold {
			a.Predictive = true
		}
		if negRise {
			a.enterCounter(AxisCounterNeg, now)
		}

	case AxisStrafeNeg:
		if !pp && !np {
			a.State = AxisIdle
			break
		}
		if neg > a.NegPeak {
			a.NegPeak = neg
		}
		if a.NegPeak > cfg.PredictMinPeak && neg < a.NegPeak*cfg.PredictThreshold {
			a.Predictive = true
		}
		if posRise {
			a.enterCounter(AxisCounterPos, now)
		}

	case AxisCounterPos, AxisCounterNeg:
		a.CounterElapsed = now.Sub(a.CounterStart)
		switch {
		case !pp && !np:
			a.State = AxisIdle
		case pp && !np:
			a.State = AxisStrafePos
			a.PosPeak = pos
		case np && !pp:
			a.State = AxisStrafeNeg
			a.NegPeak = neg
		}
	}

	if a.CounterCompleted() {
		a.CounterCount++
		a.CounterTotal += a.CounterElapsed
	}

	if a.State != a.Prev && a.State.IsCounter() {
		a.recordCounterEntry(now)
	}

	if a.IsJiggle && now.Sub(a.jiggleLast) > jigglePrearm {
		a.IsJiggle = false
	}
}

func (a *AxisTrack) enterCounter(s AxisState, now time.Time) {
	a.State = s
	a.CounterStart = now
	a.CounterElapsed = 0
}

// recordCounterEntry pushes now into the jiggle ring and arms jiggle when
// enough entries are recent.
func (a *AxisTrack) recordCounterEntry(now time.Time) {
	a.jiggleTimes[a.jiggleIdx&3] = now
	a.jiggleIdx = (a.jiggleIdx + 1) & 0x7FFFFFFF

	recent := 0
	for _, ts := range a.jiggleTimes {
		if ts.IsZero() {
			continue
		}
		if now.Sub(ts) < jiggleWindow {
			recent++
		}
	}
	if recent >= jiggleMinCount {
		a.IsJiggle = true
		a.jiggleLast = now
	}
}

// AverageCounter returns the mean counter-phase duration so far.
func (a *AxisTrack) AverageCounter() time.Duration {
	if a.CounterCount == 0 {
		return 0
	}
	return a.CounterTotal / time.Duration(a.CounterCount)
}
