package main

// KeyTarget is the desired actuation point and rapid-trigger sensitivity
// for one key, both in mm.
type KeyTarget struct {
	AP float64 `json:"ap"`
	RT float64 `json:"rt"`
}

// TargetSet holds one KeyTarget per key, indexed keyW, keyA, keyS, keyD.
type TargetSet [numKeys]KeyTarget

// uniformTargets returns a set with the same pair on every key.
func uniformTargets(ap, rt float64) TargetSet {
	var t TargetSet
	for i := range t {
		t[i] = KeyTarget{AP: ap, RT: rt}
	}
	return t
}

// SynthInput is everything the synthesizer looks at for one tick.
type SynthInput struct {
	H, V       AxisTrack
	VelH, VelV float64
	Crouch     float64 // LCtrl depth
	Telemetry  TelemetrySnapshot
}

// synthesizeTargets computes per-key targets. It is a pure function of its
// inputs and the config.
func synthesizeTargets(in SynthInput, cfg *Config) TargetSet {
	t := cfg.Tuning
	out := uniformTargets(t.APNormal, t.RTNormal)

	tel := in.Telemetry
	freezetime := tel.Connected && (tel.RoundPhase == "freezetime" || tel.RoundPhase == "over")
	nonCombat := tel.Connected && tel.Category == WeaponOther
	if freezetime || nonCombat {
		return out
	}

	baseAP, baseRT := t.APAggro, t.RTAggro
	if tel.Connected {
		p := cfg.Weapons.Profile(tel.Category)
		baseAP, baseRT = p.AP, p.RT
	}

	velAP := baseAP
	if cfg.Features.VelScale && cfg.Features.Velocity {
		threshold := effectiveMaxSpeed(tel.MaxSpeed) * accuracyFraction
		ratio := 0.0
		if threshold > 0 {
			ratio = combinedSpeed(in.VelH, in.VelV) / threshold
		}
		if ratio > 1 {
			ratio = 1
		}
		velAP = velScaleAP(baseAP, ratio)
	}

	ax := axisRules{
		baseRT:     baseRT,
		velAP:      velAP,
		jiggle:     cfg.Features.Jiggle,
		phaseDecay: cfg.Features.PhaseDecay,
	}
	ax.apply(&out, &in.H, keyD, keyA)
	if t.WSAdaptive {
		ax.apply(&out, &in.V, keyW, keyS)
	}

	if in.Crouch > deadZone {
		for i := range out {
			rt := out[i].RT * t.CrouchRTFactor
			if rt < baseRT {
				rt = baseRT
			}
			out[i].RT = rt
			if out[i].AP < t.APNormal {
				out[i].AP += (t.APNormal - out[i].AP) * crouchAPRelaxed
			}
		}
	}

	return out
}

type axisRules struct {
	baseRT     float64
	velAP      float64
	jiggle     bool
	phaseDecay bool
}

// apply writes the rules for one axis. pos and neg are key indices.
func (r axisRules) apply(out *TargetSet, a *AxisTrack, pos, neg int) {
	armed := r.jiggle && a.IsJiggle

	switch a.State {
	case AxisIdle:
		if armed {
			out[neg] = KeyTarget{AP: r.velAP, RT: r.baseRT}
			out[pos] = KeyTarget{AP: r.velAP, RT: r.baseRT}
		}

	case AxisStrafePos:
		out[pos].RT = r.baseRT
		out[neg].AP = r.velAP
		if a.Predictive || armed {
			out[neg].RT = r.baseRT
		}

	case AxisStrafeNeg:
		out[neg].RT = r.baseRT
		out[pos].AP = r.velAP
		if a.Predictive || armed {
			out[pos].RT = r.baseRT
		}

	case AxisCounterPos:
		out[pos] = KeyTarget{AP: r.counterAP(a), RT: r.baseRT}
		out[neg].RT = r.baseRT

	case AxisCounterNeg:
		out[neg] = KeyTarget{AP: r.counterAP(a), RT: r.baseRT}
		out[pos].RT = r.baseRT
	}
}

func (r axisRules) counterAP(a *AxisTrack) float64 {
	if !r.phaseDecay {
		return r.velAP
	}
	return phaseDecayAP(r.velAP, a.CounterElapsed.Seconds()*1000)
}

// velScaleAP lowers the actuation point as speed approaches the accuracy
// threshold. ratio is speed / (max_speed * 0.34), clamped to [0, 1].
func velScaleAP(baseAP, ratio float64) float64 {
	if ratio < velAggroZone {
		return baseAP
	}
	t := (ratio - velAggroZone) / (1 - velAggroZone)
	factor := 1 - t*(1-velMinAPFactor)
	ap := baseAP * factor
	if ap < minSafeAP {
		ap = minSafeAP
	}
	return ap
}

// phaseDecayAP holds the counter key at the minimum safe AP for the first
// 80ms of a counter-strafe and relaxes linearly back to baseAP by 200ms.
func phaseDecayAP(baseAP, counterMS float64) float64 {
	ultra := float64(phaseUltra.Milliseconds())
	decay := float64(phaseDecay.Milliseconds())
	if counterMS < ultra {
		return minSafeAP
	}
	if counterMS > decay {
		return baseAP
	}
	t := (counterMS - ultra) / (decay - ultra)
	return minSafeAP + t*(baseAP-minSafeAP)
}
