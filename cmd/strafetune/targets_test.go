package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func rifleTelemetry() TelemetrySnapshot {
	return TelemetrySnapshot{
		Category:   WeaponRifle,
		WeaponName: "weapon_ak47",
		WeaponType: "Rifle",
		MaxSpeed:   215,
		RoundPhase: "live",
		Health:     100,
		Connected:  true,
	}
}

func TestVelScaleAP(t *testing.T) {
	assert.Equal(t, 0.4, velScaleAP(0.4, 0))
	assert.Equal(t, 0.4, velScaleAP(0.4, 0.49))
	assert.InDelta(t, 0.32, velScaleAP(0.4, 0.7), 1e-9)
	assert.InDelta(t, 0.24, velScaleAP(0.4, 0.9), 1e-9)
	assert.InDelta(t, 0.20, velScaleAP(0.4, 1.0), 1e-9)
	assert.Equal(t, minSafeAP, velScaleAP(0.2, 1.0), "never below the minimum safe AP")
}

func TestPhaseDecayAP(t *testing.T) {
	assert.Equal(t, minSafeAP, phaseDecayAP(0.32, 0))
	assert.Equal(t, minSafeAP, phaseDecayAP(0.32, 79.9))
	assert.InDelta(t, minSafeAP, phaseDecayAP(0.32, 80), 1e-12)
	assert.InDelta(t, 0.235, phaseDecayAP(0.32, 140), 1e-9)
	assert.InDelta(t, 0.32, phaseDecayAP(0.32, 200), 1e-12)
	assert.Equal(t, 0.32, phaseDecayAP(0.32, 250))
}

func TestSynthesize_RifleCounterStrafePhases(t *testing.T) {
	cfg := DefaultConfig()
	tel := rifleTelemetry()

	// ratio = speed / (215 * 0.34) = 0.7
	speed := 0.7 * 215 * accuracyFraction

	cases := []struct {
		elapsed time.Duration
		wantAP  float64
	}{
		{40 * time.Millisecond, 0.15},
		{140 * time.Millisecond, 0.235},
		{250 * time.Millisecond, 0.32},
	}
	for _, tc := range cases {
		in := SynthInput{
			H:         AxisTrack{State: AxisCounterNeg, CounterElapsed: tc.elapsed},
			VelH:      speed,
			Telemetry: tel,
		}
		out := synthesizeTargets(in, &cfg)

		assert.InDelta(t, tc.wantAP, out[keyA].AP, 1e-9, "counter key AP at %v", tc.elapsed)
		assert.Equal(t, cfg.Weapons.Rifle.RT, out[keyA].RT)
		assert.Equal(t, cfg.Weapons.Rifle.RT, out[keyD].RT)
		assert.Equal(t, cfg.Tuning.APNormal, out[keyD].AP)
		assert.Equal(t, KeyTarget{AP: cfg.Tuning.APNormal, RT: cfg.Tuning.RTNormal}, out[keyW])
		assert.Equal(t, KeyTarget{AP: cfg.Tuning.APNormal, RT: cfg.Tuning.RTNormal}, out[keyS])
	}
}

func TestSynthesize_PhaseDecayDisabledUsesVelocityAP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Features.PhaseDecay = false

	in := SynthInput{
		H:         AxisTrack{State: AxisCounterPos, CounterElapsed: 10 * time.Millisecond},
		VelH:      0.7 * 215 * accuracyFraction,
		Telemetry: rifleTelemetry(),
	}
	out := synthesizeTargets(in, &cfg)
	assert.InDelta(t, 0.32, out[keyD].AP, 1e-9)
	assert.Equal(t, cfg.Weapons.Rifle.RT, out[keyA].RT)
}

func TestSynthesize_IdleIsNormal(t *testing.T) {
	cfg := DefaultConfig()
	out := synthesizeTargets(SynthInput{}, &cfg)
	assert.Equal(t, uniformTargets(cfg.Tuning.APNormal, cfg.Tuning.RTNormal), out)
}

func TestSynthesize_FreezetimeAndNonCombatAreNormal(t *testing.T) {
	cfg := DefaultConfig()
	normal := uniformTargets(cfg.Tuning.APNormal, cfg.Tuning.RTNormal)
	h := AxisTrack{State: AxisStrafePos}

	for _, phase := range []string{"freezetime", "over"} {
		tel := rifleTelemetry()
		tel.RoundPhase = phase
		out := synthesizeTargets(SynthInput{H: h, Telemetry: tel}, &cfg)
		assert.Equal(t, normal, out, "phase %s", phase)
	}

	tel := rifleTelemetry()
	tel.Category = WeaponOther
	out := synthesizeTargets(SynthInput{H: h, Telemetry: tel}, &cfg)
	assert.Equal(t, normal, out, "grenade/C4 in hand")
}

func TestSynthesize_DisconnectedUsesAggroPair(t *testing.T) {
	cfg := DefaultConfig()
	out := synthesizeTargets(SynthInput{H: AxisTrack{State: AxisStrafePos}}, &cfg)

	assert.Equal(t, cfg.Tuning.RTAggro, out[keyD].RT)
	assert.Equal(t, cfg.Tuning.APNormal, out[keyD].AP)
	assert.Equal(t, cfg.Tuning.APAggro, out[keyA].AP)
	assert.Equal(t, cfg.Tuning.RTNormal, out[keyA].RT, "counter key RT only drops when predictive")
}

func TestSynthesize_PredictiveDropsCounterRT(t *testing.T) {
	cfg := DefaultConfig()
	out := synthesizeTargets(SynthInput{H: AxisTrack{State: AxisStrafeNeg, Predictive: true}}, &cfg)

	assert.Equal(t, cfg.Tuning.RTAggro, out[keyA].RT)
	assert.Equal(t, cfg.Tuning.APAggro, out[keyD].AP)
	assert.Equal(t, cfg.Tuning.RTAggro, out[keyD].RT)
}

func TestSynthesize_JigglePrimesBothKeys(t *testing.T) {
	cfg := DefaultConfig()
	h := AxisTrack{State: AxisIdle, IsJiggle: true}

	out := synthesizeTargets(SynthInput{H: h}, &cfg)
	aggro := KeyTarget{AP: cfg.Tuning.APAggro, RT: cfg.Tuning.RTAggro}
	assert.Equal(t, aggro, out[keyA])
	assert.Equal(t, aggro, out[keyD])

	cfg.Features.Jiggle = false
	out = synthesizeTargets(SynthInput{H: h}, &cfg)
	assert.Equal(t, uniformTargets(cfg.Tuning.APNormal, cfg.Tuning.RTNormal), out)
}

func TestSynthesize_VerticalAxisOnlyWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	in := SynthInput{V: AxisTrack{State: AxisStrafePos}}

	out := synthesizeTargets(in, &cfg)
	assert.Equal(t, cfg.Tuning.RTNormal, out[keyW].RT)

	cfg.Tuning.WSAdaptive = true
	out = synthesizeTargets(in, &cfg)
	assert.Equal(t, cfg.Tuning.RTAggro, out[keyW].RT)
	assert.Equal(t, cfg.Tuning.APAggro, out[keyS].AP)
}

func TestSynthesize_CrouchRelaxes(t *testing.T) {
	cfg := DefaultConfig()
	out := synthesizeTargets(SynthInput{H: AxisTrack{State: AxisStrafePos}, Crouch: 1}, &cfg)

	assert.Equal(t, cfg.Tuning.RTAggro, out[keyD].RT, "RT never drops below the base RT")
	assert.InDelta(t, 0.4+(1.2-0.4)*crouchAPRelaxed, out[keyA].AP, 1e-9)
	assert.InDelta(t, cfg.Tuning.RTNormal*cfg.Tuning.CrouchRTFactor, out[keyW].RT, 1e-9)
	assert.Equal(t, cfg.Tuning.APNormal, out[keyW].AP)
}

func TestSynthesize_IsPure(t *testing.T) {
	cfg := DefaultConfig()
	in := SynthInput{
		H:         AxisTrack{State: AxisCounterNeg, CounterElapsed: 100 * time.Millisecond},
		VelH:      120,
		Crouch:    0.5,
		Telemetry: rifleTelemetry(),
	}
	assert.Equal(t, synthesizeTargets(in, &cfg), synthesizeTargets(in, &cfg))
}
