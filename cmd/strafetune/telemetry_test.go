package main

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGameState = `{
  "provider": {"name": "Counter-Strike 2", "appid": 730},
  "round": {"phase": "live"},
  "player": {
    "steamid": "76561198000000000",
    "state": {"health": 87, "armor": 100, "helmet": true},
    "weapons": {
      "weapon_0": {"name": "weapon_knife", "paintkit": "default", "type": "Knife", "state": "holstered"},
      "weapon_1": {"name": "weapon_ak47", "paintkit": "default", "type": "Rifle", "ammo_clip": 30, "state": "active"}
    }
  }
}`

func TestParseGameState_Full(t *testing.T) {
	p := ParseGameState(sampleGameState)

	assert.Equal(t, "live", p.RoundPhase)
	assert.Equal(t, 87, p.Health)
	assert.Equal(t, "weapon_ak47", p.WeaponName)
	assert.Equal(t, "Rifle", p.WeaponType)
}

func TestParseGameState_Partial(t *testing.T) {
	p := ParseGameState(`{"round": {"phase": "freezetime"}}`)
	assert.Equal(t, "freezetime", p.RoundPhase)
	assert.Equal(t, -1, p.Health, "absent health")
	assert.Empty(t, p.WeaponName)

	p = ParseGameState(`{"player": {"state": {"health": 0}}}`)
	assert.Equal(t, 0, p.Health)
	assert.Empty(t, p.RoundPhase)

	p = ParseGameState(`not json at all`)
	assert.Equal(t, ParsedState{Health: -1}, p)
}

func TestParseGameState_ActiveNeedsNearbyState(t *testing.T) {
	// "active" with no "state" key within the lookback window does not count.
	body := `{"weapons": {` +
		`"weapon_0": {"name": "weapon_awp", "type": "SniperRifle", "note": "` + strings.Repeat("x", 40) + `", "tag": "active"},` +
		`"weapon_1": {"name": "weapon_glock", "type": "Pistol", "state": "active"}` +
		`}}`

	p := ParseGameState(body)
	assert.Equal(t, "weapon_glock", p.WeaponName)
	assert.Equal(t, "Pistol", p.WeaponType)
}

func TestParseGameState_NoActiveWeapon(t *testing.T) {
	body := `{"weapons": {"weapon_0": {"name": "weapon_knife", "type": "Knife", "state": "holstered"}}}`
	p := ParseGameState(body)
	assert.Empty(t, p.WeaponName)
	assert.Empty(t, p.WeaponType)
}

func TestParseGameState_FieldCaps(t *testing.T) {
	long := strings.Repeat("p", 40)
	p := ParseGameState(`{"round": {"phase": "` + long + `"}}`)
	assert.Len(t, p.RoundPhase, maxRoundPhaseLen)
}

func TestParseGameState_SectionWindow(t *testing.T) {
	// The phase key must start within the window after "round".
	body := `{"round": {"pad": "` + strings.Repeat("x", sectionWindow) + `", "phase": "live"}}`
	assert.Empty(t, ParseGameState(body).RoundPhase)
}

func TestAtoi(t *testing.T) {
	cases := map[string]int{
		"87,":   87,
		" 100}": 100,
		"-5":    -5,
		"+3":    3,
		"abc":   0,
		"":      0,
	}
	for in, want := range cases {
		assert.Equal(t, want, atoi(in), "atoi(%q)", in)
	}
}

func TestTelemetryStore_Merge(t *testing.T) {
	store := NewTelemetryStore()
	initial := store.Snapshot()
	require.False(t, initial.Connected)
	require.Equal(t, WeaponOther, initial.Category)
	require.Equal(t, -1, initial.Health)

	t0 := time.Unix(1000, 0)
	before, after := store.Merge(ParseGameState(sampleGameState), t0)
	assert.False(t, before.Connected)
	assert.Equal(t, "", before.WeaponName)
	assert.Equal(t, "weapon_ak47", after.WeaponName)

	snap := store.Snapshot()
	assert.Equal(t, after, snap)
	assert.True(t, snap.Connected)
	assert.Equal(t, WeaponRifle, snap.Category)
	assert.Equal(t, 215.0, snap.MaxSpeed)
	assert.Equal(t, "live", snap.RoundPhase)
	assert.Equal(t, 87, snap.Health)
	assert.Equal(t, t0, snap.LastUpdate)

	// A payload carrying only the round keeps everything else.
	t1 := t0.Add(time.Second)
	store.Merge(ParseGameState(`{"round": {"phase": "over"}}`), t1)

	snap = store.Snapshot()
	assert.Equal(t, "over", snap.RoundPhase)
	assert.Equal(t, "weapon_ak47", snap.WeaponName)
	assert.Equal(t, WeaponRifle, snap.Category)
	assert.Equal(t, 87, snap.Health)
	assert.Equal(t, t1, snap.LastUpdate)
}

func TestTelemetryStore_MergeConcurrentSeesOneTransition(t *testing.T) {
	store := NewTelemetryStore()
	p := ParseGameState(sampleGameState)
	t0 := time.Unix(1000, 0)

	const posts = 32
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			before, after := store.Merge(p, t0)
			if before.WeaponName != after.WeaponName {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitions, "exactly one post observes the weapon change")
}
