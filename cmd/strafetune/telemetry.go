package main

import (
	"strings"
	"sync"
	"time"
)

// Field caps for extracted telemetry strings.
const (
	maxWeaponNameLen = 63
	maxWeaponTypeLen = 31
	maxRoundPhaseLen = 15

	sectionWindow = 200 // bytes searched after a section key
	stateLookback = 30  // bytes before "active" that must contain "state"
)

// TelemetrySnapshot is a copy of the merged game state.
type TelemetrySnapshot struct {
	Category   WeaponCategory `json:"category"`
	WeaponName string         `json:"weapon_name,omitempty"`
	WeaponType string         `json:"weapon_type,omitempty"`
	MaxSpeed   float64        `json:"max_speed"`
	RoundPhase string         `json:"round_phase,omitempty"`
	Health     int            `json:"health"`
	Connected  bool           `json:"connected"`
	LastUpdate time.Time      `json:"last_update"`
}

// ParsedState holds the facts found in one payload. Empty strings and a
// negative health mean "not present".
type ParsedState struct {
	WeaponName string
	WeaponType string
	RoundPhase string
	Health     int
}

// TelemetryStore is the merged game state shared between the telemetry
// listener and the control loop.
type TelemetryStore struct {
	mu   sync.Mutex
	snap TelemetrySnapshot
}

func NewTelemetryStore() *TelemetryStore {
	return &TelemetryStore{
		snap: TelemetrySnapshot{Category: WeaponOther, Health: -1},
	}
}

// Merge applies the fields that p carries; everything else keeps its value.
// It returns the state before and after the merge.
func (s *TelemetryStore) Merge(p ParsedState, now time.Time) (before, after TelemetrySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before = s.snap

	if p.WeaponName != "" {
		s.snap.WeaponName = p.WeaponName
		s.snap.WeaponType = p.WeaponType
		s.snap.Category = categorizeWeaponType(p.WeaponType)
		s.snap.MaxSpeed = weaponMaxSpeed(p.WeaponName)
	}
	if p.RoundPhase != "" {
		s.snap.RoundPhase = p.RoundPhase
	}
	if p.Health >= 0 {
		s.snap.Health = p.Health
	}
	s.snap.Connected = true
	s.snap.LastUpdate = now
	return before, s.snap
}

// Snapshot returns a copy of the current state.
func (s *TelemetryStore) Snapshot() TelemetrySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// ParseGameState scans a game-state payload for the active weapon, round
// phase and player health.
//
// This is a bounded scanner over the raw text, not a JSON parser: payloads
// may be partial, and only fixed windows after each section key are searched.
func ParseGameState(body string) ParsedState {
	p := ParsedState{Health: -1}

	if i := strings.Index(body, `"round"`); i >= 0 {
		end := min(i+sectionWindow, len(body))
		p.RoundPhase, _ = extractString(body, i, end, `"phase"`, maxRoundPhaseLen)
	}

	if i := strings.Index(body, `"state"`); i >= 0 {
		end := min(i+sectionWindow, len(body))
		p.Health = extractInt(body, i, end, `"health"`)
	}

	p.WeaponName, p.WeaponType = findActiveWeapon(body)
	return p
}

// findActiveWeapon locates the first weapon object whose state is "active".
func findActiveWeapon(body string) (name, typ string) {
	weapons := strings.Index(body, `"weapons"`)
	if weapons < 0 {
		return "", ""
	}

	from := weapons
	for {
		rel := strings.Index(body[from:], `"active"`)
		if rel < 0 {
			return "", ""
		}
		active := from + rel

		check := weapons
		if active > weapons+stateLookback {
			check = active - stateLookback
		}
		if !strings.Contains(body[check:active], `"state"`) {
			from = active + 1
			continue
		}

		// Walk back to the brace that opens this weapon object.
		start := active
		depth := 0
		for start > weapons {
			start--
			if body[start] == '}' {
				depth++
			}
			if body[start] == '{' {
				if depth == 0 {
					break
				}
				depth--
			}
		}

		end := min(active+sectionWindow, len(body))
		name, _ = extractString(body, start, end, `"name"`, maxWeaponNameLen)
		typ, _ = extractString(body, start, end, `"type"`, maxWeaponTypeLen)
		return name, typ
	}
}

// extractString reads the quoted value after the first occurrence of key in
// body[start:]. The key must begin before end and the value is cut at end
// and at maxLen bytes.
func extractString(body string, start, end int, key string, maxLen int) (string, bool) {
	k := indexFrom(body, start, key)
	if k < 0 || k >= end {
		return "", false
	}
	k = skipSeparators(body, k+len(key), end)
	if k >= end || body[k] != '"' {
		return "", false
	}
	k++

	v := k
	for v < end && body[v] != '"' && v-k < maxLen {
		v++
	}
	return body[k:v], true
}

// extractInt reads an integer after key with atoi semantics: optional sign,
// leading digits, 0 when no digits follow. A missing key yields -1.
func extractInt(body string, start, end int, key string) int {
	k := indexFrom(body, start, key)
	if k < 0 || k >= end {
		return -1
	}
	k = skipSeparators(body, k+len(key), end)
	return atoi(body[k:])
}

func indexFrom(s string, from int, sub string) int {
	if from < 0 || from > len(s) {
		return -1
	}
	i := strings.Index(s[from:], sub)
	if i < 0 {
		return -1
	}
	return from + i
}

func skipSeparators(s string, i, end int) int {
	for i < end && (s[i] == ' ' || s[i] == '\t' || s[i] == ':') {
		i++
	}
	return i
}

func atoi(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > 1<<31 {
			break
		}
	}
	if neg {
		return -n
	}
	return n
}
