package main

import (
	"bytes"
	"encoding/binary"
	"sync"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

// decodeInputEvent parses one raw input_event record.
func decodeInputEvent(buf []byte) (inputEvent, bool) {
	var ev inputEvent
	if len(buf) < inputEventSize {
		return ev, false
	}
	if err := binary.Read(bytes.NewReader(buf[:inputEventSize]), binary.LittleEndian, &ev); err != nil {
		return ev, false
	}
	return ev, true
}

// KeySample is the normalized press depth (0..1) of every key the engine
// watches.
type KeySample struct {
	W    float64 `json:"w"`
	A    float64 `json:"a"`
	S    float64 `json:"s"`
	D    float64 `json:"d"`
	Ctrl float64 `json:"ctrl"`
}

// clamped returns s with negative depths raised to 0.
func (s KeySample) clamped() KeySample {
	for _, v := range []*float64{&s.W, &s.A, &s.S, &s.D, &s.Ctrl} {
		if *v < 0 {
			*v = 0
		}
	}
	return s
}

// KeySource yields the current key depths. Sample must not block.
//
// Digital keyboards report 0 or 1; an analog SDK can report partial travel.
type KeySource interface {
	Sample() KeySample
}

// KeyState is a KeySource fed by key events from another goroutine.
type KeyState struct {
	mu  sync.Mutex
	cur KeySample
}

func NewKeyState() *KeyState {
	return &KeyState{}
}

// Sample returns the current depths.
func (k *KeyState) Sample() KeySample {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cur
}

// Set overrides the depth of one watched key code. Unwatched codes are ignored.
func (k *KeyState) Set(code uint16, depth float64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	switch code {
	case KEY_W:
		k.cur.W = depth
	case KEY_A:
		k.cur.A = depth
	case KEY_S:
		k.cur.S = depth
	case KEY_D:
		k.cur.D = depth
	case KEY_LEFTCTRL:
		k.cur.Ctrl = depth
	default:
		return false
	}
	return true
}

// ReleaseAll zeroes every key, e.g. after the input device went away.
func (k *KeyState) ReleaseAll() {
	k.mu.Lock()
	k.cur = KeySample{}
	k.mu.Unlock()
}

// Apply folds one evdev event into the state. Press and repeat count as full
// travel, release as none.
func (k *KeyState) Apply(ev inputEvent) {
	if ev.Type != EV_KEY {
		return
	}
	switch ev.Value {
	case evValuePress, evValueRepeat:
		k.Set(ev.Code, 1)
	case evValueRelease:
		k.Set(ev.Code, 0)
	}
}
