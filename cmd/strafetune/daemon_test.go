package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWriter is a test double for the keyboard.
type mockWriter struct {
	mu     sync.Mutex
	writes []TargetSet
	err    error
}

func (m *mockWriter) WriteTargets(profile int, t TargetSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes = append(m.writes, t)
	return nil
}

func (m *mockWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

func (m *mockWriter) last() TargetSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[len(m.writes)-1]
}

// fakeKeys is a KeySource the test drives directly.
type fakeKeys struct {
	mu  sync.Mutex
	cur KeySample
}

func (f *fakeKeys) Sample() KeySample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeKeys) set(s KeySample) {
	f.mu.Lock()
	f.cur = s
	f.mu.Unlock()
}

func TestRunEffect_WriteTargets(t *testing.T) {
	w := &mockWriter{}
	targets := uniformTargets(0.4, 0.1)

	var got []Event
	runEffect(w, CmdWriteTargets{Profile: 1, Targets: targets}, discardLogger(), func(ev Event) {
		got = append(got, ev)
	})

	require.Len(t, got, 1)
	done, ok := got[0].(DeviceWriteCompleted)
	require.True(t, ok, "expected DeviceWriteCompleted, got %T", got[0])
	assert.Equal(t, targets, done.Targets)
	assert.Equal(t, 1, w.count())
}

func TestRunEffect_WriteFailure(t *testing.T) {
	w := &mockWriter{err: errors.New("device gone")}

	var got []Event
	runEffect(w, CmdWriteTargets{Targets: uniformTargets(1, 1)}, discardLogger(), func(ev Event) {
		got = append(got, ev)
	})

	require.Len(t, got, 1)
	failed, ok := got[0].(DeviceWriteFailed)
	require.True(t, ok, "expected DeviceWriteFailed, got %T", got[0])
	assert.EqualError(t, failed.Err, "device gone")
}

func TestRunEffect_NoWriter(t *testing.T) {
	var got []Event
	runEffect(nil, CmdWriteTargets{}, discardLogger(), func(ev Event) { got = append(got, ev) })

	require.Len(t, got, 1)
	failed, ok := got[0].(DeviceWriteFailed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, errNoWriter)
}

func TestRunEffect_SnapshotReplyNeverBlocks(t *testing.T) {
	reply := make(chan StateSnapshot, 1)
	snap := StateSnapshot{Mode: "adaptive", Frames: 7}

	runEffect(nil, CmdPublishStateSnapshot{Reply: reply, Snapshot: snap}, discardLogger(), func(Event) {})
	// Reply is full now; the second delivery is dropped instead of blocking.
	runEffect(nil, CmdPublishStateSnapshot{Reply: reply, Snapshot: snap}, discardLogger(), func(Event) {})

	got := <-reply
	assert.Equal(t, uint64(7), got.Frames)
	select {
	case <-reply:
		t.Fatalf("expected the second snapshot to be dropped")
	default:
	}
}

func TestRestoreNormal(t *testing.T) {
	cfg := DefaultConfig()
	w := &mockWriter{}

	require.NoError(t, restoreNormal(w, &cfg, discardLogger()))
	require.Equal(t, 1, w.count())
	assert.Equal(t, uniformTargets(cfg.Tuning.APNormal, cfg.Tuning.RTNormal), w.last())

	assert.ErrorIs(t, restoreNormal(nil, &cfg, discardLogger()), errNoWriter)

	w.err = errors.New("boom")
	assert.Error(t, restoreNormal(w, &cfg, discardLogger()))
}

func TestRunDaemon_WritesOnStrafe(t *testing.T) {
	cfg := plainConfig()
	cfg.Tuning.WriteIntervalMS = 0
	cfg.Loop.PollRateHz = 1000

	keys := &fakeKeys{}
	writer := &mockWriter{}
	sink := make(chan StateBroadcast, 256)
	events := make(chan Event)
	state := NewDaemonState(cfg, time.Now(), true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *DaemonState, 1)
	go func() {
		done <- runDaemon(ctx, events, keys, NewTelemetryStore(), writer, cfg, state, []chan<- StateBroadcast{sink}, discardLogger())
	}()

	keys.set(KeySample{D: 1})
	waitUntil(t, time.Second, func() bool { return writer.count() >= 1 }, "no write after strafe")
	assert.Equal(t, cfg.Tuning.RTAggro, writer.last()[keyD].RT)

	// Snapshot requests are answered through the command queue.
	reply := make(chan StateSnapshot, 1)
	events <- RequestStateSnapshot{Reply: reply}
	select {
	case snap := <-reply:
		assert.Equal(t, "adaptive", snap.Mode)
		assert.Positive(t, snap.Frames)
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for snapshot")
	}

	cancel()
	var final *DaemonState
	select {
	case final = <-done:
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop")
	}
	require.NotNil(t, final)
	assert.GreaterOrEqual(t, final.WriteCount, uint64(1))
	assert.Equal(t, writer.last(), final.Applied)

	var sawWritten bool
	for len(sink) > 0 {
		if _, ok := (<-sink).(BroadcastTargetsWritten); ok {
			sawWritten = true
		}
	}
	assert.True(t, sawWritten, "targets-written broadcast expected")
}

func TestRunDaemon_StopsWhenEventsClosed(t *testing.T) {
	cfg := plainConfig()
	cfg.Loop.PollRateHz = 0 // unpaced

	events := make(chan Event)
	state := NewDaemonState(cfg, time.Now(), false)

	done := make(chan *DaemonState, 1)
	go func() {
		done <- runDaemon(context.Background(), events, &fakeKeys{}, nil, nil, cfg, state, nil, discardLogger())
	}()

	time.Sleep(10 * time.Millisecond)
	close(events)

	select {
	case final := <-done:
		require.NotNil(t, final)
		assert.Positive(t, final.Frames)
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop after events channel closed")
	}
}

func TestRunDaemon_FullSinkDoesNotBlock(t *testing.T) {
	cfg := plainConfig()
	cfg.Loop.PollRateHz = 1000

	sink := make(chan StateBroadcast) // never read
	state := NewDaemonState(cfg, time.Now(), false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	final := runDaemon(ctx, make(chan Event), &fakeKeys{}, nil, nil, cfg, state, []chan<- StateBroadcast{sink}, discardLogger())
	require.NotNil(t, final)
	assert.Positive(t, final.Frames)
}
