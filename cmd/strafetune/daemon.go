package main

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// The reducer performs no I/O and computes: next state + commands + broadcasts.
// This loop is the only place that samples inputs, executes side effects
// (keyboard writes) and hands broadcasts to other goroutines.
//
// ============================================================================

// runDaemon is the main control loop that:
//   - Samples keys and telemetry and emits a Tick on a fixed cadence
//   - Receives Events from other goroutines (snapshot requests)
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands against the keyboard and feeds results back into the reducer
//
// A poll rate of 0 runs unpaced, yielding to the scheduler every iteration.
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
//
// It returns the final state so the caller can report session totals.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	keys KeySource,
	store *TelemetryStore,
	writer targetWriter,
	cfg *Config,
	state *DaemonState,
	sinks []chan<- StateBroadcast,
	logger *slog.Logger,
) *DaemonState {
	if state == nil {
		logger.Error("daemon state is nil")
		return nil
	}

	var tickC <-chan time.Time
	if hz := cfg.Loop.PollRateHz; hz > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(hz))
		defer ticker.Stop()
		tickC = ticker.C
	}

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bcasts []StateBroadcast) {
		for _, b := range bcasts {
			logBroadcast(logger, b)
			for _, sink := range sinks {
				select {
				case sink <- b:
				default:
					// Consumers never slow the control loop down.
				}
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(writer, cmd, logger, enqueueEvent)
			flushEvents()
		}
	}

	tick := func(now time.Time) {
		ev := Tick{Now: now}
		if keys != nil {
			ev.Keys = keys.Sample()
		}
		if store != nil {
			ev.Telemetry = store.Snapshot()
		}
		enqueueEvent(ev)
		flushEvents()
		flushCommands()
	}

	for {
		if tickC == nil {
			select {
			case <-ctx.Done():
				logger.Info("daemon stopping (context canceled)")
				return state
			case ev, ok := <-events:
				if !ok {
					logger.Info("daemon stopping (events channel closed)")
					return state
				}
				enqueueEvent(ev)
				flushEvents()
				flushCommands()
			default:
				tick(time.Now())
				runtime.Gosched()
			}
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return state

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return state
			}
			enqueueEvent(ev)
			flushEvents()
			flushCommands()

		case now := <-tickC:
			tick(now)
		}
	}
}

// logBroadcast renders engine events in the log.
func logBroadcast(logger *slog.Logger, b StateBroadcast) {
	switch ev := b.(type) {
	case BroadcastAxisTransition:
		logger.Debug("axis transition", "axis", ev.Axis, "from", ev.From.String(), "to", ev.To.String())
	case BroadcastCounterStrafe:
		logger.Info("counter-strafe",
			"axis", ev.Axis,
			"key", ev.Direction,
			"ms", durationMS(ev.Duration),
			"quality", ev.Quality,
			"weapon", ev.Weapon)
	case BroadcastTargetsWritten:
		logger.Debug("targets applied", "writes", ev.Count)
	}
}
