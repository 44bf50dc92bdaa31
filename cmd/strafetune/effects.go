package main

import (
	"errors"
	"log/slog"
	"time"
)

// targetWriter is the part of *Device the effects layer needs.
type targetWriter interface {
	WriteTargets(profile int, t TargetSet) error
}

// errNoWriter indicates a write was requested without an open keyboard.
var errNoWriter = errors.New("no device to write to")

// runEffect executes a single reducer-emitted Command (side effect) against
// the keyboard and emits an observation Event via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced by the daemon loop.
func runEffect(
	writer targetWriter,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		return
	}

	now := time.Now()

	switch c := cmd.(type) {
	case CmdWriteTargets:
		if writer == nil {
			onEvent(DeviceWriteFailed{Targets: c.Targets, Err: errNoWriter, At: now})
			return
		}
		if err := writer.WriteTargets(c.Profile, c.Targets); err != nil {
			logger.Error("device write failed", "error", err, "command", c.String())
			onEvent(DeviceWriteFailed{Targets: c.Targets, Err: err, At: now})
			return
		}
		logger.Debug("targets written", "command", c.String())
		onEvent(DeviceWriteCompleted{Targets: c.Targets, At: now})

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the effects worker indefinitely.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}

// restoreNormal writes the normal pair to every key. main runs it once on
// exit so the keyboard is never left on an aggressive profile.
func restoreNormal(writer targetWriter, cfg *Config, logger *slog.Logger) error {
	if writer == nil {
		return errNoWriter
	}
	t := uniformTargets(cfg.Tuning.APNormal, cfg.Tuning.RTNormal)
	if err := writer.WriteTargets(cfg.Device.Profile, t); err != nil {
		logger.Error("restore write failed", "error", err)
		return err
	}
	logger.Info("restored normal actuation",
		"ap_mm", cfg.Tuning.APNormal,
		"rt_mm", cfg.Tuning.RTNormal,
		"profile", cfg.Device.Profile)
	return nil
}
