package main

import "fmt"

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
// In this codebase, those are keyboard writes and snapshot replies.
type Command interface {
	commandMarker()
	String() string
}

// CmdWriteTargets requests writing AP and RT for all four keys to a profile.
type CmdWriteTargets struct {
	Profile int
	Targets TargetSet
}

func (CmdWriteTargets) commandMarker() {}
func (c CmdWriteTargets) String() string {
	return fmt.Sprintf("CmdWriteTargets(profile=%d, W=%.2f/%.2f A=%.2f/%.2f S=%.2f/%.2f D=%.2f/%.2f)",
		c.Profile,
		c.Targets[keyW].AP, c.Targets[keyW].RT,
		c.Targets[keyA].AP, c.Targets[keyA].RT,
		c.Targets[keyS].AP, c.Targets[keyS].RT,
		c.Targets[keyD].AP, c.Targets[keyD].RT)
}

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
