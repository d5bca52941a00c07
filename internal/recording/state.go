/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

// State is the lifecycle state of a Session.
type State int

// Session states. Idle and AwaitingVideo are the pre-recording states.
// Completed, Failed, Aborted and Stopped are terminal.
const (
	StateIdle State = iota
	StateAwaitingVideo
	StateStarting
	StateMonitoring
	StateCompleted
	StateFailed
	StateAborted
	StateStopped
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateAwaitingVideo: "awaiting_video",
	StateStarting:      "starting",
	StateMonitoring:    "monitoring",
	StateCompleted:     "completed",
	StateFailed:        "failed",
	StateAborted:       "aborted",
	StateStopped:       "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateAborted, StateStopped:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
