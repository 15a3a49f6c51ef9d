// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sdo

import "fmt"

// State is the progress of a request at any layer of the drive stack.
type State int

const (
	Idle State = iota
	// Busy is reported by a controller asked for an operation while the
	// completion of another one is still unacknowledged.
	Busy
	Waiting
	Done
	Error
	Retry
	Timeout
)

var stateNames = [...]string{
	Idle:    "idle",
	Busy:    "busy",
	Waiting: "waiting",
	Done:    "done",
	Error:   "error",
	Retry:   "retry",
	Timeout: "timeout",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Failed reports whether s is terminal and needs an explicit reset.
func (s State) Failed() bool {
	return s == Error || s == Timeout
}

// CanIssue reports whether a new request may be started from s.
func (s State) CanIssue() bool {
	return s == Idle || s == Retry
}

// Direction of an object access.
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}
