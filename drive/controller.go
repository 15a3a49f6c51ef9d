// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package drive sequences the CiA-402 state machine and motion operations of
// one drive on top of its node access.
//
// Every operation is resumable: the host calls it on every tick with the
// same arguments until it reports Done, Error or Timeout, and then calls
// Reset before the next operation. An operation called while another one
// owns the controller reports Busy and does nothing.
package drive

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/link"
	"github.com/ffutop/mcdrive/node"
	"github.com/ffutop/mcdrive/sdo"
)

const (
	// DefaultResponseDelay is how long a control word waits for the status
	// word echo.
	DefaultResponseDelay = 50 * time.Millisecond
	// DefaultPollCycle is the status word poll cycle of the wait operations.
	DefaultPollCycle = 20 * time.Millisecond
)

// Op identifies the operation owning a controller.
type Op int

const (
	OpNone Op = iota
	OpEnable
	OpDisable
	OpStop
	OpSetMode
	OpSetProfile
	OpMovePosition
	OpMoveVelocity
	OpConfigureHoming
	OpStartHoming
	OpWaitStatus
	OpWriteObject
	OpUpdateStatus
	OpUpdateActuals
	OpUpdateTemperature
	OpUpdateErrors
)

var opNames = [...]string{
	OpNone:              "none",
	OpEnable:            "enable",
	OpDisable:           "disable",
	OpStop:              "stop",
	OpSetMode:           "set-mode",
	OpSetProfile:        "set-profile",
	OpMovePosition:      "move-position",
	OpMoveVelocity:      "move-velocity",
	OpConfigureHoming:   "configure-homing",
	OpStartHoming:       "start-homing",
	OpWaitStatus:        "wait-status",
	OpWriteObject:       "write-object",
	OpUpdateStatus:      "update-status",
	OpUpdateActuals:     "update-actuals",
	OpUpdateTemperature: "update-temperature",
	OpUpdateErrors:      "update-errors",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Controller drives one node. It is not safe for concurrent use.
type Controller struct {
	node *node.Access

	state sdo.State
	op    Op

	// One step variable per sequence.
	move    moveStep
	speed   speedStep
	profile profileStep
	homing  homingStep
	refresh refreshStep

	modeRequested cia402.Mode
	modeReported  cia402.Mode

	position    int32
	velocity    int32
	temperature int16
	errors      uint16

	responseDelay time.Duration
	pollCycle     time.Duration
}

// New creates the controller of ch, including its node access and SDO
// channel.
func New(l link.Link, ch link.Channel) *Controller {
	return &Controller{
		node:          node.New(l, ch),
		responseDelay: DefaultResponseDelay,
		pollCycle:     DefaultPollCycle,
	}
}

// Node exposes the node access for configuration and diagnostics.
func (c *Controller) Node() *node.Access { return c.node }

func (c *Controller) NodeID() byte { return c.node.NodeID() }

// State is the state of the current operation.
func (c *Controller) State() sdo.State { return c.state }

// Operation is the operation owning the controller, OpNone after Reset.
func (c *Controller) Operation() Op { return c.op }

// Step is the step index of the current sequence, for diagnostics.
func (c *Controller) Step() int {
	switch c.op {
	case OpMovePosition:
		return int(c.move)
	case OpMoveVelocity:
		return int(c.speed)
	case OpSetProfile:
		return int(c.profile)
	case OpStartHoming:
		return int(c.homing)
	case OpUpdateStatus, OpUpdateActuals:
		return int(c.refresh)
	}
	return 0
}

// Err is the cause of the last lower layer failure.
func (c *Controller) Err() error { return c.node.Err() }

func (c *Controller) NodeState() sdo.State     { return c.node.CheckComState() }
func (c *Controller) SDOState() sdo.State      { return c.node.SDOState() }
func (c *Controller) ControlAccess() sdo.State { return c.node.State() }

func (c *Controller) StatusWord() uint16  { return c.node.StatusWord() }
func (c *Controller) ControlWord() uint16 { return c.node.ControlWord() }

// DriveState decodes the last known status word.
func (c *Controller) DriveState() cia402.State { return cia402.StateOf(c.node.StatusWord()) }

// Mode is the last operating mode reported by or written to the drive.
func (c *Controller) Mode() cia402.Mode { return c.modeReported }

func (c *Controller) ActualPosition() int32   { return c.position }
func (c *Controller) ActualVelocity() int32   { return c.velocity }
func (c *Controller) MotorTemperature() int16 { return c.temperature }
func (c *Controller) DriveErrors() uint16     { return c.errors }

func (c *Controller) IsLive() bool      { return c.node.IsLive() }
func (c *Controller) LastError() uint16 { return c.node.LastError() }

// SetResponseDelay sets how long a control word waits for its status word.
func (c *Controller) SetResponseDelay(d time.Duration) { c.responseDelay = d }

// SetPollCycle sets the status poll cycle of IsInPosition and
// IsHomingFinished.
func (c *Controller) SetPollCycle(d time.Duration) { c.pollCycle = d }

// SetBusyRetryMax sets the busy retry maximum of the node and its SDO
// channel.
func (c *Controller) SetBusyRetryMax(n int) {
	c.node.SetBusyRetryMax(n)
	c.node.SDO().SetBusyRetryMax(n)
}

// SetTimeoutRetryMax sets the timeout retry maximum of the node and its SDO
// channel.
func (c *Controller) SetTimeoutRetryMax(n int) {
	c.node.SetTimeoutRetryMax(n)
	c.node.SDO().SetTimeoutRetryMax(n)
}

// SetActTime advances the clock of all layers.
func (c *Controller) SetActTime(now time.Time) { c.node.SetActTime(now) }

// Reset acknowledges the current operation. The controller and its lower
// layers return to Idle and a held link lock is released. Retry maxima are
// kept.
func (c *Controller) Reset() {
	c.state = sdo.Idle
	c.op = OpNone
	c.clearSteps()
	c.node.Reset()
}

// SendReset asks the drive to restart. The known operating mode is
// forgotten.
func (c *Controller) SendReset() bool {
	if !c.node.SendReset() {
		return false
	}
	c.modeReported = cia402.ModeNone
	return true
}

func (c *Controller) clearSteps() {
	c.move = moveMode
	c.speed = speedMode
	c.profile = profileAcceleration
	c.homing = homingClearStart
	c.refresh = refreshFirst
}

// enter claims the controller for op. When ok is false the operation must
// return s without acting: another operation owns the controller or op
// already finished and awaits Reset.
func (c *Controller) enter(op Op) (s sdo.State, ok bool) {
	if c.op != op {
		if c.op != OpNone {
			return sdo.Busy, false
		}
		c.op = op
		c.clearSteps()
		slog.Debug("drive: operation started", "node", c.NodeID(), "op", op)
	}
	if c.state == sdo.Done || c.state.Failed() {
		return c.state, false
	}
	c.state = sdo.Waiting
	return c.state, true
}

// finish completes the current operation and idles the lower layers.
func (c *Controller) finish() sdo.State {
	c.node.Reset()
	c.state = sdo.Done
	slog.Debug("drive: operation done", "node", c.NodeID(), "op", c.op)
	return c.state
}

// checkComState escalates a failed node or SDO channel into the operation
// state.
func (c *Controller) checkComState() sdo.State {
	if s := c.node.CheckComState(); s.Failed() {
		if c.state != s {
			slog.Debug("drive: operation failed", "node", c.NodeID(), "op", c.op, "state", s, "err", c.node.Err())
		}
		c.state = s
	}
	return c.state
}

// controlIdle reports whether no control word or status poll is in flight.
func (c *Controller) controlIdle() bool {
	s := c.node.State()
	return s == sdo.Idle || s == sdo.Done
}

// write issues obj until the write completes. It reports true once done;
// the node is then reset.
func (c *Controller) write(obj cia402.Object, value uint32, size int) bool {
	if c.node.SDOState() == sdo.Done {
		c.node.Reset()
		return true
	}
	c.node.WriteObject(obj, value, size)
	return false
}

// read issues obj until the read completes and returns the consumed value.
func (c *Controller) read(obj cia402.Object) (uint32, bool) {
	if c.node.SDOState() == sdo.Done {
		v := c.node.ObjectValue()
		c.node.ResetSDOState()
		return v, true
	}
	c.node.ReadObject(obj)
	return 0, false
}

// settle reports whether reached holds with no access outstanding. Until
// reached it sends want; once reached it resends the current control word
// while an earlier exchange still has to complete.
func (c *Controller) settle(reached bool, want uint16) bool {
	if !reached {
		c.node.SendControlWord(want, c.responseDelay)
		return false
	}
	if c.controlIdle() && c.node.SDOState() == sdo.Idle {
		c.node.Reset()
		return true
	}
	c.node.SendControlWord(c.node.ControlWord(), c.responseDelay)
	return false
}

// pulse sends cw without waiting for a status word. It reports true on the
// call after the send.
func (c *Controller) pulse(cw uint16) bool {
	if c.node.State() == sdo.Done {
		c.node.Reset()
		return true
	}
	c.node.SendControlWord(cw, 0)
	return false
}
