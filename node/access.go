// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package node implements the control word and status word access of one
// drive node on top of its SDO channel.
package node

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/link"
	"github.com/ffutop/mcdrive/protocol"
	"github.com/ffutop/mcdrive/sdo"
)

const (
	DefaultBusyRetryMax    = 1
	DefaultTimeoutRetryMax = 1
	// DefaultPollTimeout bounds a status word poll issued with a zero cycle.
	DefaultPollTimeout = 50 * time.Millisecond
)

type pending int

const (
	pendingNone pending = iota
	pendingControl
	pendingPoll
)

// Access owns the control word write path and the status word poll path of
// one node. Boot and emergency notifications are tracked independently of
// any request.
type Access struct {
	link link.Link
	ch   link.Channel
	sdo  *sdo.Transaction

	state   sdo.State
	err     error
	pending pending

	controlWord uint16
	statusWord  uint16
	live        bool
	emergency   protocol.Emergency
	emcyCount   int

	busyRetries     int
	busyRetryMax    int
	timeoutRetries  int
	timeoutRetryMax int

	now      time.Time
	sentAt   time.Time
	deadline time.Duration
	lastPoll time.Time
	polled   bool
}

// New creates the access for ch together with its SDO channel.
func New(l link.Link, ch link.Channel) *Access {
	n := &Access{
		link:            l,
		ch:              ch,
		sdo:             sdo.NewTransaction(l, ch),
		busyRetryMax:    DefaultBusyRetryMax,
		timeoutRetryMax: DefaultTimeoutRetryMax,
	}
	l.RegisterNodeReceiver(ch, n.receive)
	return n
}

func (n *Access) NodeID() byte { return n.link.NodeID(n.ch) }

func (n *Access) State() sdo.State { return n.state }

// Err is the cause of the last failure of this node or its SDO channel.
func (n *Access) Err() error {
	if n.err != nil {
		return n.err
	}
	return n.sdo.Err()
}

func (n *Access) StatusWord() uint16  { return n.statusWord }
func (n *Access) ControlWord() uint16 { return n.controlWord }

// SetStatusWord stores a status word obtained by other means, e.g. an SDO
// read of the status word object.
func (n *Access) SetStatusWord(sw uint16) { n.statusWord = sw }

// IsLive reports whether a boot notification arrived since the last reset
// request.
func (n *Access) IsLive() bool { return n.live }

// Emergency returns the last emergency and whether one was received.
func (n *Access) Emergency() (protocol.Emergency, bool) {
	return n.emergency, n.emcyCount > 0
}

// LastError is the error code of the last emergency, 0 if none arrived.
func (n *Access) LastError() uint16 { return n.emergency.ErrorCode }

func (n *Access) SetBusyRetryMax(max int)    { n.busyRetryMax = max }
func (n *Access) SetTimeoutRetryMax(max int) { n.timeoutRetryMax = max }

// SDO exposes the SDO channel for configuration.
func (n *Access) SDO() *sdo.Transaction { return n.sdo }

// SetActTime advances the clock of the node and its SDO channel.
func (n *Access) SetActTime(now time.Time) {
	n.now = now
	n.sdo.SetActTime(now)
	if n.state == sdo.Waiting && now.Sub(n.sentAt) > n.deadline {
		n.onTimeout()
	}
}

// SendControlWord writes value to the drive. With a zero delay the write is
// done once sent; otherwise the node waits up to delay for a status word.
//
// In Idle, Retry and Done a call issues the write. While a control word is
// awaited the call only reports Waiting.
func (n *Access) SendControlWord(value uint16, delay time.Duration) sdo.State {
	switch {
	case n.state.Failed():
		return n.state
	case n.state == sdo.Waiting && n.pending == pendingControl:
		return n.state
	}

	if !n.send(protocol.NewControlWord(n.NodeID(), value)) {
		return n.busy()
	}
	n.controlWord = value
	n.busyRetries = 0
	n.err = nil
	slog.Debug("node: control word sent", "node", n.NodeID(), "cw", fmt.Sprintf("0x%04X", value))

	if delay == 0 {
		n.pending = pendingNone
		n.state = sdo.Done
		return n.state
	}
	n.await(pendingControl, delay)
	return n.state
}

// PollStatusWord requests the status word at most once per cycle. A zero
// cycle polls on every call that finds nothing outstanding.
func (n *Access) PollStatusWord(cycle time.Duration) sdo.State {
	switch {
	case n.state.Failed(), n.state == sdo.Waiting:
		return n.state
	case n.state != sdo.Retry && n.polled && n.now.Sub(n.lastPoll) < cycle:
		return n.state
	}

	if !n.send(protocol.NewStatusWordRequest(n.NodeID())) {
		return n.busy()
	}
	n.busyRetries = 0
	n.err = nil
	n.polled = true
	n.lastPoll = n.now

	timeout := cycle
	if timeout == 0 {
		timeout = DefaultPollTimeout
	}
	n.await(pendingPoll, timeout)
	return n.state
}

func (n *Access) await(p pending, d time.Duration) {
	n.pending = p
	n.state = sdo.Waiting
	n.sentAt = n.now
	n.deadline = d
}

// send writes a frame that expects no SDO answer. The link lock is only
// held for the send itself.
func (n *Access) send(msg protocol.Message) bool {
	if !n.link.Lock() {
		return false
	}
	defer n.link.Unlock()
	return n.link.Send(n.ch, msg)
}

func (n *Access) busy() sdo.State {
	if n.busyRetries < n.busyRetryMax {
		n.busyRetries++
		n.state = sdo.Retry
		n.err = sdo.ErrBusy
		return n.state
	}
	n.state = sdo.Error
	n.err = fmt.Errorf("node %d: %w: %w", n.NodeID(), sdo.ErrRetriesExhausted, sdo.ErrBusy)
	return n.state
}

func (n *Access) onTimeout() {
	n.pending = pendingNone
	if n.timeoutRetries < n.timeoutRetryMax {
		n.timeoutRetries++
		n.state = sdo.Retry
		n.err = sdo.ErrResponseTimeout
		slog.Debug("node: no status word, retrying", "node", n.NodeID(), "retry", n.timeoutRetries)
		return
	}
	n.timeoutRetries = 0
	n.state = sdo.Timeout
	n.err = fmt.Errorf("node %d: %w: %w", n.NodeID(), sdo.ErrRetriesExhausted, sdo.ErrResponseTimeout)
	slog.Debug("node: status word timeout", "node", n.NodeID())
}

func (n *Access) receive(msg protocol.Message) {
	switch msg.Command {
	case protocol.CmdBoot:
		n.live = true
		slog.Info("node: boot notification", "node", msg.NodeID)
	case protocol.CmdEmergency:
		e, err := protocol.DecodeEmergency(msg.Payload)
		if err != nil {
			slog.Warn("node: malformed emergency", "node", msg.NodeID, "err", err)
			return
		}
		n.emergency = e
		n.emcyCount++
		slog.Warn("node: emergency", "node", msg.NodeID, "code", fmt.Sprintf("0x%04X", e.ErrorCode), "register", e.ErrorRegister)
	case protocol.CmdStatusWord:
		sw, err := protocol.DecodeWord(msg.Payload)
		if err != nil {
			slog.Debug("node: malformed status word", "node", msg.NodeID, "err", err)
			return
		}
		n.statusWord = sw
		if n.state == sdo.Waiting {
			n.pending = pendingNone
			n.state = sdo.Done
			n.timeoutRetries = 0
		}
	case protocol.CmdControlWord, protocol.CmdTraceLog:
	default:
		slog.Debug("node: unexpected command", "node", msg.NodeID, "command", msg.Command)
	}
}

// SendReset asks the drive to restart. The node is no longer live until the
// next boot notification.
func (n *Access) SendReset() bool {
	if !n.send(protocol.NewResetRequest(n.NodeID())) {
		return false
	}
	n.live = false
	return true
}

// CheckComState lifts a failed SDO channel into the node state.
func (n *Access) CheckComState() sdo.State {
	if s := n.sdo.State(); s.Failed() {
		n.state = s
	}
	return n.state
}

// Reset idles the node and its SDO channel and clears all retry counters.
func (n *Access) Reset() {
	n.state = sdo.Idle
	n.pending = pendingNone
	n.err = nil
	n.busyRetries = 0
	n.timeoutRetries = 0
	n.sdo.Reset()
}

func (n *Access) ReadObject(obj cia402.Object) sdo.State { return n.sdo.Read(obj) }

func (n *Access) WriteObject(obj cia402.Object, value uint32, size int) sdo.State {
	return n.sdo.Write(obj, value, size)
}

// ObjectValue consumes the value of the last completed read.
func (n *Access) ObjectValue() uint32 { return n.sdo.Value() }

func (n *Access) SDOState() sdo.State { return n.sdo.State() }

func (n *Access) ResetSDOState() { n.sdo.Reset() }
