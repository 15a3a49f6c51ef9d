// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sdo implements single outstanding object reads and writes with
// bounded busy and timeout retries.
package sdo

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/link"
	"github.com/ffutop/mcdrive/protocol"
)

const (
	DefaultBusyRetryMax    = 3
	DefaultTimeoutRetryMax = 1
	DefaultResponseTimeout = 20 * time.Millisecond
)

// Transaction is one SDO channel of a node. At most one request is in
// flight; the link lock is held from a successful send until the answer,
// a timeout or Reset.
//
// Transaction is not safe for concurrent use. Time only advances through
// SetActTime.
type Transaction struct {
	link link.Link
	ch   link.Channel

	state State
	err   error

	obj   cia402.Object
	dir   Direction
	value uint32

	busyRetries     int
	busyRetryMax    int
	timeoutRetries  int
	timeoutRetryMax int

	timeout time.Duration
	now     time.Time
	sentAt  time.Time
	armed   bool
	locked  bool
}

// NewTransaction creates a Transaction for ch and registers it as the SDO
// receiver of that channel.
func NewTransaction(l link.Link, ch link.Channel) *Transaction {
	t := &Transaction{
		link:            l,
		ch:              ch,
		busyRetryMax:    DefaultBusyRetryMax,
		timeoutRetryMax: DefaultTimeoutRetryMax,
		timeout:         DefaultResponseTimeout,
	}
	l.RegisterSDOReceiver(ch, t.receive)
	return t
}

func (t *Transaction) State() State { return t.state }

// Err is the cause of the last Retry, Error or Timeout, nil after success.
func (t *Transaction) Err() error { return t.err }

// Object is the object of the current or last request.
func (t *Transaction) Object() cia402.Object { return t.obj }

func (t *Transaction) BusyRetries() int    { return t.busyRetries }
func (t *Transaction) TimeoutRetries() int { return t.timeoutRetries }

func (t *Transaction) SetBusyRetryMax(n int)    { t.busyRetryMax = n }
func (t *Transaction) SetTimeoutRetryMax(n int) { t.timeoutRetryMax = n }

// SetResponseTimeout sets how long an answer may take after the send.
func (t *Transaction) SetResponseTimeout(d time.Duration) { t.timeout = d }

// Read requests the value of obj. It only acts in Idle and Retry; in any
// other state it returns the current state unchanged.
func (t *Transaction) Read(obj cia402.Object) State {
	if !t.state.CanIssue() {
		return t.state
	}
	t.obj, t.dir = obj, Read
	return t.issue(protocol.NewSDOReadRequest(t.link.NodeID(t.ch), obj.Index, obj.SubIndex))
}

// Write stores the low size bytes of value in obj. size is 1, 2 or 4.
func (t *Transaction) Write(obj cia402.Object, value uint32, size int) State {
	if !t.state.CanIssue() {
		return t.state
	}
	t.obj, t.dir = obj, Write
	data, err := protocol.EncodeValue(value, size)
	if err != nil {
		t.state = Error
		t.err = fmt.Errorf("sdo: write %s: %w", obj, err)
		return t.state
	}
	return t.issue(protocol.NewSDOWriteRequest(t.link.NodeID(t.ch), obj.Index, obj.SubIndex, data))
}

func (t *Transaction) issue(msg protocol.Message) State {
	if !t.link.Lock() {
		return t.busy()
	}
	t.locked = true
	if !t.link.Send(t.ch, msg) {
		t.release()
		return t.busy()
	}

	t.state = Waiting
	t.err = nil
	t.busyRetries = 0
	t.sentAt = t.now
	t.armed = true
	slog.Debug("sdo: request sent", "node", msg.NodeID, "dir", t.dir, "object", t.obj)
	return t.state
}

func (t *Transaction) busy() State {
	if t.busyRetries < t.busyRetryMax {
		t.busyRetries++
		t.state = Retry
		t.err = ErrBusy
		return t.state
	}
	t.state = Error
	t.err = fmt.Errorf("%w: %w", ErrRetriesExhausted, ErrBusy)
	slog.Debug("sdo: busy retries exhausted", "node", t.link.NodeID(t.ch), "object", t.obj)
	return t.state
}

// SetActTime advances the transaction clock and fires the response timeout.
func (t *Transaction) SetActTime(now time.Time) {
	t.now = now
	if t.armed && now.Sub(t.sentAt) > t.timeout {
		t.onTimeout()
	}
}

func (t *Transaction) onTimeout() {
	t.armed = false
	t.release()
	if t.timeoutRetries < t.timeoutRetryMax {
		t.timeoutRetries++
		t.state = Retry
		t.err = ErrResponseTimeout
		slog.Debug("sdo: response timeout, retrying", "node", t.link.NodeID(t.ch), "object", t.obj, "retry", t.timeoutRetries)
		return
	}
	t.timeoutRetries = 0
	t.state = Timeout
	t.err = fmt.Errorf("%w: %w", ErrRetriesExhausted, ErrResponseTimeout)
	slog.Debug("sdo: response timeout", "node", t.link.NodeID(t.ch), "object", t.obj)
}

func (t *Transaction) receive(msg protocol.Message) {
	switch msg.Command {
	case protocol.CmdSDORead, protocol.CmdSDOWrite:
		t.answer(msg)
	case protocol.CmdSDOAbort:
		index, sub, code, err := protocol.DecodeSDOAbort(msg.Payload)
		if err != nil {
			t.fail(&MismatchError{Want: t.obj, Command: msg.Command, Reason: err.Error()})
			return
		}
		t.fail(&AbortError{Object: cia402.Object{Index: index, SubIndex: sub}, Code: code})
	default:
		t.fail(&MismatchError{Want: t.obj, Command: msg.Command, Reason: "unexpected command"})
	}
}

func (t *Transaction) answer(msg protocol.Message) {
	index, sub, data, err := protocol.DecodeSDO(msg.Payload)
	if err != nil {
		t.fail(&MismatchError{Want: t.obj, Command: msg.Command, Reason: err.Error()})
		return
	}
	got := cia402.Object{Index: index, SubIndex: sub}

	switch {
	case t.state != Waiting && t.state != Retry:
		t.fail(&MismatchError{Want: t.obj, Got: got, Command: msg.Command, Reason: "no request outstanding"})
		return
	case got != t.obj:
		t.fail(&MismatchError{Want: t.obj, Got: got, Command: msg.Command, Reason: "wrong object"})
		return
	case (msg.Command == protocol.CmdSDORead) != (t.dir == Read):
		t.fail(&MismatchError{Want: t.obj, Got: got, Command: msg.Command, Reason: "wrong direction"})
		return
	}

	if t.dir == Read {
		v, err := protocol.DecodeValue(data)
		if err != nil {
			t.fail(&MismatchError{Want: t.obj, Got: got, Command: msg.Command, Reason: err.Error()})
			return
		}
		t.value = v
	}

	t.armed = false
	t.release()
	t.timeoutRetries = 0
	t.state = Done
	t.err = nil
	slog.Debug("sdo: request done", "node", msg.NodeID, "dir", t.dir, "object", t.obj, "value", t.value)
}

func (t *Transaction) fail(err error) {
	t.armed = false
	t.release()
	t.state = Error
	t.err = err
	slog.Debug("sdo: request failed", "node", t.link.NodeID(t.ch), "err", err)
}

// Value returns the last read value. A Done state is consumed and becomes
// Idle.
func (t *Transaction) Value() uint32 {
	if t.state == Done {
		t.state = Idle
	}
	return t.value
}

// Reset forces Idle, zeroes both retry counters and releases a held lock.
func (t *Transaction) Reset() {
	t.armed = false
	t.release()
	t.state = Idle
	t.err = nil
	t.busyRetries = 0
	t.timeoutRetries = 0
}

func (t *Transaction) release() {
	if t.locked {
		t.locked = false
		t.link.Unlock()
	}
}
