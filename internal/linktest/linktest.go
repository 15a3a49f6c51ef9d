// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package linktest provides a scriptable in-memory link.Link for tests.
package linktest

import (
	"github.com/ffutop/mcdrive/link"
	"github.com/ffutop/mcdrive/protocol"
)

// Responder produces the answers of a simulated device to a sent message.
type Responder func(msg protocol.Message) []protocol.Message

// Link records sent messages and queues the responder's answers until
// Deliver is called, mimicking a reply arriving on a later tick.
type Link struct {
	// Responder answers every successfully sent message. May be nil.
	Responder Responder
	// FailSend makes Send report failure without recording the message.
	FailSend bool

	Sent    []protocol.Message
	Unlocks int

	locked  bool
	nodes   []byte
	sdo     []link.Receiver
	node    []link.Receiver
	pending []protocol.Message
}

// New creates a Link with one channel per node id, in order.
func New(nodeIDs ...byte) *Link {
	l := &Link{
		nodes: append([]byte(nil), nodeIDs...),
		sdo:   make([]link.Receiver, len(nodeIDs)),
		node:  make([]link.Receiver, len(nodeIDs)),
	}
	return l
}

// Channel returns the channel of nodeID, or link.InvalidChannel.
func (l *Link) Channel(nodeID byte) link.Channel {
	for i, id := range l.nodes {
		if id == nodeID {
			return link.Channel(i)
		}
	}
	return link.InvalidChannel
}

func (l *Link) valid(ch link.Channel) bool {
	return ch >= 0 && int(ch) < len(l.nodes)
}

func (l *Link) Send(ch link.Channel, msg protocol.Message) bool {
	if l.FailSend || !l.valid(ch) {
		return false
	}
	msg.NodeID = l.nodes[ch]
	l.Sent = append(l.Sent, msg)
	if l.Responder != nil {
		l.pending = append(l.pending, l.Responder(msg)...)
	}
	return true
}

func (l *Link) Lock() bool {
	if l.locked {
		return false
	}
	l.locked = true
	return true
}

func (l *Link) Unlock() {
	if l.locked {
		l.Unlocks++
	}
	l.locked = false
}

// Locked reports whether the exclusive lock is held.
func (l *Link) Locked() bool { return l.locked }

func (l *Link) RegisterSDOReceiver(ch link.Channel, r link.Receiver) {
	if l.valid(ch) {
		l.sdo[ch] = r
	}
}

func (l *Link) RegisterNodeReceiver(ch link.Channel, r link.Receiver) {
	if l.valid(ch) {
		l.node[ch] = r
	}
}

func (l *Link) NodeID(ch link.Channel) byte {
	if !l.valid(ch) {
		return 0
	}
	return l.nodes[ch]
}

// Pending is the number of queued answers.
func (l *Link) Pending() int { return len(l.pending) }

// Drop discards all queued answers, as if they were lost on the wire.
func (l *Link) Drop() { l.pending = nil }

// Deliver hands all queued answers to the registered receivers and returns
// how many were delivered. Answers queued while delivering wait for the next
// call.
func (l *Link) Deliver() int {
	msgs := l.pending
	l.pending = nil
	for _, m := range msgs {
		l.Inject(m)
	}
	return len(msgs)
}

// Inject delivers msg immediately, routed by node id and command.
func (l *Link) Inject(msg protocol.Message) {
	ch := l.Channel(msg.NodeID)
	if ch == link.InvalidChannel {
		return
	}
	r := l.node[ch]
	if msg.Command.IsSDO() {
		r = l.sdo[ch]
	}
	if r != nil {
		r(msg)
	}
}

// Reset forgets sent messages and queued answers.
func (l *Link) Reset() {
	l.Sent = nil
	l.pending = nil
	l.Unlocks = 0
}

// SentCommands lists the commands of the sent messages in order.
func (l *Link) SentCommands() []protocol.Command {
	cmds := make([]protocol.Command, len(l.Sent))
	for i, m := range l.Sent {
		cmds[i] = m.Command
	}
	return cmds
}
