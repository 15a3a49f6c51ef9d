// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package link

import (
	"context"
	"io"

	"github.com/ffutop/mcdrive/protocol"
)

// Channel identifies one drive node registered at a link.
type Channel int

const InvalidChannel Channel = -1

// Receiver handles a message addressed to a channel. Receivers run on the
// control loop and must not block.
type Receiver func(msg protocol.Message)

// Link is the shared half-duplex connection to one or more drive nodes.
//
// The lock is the only arbitration between users of the same link: an SDO
// request holds it until its answer arrived, so a failed Lock means another
// request is in flight and the caller has to try again on a later tick.
type Link interface {
	// Send frames msg for the node behind ch. It reports whether the frame
	// was handed to the wire.
	Send(ch Channel, msg protocol.Message) bool
	// Lock tries to take the exclusive lock without blocking.
	Lock() bool
	Unlock()
	// RegisterSDOReceiver installs the handler for SDO answers of ch.
	RegisterSDOReceiver(ch Channel, r Receiver)
	// RegisterNodeReceiver installs the handler for all other messages of ch
	// (status word, boot, emergency).
	RegisterNodeReceiver(ch Channel, r Receiver)
	NodeID(ch Channel) byte
}

// Backend is the byte stream under a Handler.
type Backend interface {
	Connect(ctx context.Context) error
	io.ReadWriter
	Close() error
}
