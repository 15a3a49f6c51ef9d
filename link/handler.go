// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package link

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/ffutop/mcdrive/protocol"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const (
	defaultRxQueue         = 64
	defaultConnectAttempts = 3
	defaultConnectDelay    = 500 * time.Millisecond
	readBufferSize         = 256
)

type slot struct {
	nodeID byte
	sdo    Receiver
	node   Receiver
}

// Handler implements Link on top of a Backend.
//
// A reader goroutine assembles frames and queues them; Dispatch delivers the
// queue on the caller's goroutine, so receivers run on the control loop that
// also drives the state machines. Registration and Dispatch belong to that
// loop and are not synchronized.
type Handler struct {
	backend Backend

	ConnectAttempts uint
	ConnectDelay    time.Duration

	locked  *atomic.Bool
	dropped *atomic.Uint64

	slots []slot
	rx    chan protocol.Message

	wmu     sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	readErr error
}

// NewHandler creates a Handler. rxQueue bounds the number of frames waiting
// for Dispatch; zero selects a default.
func NewHandler(backend Backend, rxQueue int) *Handler {
	if rxQueue <= 0 {
		rxQueue = defaultRxQueue
	}
	return &Handler{
		backend:         backend,
		ConnectAttempts: defaultConnectAttempts,
		ConnectDelay:    defaultConnectDelay,
		locked:          atomic.NewBool(false),
		dropped:         atomic.NewUint64(0),
		rx:              make(chan protocol.Message, rxQueue),
	}
}

// AddNode registers a node id and returns its channel. Adding the same id
// twice returns the existing channel.
func (h *Handler) AddNode(nodeID byte) Channel {
	for i, s := range h.slots {
		if s.nodeID == nodeID {
			return Channel(i)
		}
	}
	h.slots = append(h.slots, slot{nodeID: nodeID})
	return Channel(len(h.slots) - 1)
}

func (h *Handler) valid(ch Channel) bool {
	return ch >= 0 && int(ch) < len(h.slots)
}

func (h *Handler) NodeID(ch Channel) byte {
	if !h.valid(ch) {
		return 0
	}
	return h.slots[ch].nodeID
}

func (h *Handler) RegisterSDOReceiver(ch Channel, r Receiver) {
	if h.valid(ch) {
		h.slots[ch].sdo = r
	}
}

func (h *Handler) RegisterNodeReceiver(ch Channel, r Receiver) {
	if h.valid(ch) {
		h.slots[ch].node = r
	}
}

func (h *Handler) Lock() bool {
	return h.locked.CompareAndSwap(false, true)
}

func (h *Handler) Unlock() {
	h.locked.Store(false)
}

// Locked reports whether the exclusive lock is taken.
func (h *Handler) Locked() bool {
	return h.locked.Load()
}

// Dropped is the number of frames discarded because the queue was full.
func (h *Handler) Dropped() uint64 {
	return h.dropped.Load()
}

// Send encodes msg for the node of ch and writes it to the backend.
func (h *Handler) Send(ch Channel, msg protocol.Message) bool {
	if !h.valid(ch) {
		slog.Warn("link: send on unknown channel", "channel", ch)
		return false
	}
	msg.NodeID = h.slots[ch].nodeID

	raw, err := msg.Encode()
	if err != nil {
		slog.Error("link: failed to encode frame", "node", msg.NodeID, "err", err)
		return false
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()

	if _, err := h.backend.Write(raw); err != nil {
		slog.Warn("link: write failed", "node", msg.NodeID, "err", err)
		return false
	}
	slog.Debug("send to drive", "frame", hex.EncodeToString(raw))
	return true
}

// Start connects the backend and starts the reader.
func (h *Handler) Start(ctx context.Context) error {
	err := retry.Do(
		func() error { return h.backend.Connect(ctx) },
		retry.Context(ctx),
		retry.Attempts(h.ConnectAttempts),
		retry.Delay(h.ConnectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("link: connect failed, retrying", "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("link: failed to connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.readErr = h.readLoop(ctx)
	}()
	return nil
}

// readLoop frames received bytes into the rx queue. It returns the error
// that ended the connection, nil when ctx ended it.
func (h *Handler) readLoop(ctx context.Context) error {
	var framer protocol.Framer
	buf := make([]byte, readBufferSize)
	emit := func(frame []byte, err error) {
		if err != nil {
			slog.Debug("link: framing error", "err", err)
			return
		}
		slog.Debug("recv from drive", "frame", hex.EncodeToString(frame))
		msg, err := protocol.Decode(frame)
		if err != nil {
			slog.Debug("link: dropping frame", "err", err)
			return
		}
		h.enqueue(*msg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := h.backend.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				slog.Error("link: connection closed", "err", err)
				return fmt.Errorf("link: connection lost: %w", err)
			}
			continue
		}
		framer.Feed(buf[:n], emit)
	}
}

func (h *Handler) enqueue(msg protocol.Message) {
	select {
	case h.rx <- msg:
	default:
		h.dropped.Inc()
		slog.Warn("link: receive queue full, frame dropped", "node", msg.NodeID, "command", msg.Command)
	}
}

// Dispatch delivers all queued frames to their receivers and returns how
// many were delivered. It never blocks.
func (h *Handler) Dispatch() int {
	n := 0
	for {
		select {
		case msg := <-h.rx:
			h.deliver(msg)
			n++
		default:
			return n
		}
	}
}

func (h *Handler) deliver(msg protocol.Message) {
	for _, s := range h.slots {
		if s.nodeID != msg.NodeID {
			continue
		}
		r := s.node
		if msg.Command.IsSDO() {
			r = s.sdo
		}
		if r != nil {
			r(msg)
		}
		return
	}
	slog.Debug("link: frame for unknown node", "node", msg.NodeID, "command", msg.Command)
}

// Close stops the reader and closes the backend. A connection lost before
// Close is reported along with the close error.
func (h *Handler) Close() error {
	if h.cancel != nil {
		h.cancel()
	}
	err := h.backend.Close()
	h.wg.Wait()
	return multierr.Append(h.readErr, err)
}
