// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ffutop/mcdrive/protocol"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeBackend feeds Read from an io.Pipe and records writes.
type pipeBackend struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	written  bytes.Buffer
	connects int
	failures int
}

func newPipeBackend() *pipeBackend {
	r, w := io.Pipe()
	return &pipeBackend{r: r, w: w}
}

func (b *pipeBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.failures > 0 {
		b.failures--
		return errors.New("port busy")
	}
	return nil
}

func (b *pipeBackend) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *pipeBackend) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written.Write(p)
}

func (b *pipeBackend) Close() error {
	b.r.Close()
	return nil
}

func (b *pipeBackend) Written() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.written.Bytes()...)
}

func TestHandler_Lock(t *testing.T) {
	h := NewHandler(newPipeBackend(), 0)

	require.True(t, h.Lock())
	assert.False(t, h.Lock(), "second Lock must fail while held")
	assert.True(t, h.Locked())
	h.Unlock()
	assert.False(t, h.Locked())
	assert.True(t, h.Lock())
}

func TestHandler_AddNode(t *testing.T) {
	h := NewHandler(newPipeBackend(), 0)

	a := h.AddNode(1)
	b := h.AddNode(2)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, h.AddNode(1))
	assert.Equal(t, byte(2), h.NodeID(b))
	assert.Equal(t, byte(0), h.NodeID(InvalidChannel))
}

func TestHandler_Send(t *testing.T) {
	backend := newPipeBackend()
	h := NewHandler(backend, 0)
	ch := h.AddNode(3)

	require.True(t, h.Send(ch, protocol.NewStatusWordRequest(0)))
	assert.False(t, h.Send(Channel(7), protocol.NewStatusWordRequest(0)))

	wantMsg := protocol.NewStatusWordRequest(3)
	want, err := wantMsg.Encode()
	require.NoError(t, err)
	if diff := cmp.Diff(want, backend.Written()); diff != "" {
		t.Errorf("written frame mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_Dispatch(t *testing.T) {
	backend := newPipeBackend()
	h := NewHandler(backend, 0)
	h.ConnectDelay = time.Millisecond
	backend.failures = 1

	ch1 := h.AddNode(1)
	ch2 := h.AddNode(2)

	var sdo1, node1, node2 []protocol.Message
	h.RegisterSDOReceiver(ch1, func(m protocol.Message) { sdo1 = append(sdo1, m) })
	h.RegisterNodeReceiver(ch1, func(m protocol.Message) { node1 = append(node1, m) })
	h.RegisterNodeReceiver(ch2, func(m protocol.Message) { node2 = append(node2, m) })

	require.NoError(t, h.Start(context.Background()))
	defer h.Close()
	assert.Equal(t, 2, backend.connects, "connect should be retried once")

	frames := []protocol.Message{
		protocol.NewSDOReadResponse(1, 0x6041, 0, []byte{0x37, 0x02}),
		protocol.NewStatusWord(1, 0x0237),
		protocol.NewStatusWord(2, 0x0250),
		protocol.NewSDOWriteResponse(2, 0x6060, 0), // no SDO receiver on node 2
		protocol.NewStatusWord(9, 0x0250),          // unknown node
	}
	var stream []byte
	for _, m := range frames {
		raw, err := m.Encode()
		require.NoError(t, err)
		stream = append(stream, raw...)
	}
	// Line noise ahead of the first frame must be skipped.
	stream = append([]byte{0x00, 0xFF}, stream...)

	go backend.w.Write(stream)

	total := 0
	deadline := time.Now().Add(2 * time.Second)
	for total < len(frames) && time.Now().Before(deadline) {
		total += h.Dispatch()
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, len(frames), total)

	require.Len(t, sdo1, 1)
	assert.Equal(t, protocol.CmdSDORead, sdo1[0].Command)
	require.Len(t, node1, 1)
	assert.Equal(t, protocol.CmdStatusWord, node1[0].Command)
	require.Len(t, node2, 1)
	sw, err := protocol.DecodeWord(node2[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0250), sw)
}

func TestHandler_DropsWhenQueueFull(t *testing.T) {
	h := NewHandler(newPipeBackend(), 1)
	h.enqueue(protocol.NewStatusWord(1, 1))
	h.enqueue(protocol.NewStatusWord(1, 2))
	assert.Equal(t, uint64(1), h.Dropped())
	assert.Equal(t, 1, h.Dispatch())
}

func TestHandler_CloseReportsLostConnection(t *testing.T) {
	backend := newPipeBackend()
	h := NewHandler(backend, 0)

	backend.w.Close()
	err := h.readLoop(context.Background())
	require.ErrorIs(t, err, io.EOF)
	h.readErr = err

	assert.ErrorIs(t, h.Close(), io.EOF)
}

func TestHandler_FeedResynchronizes(t *testing.T) {
	backend := newPipeBackend()
	h := NewHandler(backend, 0)
	ch := h.AddNode(3)
	var got []protocol.Message
	h.RegisterNodeReceiver(ch, func(m protocol.Message) { got = append(got, m) })

	rawMsg := protocol.NewStatusWord(3, 0x0237)
	raw, err := rawMsg.Encode()
	require.NoError(t, err)
	// A stray prefix and a truncated frame ahead of the answer.
	stream := append([]byte{protocol.Prefix}, raw...)
	stream = append(stream, protocol.Prefix, 0x06, 0x03, 0x05)
	stream = append(stream, raw...)

	go func() {
		backend.w.Write(stream)
		backend.w.Close()
	}()
	require.Error(t, h.readLoop(context.Background()))
	assert.Equal(t, 2, h.Dispatch())
	assert.Equal(t, []protocol.Message{protocol.NewStatusWord(3, 0x0237), protocol.NewStatusWord(3, 0x0237)}, got)
}
