// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package emulator

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ffutop/mcdrive/internal/config"
	"github.com/ffutop/mcdrive/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBusFromConfig(t *testing.T) {
	b, err := NewBusFromConfig(config.EmulatorConfig{NodeIDs: "3,1-2", MoveTicks: 2})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, []byte{1, 2, 3}, b.NodeIDs())
	assert.NotNil(t, b.Drive(2))
	assert.Nil(t, b.Drive(4))

	assert.Error(t, b.Add(b.Drive(1)))

	_, err = NewBusFromConfig(config.EmulatorConfig{NodeIDs: "x"})
	assert.Error(t, err)
}

func TestBus_Handle(t *testing.T) {
	b, err := NewBusFromConfig(config.EmulatorConfig{NodeIDs: "1,2"})
	require.NoError(t, err)

	out := b.Handle(protocol.NewStatusWordRequest(2))
	require.Len(t, out, 1)
	assert.Equal(t, protocol.NewStatusWord(2, 0x0250), out[0])
	assert.Nil(t, b.Handle(protocol.NewStatusWordRequest(9)))
}

func TestBus_RunBroadcasts(t *testing.T) {
	b, err := NewBusFromConfig(config.EmulatorConfig{NodeIDs: "1", MoveTicks: 1})
	require.NoError(t, err)

	got := make(chan []protocol.Message, 4)
	cancel := b.Subscribe(func(m []protocol.Message) { got <- m })
	defer cancel()

	b.InjectFault(1, 0x5530)
	msgs := <-got
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.CmdEmergency, msgs[0].Command)

	mock := clock.NewMock()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, mock, 10*time.Millisecond)
		close(done)
	}()
	// Let Run create its ticker before moving the clock.
	time.Sleep(10 * time.Millisecond)
	mock.Add(30 * time.Millisecond)
	stop()
	<-done
	assert.Empty(t, got, "a faulted drive does not change its status word")
}

func TestBus_Serve(t *testing.T) {
	b, err := NewBusFromConfig(config.EmulatorConfig{NodeIDs: "1"})
	require.NoError(t, err)

	host, remote := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Serve(ctx, remote) }()

	rawMsg := protocol.NewControlWord(1, 0x06)
	raw, err := rawMsg.Encode()
	require.NoError(t, err)
	// Noise and a frame for an absent node must not disturb the stream.
	absentMsg := protocol.NewStatusWordRequest(7)
	absent, err := absentMsg.Encode()
	require.NoError(t, err)
	go host.Write(append(append([]byte{0x00}, absent...), raw...))

	require.NoError(t, host.SetReadDeadline(time.Now().Add(2*time.Second)))
	assert.Equal(t, protocol.NewStatusWord(1, 0x0231), readMessage(t, host))

	cancel()
	select {
	case <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

// readMessage reads r until one frame decodes.
func readMessage(t *testing.T, r io.Reader) protocol.Message {
	t.Helper()
	var f protocol.Framer
	var msg *protocol.Message
	buf := make([]byte, protocol.MaxSize)
	for msg == nil {
		n, err := r.Read(buf)
		require.NoError(t, err)
		f.Feed(buf[:n], func(frame []byte, err error) {
			if err != nil || msg != nil {
				return
			}
			msg, err = protocol.Decode(frame)
			require.NoError(t, err)
		})
	}
	return *msg
}
