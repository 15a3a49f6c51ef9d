// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package protocol

import (
	"fmt"
)

const (
	statePrefix = 1 << iota
	stateLength
	stateBody
	stateSuffix
)

// Framer assembles frames from a byte stream. Bytes outside a frame are
// skipped until the next prefix. After a framing error the bytes following
// the failed prefix are scanned again, so a stray prefix or a truncated
// frame does not cost the frame behind it.
type Framer struct {
	state  int
	buf    [MaxSize]byte
	n      int
	toRead int
}

// Feed pushes p through the framer. emit is called once per complete frame
// and once per framing error; the frame slice is only valid during the call.
func (f *Framer) Feed(p []byte, emit func(frame []byte, err error)) {
	for _, b := range p {
		f.push(b, emit)
	}
}

func (f *Framer) push(b byte, emit func([]byte, error)) {
	switch f.state {
	case stateLength:
		// length counts itself, node, command, payload and crc
		if int(b) < MinSize-2 || int(b)+2 > MaxSize {
			f.reset()
			emit(nil, &InvalidLengthError{Length: b})
			if b == Prefix {
				f.push(b, emit)
			}
			return
		}
		f.buf[f.n] = b
		f.n++
		f.toRead = int(b) - 1
		f.state = stateBody
	case stateBody:
		f.buf[f.n] = b
		f.n++
		f.toRead--
		if f.toRead == 0 {
			f.state = stateSuffix
		}
	case stateSuffix:
		if b != Suffix {
			var rest [MaxSize]byte
			n := copy(rest[:], f.buf[1:f.n])
			rest[n] = b
			f.reset()
			emit(nil, fmt.Errorf("%w: got %#02x", ErrSuffix, b))
			f.Feed(rest[:n+1], emit)
			return
		}
		f.buf[f.n] = b
		f.n++
		frame := f.buf[:f.n]
		f.reset()
		emit(frame, nil)
	default:
		if b == Prefix {
			f.buf[0] = b
			f.n = 1
			f.state = stateLength
		}
	}
}

func (f *Framer) reset() {
	f.state = statePrefix
	f.n = 0
	f.toRead = 0
}
