// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sdo

import (
	"errors"
	"fmt"

	"github.com/ffutop/mcdrive/cia402"
	"github.com/ffutop/mcdrive/protocol"
)

var (
	// ErrBusy means the link could not be locked or refused the frame.
	ErrBusy = errors.New("sdo: link busy")
	// ErrResponseTimeout means no matching answer arrived in time.
	ErrResponseTimeout = errors.New("sdo: response timeout")
	// ErrProtocolMismatch means an answer did not fit the outstanding request.
	ErrProtocolMismatch = errors.New("sdo: protocol mismatch")
	// ErrRetriesExhausted wraps the cause once a retry maximum is exceeded.
	ErrRetriesExhausted = errors.New("sdo: retries exhausted")
)

// MismatchError describes an answer that does not belong to the request.
type MismatchError struct {
	Want    cia402.Object
	Got     cia402.Object
	Command protocol.Command
	Reason  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("sdo: %s: %s for %s (outstanding %s)", e.Reason, e.Command, e.Got, e.Want)
}

func (e *MismatchError) Unwrap() error { return ErrProtocolMismatch }

// AbortError is an abort answer of the drive.
type AbortError struct {
	Object cia402.Object
	Code   uint32
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("sdo: access to %s aborted with 0x%08X (%s)", e.Object, e.Code, protocol.AbortCodeText(e.Code))
}

// Unwrap makes an abort count as a protocol mismatch.
func (e *AbortError) Unwrap() error { return ErrProtocolMismatch }
