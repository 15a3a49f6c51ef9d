// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package cia402

import "testing"

func TestStateOf(t *testing.T) {
	tests := []struct {
		sw   uint16
		want State
	}{
		{0x0040, StateSwitchOnDisabled},
		{0x0250, StateSwitchOnDisabled}, // voltage and remote bits are masked
		{0x0021, StateReadyToSwitchOn},
		{0x0023, StateSwitchedOn},
		{0x1427, StateOperationEnabled},
		{0x0007, StateQuickStopActive},
		{0x0008, StateFault},
		{0x0028, StateFault},
		{0x0000, StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := StateOf(tt.sw); got != tt.want {
				t.Errorf("StateOf(%#04x) = %v, want %v", tt.sw, got, tt.want)
			}
		})
	}
}

func TestObject_Compare(t *testing.T) {
	if ObjMotorTemperature.Compare(ObjErrorRegister) != 1 {
		t.Error("0x2326 must sort after 0x2320")
	}
	if (Object{0x2326, 1}).Compare(ObjMotorTemperature) != -1 {
		t.Error("sub index 1 must sort before sub index 3")
	}
	if ObjStatusWord.Compare(Object{0x6041, 0}) != 0 {
		t.Error("equal objects must compare 0")
	}
	if ObjMotorTemperature.String() != "0x2326.03" {
		t.Errorf("String() = %q", ObjMotorTemperature.String())
	}
}
