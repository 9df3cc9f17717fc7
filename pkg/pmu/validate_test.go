// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pmu

import "testing"

// TestValidateControlAcceptsFixedCounterPMIBit guards against
// regressing fixedCtrlWritableBits to a 3-bit-per-counter mask: bit 3
// of each 4-bit IA32_FIXED_CTR_CTRL group is that counter's PMI
// enable, and interrupt-driven fixed-counter sampling (S1/S2) depends
// on StageConfig accepting it.
func TestValidateControlAcceptsFixedCounterPMIBit(t *testing.T) {
	ctl, _ := newTestController(1)
	if err := ctl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg := validConfig()
	cfg.FixedCtrl = 0x8 | 0x1 // EN_OS | PMI for fixed counter 0
	if err := ctl.StageConfig(cfg); err != nil {
		t.Fatalf("StageConfig with fixed-counter PMI bit set: %v", err)
	}
}

func TestValidateControlRejectsBitBeyondConfiguredFixedCounters(t *testing.T) {
	ctl, _ := newTestController(1)
	if err := ctl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg := validConfig()
	cfg.FixedCtrl |= 1 << 4 // testPMC has a single fixed counter; group 1 is unwritable
	if err := ctl.StageConfig(cfg); err == nil {
		t.Fatalf("StageConfig accepted a bit outside the configured fixed counters")
	}
}
