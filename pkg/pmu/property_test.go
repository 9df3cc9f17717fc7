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

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

// P1: every invalid configuration yields ErrInvalidArgs, performs no
// MSR writes, and leaves the Session byte-identical to how it was
// found.
func TestPropertyValidationTotality(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctl, hw := newTestController(1)
		if err := ctl.Init(); err != nil {
			t.Fatalf("Init: %v", err)
		}
		before := *ctl.session

		cfg := invalidConfigGen().Draw(t, "cfg")
		err := ctl.StageConfig(cfg)
		if !errors.Is(err, ErrInvalidArgs) {
			t.Fatalf("StageConfig(%+v) = %v, want ErrInvalidArgs", cfg, err)
		}
		if len(hw.recordedWrites) != 0 {
			t.Fatalf("StageConfig recorded %d MSR writes, want 0", len(hw.recordedWrites))
		}
		if !cmp.Equal(before, *ctl.session, cmp.AllowUnexported(Session{}, CounterConfig{}, perCPUData{})) {
			t.Fatalf("Session changed after rejected StageConfig")
		}
	})
}

// invalidConfigGen produces a Config that breaks one chosen rule of the
// Control/Fixed/Programmable validators (§4.4), picked at random each
// draw. The debug_ctrl case also sets a bit outside the debug_ctrl
// writable mask.
func invalidConfigGen() *rapid.Generator[*Config] {
	return rapid.Custom(func(t *rapid.T) *Config {
		cfg := validConfig()
		switch rapid.IntRange(0, 4).Draw(t, "violation") {
		case 0: // non-writable global_ctrl bit
			cfg.GlobalCtrl |= uint64(1) << rapid.IntRange(34, 63).Draw(t, "bit")
		case 1: // non-writable fixed_ctrl bit: bits 4-63 are all
			// outside the one configured fixed counter's 4-bit
			// writable group (testPMC has NumFixedCounters == 1).
			cfg.FixedCtrl |= uint64(1) << rapid.IntRange(4, 63).Draw(t, "bit")
		case 2: // debug_ctrl disagrees with the FREEZE policy
			cfg.DebugCtrl = debugCtrlFreezePerfmonOnPMIBit
		case 3: // fixed counter initial_value exceeds the max width
			cfg.Fixed[0].InitialValue = ^uint64(0)
		case 4: // programmable event sets a non-writable PERFEVTSEL bit
			cfg.Programmable[0].Event |= uint64(1) << 32
		}
		return cfg
	})
}

// P2: after a successful stage_config, the front-pack invariant holds
// for both counter arrays: once an id is zero, every later id in the
// same array is also zero, and every nonzero entry's initial_value and
// flags pass their own per-entry bounds.
func TestPropertyFrontPack(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctl, _ := newTestController(1)
		if err := ctl.Init(); err != nil {
			t.Fatalf("Init: %v", err)
		}
		cfg := validConfig()
		if rapid.Bool().Draw(t, "dropFixed") {
			cfg.Fixed = nil
		}
		if rapid.Bool().Draw(t, "dropProgrammable") {
			cfg.Programmable = nil
		}
		if err := ctl.StageConfig(cfg); err != nil {
			t.Fatalf("StageConfig: %v", err)
		}
		checkFrontPack(t, ctl.session.fixed[:], ctl.session.numUsedFixed, ctl.caps.maxFixedValue)
		checkFrontPack(t, ctl.session.programmable[:], ctl.session.numUsedProgrammable, ctl.caps.maxProgrammableValue)
	})
}

func checkFrontPack(t *rapid.T, entries []CounterConfig, numUsed int, maxValue uint64) {
	t.Helper()
	for i, e := range entries {
		if i < numUsed {
			if e.InitialValue > maxValue {
				t.Fatalf("used slot %d: initial_value %d exceeds max %d", i, e.InitialValue, maxValue)
			}
			if e.Flags&^FlagMask != 0 {
				t.Fatalf("used slot %d: flags %#x outside FLAG_MASK", i, e.Flags)
			}
		} else if e.ID != NoEventID {
			t.Fatalf("slot %d beyond numUsed=%d has nonzero id %v", i, numUsed, e.ID)
		}
	}
}

// P3: the sequence init; stage_config; assign_buffer(c) ∀c; start;
// stop; fini always succeeds; calling Start out of order returns
// ErrBadState, except that Start without a buffer returns
// ErrInvalidArgs.
func TestPropertyLifecycleOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctl, _ := newTestController(1)
		// progressTo is how many canonical steps ctl is driven through
		// (0 = untouched, 4 = started, 5 = stopped and finalized); mem
		// is the memory object backing CPU 0's buffer, if one was
		// assigned.
		progressTo := rapid.IntRange(0, 5).Draw(t, "progressTo")
		var mem *fakeMemObject
		if progressTo >= 1 {
			if err := ctl.Init(); err != nil {
				t.Fatalf("Init: %v", err)
			}
		}
		if progressTo >= 2 {
			if err := ctl.StageConfig(validConfig()); err != nil {
				t.Fatalf("StageConfig: %v", err)
			}
		}
		if progressTo >= 3 {
			mem = newFakeMemObject(int(minBufferSize(ctl.caps)))
			if err := ctl.AssignBuffer(0, mem); err != nil {
				t.Fatalf("AssignBuffer: %v", err)
			}
		}
		if progressTo >= 4 {
			if err := ctl.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
		}
		if progressTo == 5 {
			if err := ctl.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if err := ctl.Fini(); err != nil {
				t.Fatalf("Fini: %v", err)
			}
			return
		}
		if progressTo == 3 {
			// Every canonical prerequisite is in place: Start is the
			// correct next operation and must succeed.
			if err := ctl.Start(); err != nil {
				t.Fatalf("Start() at progress 3 (canonical next step): %v", err)
			}
			return
		}
		if progressTo == 2 {
			// CONFIGURED but missing a per-CPU buffer: this is a
			// distinct, more specific precondition failure than a bad
			// state, so Start reports ErrInvalidArgs rather than
			// ErrBadState.
			if err := ctl.Start(); !errors.Is(err, ErrInvalidArgs) {
				t.Fatalf("Start() at progress 2 (no buffer) = %v, want ErrInvalidArgs", err)
			}
			return
		}

		// progressTo is 0 or 1 (state not even CONFIGURED yet) or 4
		// (already RUNNING, so a second Start is itself out of order):
		// calling Start must fail with ErrBadState rather than running
		// with a half-built Session.
		if err := ctl.Start(); !errors.Is(err, ErrBadState) {
			t.Fatalf("Start() at progress %d = %v, want ErrBadState", progressTo, err)
		}
		_ = mem
	})
}

// P4: across a successful start, every recorded write to GLOBAL_CTRL,
// FIXED_CTR_CTRL, and DEBUGCTL stays within that register's writable
// mask.
func TestPropertyNoWritesOutsideWhitelist(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctl, hw := newTestController(1)
		bringUp(t, ctl, 1)
		if err := ctl.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		for _, w := range hw.recordedWrites {
			var mask uint64
			switch w.reg {
			case msrPerfGlobalCtrl:
				mask = ctl.caps.globalCtrlWritableBits
			case msrFixedCtrCtrl:
				mask = ctl.caps.fixedCtrlWritableBits
			case msrDebugCtl:
				mask = ctl.caps.debugCtrlWritableBits
			default:
				continue
			}
			if w.value&^mask != 0 {
				t.Fatalf("write to reg %#x value %#x has bits outside mask %#x", w.reg, w.value, mask)
			}
		}
	})
}

// P5: after stop, each CPU's buffer contains exactly one Value record
// per used counter, in slot order (programmable then fixed), with the
// wraparound-corrected delta.
func TestPropertyStopDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctl, hw := newTestController(1)
		mems := bringUp(t, ctl, 1)
		if err := ctl.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}

		progReading := rapid.Uint64Range(0, ctl.caps.maxProgrammableValue).Draw(t, "progReading")
		fixedReading := rapid.Uint64Range(0, ctl.caps.maxFixedValue).Draw(t, "fixedReading")
		hw.setCPU(0)
		hw.msrs[0][msrPMC0] = progReading
		hw.msrs[0][msrFixedCtr0] = fixedReading

		if err := ctl.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}

		buf := mems[0].buf
		cursor := bufferHeaderSize
		first := decodeHeader(buf, cursor)
		if first.Type != RecordTypeValue {
			t.Fatalf("record 0 type = %d, want Value", first.Type)
		}
		if got, want := decodeValueBody(buf, cursor), wrapCorrectedDelta(progReading, 0, ctl.caps.maxProgrammableValue); got != want {
			t.Fatalf("programmable value = %d, want %d", got, want)
		}
		cursor += valueRecordSize
		second := decodeHeader(buf, cursor)
		if second.Type != RecordTypeValue {
			t.Fatalf("record 1 type = %d, want Value", second.Type)
		}
		if got, want := decodeValueBody(buf, cursor), wrapCorrectedDelta(fixedReading, 0, ctl.caps.maxFixedValue); got != want {
			t.Fatalf("fixed value = %d, want %d", got, want)
		}
	})
}

// P6: an overflow with bit k set appends exactly one record, rewrites
// PMC[k] to its initial_value, and includes bit k when writing
// GLOBAL_STATUS_RESET.
func TestPropertyPMIRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctl, hw := newTestController(1)
		mems := bringUp(t, ctl, 1)
		if err := ctl.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}

		hw.setCPU(0)
		hw.msrs[0][msrPerfGlobalStatus] = 1 << 0 // programmable counter 0
		writesBefore := len(hw.recordedWrites)
		if !ctl.HandlePMI(0, 0x1000) {
			t.Fatalf("HandlePMI: unexpected failure")
		}

		buf := mems[0].buf
		hdr := decodeHeader(buf, bufferHeaderSize)
		if hdr.Type != RecordTypeTick {
			t.Fatalf("record type = %d, want Tick", hdr.Type)
		}
		if got := decodeCaptureEnd(buf); got != uint64(bufferHeaderSize+tickRecordSize) {
			t.Fatalf("capture_end = %d, want exactly one Tick record past the header", got)
		}

		var sawRearm, sawReset bool
		for _, w := range hw.recordedWrites[writesBefore:] {
			if w.reg == msrPMC0 && w.value == 0 {
				sawRearm = true
			}
			if w.reg == msrPerfGlobalStatusRST && w.value&1 != 0 {
				sawReset = true
			}
		}
		if !sawRearm {
			t.Fatalf("PMC0 was not rewritten to its initial_value")
		}
		if !sawReset {
			t.Fatalf("GLOBAL_STATUS_RESET was not written with bit 0 included")
		}
	})
}

// P7: once BufferHeader.flags.FULL is set, no further PMI appends a
// record, regardless of how many more times it fires.
func TestPropertyBufferFullIdempotence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctl, hw := newTestController(1)
		if err := ctl.Init(); err != nil {
			t.Fatalf("Init: %v", err)
		}
		cfg := validConfig()
		cfg.Fixed = nil
		if err := ctl.StageConfig(cfg); err != nil {
			t.Fatalf("StageConfig: %v", err)
		}
		mem := newFakeMemObject(bufferHeaderSize + 2*pcRecordSize)
		if err := ctl.AssignBuffer(0, mem); err != nil {
			t.Fatalf("AssignBuffer: %v", err)
		}
		if err := ctl.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}

		hw.setCPU(0)
		for i := 0; i < 3; i++ {
			hw.msrs[0][msrPerfGlobalStatus] = 1 << 0
			if !ctl.HandlePMI(0, 0) {
				t.Fatalf("HandlePMI #%d: unexpected failure priming the buffer full", i)
			}
		}
		hw.msrs[0][msrPerfGlobalStatus] = 1 << 0
		if ctl.HandlePMI(0, 0) {
			t.Fatalf("HandlePMI: expected failure once the buffer is full")
		}

		before := append([]byte(nil), mem.buf...)
		extraFires := rapid.IntRange(1, 5).Draw(t, "extraFires")
		for i := 0; i < extraFires; i++ {
			hw.msrs[0][msrPerfGlobalStatus] = 1 << 0
			if ctl.HandlePMI(0, 0) {
				t.Fatalf("HandlePMI: expected continued failure on a full buffer")
			}
		}
		if !cmp.Equal(before, mem.buf) {
			t.Fatalf("buffer contents changed after the buffer was already full")
		}
	})
}
