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

// HandlePMI is the Performance Monitoring Interrupt handler (§4.6).
// It runs in interrupt context with interrupts already disabled on
// cpu: it never allocates, never blocks, never faults, and completes
// in time bounded by the number of counters the session uses.
//
// ip is the instruction pointer from the interrupting trap frame,
// supplied by the platform's interrupt dispatch (out of this core's
// scope, SPEC_FULL.md §1). success reports whether the handler left
// the PMU armed for further interrupts; false means either no session
// is active, or the session's buffer on cpu is full and counting has
// been left disabled until the next stop.
func (ctl *Controller) HandlePMI(cpu int, ip uintptr) (success bool) {
	// Step 1: PerfmonActive is the sole publication mechanism between
	// Start/Stop and this handler (§5). A false snapshot means either
	// no session is running or stop is tearing one down; either way
	// touching the Session here would race.
	if !ctl.active.Load() {
		ctl.hw.IssueEOI()
		return false
	}

	// Step 2: stop non-overflowed counters from accumulating further
	// while we handle this interrupt (debugCtrlFreezeOnPMI is false in
	// every configuration this package stages, so hardware never does
	// this for us).
	ctl.hw.WriteMSR(msrPerfGlobalCtrl, 0)

	s := ctl.session
	cd := &s.cpus[cpu]

	// Step 3: conservative space check sized for the worst case (every
	// used counter overflowing and every one emitting the largest
	// record kind).
	spaceNeeded := (s.numUsedProgrammable + s.numUsedFixed) * pcRecordSize
	if cd.bufferNext+spaceNeeded > len(cd.mapping) {
		setBufferHeaderFlags(cd.mapping, bufferFlagFull)
		ctl.hw.IssueEOI()
		return false
	}

	// Step 4.
	status := ctl.hw.ReadMSR(msrPerfGlobalStatus)
	cr3 := ctl.hw.ReadCR3()
	now := ctl.hw.ReadTSC()

	if status&ctl.caps.counterStatusBits != 0 {
		sawTimebase := false

		// Pass A: slot order, programmable before fixed (tie-break
		// rule for simultaneous overflows).
		for i := 0; i < s.numUsedProgrammable; i++ {
			entry := &s.programmable[i]
			if status&(uint64(1)<<uint(entry.hwIndex)) == 0 {
				continue
			}
			isTimebase := s.timebaseEvent != NoEventID && entry.ID == s.timebaseEvent
			if isTimebase {
				sawTimebase = true
			} else if entry.Flags&FlagTimebase != 0 {
				continue // handled in Pass B only
			}
			if entry.Flags&FlagPC != 0 {
				cd.bufferNext = writePcRecord(cd.mapping, cd.bufferNext, entry.ID, now, uint64(cr3), uint64(ip))
			} else {
				cd.bufferNext = writeTickRecord(cd.mapping, cd.bufferNext, entry.ID, now)
			}
			ctl.hw.WriteMSR(msrPMC0+uintptr(entry.hwIndex), entry.InitialValue)
		}
		for i := 0; i < s.numUsedFixed; i++ {
			entry := &s.fixed[i]
			if status&(uint64(1)<<uint(32+entry.hwIndex)) == 0 {
				continue
			}
			isTimebase := s.timebaseEvent != NoEventID && entry.ID == s.timebaseEvent
			if isTimebase {
				sawTimebase = true
			} else if entry.Flags&FlagTimebase != 0 {
				continue
			}
			if entry.Flags&FlagPC != 0 {
				cd.bufferNext = writePcRecord(cd.mapping, cd.bufferNext, entry.ID, now, uint64(cr3), uint64(ip))
			} else {
				cd.bufferNext = writeTickRecord(cd.mapping, cd.bufferNext, entry.ID, now)
			}
			ctl.hw.WriteMSR(msrFixedCtr0+uintptr(entry.hwIndex), entry.InitialValue)
		}

		// Pass B: every timebase-gated counter gets one Value sample
		// whenever the timebase event overflows, regardless of its own
		// overflow bit.
		if sawTimebase {
			for i := 0; i < s.numUsedProgrammable; i++ {
				entry := &s.programmable[i]
				if entry.Flags&FlagTimebase == 0 {
					continue
				}
				raw := ctl.hw.ReadMSR(msrPMC0 + uintptr(entry.hwIndex))
				cd.bufferNext = writeValueRecord(cd.mapping, cd.bufferNext, entry.ID, now, raw)
				ctl.hw.WriteMSR(msrPMC0+uintptr(entry.hwIndex), entry.InitialValue)
			}
			for i := 0; i < s.numUsedFixed; i++ {
				entry := &s.fixed[i]
				if entry.Flags&FlagTimebase == 0 {
					continue
				}
				raw := ctl.hw.ReadMSR(msrFixedCtr0 + uintptr(entry.hwIndex))
				cd.bufferNext = writeValueRecord(cd.mapping, cd.bufferNext, entry.ID, now, raw)
				ctl.hw.WriteMSR(msrFixedCtr0+uintptr(entry.hwIndex), entry.InitialValue)
			}
		}
	}

	// capture_end follows the cursor on every PMI, not only at stop.
	setBufferHeaderCaptureEnd(cd.mapping, uint64(cd.bufferNext))

	// Step 6: clear every counter-status bit this session could ever
	// set, plus the two miscellaneous bits, plus whatever else status
	// happened to carry.
	ctl.hw.WriteMSR(msrPerfGlobalStatusRST, ctl.caps.counterStatusBits|globalStatusUncoreOvf|globalStatusCondChgd|status)

	// A nonzero GLOBAL_STATUS immediately after reset is a hardware
	// anomaly this handler can't explain or safely recover from beyond
	// counting it; logging from interrupt context is not bounded-time,
	// so it is only ever surfaced through Controller.Stats (SPEC_FULL.md
	// §4.8).
	if ctl.hw.ReadMSR(msrPerfGlobalStatus)&ctl.caps.counterStatusBits != 0 {
		ctl.stats.resetAnomalies.Add(1)
	}

	// Step 7.
	ctl.hw.IssueEOI()
	ctl.hw.PMIUnmask()
	ctl.hw.WriteMSR(msrPerfGlobalCtrl, s.globalCtrl)
	return true
}
