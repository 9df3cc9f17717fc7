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
	"pmutrace.dev/pmutrace/pkg/atomicbitops"
	"pmutrace.dev/pmutrace/pkg/cpuid"
	"pmutrace.dev/pmutrace/pkg/log"
	"pmutrace.dev/pmutrace/pkg/sync"
)

// state is the Lifecycle Controller's state machine (§4.5).
type state int

const (
	stateUnsupported state = iota
	stateIdle
	stateConfiguring
	stateConfigured
	stateRunning
)

// Controller is the single global entry point for the trace
// subsystem: it holds the one Session slot, serializes every public
// operation under one lock, and is the only thing that writes
// PerfmonActive.
//
// All public methods acquire mu for their entire duration and must not
// be called from interrupt context; none of them may be called
// concurrently with the PMI handler's own logic other than through
// PerfmonActive and the single-writer buffer fields (§5).
type Controller struct {
	mu sync.Mutex

	caps    *capabilities
	hw      Hardware
	numCPUs int

	st      state
	session *Session

	// active is read by the PMI handler without the lock and written
	// by Start/Stop with release semantics (§5 "Ordering guarantees").
	// true publishes a live, mapped Session; false retracts it.
	active atomicbitops.Bool

	// stats is the anomaly counter from SPEC_FULL.md §4.8, incremented
	// by the PMI handler without allocating or logging.
	stats controllerStats
}

// NewController probes the host's PMU capabilities using fs and
// returns a Controller ready for Init. hw backs every privileged
// operation; production callers pass NewHardware(...), tests pass a
// fake. numCPUs is the fixed number of logical CPUs the resulting
// Session will cover, discovered by the platform at boot.
func NewController(fs cpuid.FeatureSet, hw Hardware, numCPUs int) *Controller {
	c := probe(fs)
	ctl := &Controller{caps: c, hw: hw, numCPUs: numCPUs}
	if c.supportsPerfmon {
		ctl.st = stateIdle
		if c.perfCapabilitiesReadable {
			c.perfCapabilities = uint32(hw.ReadMSR(msrPerfCapabilities))
		}
	} else {
		ctl.st = stateUnsupported
	}
	return ctl
}

// GetProperties implements §6's get_properties. Legal in every state.
func (ctl *Controller) GetProperties() Properties {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.caps.Properties()
}

// Init implements §6's init: IDLE → CONFIGURING.
func (ctl *Controller) Init() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.st == stateUnsupported {
		return ErrNotSupported
	}
	if ctl.st != stateIdle {
		return wrapf(ErrBadState, "init: state is not IDLE")
	}
	ctl.session = newSession(ctl.numCPUs)
	ctl.st = stateConfiguring
	log.Infof("pmu: session initialized for %d CPUs", ctl.session.numCPUs)
	return nil
}

// AssignBuffer implements §6's assign_buffer: legal in CONFIGURING or
// CONFIGURED.
func (ctl *Controller) AssignBuffer(cpu int, memObj MemObject) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.st == stateUnsupported {
		return ErrNotSupported
	}
	if ctl.st != stateConfiguring && ctl.st != stateConfigured {
		return wrapf(ErrBadState, "assign_buffer: state is not CONFIGURING/CONFIGURED")
	}
	return ctl.session.assignBuffer(cpu, memObj, ctl.caps)
}

// StageConfig implements §6's stage_config: legal in CONFIGURING or
// CONFIGURED, transitions to CONFIGURED on success.
func (ctl *Controller) StageConfig(cfg *Config) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.st == stateUnsupported {
		return ErrNotSupported
	}
	if ctl.st != stateConfiguring && ctl.st != stateConfigured {
		return wrapf(ErrBadState, "stage_config: state is not CONFIGURING/CONFIGURED")
	}
	if err := ctl.session.stageConfig(cfg, ctl.caps); err != nil {
		return err
	}
	ctl.st = stateConfigured
	return nil
}

// Start implements §6's start and §4.5's start sequence: legal only in
// CONFIGURED, with every CPU holding a buffer.
func (ctl *Controller) Start() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.st == stateUnsupported {
		return ErrNotSupported
	}
	if ctl.st != stateConfigured {
		return wrapf(ErrBadState, "start: state is not CONFIGURED")
	}
	if !ctl.session.buffersReady() {
		return wrapf(ErrInvalidArgs, "start: not every CPU has an assigned buffer")
	}

	if err := ctl.session.mapAll(); err != nil {
		return err
	}

	s := ctl.session
	ctl.hw.RunOnAllCPUs(s.numCPUs, func(cpu int) {
		ctl.startCPU(s, cpu)
	})

	// Publication: the Session and every buffer are fully set up
	// before this store; the PMI handler's acquire-load of active
	// happens-after everything the broadcast above did (§5).
	ctl.active.Store(true)
	ctl.st = stateRunning
	log.Infof("pmu: session running on %d CPUs", s.numCPUs)
	return nil
}

// startCPU runs the per-CPU portion of the start sequence (§4.5, steps
// 1-6) with interrupts already disabled on cpu by RunOnAllCPUs.
func (ctl *Controller) startCPU(s *Session, cpu int) {
	for i := 0; i < s.numUsedFixed; i++ {
		ctl.hw.WriteMSR(msrFixedCtr0+uintptr(s.fixed[i].hwIndex), s.fixed[i].InitialValue)
	}
	ctl.hw.WriteMSR(msrFixedCtrCtrl, s.fixedCtrl)

	for i := 0; i < s.numUsedProgrammable; i++ {
		ctl.hw.WriteMSR(msrPerfEvtSel0+uintptr(i), 0)
		ctl.hw.WriteMSR(msrPMC0+uintptr(i), s.programmable[i].InitialValue)
		ctl.hw.WriteMSR(msrPerfEvtSel0+uintptr(i), s.programmable[i].Event)
	}

	ctl.hw.WriteMSR(msrDebugCtl, s.debugCtrl)
	ctl.hw.PMIUnmask()
	ctl.hw.WriteMSR(msrPerfGlobalCtrl, s.globalCtrl)
	_ = cpu
}

// Stop implements §6's stop and §4.5's stop sequence: legal in
// RUNNING; a no-op returning Ok in CONFIGURED (S6 "double-stop").
func (ctl *Controller) Stop() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.st == stateUnsupported {
		return ErrNotSupported
	}
	if ctl.st == stateConfigured {
		return nil // S6: already stopped, idempotent no-op.
	}
	if ctl.st != stateRunning {
		return wrapf(ErrBadState, "stop: state is not RUNNING")
	}

	// Retract publication before the broadcast: any PMI still
	// in-flight on another CPU observes false and becomes a no-op
	// (§4.5 "Sets PerfmonActive = false before the broadcast begins").
	ctl.active.Store(false)

	s := ctl.session
	ctl.hw.RunOnAllCPUs(s.numCPUs, func(cpu int) {
		ctl.stopCPU(s, cpu)
	})

	s.unmapAll()
	ctl.st = stateConfigured
	log.Infof("pmu: session stopped")
	return nil
}

// stopCPU runs the per-CPU portion of the stop sequence (§4.5).
func (ctl *Controller) stopCPU(s *Session, cpu int) {
	ctl.hw.WriteMSR(msrPerfGlobalCtrl, 0)
	ctl.hw.PMIMask()

	cd := &s.cpus[cpu]
	if cd.mapping == nil {
		return
	}
	now := ctl.hw.ReadTSC()

	for i := 0; i < s.numUsedProgrammable; i++ {
		entry := &s.programmable[i]
		raw := ctl.hw.ReadMSR(msrPMC0 + uintptr(i))
		value := wrapCorrectedDelta(raw, entry.InitialValue, ctl.caps.maxProgrammableValue)
		cd.bufferNext = writeValueRecord(cd.mapping, cd.bufferNext, entry.ID, now, value)
	}
	for i := 0; i < s.numUsedFixed; i++ {
		entry := &s.fixed[i]
		raw := ctl.hw.ReadMSR(msrFixedCtr0 + uintptr(entry.hwIndex))
		value := wrapCorrectedDelta(raw, entry.InitialValue, ctl.caps.maxFixedValue)
		cd.bufferNext = writeValueRecord(cd.mapping, cd.bufferNext, entry.ID, now, value)
	}

	setBufferHeaderCaptureEnd(cd.mapping, uint64(cd.bufferNext))

	// Clear every counter-status bit plus the miscellaneous
	// uncore-overflow/condition-changed bits (§4.5, mirrors §4.6 step
	// 6).
	ctl.hw.WriteMSR(msrPerfGlobalStatusRST, ctl.caps.counterStatusBits|globalStatusUncoreOvf|globalStatusCondChgd)
}

// wrapCorrectedDelta computes raw-initial with the wraparound
// correction from §4.5/S5: if the counter wrapped (raw < initial), add
// back maxValue - initial + 1.
func wrapCorrectedDelta(raw, initial, maxValue uint64) uint64 {
	if raw >= initial {
		return raw - initial
	}
	return raw + (maxValue - initial + 1)
}

// Fini implements §6's fini: legal in IDLE/CONFIGURING/CONFIGURED,
// never in RUNNING. IDLE is a no-op (no Session exists).
func (ctl *Controller) Fini() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.st == stateUnsupported {
		return ErrNotSupported
	}
	if ctl.st == stateRunning {
		return wrapf(ErrBadState, "fini: state is RUNNING")
	}
	if ctl.st == stateIdle {
		return nil
	}
	if ctl.session != nil {
		ctl.session.unmapAll()
	}
	ctl.session = nil
	ctl.st = stateIdle
	return nil
}

// Stats is a snapshot of the PMI handler's non-fatal anomaly counters
// (SPEC_FULL.md §4.8): conditions the handler recovers from without
// corrupting a buffer or losing the interrupt, but that are worth
// surfacing to an operator.
type Stats struct {
	// ResetAnomalies counts PMI entries where GLOBAL_STATUS still had a
	// counter-status bit set immediately after the handler wrote
	// GLOBAL_STATUS_RESET, a recoverable host/microcode anomaly (§4.6).
	ResetAnomalies uint64
}

// controllerStats is the live, atomically-updated form Stats snapshots
// from. Embedded in Controller so the PMI handler can increment it
// without taking ctl.mu.
type controllerStats struct {
	resetAnomalies atomicbitops.Uint64
}

// Stats returns a snapshot of the PMI handler's non-fatal anomaly
// counters (SPEC_FULL.md §4.8).
func (ctl *Controller) Stats() Stats {
	return Stats{ResetAnomalies: ctl.stats.resetAnomalies.Load()}
}
