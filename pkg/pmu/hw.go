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

// The MSR addresses this package programs (Intel SDM Vol. 3B, Chapter
// 18-19).
const (
	msrPerfCapabilities = 0x345

	msrPMC0        = 0x0c1
	msrPerfEvtSel0 = 0x186

	msrFixedCtrCtrl = 0x38d
	msrFixedCtr0    = 0x309

	msrPerfGlobalCtrl       = 0x38f
	msrPerfGlobalStatus     = 0x38e
	msrPerfGlobalStatusRST  = 0x390 // same address as OVF_CTRL
	msrDebugCtl             = 0x1d9
)

// globalStatusUncoreOvf and globalStatusCondChgd are bits outside the
// per-counter status bits that must still be included when clearing
// IA32_PERF_GLOBAL_STATUS (§4.6 step 6).
const (
	globalStatusUncoreOvf uint64 = 1 << 61
	globalStatusCondChgd  uint64 = 1 << 63
)

// Hardware is the injected seam between this package and ring-0
// primitives (§9 "MSR access → trait/interface"). Production code
// backs it with the real instructions (pkg/ring0); tests back it with
// an in-memory fake, letting every property and scenario in §8 run
// without real hardware.
//
// Every method here may be called from PMI context and must not
// allocate, block, or fault.
type Hardware interface {
	// ReadMSR reads the given model-specific register on the
	// executing CPU.
	ReadMSR(reg uintptr) uint64

	// WriteMSR writes value to the given model-specific register on
	// the executing CPU.
	WriteMSR(reg uintptr, value uint64)

	// ReadTSC returns the current cycle counter value, used as the
	// record timestamp and as the session's ticks_per_second basis.
	ReadTSC() uint64

	// ReadCR3 returns the physical base of the currently active page
	// table hierarchy, tagging Pc records with the address space that
	// was executing at interrupt time.
	ReadCR3() uintptr

	// PMIMask and PMIUnmask mask/unmask the performance-monitoring
	// interrupt vector on the executing CPU's LAPIC.
	PMIMask()
	PMIUnmask()

	// IssueEOI signals end-of-interrupt to the executing CPU's LAPIC.
	IssueEOI()

	// RunOnAllCPUs synchronously runs fn once per CPU, 0..numCPUs-1,
	// with interrupts disabled on each target for the duration of fn,
	// returning only after every target has completed (§5 "Cross-CPU
	// broadcast").
	RunOnAllCPUs(numCPUs int, fn func(cpu int))
}
