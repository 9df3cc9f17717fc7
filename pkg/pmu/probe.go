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

import "pmutrace.dev/pmutrace/pkg/cpuid"

// minimumPerfmonVersion is the lowest architectural performance-
// monitoring version this package supports; Skylake and later report
// at least this.
const minimumPerfmonVersion = 4

// capabilities is the immutable, process-wide descriptor of what the
// host's PMU can do. It is computed once, by probe plus NewController's
// read of perfCapabilities, and never mutated after NewController
// returns: every Controller method that needs it reads through the
// Controller's *capabilities pointer, set before the Controller is
// usable.
type capabilities struct {
	supportsPerfmon bool

	version           uint8
	numProgrammable   uint8
	numFixed          uint8
	programmableWidth uint8
	fixedWidth        uint8

	maxProgrammableValue uint64
	maxFixedValue        uint64

	unsupportedEventMask     uint32
	perfCapabilities         uint32
	perfCapabilitiesReadable bool

	globalCtrlWritableBits uint64
	fixedCtrlWritableBits  uint64
	debugCtrlWritableBits  uint64
	counterStatusBits      uint64
}

// eventSelectWritableBitsVal is the fixed whitelist of bits a caller
// may set in a PERFEVTSEL value (§4.4): EVENT/UMASK/USR/OS/E/PC/INT/
// ANY/EN/INV/CMASK. Computed once in init below from named pieces,
// since the bit layout reads more clearly that way than as one hex
// literal.
var eventSelectWritableBitsVal uint64

func init() {
	// EVENT_SELECT (bits 0-7), UMASK (8-15), USR (16), OS (17), E (18),
	// PC (19), INT (20), ANY (21), EN (22), INV (23), CMASK (24-31).
	const (
		eventSelectMask = 0xFF
		umaskMask       = 0xFF << 8
		usrMask         = 1 << 16
		osMask          = 1 << 17
		eMask           = 1 << 18
		pcMask          = 1 << 19
		intMask         = 1 << 20
		anyMask         = 1 << 21
		enMask          = 1 << 22
		invMask         = 1 << 23
		cmaskMask       = 0xFF << 24
	)
	eventSelectWritableBitsVal = eventSelectMask | umaskMask | usrMask | osMask |
		eMask | pcMask | intMask | anyMask | enMask | invMask | cmaskMask
}

// debugCtrlFreezeOnPMI selects whether IA32_DEBUGCTL's
// FREEZE_PERFMON_ON_PMI bit (bit 12) must be set (true) or must be
// clear (false) in any staged debug_ctrl (§4.4 "matches the current
// FREEZE policy exactly"). The original source builds with this
// disabled (TRY_FREEZE_ON_PMI == 0); kept as a compile-time constant
// here too, per §9's "do not alter without hardware evidence".
const debugCtrlFreezeOnPMI = false

const debugCtrlFreezePerfmonOnPMIBit uint64 = 1 << 12

// probe reads the PMU capability leaf and derived bitmasks into a
// fresh capabilities descriptor. It never panics: an unsupported or
// malformed leaf simply yields a descriptor with supportsPerfmon
// false, matching §4.1's "rejects the probe silently".
func probe(fs cpuid.FeatureSet) *capabilities {
	c := &capabilities{}

	leaf, err := cpuid.ParsePMCLeaf(fs.Query(cpuid.In{Eax: 0xa}))
	if err != nil || leaf.Version == 0 {
		return c
	}

	c.version = leaf.Version
	c.numProgrammable = leaf.NumProgrammableCounters
	c.programmableWidth = leaf.ProgrammableCounterWidth
	c.maxProgrammableValue = leaf.MaxProgrammableCounterValue()
	c.unsupportedEventMask = leaf.UnavailableEvents
	c.numFixed = leaf.NumFixedCounters
	c.fixedWidth = leaf.FixedCounterWidth
	c.maxFixedValue = leaf.MaxFixedCounterValue()

	c.supportsPerfmon = uint32(c.version) >= minimumPerfmonVersion
	if !c.supportsPerfmon {
		return c
	}

	// PDCM (CPUID.01H:ECX[15]) gates whether IA32_PERF_CAPABILITIES is
	// architecturally defined at all. probe only records whether it is
	// readable; NewController reads the register through Hardware and
	// stores its value in perfCapabilities.
	c.perfCapabilitiesReadable = fs.HasPDCM()

	for i := uint8(0); i < c.numProgrammable; i++ {
		c.globalCtrlWritableBits |= 1 << uint(i)
		c.counterStatusBits |= 1 << uint(i)
	}
	for i := uint8(0); i < c.numFixed; i++ {
		c.globalCtrlWritableBits |= 1 << uint(32+i)
		c.counterStatusBits |= 1 << uint(32+i)
		c.fixedCtrlWritableBits |= 0xF << uint(i*4) // enable(2 bits)/any/pmi
	}

	if debugCtrlFreezeOnPMI {
		c.debugCtrlWritableBits |= debugCtrlFreezePerfmonOnPMIBit
	} else {
		c.debugCtrlWritableBits = 0
	}

	return c
}

// Properties returns a snapshot of the host's PMU capabilities.
// Legal in every lifecycle state (§6: "supported" is its only
// precondition, meaning it always returns something — SupportsPerfmon
// may simply read false).
func (c *capabilities) Properties() Properties {
	return Properties{
		SupportsPerfmon:      c.supportsPerfmon,
		Version:              c.version,
		NumProgrammable:      c.numProgrammable,
		NumFixed:             c.numFixed,
		ProgrammableWidth:    c.programmableWidth,
		FixedWidth:           c.fixedWidth,
		MaxProgrammableValue: c.maxProgrammableValue,
		MaxFixedValue:        c.maxFixedValue,
		UnsupportedEventMask: c.unsupportedEventMask,
		PerfCapabilities:     c.perfCapabilities,
		CounterStatusBits:    c.counterStatusBits,
	}
}
