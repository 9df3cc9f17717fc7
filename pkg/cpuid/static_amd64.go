// Copyright 2019 The gVisor Authors.
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

//go:build amd64
// +build amd64

package cpuid

import "math/bits"

// Static is a static CPUID function: a fixed table of leaf inputs to
// outputs, used in tests to stand in for real hardware.
//
// +stateify savable
type Static map[In]Out

// ToFeatureSet converts a static specification to a FeatureSet.
func (s Static) ToFeatureSet() FeatureSet {
	ns := make(Static, len(s))
	for k, v := range s {
		ns[k] = v
	}
	return FeatureSet{ns}
}

// Set records the output for a given input, overwriting any prior
// entry for the same leaf/subleaf.
func (s Static) Set(in In, out Out) {
	s[in] = out
}

// Query implements Function.Query.
//
//go:nosplit
func (s Static) Query(in In) Out {
	in.normalize()
	return s[in]
}

// FakeIntelPMC builds a Static CPUID table describing a GenuineIntel
// processor with the given signature and performance-monitoring leaf,
// leaving every other queryable leaf zeroed. This is the
// standard fixture used by tests that exercise the capability probe
// without real hardware.
func FakeIntelPMC(family, model, stepping uint8, pmc PMCLeaf) Static {
	s := make(Static)

	sig := uint32(stepping&0xf) | uint32(model&0xf)<<4 | uint32(family&0xf)<<8
	bx, cx, dx := regsFromVendorID(genuineIntel)
	s.Set(In{Eax: uint32(vendorID)}, Out{Eax: uint32(featureInfo), Ebx: bx, Ecx: cx, Edx: dx})

	ecx := uint32(0)
	ecx |= uint32(1) << pdcm.bit
	s.Set(In{Eax: uint32(featureInfo)}, Out{Eax: sig, Ecx: ecx})

	eax := uint32(pmc.Version)
	eax |= uint32(pmc.NumProgrammableCounters) << 8
	eax |= uint32(pmc.ProgrammableCounterWidth) << 16
	eax |= uint32(bits.Len32(pmc.UnavailableEvents)) << 24 // Ebx vector length
	edx := uint32(pmc.NumFixedCounters) & 0x1f
	edx |= uint32(pmc.FixedCounterWidth) << 5
	s.Set(In{Eax: uint32(intelPMCInfo)}, Out{Eax: eax, Ebx: pmc.UnavailableEvents, Edx: edx})

	return s
}

// regsFromVendorID re-derives ebx/ecx/edx for a 12-byte vendor string,
// the inverse of vendorIDFromRegs, for building fixtures.
func regsFromVendorID(v [12]byte) (bx, cx, dx uint32) {
	bx = uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24
	dx = uint32(v[4]) | uint32(v[5])<<8 | uint32(v[6])<<16 | uint32(v[7])<<24
	cx = uint32(v[8]) | uint32(v[9])<<8 | uint32(v[10])<<16 | uint32(v[11])<<24
	return
}
