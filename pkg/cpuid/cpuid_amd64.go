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

// FeatureSet describes the processor identification and performance-
// monitoring capabilities visible through CPUID, in terms of CPUID
// leaves and bits.
//
// Common references:
//
// Intel:
//   - Intel SDM Volume 2, Chapter 3.2 "CPUID"
//   - Intel SDM Volume 3, Chapter 20 "Performance Monitoring" (leaf 0x0A)
//
// +stateify savable
type FeatureSet struct {
	// Function is the underlying CPUID Function.
	//
	// This is exported to allow direct calls of the underlying CPUID
	// function, where required.
	Function `state:".(Static)"`
}

// query is an internal wrapper.
//
//go:nosplit
func (fs FeatureSet) query(fn cpuidFunction) (uint32, uint32, uint32, uint32) {
	out := fs.Query(In{Eax: fn.eax(), Ecx: fn.ecx()})
	return out.Eax, out.Ebx, out.Ecx, out.Edx
}

func vendorIDFromRegs(bx, cx, dx uint32) (v [12]byte) {
	for i, r := range []uint32{bx, dx, cx} {
		v[i*4+0] = byte(r)
		v[i*4+1] = byte(r >> 8)
		v[i*4+2] = byte(r >> 16)
		v[i*4+3] = byte(r >> 24)
	}
	return
}

// VendorID is the 12-char string returned in ebx:edx:ecx for eax=0.
//
//go:nosplit
func (fs FeatureSet) VendorID() [12]byte {
	_, bx, cx, dx := fs.query(vendorID)
	return vendorIDFromRegs(bx, cx, dx)
}

// signatureSplit decomposes the processor signature dword returned in
// eax for eax=1.
//
//go:nosplit
func signatureSplit(v uint32) (ef, em, pt, f, m, sid uint8) {
	sid = uint8(v & 0xf)
	m = uint8(v>>4) & 0xf
	f = uint8(v>>8) & 0xf
	pt = uint8(v>>12) & 0x3
	em = uint8(v>>16) & 0xf
	ef = uint8(v >> 20)
	return
}

// Family is part of the processor signature; combined with
// ExtendedFamily per the SDM's "DisplayFamily" algorithm.
//
//go:nosplit
func (fs FeatureSet) Family() uint8 {
	ax, _, _, _ := fs.query(featureInfo)
	ef, _, _, f, _, _ := signatureSplit(ax)
	if f == 0xf {
		return f + ef
	}
	return f
}

// Model is part of the processor signature; combined with
// ExtendedModel per the SDM's "DisplayModel" algorithm.
//
//go:nosplit
func (fs FeatureSet) Model() uint8 {
	ax, _, _, _ := fs.query(featureInfo)
	_, em, _, f, m, _ := signatureSplit(ax)
	if f == 0x6 || f == 0xf {
		return (em << 4) | m
	}
	return m
}

// SteppingID is part of the processor signature.
//
//go:nosplit
func (fs FeatureSet) SteppingID() uint8 {
	ax, _, _, _ := fs.query(featureInfo)
	_, _, _, _, _, sid := signatureSplit(ax)
	return sid
}

var (
	authenticAMD = [12]byte{'A', 'u', 't', 'h', 'e', 'n', 't', 'i', 'c', 'A', 'M', 'D'}
	genuineIntel = [12]byte{'G', 'e', 'n', 'u', 'i', 'n', 'e', 'I', 'n', 't', 'e', 'l'}
)

// AMD returns true if fs describes an AMD CPU.
//
//go:nosplit
func (fs FeatureSet) AMD() bool {
	return fs.VendorID() == authenticAMD
}

// Intel returns true if fs describes an Intel CPU.
//
//go:nosplit
func (fs FeatureSet) Intel() bool {
	return fs.VendorID() == genuineIntel
}

// pdcm is CPUID.01H:ECX[15], "Perfmon and Debug Capability": when set,
// IA32_PERF_CAPABILITIES is architecturally defined and readable.
var pdcm = Feature{leaf: uint32(featureInfo), reg: 2, bit: 15}

// Has reports whether f's bit is set in the CPUID output fs reports
// for f's leaf.
//
//go:nosplit
func (fs FeatureSet) Has(f Feature) bool {
	ax, bx, cx, dx := fs.query(cpuidFunction(f.leaf))
	var reg uint32
	switch f.reg {
	case 0:
		reg = ax
	case 1:
		reg = bx
	case 2:
		reg = cx
	case 3:
		reg = dx
	}
	return (reg>>f.bit)&1 != 0
}

// HasPDCM reports whether the processor implements the Perfmon and
// Debug Capability MSR (IA32_PERF_CAPABILITIES).
//
//go:nosplit
func (fs FeatureSet) HasPDCM() bool {
	return fs.Has(pdcm)
}

// CheckHostCompatible returns an error if this FeatureSet is not safe to
// stage against the current host's FeatureSet.
func (fs FeatureSet) CheckHostCompatible() error {
	return fs.archCheckHostCompatible(HostFeatureSet())
}

// archCheckHostCompatible checks that fs can run safely against a host
// described by hfs: the host's performance-monitoring generation must
// be at least as capable as the one fs was captured from, since a
// config built for a newer PMU (more counters, a newer version) is not
// safe to stage against older hardware.
func (fs FeatureSet) archCheckHostCompatible(hfs FeatureSet) error {
	pmc, err := ParsePMCLeaf(fs.Query(In{Eax: uint32(intelPMCInfo)}))
	if err != nil {
		return &ErrIncompatible{reason: err.Error()}
	}
	hostPMC, err := ParsePMCLeaf(hfs.Query(In{Eax: uint32(intelPMCInfo)}))
	if err != nil {
		return &ErrIncompatible{reason: err.Error()}
	}
	if hostPMC.Version < pmc.Version {
		return &ErrIncompatible{reason: "host performance-monitoring version is older"}
	}
	if hostPMC.NumProgrammableCounters < pmc.NumProgrammableCounters {
		return &ErrIncompatible{reason: "host has fewer programmable counters"}
	}
	return nil
}
