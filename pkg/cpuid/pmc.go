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

import "fmt"

// PMCLeaf is the decoded form of CPUID leaf 0x0A, "Architectural
// Performance Monitoring Leaf". It describes how many counters the
// processor implements and how wide they are, which in turn bounds
// every value a caller may legally program into the counter MSRs.
type PMCLeaf struct {
	// Version is the architectural performance-monitoring version
	// number (Eax[7:0]).
	Version uint8

	// NumProgrammableCounters is the number of general-purpose
	// counters per logical processor (Eax[15:8]).
	NumProgrammableCounters uint8

	// ProgrammableCounterWidth is the bit width of each general-
	// purpose counter (Eax[23:16]).
	ProgrammableCounterWidth uint8

	// UnavailableEvents is a bitmask of architectural events NOT
	// available on this processor, one bit per event, decoded
	// against Ebx using the length reported in Eax[31:24].
	UnavailableEvents uint32

	// NumFixedCounters is the number of fixed-function counters
	// (Edx[4:0]). Only defined when Version >= 2.
	NumFixedCounters uint8

	// FixedCounterWidth is the bit width of each fixed-function
	// counter (Edx[12:5]). Only defined when Version >= 2.
	FixedCounterWidth uint8
}

// MaxProgrammableCounterValue returns the largest value that fits in a
// programmable counter of this leaf's width.
func (p PMCLeaf) MaxProgrammableCounterValue() uint64 {
	return maxValueForWidth(p.ProgrammableCounterWidth)
}

// MaxFixedCounterValue returns the largest value that fits in a fixed
// counter of this leaf's width.
func (p PMCLeaf) MaxFixedCounterValue() uint64 {
	return maxValueForWidth(p.FixedCounterWidth)
}

func maxValueForWidth(width uint8) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// ParsePMCLeaf decodes a raw CPUID leaf 0x0A query result, rejecting
// values a real processor would never report. A zeroed Out (the value
// returned for a disallowed or unsupported leaf) decodes to a leaf with
// Version 0, which callers must treat as "no performance monitoring".
func ParsePMCLeaf(out Out) (PMCLeaf, error) {
	var p PMCLeaf
	p.Version = uint8(out.Eax)
	if p.Version == 0 {
		return p, nil
	}

	p.NumProgrammableCounters = uint8(out.Eax >> 8)
	if p.NumProgrammableCounters > maxProgrammableCounters {
		return PMCLeaf{}, fmt.Errorf("cpuid: implausible programmable counter count %d", p.NumProgrammableCounters)
	}

	p.ProgrammableCounterWidth = uint8(out.Eax >> 16)
	if p.ProgrammableCounterWidth < 16 || p.ProgrammableCounterWidth > 64 {
		return PMCLeaf{}, fmt.Errorf("cpuid: implausible programmable counter width %d", p.ProgrammableCounterWidth)
	}

	ebxLength := uint8(out.Eax >> 24)
	if ebxLength > 7 {
		return PMCLeaf{}, fmt.Errorf("cpuid: implausible unavailable-event vector length %d", ebxLength)
	}
	if ebxLength > 0 {
		p.UnavailableEvents = out.Ebx & ((uint32(1) << ebxLength) - 1)
	}

	if p.Version >= 2 {
		p.NumFixedCounters = uint8(out.Edx & 0x1f)
		if p.NumFixedCounters > maxFixedCounters {
			return PMCLeaf{}, fmt.Errorf("cpuid: implausible fixed counter count %d", p.NumFixedCounters)
		}
		p.FixedCounterWidth = uint8((out.Edx >> 5) & 0xff)
		if p.FixedCounterWidth < 16 || p.FixedCounterWidth > 64 {
			return PMCLeaf{}, fmt.Errorf("cpuid: implausible fixed counter width %d", p.FixedCounterWidth)
		}
	}

	return p, nil
}

// These bound the sanity checks in ParsePMCLeaf and size the fixed
// arrays used throughout the trace core; they match the limits imposed
// by IA32_PERF_GLOBAL_CTRL and IA32_FIXED_CTR_CTRL, which have room for
// at most 32 programmable and 16 fixed counters respectively (and no
// known Intel part approaches those limits).
const (
	maxProgrammableCounters = 32
	maxFixedCounters        = 16
)
