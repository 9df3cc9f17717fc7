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

//go:build amd64
// +build amd64

package pmu

import "pmutrace.dev/pmutrace/pkg/ring0"

// ring0Hardware backs Hardware with the real privileged instructions.
// LAPIC mask/unmask/EOI and cross-CPU dispatch are themselves thin
// wrappers the surrounding platform is expected to provide (LAPIC
// register access and IPI dispatch are outside this core's scope, per
// SPEC_FULL.md §1); they are injected here as function values so this
// file stays the single production Hardware implementation without
// pulling LAPIC/IPI plumbing into this package.
type ring0Hardware struct {
	pmiMask      func()
	pmiUnmask    func()
	issueEOI     func()
	runOnAllCPUs func(numCPUs int, fn func(cpu int))
}

// NewHardware returns the production Hardware implementation, backed
// by pkg/ring0 for MSR/TSC/CR3 access. pmiMask, pmiUnmask and issueEOI
// wire in the platform's LAPIC driver, and runOnAllCPUs its cross-CPU
// IPI primitive.
func NewHardware(pmiMask, pmiUnmask, issueEOI func(), runOnAllCPUs func(numCPUs int, fn func(cpu int))) Hardware {
	return &ring0Hardware{
		pmiMask:      pmiMask,
		pmiUnmask:    pmiUnmask,
		issueEOI:     issueEOI,
		runOnAllCPUs: runOnAllCPUs,
	}
}

func (h *ring0Hardware) ReadMSR(reg uintptr) uint64 { return ring0.ReadMSR(reg) }

func (h *ring0Hardware) WriteMSR(reg uintptr, value uint64) { ring0.WriteMSR(reg, value) }

func (h *ring0Hardware) ReadTSC() uint64 { return ring0.ReadTSC() }

func (h *ring0Hardware) ReadCR3() uintptr { return ring0.ReadCR3() }

func (h *ring0Hardware) PMIMask() { h.pmiMask() }

func (h *ring0Hardware) PMIUnmask() { h.pmiUnmask() }

func (h *ring0Hardware) IssueEOI() { h.issueEOI() }

func (h *ring0Hardware) RunOnAllCPUs(numCPUs int, fn func(cpu int)) {
	h.runOnAllCPUs(numCPUs, fn)
}
