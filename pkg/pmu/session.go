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

// MemObject is the small interface through which this package accepts
// a caller-supplied memory object for a per-CPU trace buffer. The
// virtual-memory subsystem that actually backs and maps such objects
// is an external collaborator (SPEC_FULL.md §1); production code
// satisfies this with a golang.org/x/sys/unix-backed mapping
// (buffer_unix.go) over a file descriptor the driver supplied (e.g.
// from memfd_create), and tests satisfy it with an in-memory fake.
type MemObject interface {
	// Size returns the object's size in bytes.
	Size() (int64, error)

	// Map creates a kernel mapping of the full object with read+write
	// permission and pre-commits all pages, so the PMI handler can
	// never fault touching it. The returned slice's length equals
	// Size().
	Map() ([]byte, error)

	// Unmap releases a mapping previously returned by Map. Unmap is
	// idempotent: calling it when no mapping is held is a no-op.
	Unmap() error
}

// Session is the state created by Init and destroyed by Fini (§3).
// All Session mutation happens under Controller.mu, except for each
// PerCpuData's bufferNext cursor and the buffer header's flags/
// capture_end fields, which are single-writer from that CPU's PMI
// handler only (§5 "Shared-resource policy").
type Session struct {
	numCPUs int
	cpus    []perCPUData

	// Staged control values, written by StageConfig (§4.4) and
	// programmed verbatim during Start (§4.5).
	globalCtrl uint64
	fixedCtrl  uint64
	debugCtrl  uint64

	timebaseEvent EventID

	numUsedFixed        int
	numUsedProgrammable int
	fixed               [MaxFixedCounters]CounterConfig
	programmable        [MaxProgrammableCounters]CounterConfig
}

// perCPUData is PerCpuData from §3.
type perCPUData struct {
	memObj MemObject

	// mapping is non-nil only between Start and Stop/Fini (I1).
	mapping []byte

	// bufferNext is the cursor the Record Writer advances. It lives
	// inside [bufferHeaderSize, len(mapping)] whenever mapping is
	// non-nil (I6).
	bufferNext int
}

func newSession(numCPUs int) *Session {
	return &Session{
		numCPUs: numCPUs,
		cpus:    make([]perCPUData, numCPUs),
	}
}
