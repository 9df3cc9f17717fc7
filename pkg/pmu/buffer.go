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
	"syscall"
)

// minBufferSize is the smallest memory object AssignBuffer will
// accept: room for the BufferHeader plus one maximum-size record per
// counter slot this host's capabilities say could ever be used (§4.3).
// It is bounded by the Probe-discovered counter counts, not the
// package's compile-time array caps: a host with 3 fixed and 4
// programmable counters never needs room for 16+32.
func minBufferSize(c *capabilities) int64 {
	return int64(bufferHeaderSize) + int64(uint32(c.numFixed)+uint32(c.numProgrammable))*int64(maxRecordSize)
}

// assignBuffer implements §4.3's assign_buffer: legal only when a
// Session exists and is not active (checked by the caller, Lifecycle
// Controller); cpu must be in range; memObj must be large enough.
func (s *Session) assignBuffer(cpu int, memObj MemObject, c *capabilities) error {
	if cpu < 0 || cpu >= s.numCPUs {
		return wrapf(ErrInvalidArgs, "assign_buffer: cpu %d out of range [0,%d)", cpu, s.numCPUs)
	}
	size, err := memObj.Size()
	if err != nil {
		return wrapf(ErrIO, "assign_buffer: cpu %d: reading memory object size", cpu)
	}
	min := minBufferSize(c)
	if size < min {
		return wrapf(ErrInvalidArgs, "assign_buffer: cpu %d: buffer size %d below minimum %d", cpu, size, min)
	}
	s.cpus[cpu].memObj = memObj
	return nil
}

// ticksPerSecondFn supplies BufferHeader.ticks_per_second. Nothing in
// this module replaces it, so every buffer header reports 0
// ("unknown").
var ticksPerSecondFn = func() uint64 { return 0 }

// mapAll is the internal operation §4.3 calls "map_all", invoked by
// Start. For every CPU with an assigned buffer, it maps the memory
// object, writes the BufferHeader, and sets bufferNext past it. On any
// failure it unmaps every CPU it had already mapped and returns the
// error (§7 "fully rolled back").
func (s *Session) mapAll() error {
	mappedSoFar := make([]int, 0, s.numCPUs)
	for cpu := range s.cpus {
		cd := &s.cpus[cpu]
		if cd.memObj == nil {
			continue
		}
		mapping, err := cd.memObj.Map()
		if err != nil {
			s.unmapCPUs(mappedSoFar)
			// Only resource exhaustion counts as NoMemory (§7); a
			// permission or argument failure out of Mmap/Mlock
			// (EACCES, EBADF, EINVAL, EPERM from an RLIMIT_MEMLOCK
			// below the mapping size, ...) is an I/O failure instead.
			sentinel := ErrIO
			if errors.Is(err, syscall.ENOMEM) {
				sentinel = ErrNoMemory
			}
			return wrapf(sentinel, "start: cpu %d: mapping trace buffer: %v", cpu, err)
		}
		cd.mapping = mapping
		writeBufferHeader(mapping, ticksPerSecondFn(), 0, bufferHeaderSize)
		cd.bufferNext = bufferHeaderSize
		mappedSoFar = append(mappedSoFar, cpu)
	}
	return nil
}

// unmapAll is §4.3's "unmap_all": idempotent, called by Stop and Fini.
func (s *Session) unmapAll() {
	all := make([]int, 0, s.numCPUs)
	for cpu := range s.cpus {
		all = append(all, cpu)
	}
	s.unmapCPUs(all)
}

func (s *Session) unmapCPUs(cpus []int) {
	for _, cpu := range cpus {
		cd := &s.cpus[cpu]
		if cd.mapping == nil {
			continue
		}
		if cd.memObj != nil {
			_ = cd.memObj.Unmap()
		}
		cd.mapping = nil
		cd.bufferNext = 0
	}
}

// buffersReady reports whether every CPU the session expects to run on
// has an assigned buffer, the Start precondition "all used CPUs have
// buffers" (§6).
func (s *Session) buffersReady() bool {
	for i := range s.cpus {
		if s.cpus[i].memObj == nil {
			return false
		}
	}
	return true
}
