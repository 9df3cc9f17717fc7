// Copyright 2018 The gVisor Authors.
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

// Package ring0 provides the lowest-level, architecture-privileged
// primitives: reading and writing model-specific registers, reading the
// timestamp counter, and disabling/enabling interrupts on the executing
// CPU. Everything above this package talks to hardware only through
// these functions, which makes them the one place that needs a real
// assembly implementation when targeting actual silicon.
package ring0

// rdmsr reads the given model-specific register.
//
//go:nosplit
func rdmsr(reg uintptr) uint64

// wrmsr writes value to the given model-specific register.
//
//go:nosplit
func wrmsr(reg uintptr, value uint64)

// rdtsc reads the timestamp counter.
//
//go:nosplit
func rdtsc() uint64

// readCR3 reads the current CR3 value (the physical base of the active
// page table hierarchy), used to tag trace records with the address
// space that was executing at interrupt time.
//
//go:nosplit
func readCR3() uintptr

// disableInterrupts masks maskable interrupts on the current CPU and
// returns the previous interrupt-flag state, to be restored by
// restoreInterrupts.
//
//go:nosplit
func disableInterrupts() uintptr

// restoreInterrupts restores a CPU interrupt-flag state previously
// returned by disableInterrupts.
//
//go:nosplit
func restoreInterrupts(flags uintptr)
