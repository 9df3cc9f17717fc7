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

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"pmutrace.dev/pmutrace/pkg/pmu"
)

// newHostHardware builds the production Hardware backing this driver.
// LAPIC masking/unmasking, EOI issuance and cross-CPU dispatch are
// platform integration points this package does not own (SPEC_FULL.md
// §1 names them external collaborators owned by whatever scheduler or
// APIC driver the host kernel build provides); the callbacks below are
// a single-CPU stand-in suitable for a demo run under `--cpus 1` and
// must be replaced by real LAPIC/IPI wiring for a multi-CPU deployment.
func newHostHardware() pmu.Hardware {
	pmiMask := func() {}
	pmiUnmask := func() {}
	issueEOI := func() {}
	runOnAllCPUs := func(numCPUs int, fn func(cpu int)) {
		if numCPUs != 1 {
			fatalf("hw: --cpus %d requested but this build only wires a single-CPU placeholder broadcast; supply a real runOnAllCPUs for multi-CPU hosts", numCPUs)
		}
		fn(0)
	}
	return pmu.NewHardware(pmiMask, pmiUnmask, issueEOI, runOnAllCPUs)
}

// anonMemfd creates an anonymous, sealed-size file suitable for
// NewFileMemObject: a memfd_create(2) region truncated to size bytes.
func anonMemfd(name string, size int64) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create(%q): %w", name, err)
	}
	f := os.NewFile(uintptr(fd), name)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("ftruncate(%q, %d): %w", name, size, err)
	}
	return f, nil
}
