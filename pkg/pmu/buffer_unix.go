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

//go:build linux

package pmu

import (
	"os"

	"golang.org/x/sys/unix"
)

// FileMemObject implements MemObject over an *os.File, standing in for
// the VMO handle a real kernel driver would receive from the
// virtual-memory subsystem (an external collaborator, SPEC_FULL.md
// §1). The driver is expected to have created the file with
// memfd_create or a similar anonymous-shared-memory mechanism.
type FileMemObject struct {
	f       *os.File
	mapping []byte
}

// NewFileMemObject wraps f as a MemObject. f is not closed by Unmap;
// the caller retains ownership of the descriptor.
func NewFileMemObject(f *os.File) *FileMemObject {
	return &FileMemObject{f: f}
}

// Size implements MemObject.Size.
func (m *FileMemObject) Size() (int64, error) {
	fi, err := m.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Map implements MemObject.Map. It maps the file read-write and locks
// the mapping into memory so the PMI handler's writes can never take a
// page fault.
func (m *FileMemObject) Map() ([]byte, error) {
	size, err := m.Size()
	if err != nil {
		return nil, err
	}
	b, err := unix.Mmap(int(m.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	if err := unix.Mlock(b); err != nil {
		_ = unix.Munmap(b)
		return nil, err
	}
	m.mapping = b
	return b, nil
}

// Unmap implements MemObject.Unmap.
func (m *FileMemObject) Unmap() error {
	if m.mapping == nil {
		return nil
	}
	b := m.mapping
	m.mapping = nil
	_ = unix.Munlock(b)
	return unix.Munmap(b)
}
