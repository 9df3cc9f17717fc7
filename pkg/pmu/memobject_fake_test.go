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

// fakeMemObject is an in-memory MemObject, standing in for a mapped
// caller-supplied buffer without needing a real file descriptor or
// mmap (§8's property tests run against a mocked hardware layer; the
// memory object is mocked the same way).
type fakeMemObject struct {
	buf    []byte
	mapped bool

	// mapErr, if set, is returned by Map instead of succeeding —
	// used to exercise mapAll's error-classification path.
	mapErr error
}

func newFakeMemObject(size int) *fakeMemObject {
	return &fakeMemObject{buf: make([]byte, size)}
}

func (m *fakeMemObject) Size() (int64, error) {
	return int64(len(m.buf)), nil
}

func (m *fakeMemObject) Map() ([]byte, error) {
	if m.mapErr != nil {
		return nil, m.mapErr
	}
	m.mapped = true
	return m.buf, nil
}

func (m *fakeMemObject) Unmap() error {
	m.mapped = false
	return nil
}
