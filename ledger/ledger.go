// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package ledger provides scoped ownership of buffers that cross the
// foreign call boundary.
//
// A Ledger is created once per request, every buffer the request needs
// is acquired through it (or adopted into it when the other side of the
// boundary allocated it), and a single deferred Release frees all of
// them in reverse order of acquisition:
//
//	l := ledger.New(mem)
//	defer l.Release()
//	query := l.CString("SELECT 1")
//	out := l.Alloc(4)
//
// Buffers handed out by a Ledger must not be retained past Release.
package ledger

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

type entry struct {
	buf  []byte
	free func([]byte)
}

// Ledger owns a set of buffers and releases each of them exactly once.
//
// A Ledger is not safe for concurrent use.
type Ledger struct {
	mem      memory.Allocator
	entries  []entry
	released bool
}

// New returns an empty Ledger that acquires buffers from mem. A nil
// allocator means memory.DefaultAllocator.
func New(mem memory.Allocator) *Ledger {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Ledger{mem: mem}
}

// Allocator returns the allocator buffers are acquired from.
func (l *Ledger) Allocator() memory.Allocator { return l.mem }

// Alloc returns a zeroed buffer of n bytes owned by the ledger. A
// request for zero bytes returns nil and records nothing.
func (l *Ledger) Alloc(n int) []byte {
	l.mustBeLive()
	if n <= 0 {
		return nil
	}
	buf := l.mem.Allocate(n)
	clear(buf)
	l.entries = append(l.entries, entry{buf: buf, free: l.mem.Free})
	return buf
}

// CString copies s into a NUL-terminated buffer owned by the ledger.
func (l *Ledger) CString(s string) []byte {
	buf := l.Alloc(len(s) + 1)
	copy(buf, s)
	return buf
}

// Adopt transfers ownership of buf, allocated by someone else, to the
// ledger. free is called with buf on Release. Adopting an empty buffer
// is a no-op, so the result of a boundary call that returned nothing
// can be adopted unconditionally.
func (l *Ledger) Adopt(buf []byte, free func([]byte)) {
	if len(buf) == 0 {
		return
	}
	if free == nil {
		panic("ledger: Adopt requires a free function")
	}
	if l.released {
		// the ledger can no longer free it, so do it now rather than leak
		free(buf)
		panic("ledger: Adopt after Release")
	}
	l.entries = append(l.entries, entry{buf: buf, free: free})
}

// AdoptAll adopts every buffer in bufs with the same free function.
func (l *Ledger) AdoptAll(bufs [][]byte, free func([]byte)) {
	for _, b := range bufs {
		l.Adopt(b, free)
	}
}

// Len reports the number of buffers currently owned by the ledger.
func (l *Ledger) Len() int { return len(l.entries) }

// Released reports whether Release has been called.
func (l *Ledger) Released() bool { return l.released }

// Release frees every owned buffer in reverse order of acquisition.
// It is safe to call more than once; only the first call frees.
//
// If a free function panics the remaining buffers are still freed and
// the first panic is re-raised afterwards.
func (l *Ledger) Release() {
	if l.released {
		return
	}
	l.released = true

	entries := l.entries
	l.entries = nil

	var recovered any
	for i := len(entries) - 1; i >= 0; i-- {
		func(e entry) {
			defer func() {
				if r := recover(); r != nil && recovered == nil {
					recovered = r
				}
			}()
			e.free(e.buf)
		}(entries[i])
	}
	if recovered != nil {
		panic(fmt.Sprintf("ledger: release failed: %v", recovered))
	}
}

func (l *Ledger) mustBeLive() {
	if l.released {
		panic("ledger: use after Release")
	}
}
