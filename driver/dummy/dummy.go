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

// Package dummy implements a scripted in-memory snowbridge.Library,
// which is intended only for use in automated testing.
//
// Responses are set through the exported fields before the calls are
// made. Every buffer the library hands out is tracked, so tests can
// check that the caller freed all of them exactly once.
//
// Setting DUMMY_PANIC_FUNC to the name of a boundary call makes that
// call panic, with DUMMY_PANIC_MESSAGE as the value when set.
package dummy

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/snowbridge-dev/snowbridge"
)

func maybePanic(fname string) {
	if fname == os.Getenv("DUMMY_PANIC_FUNC") {
		message := os.Getenv("DUMMY_PANIC_MESSAGE")
		if len(message) == 0 {
			message = fmt.Sprintf("We panicked in %s!", fname)
		}
		panic(message)
	}
}

// Library is a scripted snowbridge.Library.
type Library struct {
	// ConnectError makes InitConnection fail with this text.
	ConnectError string
	// PingError makes Ping fail with this text while connected.
	PingError string
	// ExecResult is what a successful Execute reports.
	ExecResult snowbridge.ExecResult
	// ExecError makes Execute fail with this text.
	ExecError string
	// BlockExecute makes Execute wait until CancelExecution is called,
	// then fail with "query cancelled".
	BlockExecute bool
	// QueryID is what AsyncExecute reports. A random UUID when empty.
	QueryID string
	// AsyncError makes AsyncExecute fail with this text.
	AsyncError string
	// Columns, Types and Rows describe the result of Fetch.
	Columns []string
	Types   []string
	Rows    [][]string
	// FetchError makes Fetch fail with this text.
	FetchError string
	// RowError makes FetchNextRow fail with this text when asked for
	// the row at RowErrorAt (zero-based).
	RowError   string
	RowErrorAt int
	// PanicIn makes the named call panic, like DUMMY_PANIC_FUNC.
	PanicIn string

	// ExecuteStarted receives a value each time Execute starts.
	ExecuteStarted chan struct{}

	mem       memory.Allocator
	mu        sync.Mutex
	calls     map[string]int
	live      map[uintptr]int
	frees     int
	problems  []string
	connected bool
	connStr   string
	cursor    bool
	pos       int
	lastQuery string
	lastArgs  []any
	cancelled chan struct{}
}

// New returns a Library that allocates what it hands out from mem.
func New(mem memory.Allocator) *Library {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Library{
		ExecuteStarted: make(chan struct{}, 16),
		mem:            mem,
		calls:          make(map[string]int),
		live:           make(map[uintptr]int),
		cancelled:      make(chan struct{}, 16),
	}
}

func (l *Library) enter(fname string) {
	l.mu.Lock()
	l.calls[fname]++
	panicIn := l.PanicIn
	l.mu.Unlock()

	if panicIn == fname {
		panic(fmt.Sprintf("We panicked in %s!", fname))
	}
	maybePanic(fname)
}

// Calls reports how many times the named boundary call was made.
func (l *Library) Calls(fname string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[fname]
}

// Outstanding reports how many handed-out buffers have not been freed.
func (l *Library) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// Frees reports how many buffers were freed.
func (l *Library) Frees() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frees
}

// Problems lists misuse seen by Free: double frees and frees of
// buffers this library never handed out.
func (l *Library) Problems() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.problems...)
}

// ConnString returns the connection string of the last InitConnection.
func (l *Library) ConnString() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connStr
}

// LastQuery returns the text of the last statement or query.
func (l *Library) LastQuery() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastQuery
}

// LastArgs returns the decoded arguments of the last statement or query.
func (l *Library) LastArgs() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastArgs
}

// CursorOpen reports whether a cursor is open.
func (l *Library) CursorOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// text allocates a NUL-terminated copy of s. Callers hold l.mu.
func (l *Library) text(s string) []byte {
	buf := l.mem.Allocate(len(s) + 1)
	snowbridge.CopyCString(buf, s)
	l.live[uintptr(unsafe.Pointer(&buf[0]))]++
	return buf
}

func (l *Library) errText(s string) []byte {
	if s == "" {
		return nil
	}
	return l.text(s)
}

func (l *Library) InitConnection(connStr []byte) []byte {
	l.enter("InitConnection")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ConnectError != "" {
		return l.text(l.ConnectError)
	}
	l.connStr = snowbridge.GoString(connStr)
	l.connected = true
	return nil
}

func (l *Library) Ping() []byte {
	l.enter("Ping")
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return l.text("sql: database is closed")
	}
	return l.errText(l.PingError)
}

func (l *Library) CloseConnection() {
	l.enter("CloseConnection")
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	l.cursor = false
}

func (l *Library) record(query []byte, args *snowbridge.Batch) []byte {
	if !l.connected {
		return l.text("sql: database is closed")
	}
	decoded, err := snowbridge.DecodeArgs(args)
	if err != nil {
		return l.text(err.Error())
	}
	l.lastQuery = snowbridge.GoString(query)
	l.lastArgs = decoded
	return nil
}

func (l *Library) Execute(query []byte, args *snowbridge.Batch, lastID, rowsAffected []byte) []byte {
	l.enter("Execute")
	select {
	case l.ExecuteStarted <- struct{}{}:
	default:
	}

	l.mu.Lock()
	if errText := l.record(query, args); errText != nil {
		l.mu.Unlock()
		return errText
	}
	block := l.BlockExecute
	l.mu.Unlock()

	if block {
		<-l.cancelled
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.text("query cancelled")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ExecError != "" {
		return l.text(l.ExecError)
	}
	binary.NativeEndian.PutUint32(lastID, uint32(l.ExecResult.LastInsertID))
	binary.NativeEndian.PutUint32(rowsAffected, uint32(l.ExecResult.RowsAffected))
	return nil
}

func (l *Library) AsyncExecute(query []byte, args *snowbridge.Batch, queryID []byte) []byte {
	l.enter("AsyncExecute")
	l.mu.Lock()
	defer l.mu.Unlock()
	if errText := l.record(query, args); errText != nil {
		return errText
	}
	if l.AsyncError != "" {
		return l.text(l.AsyncError)
	}
	id := l.QueryID
	if id == "" {
		id = uuid.NewString()
	}
	snowbridge.CopyCString(queryID, id)
	return nil
}

func (l *Library) CancelExecution() {
	l.enter("CancelExecution")
	select {
	case l.cancelled <- struct{}{}:
	default:
	}
}

func (l *Library) Fetch(query []byte, args *snowbridge.Batch, numCols []byte, names, types *[][]byte) []byte {
	l.enter("Fetch")
	l.mu.Lock()
	defer l.mu.Unlock()
	if errText := l.record(query, args); errText != nil {
		return errText
	}
	if l.FetchError != "" {
		return l.text(l.FetchError)
	}

	outNames := make([][]byte, len(l.Columns))
	outTypes := make([][]byte, len(l.Types))
	for i, c := range l.Columns {
		outNames[i] = l.text(c)
	}
	for i, t := range l.Types {
		outTypes[i] = l.text(t)
	}
	*names, *types = outNames, outTypes
	binary.NativeEndian.PutUint32(numCols, uint32(len(l.Columns)))
	l.cursor = true
	l.pos = 0
	return nil
}

func (l *Library) FetchNextRow(isOver []byte, values *[][]byte, numCols int32) []byte {
	l.enter("FetchNextRow")
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cursor {
		return l.text("no open cursor")
	}
	if l.RowError != "" && l.pos == l.RowErrorAt {
		return l.text(l.RowError)
	}
	if l.pos >= len(l.Rows) {
		isOver[0] = 1
		return nil
	}

	row := l.Rows[l.pos]
	l.pos++
	out := make([][]byte, len(row))
	for i, v := range row {
		out[i] = l.text(v)
	}
	*values = out
	return nil
}

func (l *Library) CloseCursor() {
	l.enter("CloseCursor")
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cursor = false
	l.pos = 0
}

func (l *Library) Free(buf []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["Free"]++
	if len(buf) == 0 {
		l.problems = append(l.problems, "free of an empty buffer")
		return
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	if l.live[addr] == 0 {
		l.problems = append(l.problems, fmt.Sprintf("free of unknown or already freed buffer %q", snowbridge.GoString(buf)))
		return
	}
	if l.live[addr]--; l.live[addr] == 0 {
		delete(l.live, addr)
	}
	l.frees++
	l.mem.Free(buf)
}

var _ snowbridge.Library = (*Library)(nil)
