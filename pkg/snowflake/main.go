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

//go:build driverlib

// Command snowflake is the c-shared build of the Snowflake session:
//
//	go build -tags driverlib -buildmode=c-shared -o libsnowbridge_snowflake.so ./pkg/snowflake
//
// Every string or array it returns is C memory and must be released
// with SnowbridgeFree, exactly once.
package main

// #include <stdint.h>
// #include <string.h>
import "C"

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory/mallocator"
	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/driver/snowflake"
)

const envLogLevel = "SNOWBRIDGE_LOG_LEVEL"

var (
	mem = mallocator.NewMallocator()
	lib = snowflake.NewLibrary(snowflake.NewSession(snowflake.WithLogger(newLogger())), mem)

	// buffers handed out and not yet freed, by address
	liveMu sync.Mutex
	live   = make(map[uintptr][]byte)
)

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv(envLogLevel))); err != nil {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func fromCArr[T any](ptr *T, sz int) []T {
	if ptr == nil || sz <= 0 {
		return nil
	}
	return unsafe.Slice(ptr, sz)
}

func fromCStr(p *C.char) []byte {
	if p == nil {
		return nil
	}
	return fromCArr((*byte)(unsafe.Pointer(p)), int(C.strlen(p))+1)
}

// handOut records buf as owned by the caller and returns its address.
func handOut(buf []byte) unsafe.Pointer {
	if len(buf) == 0 {
		return nil
	}
	p := unsafe.Pointer(&buf[0])
	liveMu.Lock()
	live[uintptr(p)] = buf
	liveMu.Unlock()
	return p
}

func toCStr(buf []byte) *C.char { return (*C.char)(handOut(buf)) }

func errCStr(msg string) *C.char {
	buf := mem.Allocate(len(msg) + 1)
	snowbridge.CopyCString(buf, msg)
	return toCStr(buf)
}

func int32Buf(p *C.int32_t) []byte {
	return fromCArr((*byte)(unsafe.Pointer(p)), 4)
}

func toBatch(args **C.char, tags *C.int32_t, n C.int32_t) *snowbridge.Batch {
	count := int(n)
	b := &snowbridge.Batch{Len: count}
	if count <= 0 {
		b.Len = 0
		return b
	}
	b.Pointers = fromCArr((*byte)(unsafe.Pointer(args)), count*int(unsafe.Sizeof(uintptr(0))))
	b.Tags = fromCArr((*byte)(unsafe.Pointer(tags)), count*4)
	b.Values = make([][]byte, count)
	for i, p := range fromCArr(args, count) {
		b.Values[i] = fromCStr(p)
	}
	return b
}

// toCArray hands bufs to the caller as a char* array.
func toCArray(bufs [][]byte) **C.char {
	if len(bufs) == 0 {
		return nil
	}
	arr := (**C.char)(handOut(mem.Allocate(len(bufs) * int(unsafe.Sizeof(uintptr(0))))))
	entries := fromCArr(arr, len(bufs))
	for i, b := range bufs {
		entries[i] = toCStr(b)
	}
	return arr
}

// recoverErr turns a panic in an exported call into error text, so it
// never unwinds into the caller's runtime.
func recoverErr(fname string, out **C.char) {
	if r := recover(); r != nil {
		*out = errCStr(fmt.Sprintf("panic in %s: %v", fname, r))
	}
}

func recoverVoid(fname string) {
	if r := recover(); r != nil {
		fmt.Fprintf(os.Stderr, "snowbridge: panic in %s: %v\n", fname, r)
	}
}

//export InitConnection
func InitConnection(connStr *C.char) (out *C.char) {
	defer recoverErr("InitConnection", &out)
	if connStr == nil {
		return errCStr("connection string cannot be nil")
	}
	return toCStr(lib.InitConnection(fromCStr(connStr)))
}

//export Ping
func Ping() (out *C.char) {
	defer recoverErr("Ping", &out)
	return toCStr(lib.Ping())
}

//export CloseConnection
func CloseConnection() {
	defer recoverVoid("CloseConnection")
	lib.CloseConnection()
}

//export Execute
func Execute(query *C.char, lastID *C.int32_t, rowsAffected *C.int32_t, args **C.char, tags *C.int32_t, n C.int32_t) (out *C.char) {
	defer recoverErr("Execute", &out)
	if query == nil {
		return errCStr("query cannot be nil")
	}
	return toCStr(lib.Execute(fromCStr(query), toBatch(args, tags, n), int32Buf(lastID), int32Buf(rowsAffected)))
}

//export AsyncExecute
func AsyncExecute(query *C.char, queryID *C.char, args **C.char, tags *C.int32_t, n C.int32_t) (out *C.char) {
	defer recoverErr("AsyncExecute", &out)
	if query == nil {
		return errCStr("query cannot be nil")
	}
	idBuf := fromCArr((*byte)(unsafe.Pointer(queryID)), snowbridge.QueryIDLength)
	return toCStr(lib.AsyncExecute(fromCStr(query), toBatch(args, tags, n), idBuf))
}

//export CancelExecution
func CancelExecution() {
	defer recoverVoid("CancelExecution")
	lib.CancelExecution()
}

//export Fetch
func Fetch(query *C.char, names ***C.char, types ***C.char, numCols *C.int32_t, args **C.char, tags *C.int32_t, n C.int32_t) (out *C.char) {
	defer recoverErr("Fetch", &out)
	if query == nil {
		return errCStr("query cannot be nil")
	}
	*names, *types = nil, nil

	var goNames, goTypes [][]byte
	errText := lib.Fetch(fromCStr(query), toBatch(args, tags, n), int32Buf(numCols), &goNames, &goTypes)
	*names = toCArray(goNames)
	*types = toCArray(goTypes)
	return toCStr(errText)
}

//export FetchNextRow
func FetchNextRow(isOver *C.uint8_t, values ***C.char, numCols C.int32_t) (out *C.char) {
	defer recoverErr("FetchNextRow", &out)
	*values = nil

	var goValues [][]byte
	errText := lib.FetchNextRow(fromCArr((*byte)(unsafe.Pointer(isOver)), 1), &goValues, int32(numCols))
	*values = toCArray(goValues)
	return toCStr(errText)
}

//export CloseCursor
func CloseCursor() {
	defer recoverVoid("CloseCursor")
	lib.CloseCursor()
}

//export SnowbridgeFree
func SnowbridgeFree(p unsafe.Pointer) {
	if p == nil {
		return
	}
	liveMu.Lock()
	buf, ok := live[uintptr(p)]
	delete(live, uintptr(p))
	liveMu.Unlock()
	if !ok {
		fmt.Fprintf(os.Stderr, "snowbridge: free of unknown pointer %p\n", p)
		return
	}
	mem.Free(buf)
}

func main() {}
