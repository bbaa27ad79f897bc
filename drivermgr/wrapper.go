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

//go:build cgo

// Package drivermgr loads the snowbridge c-shared library with dlopen
// and exposes it as a snowbridge.Library.
//
// Every buffer handed to the loaded library must be C memory, so a
// Database over it must be connected with client.WithAllocator and the
// allocator returned by Allocator.
package drivermgr

// #cgo !windows LDFLAGS: -ldl
// #include <dlfcn.h>
// #include <stdint.h>
// #include <stdlib.h>
// #include <string.h>
//
// typedef char* (*init_fn)(char*);
// typedef char* (*ping_fn)(void);
// typedef void (*void_fn)(void);
// typedef char* (*exec_fn)(char*, int32_t*, int32_t*, char**, int32_t*, int32_t);
// typedef char* (*async_fn)(char*, char*, char**, int32_t*, int32_t);
// typedef char* (*fetch_fn)(char*, char***, char***, int32_t*, char**, int32_t*, int32_t);
// typedef char* (*next_fn)(uint8_t*, char***, int32_t);
// typedef void (*free_fn)(void*);
//
// static char* callInit(void* f, char* s) { return ((init_fn)f)(s); }
// static char* callPing(void* f) { return ((ping_fn)f)(); }
// static void callVoid(void* f) { ((void_fn)f)(); }
// static char* callExec(void* f, char* q, int32_t* id, int32_t* n, char** args, int32_t* tags, int32_t cnt) {
//     return ((exec_fn)f)(q, id, n, args, tags, cnt);
// }
// static char* callAsync(void* f, char* q, char* qid, char** args, int32_t* tags, int32_t cnt) {
//     return ((async_fn)f)(q, qid, args, tags, cnt);
// }
// static char* callFetch(void* f, char* q, char*** names, char*** types, int32_t* n, char** args, int32_t* tags, int32_t cnt) {
//     return ((fetch_fn)f)(q, names, types, n, args, tags, cnt);
// }
// static char* callNext(void* f, uint8_t* over, char*** values, int32_t n) {
//     return ((next_fn)f)(over, values, n);
// }
// static void callFree(void* f, void* p) { ((free_fn)f)(p); }
//
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/memory/mallocator"
	"github.com/snowbridge-dev/snowbridge"
)

// exported symbol names
const (
	symInitConnection  = "InitConnection"
	symPing            = "Ping"
	symCloseConnection = "CloseConnection"
	symExecute         = "Execute"
	symAsyncExecute    = "AsyncExecute"
	symCancelExecution = "CancelExecution"
	symFetch           = "Fetch"
	symFetchNextRow    = "FetchNextRow"
	symCloseCursor     = "CloseCursor"
	symFree            = "SnowbridgeFree"
)

// Allocator returns an allocator of C memory, suitable for the request
// buffers of a Library.
func Allocator() memory.Allocator { return mallocator.NewMallocator() }

// Library is a loaded snowbridge c-shared library.
type Library struct {
	path   string
	handle unsafe.Pointer

	initConnection, ping, closeConnection    unsafe.Pointer
	execute, asyncExecute, cancelExecution   unsafe.Pointer
	fetch, fetchNextRow, closeCursor, freeFn unsafe.Pointer

	closeOnce sync.Once
}

// Load opens the shared library at path and resolves its boundary
// calls.
func Load(path string) (*Library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_LOCAL)
	if handle == nil {
		return nil, loadError(path, C.GoString(C.dlerror()))
	}

	lib := &Library{path: path, handle: handle}
	for _, sym := range []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{symInitConnection, &lib.initConnection},
		{symPing, &lib.ping},
		{symCloseConnection, &lib.closeConnection},
		{symExecute, &lib.execute},
		{symAsyncExecute, &lib.asyncExecute},
		{symCancelExecution, &lib.cancelExecution},
		{symFetch, &lib.fetch},
		{symFetchNextRow, &lib.fetchNextRow},
		{symCloseCursor, &lib.closeCursor},
		{symFree, &lib.freeFn},
	} {
		cname := C.CString(sym.name)
		fn := C.dlsym(handle, cname)
		C.free(unsafe.Pointer(cname))
		if fn == nil {
			C.dlclose(handle)
			return nil, loadError(path, fmt.Sprintf("missing symbol %s", sym.name))
		}
		*sym.dst = fn
	}
	return lib, nil
}

func loadError(path, msg string) error {
	return snowbridge.Error{
		Code:    snowbridge.StatusInternal,
		Context: fmt.Sprintf("failed to load '%s'", path),
		Msg:     msg,
	}
}

// Path returns the path the library was loaded from.
func (l *Library) Path() string { return l.path }

// Close unloads the library. No call may be made afterwards.
func (l *Library) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if C.dlclose(l.handle) != 0 {
			err = snowbridge.Error{Code: snowbridge.StatusInternal, Context: "dlclose", Msg: C.GoString(C.dlerror())}
		}
		l.handle = nil
	})
	return err
}

func cstr(buf []byte) *C.char {
	if len(buf) == 0 {
		return nil
	}
	return (*C.char)(unsafe.Pointer(&buf[0]))
}

func int32Ptr(buf []byte) *C.int32_t {
	if len(buf) == 0 {
		return nil
	}
	return (*C.int32_t)(unsafe.Pointer(&buf[0]))
}

func batchArgs(b *snowbridge.Batch) (**C.char, *C.int32_t, C.int32_t) {
	if b == nil || b.Len == 0 {
		return nil, nil, 0
	}
	return (**C.char)(unsafe.Pointer(&b.Pointers[0])), int32Ptr(b.Tags), C.int32_t(b.Len)
}

// goBytes views a NUL-terminated C string, terminator included.
func goBytes(p *C.char) []byte {
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(C.strlen(p))+1)
}

// takeArray views the n strings of a library-allocated array and frees
// the array itself; the strings stay owned by the caller.
func (l *Library) takeArray(arr **C.char, n int) [][]byte {
	if arr == nil {
		return nil
	}
	out := make([][]byte, n)
	for i, p := range unsafe.Slice(arr, n) {
		out[i] = goBytes(p)
	}
	C.callFree(l.freeFn, unsafe.Pointer(arr))
	return out
}

func (l *Library) InitConnection(connStr []byte) []byte {
	return goBytes(C.callInit(l.initConnection, cstr(connStr)))
}

func (l *Library) Ping() []byte {
	return goBytes(C.callPing(l.ping))
}

func (l *Library) CloseConnection() { C.callVoid(l.closeConnection) }

func (l *Library) Execute(query []byte, args *snowbridge.Batch, lastID, rowsAffected []byte) []byte {
	cargs, tags, n := batchArgs(args)
	return goBytes(C.callExec(l.execute, cstr(query), int32Ptr(lastID), int32Ptr(rowsAffected), cargs, tags, n))
}

func (l *Library) AsyncExecute(query []byte, args *snowbridge.Batch, queryID []byte) []byte {
	cargs, tags, n := batchArgs(args)
	return goBytes(C.callAsync(l.asyncExecute, cstr(query), cstr(queryID), cargs, tags, n))
}

func (l *Library) CancelExecution() { C.callVoid(l.cancelExecution) }

func (l *Library) Fetch(query []byte, args *snowbridge.Batch, numCols []byte, names, types *[][]byte) []byte {
	cargs, tags, n := batchArgs(args)
	var cnames, ctypes **C.char
	errText := goBytes(C.callFetch(l.fetch, cstr(query), &cnames, &ctypes, int32Ptr(numCols), cargs, tags, n))

	cols := int(*int32Ptr(numCols))
	if cols < 0 {
		cols = 0
	}
	*names = l.takeArray(cnames, cols)
	*types = l.takeArray(ctypes, cols)
	return errText
}

func (l *Library) FetchNextRow(isOver []byte, values *[][]byte, numCols int32) []byte {
	var cvalues **C.char
	errText := goBytes(C.callNext(l.fetchNextRow, (*C.uint8_t)(unsafe.Pointer(&isOver[0])), &cvalues, C.int32_t(numCols)))
	*values = l.takeArray(cvalues, int(numCols))
	return errText
}

func (l *Library) CloseCursor() { C.callVoid(l.closeCursor) }

func (l *Library) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}
	C.callFree(l.freeFn, unsafe.Pointer(&buf[0]))
}

var _ snowbridge.Library = (*Library)(nil)
