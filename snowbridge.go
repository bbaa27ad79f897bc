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

// Package snowbridge defines the contract between a Go client and a
// remote-database driver layer living on the other side of a foreign
// call boundary (typically a c-shared library wrapping gosnowflake).
//
// The boundary is deliberately narrow: connection setup, a liveness
// probe, synchronous and asynchronous execution, a single streaming
// cursor, and cancellation. Arguments cross as an encoded batch of
// tagged text values, and results come back as text. Every buffer that
// crosses the boundary has exactly one owner, and the owner releases it
// exactly once; see the ledger package.
//
// The client package builds the user-facing API on top of a Library.
// Implementations of Library live under driver/ (in-process) and
// drivermgr (dynamically loaded).
//
// In general a Library serves a single logical caller. The only call
// that may run concurrently with another is CancelExecution.
package snowbridge

import "fmt"

//go:generate go run golang.org/x/tools/cmd/stringer@v0.35.0 -type Status -linecomment

// Error is the error type returned by every snowbridge operation.
//
// Msg carries the underlying message verbatim (for remote failures this
// is exactly the text the driver layer returned), while Context names
// the operation that failed.
type Error struct {
	// Msg is the underlying message.
	Msg string
	// Context is the originating operation, e.g. "Execute failed".
	Context string
	// Code is the category of the failure.
	Code Status
}

func (e Error) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Context, e.Msg)
}

// Is reports whether target is an Error sentinel with the same Code.
// Only sentinels (an Error with an empty Msg and Context) match by code,
// so errors.Is(err, ErrConnection) works for any connection failure.
func (e Error) Is(target error) bool {
	var t Error
	switch tt := target.(type) {
	case Error:
		t = tt
	case *Error:
		if tt == nil {
			return false
		}
		t = *tt
	default:
		return false
	}
	if t.Msg != "" || t.Context != "" {
		return t == e
	}
	return t.Code == e.Code
}

// Sentinels for use with errors.Is.
var (
	ErrConnection      = Error{Code: StatusConnection}
	ErrQuery           = Error{Code: StatusQuery}
	ErrInvalidArgument = Error{Code: StatusInvalidArgument}
)

// Status represents an error category for operations that may fail
type Status uint8

const (
	// No Error
	StatusOK Status = iota // OK
	// The client is not connected, or the connection attempt failed.
	StatusConnection // Connection
	// The remote driver layer rejected an execute, fetch or cursor call.
	StatusQuery // Query
	// The caller violated the API contract, e.g. an argument of a type
	// that cannot be encoded, or a select without a row handler.
	StatusInvalidArgument // Invalid Argument
	// The operation is not valid in the current state, e.g. reading a
	// cursor that was already closed.
	StatusInvalidState // Invalid State
	// The operation was cancelled.
	StatusCancelled // Cancelled
	// An invariant of the implementation was broken.
	StatusInternal // Internal
)

// QueryIDLength is the size in bytes of the buffer that receives an
// asynchronous query identifier, including the terminating NUL. A UUID
// in canonical form is 36 characters.
const QueryIDLength = 40

// ExecResult is the outcome of a synchronous Execute. Both values are
// only meaningful for mutating statements.
type ExecResult struct {
	LastInsertID int32
	RowsAffected int32
}
