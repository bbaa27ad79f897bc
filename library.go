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

package snowbridge

// Library is the set of calls exported by a remote driver layer.
//
// Every call that can fail returns an error text: nil (or empty) means
// success, anything else is a NUL-terminated message that is surfaced
// to the user verbatim. Text inputs are NUL-terminated buffers.
//
// Ownership:
//   - Inputs and fixed-size out-params (lastID, rowsAffected, queryID,
//     numCols, isOver) are allocated and released by the caller.
//   - Returned error texts and the elements stored through names, types
//     and values are allocated by the Library and become owned by the
//     caller, who must hand each of them back to Free exactly once.
//
// Integer out-params are native-endian int32, isOver is a single byte
// that is non-zero once the cursor is exhausted, and queryID must be at
// least QueryIDLength bytes.
//
// A Library holds one connection and at most one open cursor. Calls are
// serialized by the caller, except CancelExecution which may be called
// while Execute is blocked on another goroutine.
type Library interface {
	// InitConnection opens the connection described by connStr.
	InitConnection(connStr []byte) []byte
	// Ping checks the connection is alive.
	Ping() []byte
	// CloseConnection closes the connection. Closing an already closed
	// connection is a no-op.
	CloseConnection()

	// Execute runs a statement synchronously.
	Execute(query []byte, args *Batch, lastID, rowsAffected []byte) []byte
	// AsyncExecute submits a statement and returns as soon as the
	// remote service accepted it, writing its identifier to queryID.
	AsyncExecute(query []byte, args *Batch, queryID []byte) []byte
	// CancelExecution asks the remote service to abort the statement
	// currently running in Execute, if any.
	CancelExecution()

	// Fetch runs a query and opens the cursor, reporting the column
	// count, names and type descriptors.
	Fetch(query []byte, args *Batch, numCols []byte, names, types *[][]byte) []byte
	// FetchNextRow reads the next row of the open cursor into values,
	// or sets isOver when there are no more rows.
	FetchNextRow(isOver []byte, values *[][]byte, numCols int32) []byte
	// CloseCursor closes the open cursor. Closing when no cursor is
	// open is a no-op.
	CloseCursor()

	// Free releases a buffer the Library handed to the caller.
	Free(buf []byte)
}
