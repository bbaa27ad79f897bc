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

package client

import (
	"context"
	"encoding/binary"

	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/ledger"
	"go.opentelemetry.io/otel/attribute"
)

const int32Size = 4

// Execute runs a statement and waits for it to finish.
//
// While the statement runs, an interrupt (SIGINT or SIGTERM by default)
// or ctx being done asks the remote service to abort it. The call still
// returns through the normal path: whatever the library reports once
// the statement stops.
func (db *Database) Execute(ctx context.Context, query string, args ...any) (res snowbridge.ExecResult, err error) {
	ctx, span := db.StartSpan(ctx, "snowbridge.Execute")
	defer func() { endSpan(span, err) }()

	if err = ctx.Err(); err != nil {
		return res, snowbridge.Error{Code: snowbridge.StatusCancelled, Context: "Execute failed", Msg: err.Error()}
	}
	if err = db.ensureConnected(ctx); err != nil {
		return
	}

	l := ledger.New(db.mem)
	defer l.Release()

	batch, err := snowbridge.EncodeArgs(l, args)
	if err != nil {
		return
	}
	q := l.CString(query)
	lastID := l.Alloc(int32Size)
	rowsAffected := l.Alloc(int32Size)

	errText := db.executeGuarded(ctx, q, batch, lastID, rowsAffected)
	if err = db.check(l, "Execute failed", errText); err != nil {
		return
	}

	res.LastInsertID = int32(binary.NativeEndian.Uint32(lastID))
	res.RowsAffected = int32(binary.NativeEndian.Uint32(rowsAffected))
	span.SetAttributes(attribute.Int("db.response.returned_rows", int(res.RowsAffected)))
	return res, nil
}

func (db *Database) executeGuarded(ctx context.Context, q []byte, batch *snowbridge.Batch, lastID, rowsAffected []byte) []byte {
	if db.interrupts != nil {
		guard := db.interrupts.Install(ctx, db.cancelExecution)
		defer guard.Remove()
	}
	db.logger.DebugContext(ctx, "boundary call", "call", "Execute", "args", batch.Len)
	return db.lib.Execute(q, batch, lastID, rowsAffected)
}

func (db *Database) cancelExecution() {
	db.logger.Debug("boundary call", "call", "CancelExecution")
	db.lib.CancelExecution()
}

// ExecuteAsync submits a statement without waiting for it and returns
// the identifier the remote service assigned to it. Nothing here tracks
// the statement afterwards.
func (db *Database) ExecuteAsync(ctx context.Context, query string, args ...any) (queryID string, err error) {
	ctx, span := db.StartSpan(ctx, "snowbridge.ExecuteAsync")
	defer func() { endSpan(span, err) }()

	if err = db.ensureConnected(ctx); err != nil {
		return
	}

	l := ledger.New(db.mem)
	defer l.Release()

	batch, err := snowbridge.EncodeArgs(l, args)
	if err != nil {
		return
	}
	q := l.CString(query)
	idBuf := l.Alloc(snowbridge.QueryIDLength)

	db.logger.DebugContext(ctx, "boundary call", "call", "AsyncExecute", "args", batch.Len)
	if err = db.check(l, "AsyncExecute failed", db.lib.AsyncExecute(q, batch, idBuf)); err != nil {
		return
	}

	queryID = snowbridge.GoString(idBuf)
	span.SetAttributes(attribute.String("snowbridge.query_id", queryID))
	return queryID, nil
}
