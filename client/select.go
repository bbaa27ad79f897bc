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
	"errors"
	"iter"

	"github.com/snowbridge-dev/snowbridge"
	"go.opentelemetry.io/otel/attribute"
)

// RowHandler is called once per row, in the order the remote service
// returns them. cur gives access to the column descriptors. Returning
// an error stops the query; Select then returns that error.
type RowHandler func(cur *Cursor, row Row) error

// Select runs query and calls onRow for every row.
//
// The cursor is closed, and all of its buffers released, before Select
// returns, whether the rows ran out, the library failed, onRow returned
// an error or onRow panicked.
func (db *Database) Select(ctx context.Context, query string, onRow RowHandler, args ...any) (err error) {
	ctx, span := db.StartSpan(ctx, "snowbridge.Select")
	defer func() { endSpan(span, err) }()

	if onRow == nil {
		return snowbridge.Error{Code: snowbridge.StatusInvalidArgument, Context: "Select", Msg: "a row handler is required"}
	}
	if err = db.ensureConnected(ctx); err != nil {
		return
	}

	cur := db.newCursor()
	defer cur.close()

	if err = cur.fetchMetadata(ctx, query, args); err != nil {
		return
	}

	var rows int
	handle := func(row Row) error {
		rows++
		return onRow(cur, row)
	}
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return snowbridge.Error{Code: snowbridge.StatusCancelled, Context: "Select", Msg: ctxErr.Error()}
		}
		more, err := cur.next(ctx, handle)
		if err != nil {
			return err
		}
		if !more {
			span.SetAttributes(attribute.Int("db.response.returned_rows", rows))
			return nil
		}
	}
}

var errStopIteration = errors.New("iteration stopped")

// Rows returns an iterator over the rows of query for use with range.
// Leaving the loop early closes the cursor. An error ends the sequence
// as its last element.
func (db *Database) Rows(ctx context.Context, query string, args ...any) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		err := db.Select(ctx, query, func(_ *Cursor, row Row) error {
			if !yield(row, nil) {
				return errStopIteration
			}
			return nil
		}, args...)
		if err != nil && !errors.Is(err, errStopIteration) {
			yield(nil, err)
		}
	}
}
