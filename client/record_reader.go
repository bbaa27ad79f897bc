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
	"strconv"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/snowbridge-dev/snowbridge"
)

const (
	DefaultBatchSize = 1024

	// field metadata keys
	MetadataKeyDatabaseType = "DATABASE_TYPE"
	MetadataKeyTypeRaw      = "TYPE_DESCRIPTOR"
	MetadataKeyPrecision    = "PRECISION"
	MetadataKeyScale        = "SCALE"
)

// RecordReader reads the result of a query as Arrow record batches. All
// columns are utf8, matching the text rows the library produces; the
// original column type travels in the field metadata.
//
// The reader owns the library's cursor until it is exhausted, fails,
// or is released.
type RecordReader struct {
	refCount  atomic.Int64
	ctx       context.Context
	cur       *Cursor
	mem       memory.Allocator
	schema    *arrow.Schema
	bldr      *array.RecordBuilder
	batchSize int

	rec  arrow.Record
	err  error
	done bool
}

// NewRecordReader runs query and returns a reader over its rows. Batch
// sizes below one use DefaultBatchSize. mem holds the Arrow buffers and
// may be nil.
func (db *Database) NewRecordReader(ctx context.Context, mem memory.Allocator, query string, batchSize int, args ...any) (*RecordReader, error) {
	if err := db.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	cur := db.newCursor()
	if err := cur.fetchMetadata(ctx, query, args); err != nil {
		cur.close()
		return nil, err
	}

	schema := SchemaFor(cur.Columns())
	rdr := &RecordReader{
		ctx:       ctx,
		cur:       cur,
		mem:       mem,
		schema:    schema,
		bldr:      array.NewRecordBuilder(mem, schema),
		batchSize: batchSize,
	}
	rdr.refCount.Add(1)
	return rdr, nil
}

// SchemaFor returns the Arrow schema of a result with the given columns.
func SchemaFor(cols []Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		keys := []string{MetadataKeyDatabaseType, MetadataKeyTypeRaw}
		values := []string{c.Type.Name(), c.Type.Raw}
		if p := c.Type.Parsed; p != nil {
			keys = append(keys, MetadataKeyPrecision, MetadataKeyScale)
			values = append(values, strconv.FormatInt(p.Precision, 10), strconv.FormatInt(p.Scale, 10))
		}
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     arrow.BinaryTypes.String,
			Nullable: false,
			Metadata: arrow.NewMetadata(keys, values),
		}
	}
	return arrow.NewSchema(fields, nil)
}

func (r *RecordReader) Retain() {
	r.refCount.Add(1)
}

func (r *RecordReader) Release() {
	if r.refCount.Add(-1) == 0 {
		if r.rec != nil {
			r.rec.Release()
			r.rec = nil
		}
		r.bldr.Release()
		r.cur.close()
	}
}

func (r *RecordReader) Schema() *arrow.Schema { return r.schema }

// Columns returns the column descriptors of the result.
func (r *RecordReader) Columns() []Column { return r.cur.Columns() }

func (r *RecordReader) Next() bool {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	if r.done || r.err != nil {
		return false
	}

	var n int
	appendRow := func(row Row) error {
		for i, v := range row {
			r.bldr.Field(i).(*array.StringBuilder).Append(v)
		}
		n++
		return nil
	}
	for n < r.batchSize {
		if err := r.ctx.Err(); err != nil {
			r.err = snowbridge.Error{Code: snowbridge.StatusCancelled, Context: "RecordReader", Msg: err.Error()}
			break
		}
		more, err := r.cur.next(r.ctx, appendRow)
		if err != nil {
			r.err = err
			break
		}
		if !more {
			r.done = true
			break
		}
	}
	if r.done || r.err != nil {
		// rows are complete (or lost), the remote cursor can go now
		r.cur.close()
	}
	if n == 0 || r.err != nil {
		return false
	}
	r.rec = r.bldr.NewRecord()
	return true
}

func (r *RecordReader) Record() arrow.Record { return r.rec }

func (r *RecordReader) Err() error { return r.err }

var _ array.RecordReader = (*RecordReader)(nil)
