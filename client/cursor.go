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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/ledger"
)

// Row is one result row. Every cell is text whatever the column type;
// a NULL is the text "NULL".
type Row []string

// ColumnType is the structured form of a column type descriptor.
type ColumnType struct {
	TypeName  string
	Length    int64
	Precision int64
	Scale     int64
	Nullable  bool
}

// TypeInfo is a column type descriptor as reported by the library.
// Parsed is nil when Raw is not a structured descriptor.
type TypeInfo struct {
	Raw    string
	Parsed *ColumnType
}

// Name returns the type name, falling back to the raw descriptor.
func (t TypeInfo) Name() string {
	if t.Parsed != nil && t.Parsed.TypeName != "" {
		return t.Parsed.TypeName
	}
	return t.Raw
}

// ParseTypeInfo parses a type descriptor. Text that is not a JSON
// descriptor object is kept as is, it is never an error.
func ParseTypeInfo(raw string) TypeInfo {
	info := TypeInfo{Raw: raw}
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return info
	}
	var ct ColumnType
	if err := json.Unmarshal([]byte(raw), &ct); err == nil {
		info.Parsed = &ct
	}
	return info
}

// Column describes one result column.
type Column struct {
	Name string
	Type TypeInfo
}

// CursorState is the position of a Cursor in its lifecycle.
type CursorState int

const (
	CursorCreated CursorState = iota
	CursorMetadataFetched
	CursorStreaming
	CursorClosed
	CursorError
)

func (s CursorState) String() string {
	switch s {
	case CursorCreated:
		return "Created"
	case CursorMetadataFetched:
		return "MetadataFetched"
	case CursorStreaming:
		return "Streaming"
	case CursorClosed:
		return "Closed"
	case CursorError:
		return "Error"
	}
	return fmt.Sprintf("CursorState(%d)", int(s))
}

// Cursor is the client side of the library's single open cursor. It
// only lives for the duration of the Select (or Rows iteration, or
// RecordReader) that opened it.
type Cursor struct {
	db      *Database
	led     *ledger.Ledger
	state   CursorState
	columns []Column
	isOver  []byte

	remoteOpen bool
	closed     bool
}

func (db *Database) newCursor() *Cursor {
	return &Cursor{db: db, led: ledger.New(db.mem), state: CursorCreated}
}

// Columns returns the result columns. It is empty until the query ran.
func (c *Cursor) Columns() []Column { return c.columns }

// State returns the cursor's current state.
func (c *Cursor) State() CursorState { return c.state }

func (c *Cursor) fail(err error) error {
	c.state = CursorError
	return err
}

func (c *Cursor) fetchMetadata(ctx context.Context, query string, args []any) error {
	if c.state != CursorCreated {
		return c.fail(snowbridge.Error{Code: snowbridge.StatusInvalidState,
			Msg: fmt.Sprintf("cannot fetch metadata in state %s", c.state)})
	}

	batch, err := snowbridge.EncodeArgs(c.led, args)
	if err != nil {
		return c.fail(err)
	}
	q := c.led.CString(query)
	numColsBuf := c.led.Alloc(int32Size)

	var names, types [][]byte
	// the library may hold a cursor even when Fetch fails half way
	c.remoteOpen = true
	c.db.logger.DebugContext(ctx, "boundary call", "call", "Fetch", "args", batch.Len)
	errText := c.db.lib.Fetch(q, batch, numColsBuf, &names, &types)
	c.led.AdoptAll(names, c.db.lib.Free)
	c.led.AdoptAll(types, c.db.lib.Free)
	if err := c.db.check(c.led, "Fetch failed", errText); err != nil {
		return c.fail(err)
	}

	numCols := int(int32(binary.NativeEndian.Uint32(numColsBuf)))
	if numCols < 0 || len(names) != numCols || len(types) != numCols {
		return c.fail(snowbridge.Error{
			Code:    snowbridge.StatusQuery,
			Context: "Fetch failed",
			Msg:     fmt.Sprintf("reported %d columns but returned %d names and %d types", numCols, len(names), len(types)),
		})
	}

	c.columns = make([]Column, numCols)
	for i := range numCols {
		c.columns[i] = Column{
			Name: snowbridge.GoString(names[i]),
			Type: c.db.typeInfo(snowbridge.GoString(types[i])),
		}
	}
	c.isOver = c.led.Alloc(1)
	c.state = CursorMetadataFetched
	return nil
}

// next reads one row and hands it to onRow. It returns false once the
// cursor is exhausted. The row's buffers are released after onRow
// returns.
func (c *Cursor) next(ctx context.Context, onRow func(Row) error) (bool, error) {
	if c.state != CursorMetadataFetched && c.state != CursorStreaming {
		return false, snowbridge.Error{Code: snowbridge.StatusInvalidState,
			Msg: fmt.Sprintf("cannot fetch a row in state %s", c.state)}
	}

	rowLed := ledger.New(c.db.mem)
	defer rowLed.Release()

	var values [][]byte
	c.isOver[0] = 0
	errText := c.db.lib.FetchNextRow(c.isOver, &values, int32(len(c.columns)))
	rowLed.AdoptAll(values, c.db.lib.Free)
	if err := c.db.check(rowLed, "FetchNextRow failed", errText); err != nil {
		return false, c.fail(err)
	}
	c.state = CursorStreaming
	if c.isOver[0] != 0 {
		return false, nil
	}

	if len(values) != len(c.columns) {
		return false, c.fail(snowbridge.Error{
			Code:    snowbridge.StatusQuery,
			Context: "FetchNextRow failed",
			Msg:     fmt.Sprintf("expected %d values, got %d", len(c.columns), len(values)),
		})
	}
	row := make(Row, len(values))
	for i, v := range values {
		row[i] = snowbridge.GoString(v)
	}
	if err := onRow(row); err != nil {
		return false, err
	}
	return true, nil
}

// close closes the remote cursor and then releases the cursor's
// buffers. It is safe to call more than once.
func (c *Cursor) close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.remoteOpen {
		c.remoteOpen = false
		c.db.logger.Debug("boundary call", "call", "CloseCursor")
		c.db.lib.CloseCursor()
	}
	c.led.Release()
	if c.state != CursorError {
		c.state = CursorClosed
	}
}

func (db *Database) typeInfo(raw string) TypeInfo {
	if db.types == nil {
		return ParseTypeInfo(raw)
	}
	v, err := db.types.Get(raw)
	if err != nil {
		return ParseTypeInfo(raw)
	}
	return v.(TypeInfo)
}
