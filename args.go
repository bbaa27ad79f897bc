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

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"strconv"
	"time"
	"unsafe"

	"github.com/snowbridge-dev/snowbridge/ledger"
)

// ArgType is the tag that accompanies every encoded argument.
type ArgType int32

const (
	ArgString ArgType = 0
	ArgInt    ArgType = 1
)

func (t ArgType) String() string {
	switch t {
	case ArgString:
		return "STRING"
	case ArgInt:
		return "INT"
	}
	return "ArgType(" + strconv.Itoa(int(t)) + ")"
}

const (
	ptrSize = int(unsafe.Sizeof(uintptr(0)))
	tagSize = 4
)

// Batch is an encoded argument list. Its buffers are laid out so they
// can be handed to C unchanged: Pointers is a char** table whose i-th
// slot points at Values[i], and Tags is an int32_t array.
//
// All buffers belong to the ledger the batch was encoded with.
type Batch struct {
	Values   [][]byte
	Pointers []byte
	Tags     []byte
	Len      int
}

// Tag returns the tag of the i-th argument.
func (b *Batch) Tag(i int) ArgType {
	return ArgType(int32(binary.NativeEndian.Uint32(b.Tags[i*tagSize:])))
}

// Text returns the text of the i-th argument without its terminator.
func (b *Batch) Text(i int) string {
	return GoString(b.Values[i])
}

// EncodeArgs encodes args into a Batch owned by l. Integral values are
// tagged ArgInt and rendered in base 10; textual values are tagged
// ArgString. Any other value is rejected with StatusInvalidArgument.
//
// On error, buffers acquired so far remain in l and are freed by its
// Release.
func EncodeArgs(l *ledger.Ledger, args []any) (*Batch, error) {
	b := &Batch{Len: len(args)}
	if len(args) == 0 {
		return b, nil
	}

	b.Values = make([][]byte, len(args))
	b.Pointers = l.Alloc(len(args) * ptrSize)
	b.Tags = l.Alloc(len(args) * tagSize)
	for i, arg := range args {
		tag, text, err := classify(arg)
		if err != nil {
			return nil, Error{
				Code:    StatusInvalidArgument,
				Context: fmt.Sprintf("argument %d", i),
				Msg:     err.Error(),
			}
		}

		v := l.CString(text)
		b.Values[i] = v
		*(*uintptr)(unsafe.Pointer(&b.Pointers[i*ptrSize])) = uintptr(unsafe.Pointer(&v[0]))
		binary.NativeEndian.PutUint32(b.Tags[i*tagSize:], uint32(tag))
	}
	return b, nil
}

func classify(arg any) (ArgType, string, error) {
	switch v := arg.(type) {
	case nil:
		return 0, "", fmt.Errorf("nil is not supported")
	case string:
		return ArgString, v, nil
	case []byte:
		return ArgString, string(v), nil
	case bool:
		return ArgString, strconv.FormatBool(v), nil
	case float32:
		return ArgString, strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return ArgString, strconv.FormatFloat(v, 'g', -1, 64), nil
	case time.Time:
		return ArgString, v.Format(time.RFC3339Nano), nil
	}

	// the tag follows the underlying kind, so named integer types stay
	// INT even when they implement fmt.Stringer
	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ArgInt, strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return ArgInt, strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return 0, "", fmt.Errorf("nil %T is not supported", arg)
		}
	}
	if s, ok := arg.(fmt.Stringer); ok {
		return ArgString, s.String(), nil
	}
	if rv.Kind() == reflect.String {
		return ArgString, rv.String(), nil
	}
	return 0, "", fmt.Errorf("unsupported type %T", arg)
}

// DecodeArg converts the text of an encoded argument back into a value
// suitable for database/sql: ArgInt becomes an int64 and ArgString
// stays a string. pos is only used for the error message.
func DecodeArg(pos int, tag ArgType, text string) (any, error) {
	switch tag {
	case ArgString:
		return text, nil
	case ArgInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			// uint64 values above MaxInt64 still have to round-trip
			u, uerr := strconv.ParseUint(text, 10, 64)
			if uerr != nil {
				return nil, fmt.Errorf("error converting argument %d to integer: %w", pos, err)
			}
			return u, nil
		}
		return n, nil
	}
	return nil, fmt.Errorf("unknown argument type %d for argument %d", int32(tag), pos)
}

// DecodeArgs decodes every argument of b.
func DecodeArgs(b *Batch) ([]any, error) {
	if b == nil || b.Len == 0 {
		return nil, nil
	}
	out := make([]any, b.Len)
	for i := range b.Len {
		v, err := DecodeArg(i, b.Tag(i), b.Text(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// GoString returns the text of a NUL-terminated buffer. A buffer
// without a terminator is taken whole.
func GoString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// CopyCString writes s into dst as NUL-terminated text, truncating it
// to fit, and returns the number of bytes of s written.
func CopyCString(dst []byte, s string) int {
	if len(dst) == 0 {
		return 0
	}
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
	return n
}
