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

package main

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/snowbridge-dev/snowbridge/internal/config"
)

// writeRecords prints every batch of rdr. CSV output starts with a
// header row; JSON output is one object per row.
func writeRecords(w io.Writer, format string, rdr array.RecordReader) error {
	switch format {
	case config.FormatJSON:
		for rdr.Next() {
			if err := array.RecordToJSON(rdr.Record(), w); err != nil {
				return err
			}
		}
	case config.FormatCSV:
		cw := csv.NewWriter(w, rdr.Schema(), csv.WithHeader(true))
		for rdr.Next() {
			if err := cw.Write(rdr.Record()); err != nil {
				return err
			}
		}
		// the header is written with the first batch
		if err := cw.Flush(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return rdr.Err()
}
