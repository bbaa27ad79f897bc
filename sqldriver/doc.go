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

// Package sqldriver is a wrapper around a snowbridge.Library to support
// the standard golang database/sql package, described here:
// https://go.dev/src/database/sql/doc.txt
//
// Registering the driver can be done by importing this and then running
//
//	sql.Register("snowbridge", sqldriver.Driver{Library: lib})
//
// or, for a library loaded at connection time,
//
//	load := func(path string) (snowbridge.Library, memory.Allocator, error) {
//		lib, err := drivermgr.Load(path)
//		if err != nil {
//			return nil, nil, err
//		}
//		return lib, drivermgr.Allocator(), nil
//	}
//	sql.Register("snowbridge", sqldriver.Driver{Loader: load})
//	db, err := sql.Open("snowbridge", "uri=user:pass@account/db;library=/path/libsnowbridge_snowflake.so")
//
// A loaded library reads request buffers directly, so the loader hands
// back C memory for them; a Driver with Library set and no loader takes
// its allocator from Options.
//
// Every cell scans as a string and NULL arrives as the text "NULL".
// Transactions are not supported.
package sqldriver
