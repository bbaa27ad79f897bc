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

// Package pkg contains CGO based libraries that can be compiled to
// shared-libraries via go build -buildmode=c-shared.
//
// Each one exports the snowbridge boundary calls (InitConnection, Ping,
// Execute, AsyncExecute, Fetch, FetchNextRow and the rest) over one of
// the drivers, and is loaded back into Go through drivermgr. They are
// built with the driverlib tag:
//
//	go build -tags driverlib -buildmode=c-shared -o libsnowbridge_snowflake.so ./snowflake
package pkg
