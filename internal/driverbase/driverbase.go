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

// Package driverbase holds the plumbing shared by the client and the
// driver layers: default logger, OpenTelemetry tracing setup, the
// rotating trace file writer and build information.
package driverbase

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/snowbridge-dev/snowbridge"
)

// NilLogger returns a logger that drops every record.
func NilLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError + 1,
	}))
}

// LoggerOrNil returns logger, or NilLogger when it is nil.
func LoggerOrNil(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return NilLogger()
	}
	return logger
}

// ErrorHelper builds snowbridge errors whose context names the driver.
type ErrorHelper struct {
	DriverName string
}

func (helper *ErrorHelper) Errorf(code snowbridge.Status, message string, format ...any) error {
	return snowbridge.Error{
		Code: code,
		Msg:  fmt.Sprintf("[%s] %s", helper.DriverName, fmt.Sprintf(message, format...)),
	}
}
