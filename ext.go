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
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DatabaseLogging is implemented by connections that can log to a
// logger supplied by the application.
type DatabaseLogging interface {
	SetLogger(*slog.Logger)
}

// OTelTracing is implemented by connections that trace their operations
// with OpenTelemetry.
type OTelTracing interface {
	// SetTraceParent sets the W3C traceparent new spans are started
	// under when the context carries no span. An empty value clears it.
	SetTraceParent(string)
	GetTraceParent() string
	// StartSpan starts a span carrying the initial span attributes.
	StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
	// GetInitialSpanAttributes returns the attributes every span starts with.
	GetInitialSpanAttributes() []attribute.KeyValue
}

// Telemetry exporter names accepted in the OTEL_TRACES_EXPORTER
// environment variable.
type TelemetryExporter string

const (
	TelemetryExporterNone    TelemetryExporter = "none"
	TelemetryExporterOtlp    TelemetryExporter = "otlp"
	TelemetryExporterConsole TelemetryExporter = "console"
	// Writes traces as JSON lines into rotating files under the user
	// configuration directory.
	TelemetryExporterFile TelemetryExporter = "snowbridgefile"
)
