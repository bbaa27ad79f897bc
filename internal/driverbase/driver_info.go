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

package driverbase

import (
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const UnknownVersion = "(unknown or development build)"

const (
	// namespace prefix
	otelInfoSemConv attribute.Key = "snowbridge.info."

	// The driver name (type: utf8)
	otelSemConvInfoDriverName attribute.Key = otelInfoSemConv + "driver.name"
	// The driver version (type: utf8)
	otelSemConvInfoDriverVersion attribute.Key = otelInfoSemConv + "driver.version"
	// The gosnowflake version the driver layer was built with (type: utf8)
	otelSemConvInfoVendorClientVersion attribute.Key = otelInfoSemConv + "vendor.client.version"
	// The Arrow library version (type: utf8)
	otelSemConvInfoDriverArrowVersion attribute.Key = otelInfoSemConv + "driver.arrow.version"
)

var (
	infoDriverVersion       string
	infoDriverArrowVersion  string
	infoVendorClientVersion string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		infoDriverVersion = info.Main.Version
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.modified":
				if s.Value == "true" {
					infoDriverVersion += "-dev"
				}
			}
		}
		for _, dep := range info.Deps {
			switch {
			case strings.HasPrefix(dep.Path, "github.com/apache/arrow-go/"):
				infoDriverArrowVersion = dep.Version
			case dep.Path == "github.com/snowflakedb/gosnowflake":
				infoVendorClientVersion = dep.Version
			}
		}
	}
}

// DriverInfo describes a driver for logs and trace attributes.
type DriverInfo struct {
	name string
}

// DefaultDriverInfo returns the info of the driver called name, with
// versions taken from the build information of the running binary.
func DefaultDriverInfo(name string) *DriverInfo {
	return &DriverInfo{name: name}
}

func (di *DriverInfo) GetName() string { return di.name }

// GetDriverVersion returns the module version, or UnknownVersion when
// the binary carries no build information (e.g. in tests).
func (di *DriverInfo) GetDriverVersion() string {
	if infoDriverVersion == "" || strings.HasPrefix(infoDriverVersion, "(devel)") {
		return UnknownVersion
	}
	return infoDriverVersion
}

func (di *DriverInfo) GetArrowVersion() string {
	if infoDriverArrowVersion == "" {
		return UnknownVersion
	}
	return infoDriverArrowVersion
}

func (di *DriverInfo) GetVendorClientVersion() string {
	if infoVendorClientVersion == "" {
		return UnknownVersion
	}
	return infoVendorClientVersion
}

// SpanAttributes returns the attributes every span of this driver
// starts with.
func (di *DriverInfo) SpanAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		otelSemConvInfoDriverName.String(di.name),
		otelSemConvInfoDriverVersion.String(di.GetDriverVersion()),
		otelSemConvInfoDriverArrowVersion.String(di.GetArrowVersion()),
		otelSemConvInfoVendorClientVersion.String(di.GetVendorClientVersion()),
	}
}
