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

// Package config reads the settings of the command-line tools from the
// environment, after loading a .env file when one is present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvURI       = "SNOWBRIDGE_URI"
	EnvLibrary   = "SNOWBRIDGE_LIBRARY"
	EnvFormat    = "SNOWBRIDGE_FORMAT"
	EnvBatchSize = "SNOWBRIDGE_BATCH_SIZE"
	EnvLogLevel  = "SNOWBRIDGE_LOG_LEVEL"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var ErrMissingURI = errors.New(EnvURI + " is not set")

// Config holds the settings of a command-line run.
type Config struct {
	// URI is the connection string handed to InitConnection.
	URI string
	// Library is the path of the shared library to load. Empty means
	// the in-process Snowflake driver.
	Library string
	// Format is the output format of query results: csv or json.
	Format string
	// BatchSize is the number of rows per record batch.
	BatchSize int
	// LogLevel is the minimum level of log records.
	LogLevel slog.Level
}

// Load reads the configuration. Files are .env files loaded in order;
// with none given, a .env in the working directory is tried. Variables
// already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return nil, fmt.Errorf("loading %s: %w", strings.Join(files, ", "), err)
	}

	cfg := &Config{
		URI:       getEnv(EnvURI, ""),
		Library:   getEnv(EnvLibrary, ""),
		Format:    strings.ToLower(getEnv(EnvFormat, FormatCSV)),
		BatchSize: getEnvInt(EnvBatchSize, 1024),
		LogLevel:  getEnvLevel(EnvLogLevel, slog.LevelWarn),
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration can be used.
func (c *Config) Validate() error {
	if c.URI == "" {
		return ErrMissingURI
	}
	switch c.Format {
	case FormatCSV, FormatJSON:
	default:
		return fmt.Errorf("unknown output format %q", c.Format)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	if value, ok := os.LookupEnv(key); ok {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(value)); err == nil {
			return lvl
		}
	}
	return fallback
}
