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

package snowflake_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/snowbridge-dev/snowbridge/driver/snowflake"
	"github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
)

func writeKey(t *testing.T, name string, data []byte) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadPrivateKey(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)})
	p8Bytes, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	require.NoError(t, err)
	p8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: p8Bytes})
	encBytes, err := pkcs8.MarshalPrivateKey(rsaKey, []byte("s3cret"), nil)
	require.NoError(t, err)
	enc := pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: encBytes})

	tests := []struct {
		name       string
		data       []byte
		passphrase string
		wantErr    string
	}{
		{"pkcs1", pkcs1, "", ""},
		{"pkcs8", p8, "", ""},
		{"der", x509.MarshalPKCS1PrivateKey(rsaKey), "", ""},
		{"encrypted", enc, "s3cret", ""},
		{"encrypted without passphrase", enc, "", "privateKeyPassphrase is not configured"},
		{"encrypted wrong passphrase", enc, "nope", "failed parsing PKCS8 private key"},
		{"garbage", []byte("not a key"), "", "failed parsing private key file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := snowflake.LoadPrivateKey(writeKey(t, "key", tt.data), tt.passphrase)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, rsaKey.Equal(key))
		})
	}

	_, err = snowflake.LoadPrivateKey(filepath.Join(t.TempDir(), "missing.pem"), "")
	assert.ErrorContains(t, err, "could not read private key file")
}

func TestParseConfig(t *testing.T) {
	cfg, err := snowflake.ParseConfig("user:pass@account/db/schema?warehouse=wh")
	require.NoError(t, err)
	assert.Equal(t, "wh", cfg.Warehouse)
	assert.Nil(t, cfg.PrivateKey)
	assert.NotEqual(t, gosnowflake.AuthTypeJwt, cfg.Authenticator)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := writeKey(t, "key.pem", pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}))

	cfg, err = snowflake.ParseConfig("user:pass@account/db/schema?warehouse=wh&privateKeyPath=" + path)
	require.NoError(t, err)
	assert.Equal(t, gosnowflake.AuthTypeJwt, cfg.Authenticator)
	assert.True(t, rsaKey.Equal(cfg.PrivateKey))
	assert.Equal(t, "wh", cfg.Warehouse)

	_, err = snowflake.ParseConfig("user:pass@account/db?privateKeyPath=" + filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "failed to load private key")
}
