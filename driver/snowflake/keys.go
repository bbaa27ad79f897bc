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

package snowflake

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/snowflakedb/gosnowflake"
	"github.com/youmark/pkcs8"
)

const (
	// connection string parameters handled here rather than by gosnowflake
	ParamPrivateKeyPath       = "privateKeyPath"
	ParamPrivateKeyPassphrase = "privateKeyPassphrase"
)

// ParseConfig parses a gosnowflake DSN. When the DSN names a private
// key file through privateKeyPath, the key is loaded and the config
// switched to key pair (JWT) authentication.
func ParseConfig(dsn string) (*gosnowflake.Config, error) {
	base, keyPath, passphrase, err := splitKeyParams(dsn)
	if err != nil {
		return nil, err
	}

	cfg, err := gosnowflake.ParseDSN(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if keyPath == "" {
		return cfg, nil
	}

	key, err := LoadPrivateKey(keyPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	cfg.Authenticator = gosnowflake.AuthTypeJwt
	cfg.PrivateKey = key
	return cfg, nil
}

// splitKeyParams removes the private key parameters from dsn.
func splitKeyParams(dsn string) (base, keyPath, passphrase string, err error) {
	idx := strings.LastIndexByte(dsn, '?')
	if idx < 0 {
		return dsn, "", "", nil
	}
	params, err := url.ParseQuery(dsn[idx+1:])
	if err != nil {
		return "", "", "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	keyPath = params.Get(ParamPrivateKeyPath)
	passphrase = params.Get(ParamPrivateKeyPassphrase)
	if keyPath == "" && passphrase == "" {
		return dsn, "", "", nil
	}
	params.Del(ParamPrivateKeyPath)
	params.Del(ParamPrivateKeyPassphrase)

	base = dsn[:idx]
	if len(params) > 0 {
		base += "?" + params.Encode()
	}
	return base, keyPath, passphrase, nil
}

// LoadPrivateKey reads an RSA private key from path. PEM files may hold
// a PKCS#1 key, a PKCS#8 key, or an encrypted PKCS#8 key, which needs
// passphrase. Anything else is taken as a DER encoded key.
func LoadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read private key file '%s': %w", path, err)
	}

	der := data
	block, _ := pem.Decode(data)
	if block != nil {
		der = block.Bytes
		if block.Type == "ENCRYPTED PRIVATE KEY" {
			if passphrase == "" {
				return nil, fmt.Errorf("%s is not configured", ParamPrivateKeyPassphrase)
			}
			parsed, err := pkcs8.ParsePKCS8PrivateKey(der, []byte(passphrase))
			if err != nil {
				return nil, fmt.Errorf("failed parsing PKCS8 private key: %w", err)
			}
			return asRSA(parsed)
		}
	}

	key, err := x509.ParsePKCS1PrivateKey(der)
	if err == nil {
		return key, nil
	}
	parsed, err8 := x509.ParsePKCS8PrivateKey(der)
	if err8 != nil {
		return nil, fmt.Errorf("failed parsing private key file '%s': %w", path, errors.Join(err, err8))
	}
	return asRSA(parsed)
}

func asRSA(key any) (*rsa.PrivateKey, error) {
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("file does not contain an RSA private key")
	}
	return rsaKey, nil
}
