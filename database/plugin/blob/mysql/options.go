// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mysql

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type BlobStoreMysqlOptionFunc func(*BlobStoreMysql)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(
	registry prometheus.Registerer,
) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.promRegistry = registry
	}
}

func WithHost(host string) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.host = host
	}
}

func WithPort(port uint) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.port = port
	}
}

func WithUser(user string) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.user = user
	}
}

func WithPassword(password string) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.password = password
	}
}

func WithDatabase(database string) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.database = database
	}
}

func WithSSLMode(sslMode string) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.sslMode = sslMode
	}
}

func WithTimeZone(timeZone string) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.timeZone = timeZone
	}
}

// WithDSN specifies a full MySQL DSN string and takes precedence over
// individual connection options.
func WithDSN(dsn string) BlobStoreMysqlOptionFunc {
	return func(b *BlobStoreMysql) {
		b.dsn = dsn
	}
}
