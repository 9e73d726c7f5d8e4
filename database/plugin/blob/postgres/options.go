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

package postgres

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type BlobStorePostgresOptionFunc func(*BlobStorePostgres)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(
	registry prometheus.Registerer,
) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.promRegistry = registry
	}
}

func WithHost(host string) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.host = host
	}
}

func WithPort(port uint) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.port = port
	}
}

func WithUser(user string) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.user = user
	}
}

func WithPassword(password string) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.password = password
	}
}

func WithDatabase(database string) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.database = database
	}
}

func WithSSLMode(sslMode string) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.sslMode = sslMode
	}
}

func WithTimeZone(timeZone string) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.timeZone = timeZone
	}
}

// WithDSN specifies a full Postgres DSN string and takes precedence over
// individual connection options.
func WithDSN(dsn string) BlobStorePostgresOptionFunc {
	return func(b *BlobStorePostgres) {
		b.dsn = dsn
	}
}
