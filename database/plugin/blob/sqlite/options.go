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

package sqlite

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type BlobStoreSqliteOptionFunc func(*BlobStoreSqlite)

func WithLogger(logger *slog.Logger) BlobStoreSqliteOptionFunc {
	return func(b *BlobStoreSqlite) {
		b.logger = logger
	}
}

func WithPromRegistry(
	registry prometheus.Registerer,
) BlobStoreSqliteOptionFunc {
	return func(b *BlobStoreSqlite) {
		b.promRegistry = registry
	}
}

// WithDataDir sets the directory holding the sqlite file. An empty value
// uses a private in-memory database.
func WithDataDir(dataDir string) BlobStoreSqliteOptionFunc {
	return func(b *BlobStoreSqlite) {
		b.dataDir = dataDir
	}
}

// WithVacuumInterval sets how often a disk-backed database is vacuumed.
// Zero disables vacuuming.
func WithVacuumInterval(interval time.Duration) BlobStoreSqliteOptionFunc {
	return func(b *BlobStoreSqlite) {
		b.vacuumInterval = interval
	}
}
