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
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/blinklabs-io/landregistry/database/plugin/blob"
	"github.com/blinklabs-io/landregistry/database/plugin/blob/gormkv"
	"github.com/blinklabs-io/landregistry/database/types"
)

// BlobStorePostgres keeps blobs in a table of a shared Postgres database
type BlobStorePostgres struct {
	promRegistry prometheus.Registerer
	db           *gorm.DB
	logger       *slog.Logger
	metrics      *blob.Metrics
	host         string
	user         string
	password     string
	database     string
	sslMode      string
	timeZone     string
	dsn          string
	port         uint
	mu           sync.RWMutex
}

func NewWithOptions(opts ...BlobStorePostgresOptionFunc) (*BlobStorePostgres, error) {
	b := &BlobStorePostgres{
		host:    "localhost",
		port:    5432,
		sslMode: "disable",
	}
	for _, opt := range opts {
		opt(b)
	}
	if strings.TrimSpace(b.dsn) == "" && b.database == "" {
		return nil, errors.New("postgres blob: database name or DSN is required")
	}
	return b, nil
}

func (b *BlobStorePostgres) Configure(
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) {
	if logger != nil {
		b.logger = logger
	}
	if promRegistry != nil {
		b.promRegistry = promRegistry
	}
}

// DSN returns the connection string built from the configured options
func (b *BlobStorePostgres) DSN() string {
	if dsn := strings.TrimSpace(b.dsn); dsn != "" {
		return dsn
	}
	parts := []string{
		"host=" + b.host,
		"user=" + b.user,
		"password=" + b.password,
		"dbname=" + b.database,
		"port=" + strconv.FormatUint(uint64(b.port), 10),
		"sslmode=" + b.sslMode,
	}
	if b.timeZone != "" {
		parts = append(parts, "TimeZone="+b.timeZone)
	}
	return strings.Join(parts, " ")
}

// Start implements the plugin.Plugin interface
func (b *BlobStorePostgres) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}
	if b.logger == nil {
		// Create logger to throw away logs
		b.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	db, err := gorm.Open(
		postgres.Open(b.DSN()),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
			PrepareStmt:            true,
		},
	)
	if err != nil {
		return err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	// A registry writes one key at a time
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if err := gormkv.Migrate(db); err != nil {
		_ = sqlDB.Close()
		return err
	}
	b.logger.Info(
		"connected to postgres blob store",
		"component", "database",
		"host", b.host,
		"port", b.port,
		"database", b.database,
	)
	b.db = db
	b.metrics = blob.NewMetrics(b.promRegistry, pluginName)
	return nil
}

// Stop implements the plugin.Plugin interface
func (b *BlobStorePostgres) Stop() error {
	return b.Close()
}

func (b *BlobStorePostgres) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	sqlDB, err := b.db.DB()
	b.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *BlobStorePostgres) handle() (*gorm.DB, error) {
	if b.db == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	return b.db, nil
}

func (b *BlobStorePostgres) Get(ctx context.Context, key string) ([]byte, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	val, err := gormkv.Get(ctx, db, key)
	b.metrics.Observe("get", len(val), err)
	return val, err
}

func (b *BlobStorePostgres) Set(ctx context.Context, key string, val []byte) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.handle()
	if err != nil {
		return err
	}
	err = gormkv.Set(ctx, db, key, val)
	b.metrics.Observe("set", len(val), err)
	return err
}

func (b *BlobStorePostgres) Delete(ctx context.Context, key string) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.handle()
	if err != nil {
		return err
	}
	err = gormkv.Delete(ctx, db, key)
	b.metrics.Observe("delete", 0, err)
	return err
}
