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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/blinklabs-io/landregistry/database/plugin/blob"
	"github.com/blinklabs-io/landregistry/database/plugin/blob/gormkv"
	"github.com/blinklabs-io/landregistry/database/types"
)

// BlobStoreMysql keeps blobs in a table of a shared MySQL database
type BlobStoreMysql struct {
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

func NewWithOptions(opts ...BlobStoreMysqlOptionFunc) (*BlobStoreMysql, error) {
	b := &BlobStoreMysql{
		host: "localhost",
		port: 3306,
	}
	for _, opt := range opts {
		opt(b)
	}
	if strings.TrimSpace(b.dsn) == "" && b.database == "" {
		return nil, errors.New("mysql blob: database name or DSN is required")
	}
	return b, nil
}

func (b *BlobStoreMysql) Configure(
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
func (b *BlobStoreMysql) DSN() string {
	if dsn := strings.TrimSpace(b.dsn); dsn != "" {
		return dsn
	}
	cfg := mysql.NewConfig()
	cfg.User = b.user
	cfg.Passwd = b.password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf(
		"%s:%s",
		b.host,
		strconv.FormatUint(uint64(b.port), 10),
	)
	cfg.DBName = b.database
	cfg.ParseTime = true
	cfg.AllowNativePasswords = true
	if b.timeZone != "" {
		loc, err := time.LoadLocation(b.timeZone)
		if err != nil {
			loc = time.UTC
		}
		cfg.Loc = loc
	}
	if b.sslMode != "" {
		cfg.TLSConfig = b.sslMode
	}
	return cfg.FormatDSN()
}

// Start implements the plugin.Plugin interface
func (b *BlobStoreMysql) Start() error {
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
		gormmysql.Open(b.DSN()),
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
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if err := gormkv.Migrate(db); err != nil {
		_ = sqlDB.Close()
		return err
	}
	b.logger.Info(
		"connected to mysql blob store",
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
func (b *BlobStoreMysql) Stop() error {
	return b.Close()
}

func (b *BlobStoreMysql) Close() error {
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

func (b *BlobStoreMysql) handle() (*gorm.DB, error) {
	if b.db == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	return b.db, nil
}

func (b *BlobStoreMysql) Get(ctx context.Context, key string) ([]byte, error) {
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

func (b *BlobStoreMysql) Set(ctx context.Context, key string, val []byte) error {
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

func (b *BlobStoreMysql) Delete(ctx context.Context, key string) error {
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
