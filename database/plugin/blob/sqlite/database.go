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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/landregistry/database/plugin/blob"
	"github.com/blinklabs-io/landregistry/database/plugin/blob/gormkv"
	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const defaultVacuumInterval = 24 * time.Hour

type BlobStoreSqlite struct {
	promRegistry   prometheus.Registerer
	db             *gorm.DB
	logger         *slog.Logger
	metrics        *blob.Metrics
	timerVacuum    *time.Timer
	dataDir        string
	vacuumWG       sync.WaitGroup
	mu             sync.RWMutex
	vacuumInterval time.Duration
	closed         bool
}

func NewWithOptions(opts ...BlobStoreSqliteOptionFunc) (*BlobStoreSqlite, error) {
	db := &BlobStoreSqlite{
		vacuumInterval: defaultVacuumInterval,
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.vacuumInterval < 0 {
		return nil, fmt.Errorf("sqlite blob: invalid vacuum interval %s", db.vacuumInterval)
	}
	return db, nil
}

// Configure implements the plugin.Configurable interface
func (d *BlobStoreSqlite) Configure(
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) {
	if logger != nil {
		d.logger = logger
	}
	if promRegistry != nil {
		d.promRegistry = promRegistry
	}
}

func (d *BlobStoreSqlite) dsn() (string, error) {
	if d.dataDir == "" {
		// Each store gets its own named in-memory database
		return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil
	}
	// Make sure that we can read data dir, and create if it doesn't exist
	if _, err := os.Stat(d.dataDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read data dir: %w", err)
		}
		if err := os.MkdirAll(d.dataDir, fs.ModePerm); err != nil {
			return "", fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	dbPath := filepath.Join(d.dataDir, "registry.sqlite")
	// WAL journal mode keeps readers from blocking the writer
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath), nil
}

func (d *BlobStoreSqlite) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return nil
	}
	if d.logger == nil {
		// Create logger to throw away logs
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	dsn, err := d.dsn()
	if err != nil {
		return err
	}
	db, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return err
	}
	// Configure tracing for GORM
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	d.logger.Debug(
		fmt.Sprintf("creating table: %#v", &gormkv.Record{}),
		"component", "database",
	)
	if err := gormkv.Migrate(db); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return err
	}
	d.db = db
	d.closed = false
	d.metrics = blob.NewMetrics(d.promRegistry, pluginName)
	d.scheduleVacuum()
	return nil
}

func (d *BlobStoreSqlite) scheduleVacuum() {
	if d.dataDir == "" || d.vacuumInterval == 0 || d.closed {
		return
	}
	d.timerVacuum = time.AfterFunc(d.vacuumInterval, func() {
		d.mu.RLock()
		if d.closed {
			d.mu.RUnlock()
			return
		}
		d.vacuumWG.Add(1)
		db := d.db
		d.mu.RUnlock()
		d.logger.Debug(
			"running vacuum on sqlite blob database",
			"component", "database",
		)
		if err := db.Exec("VACUUM").Error; err != nil {
			d.logger.Error(
				"failed to free unused space in blob store",
				"component", "database",
				"error", err,
			)
		}
		d.vacuumWG.Done()
		// schedule next run
		d.mu.Lock()
		d.scheduleVacuum()
		d.mu.Unlock()
	})
}

func (d *BlobStoreSqlite) Stop() error {
	return d.Close()
}

func (d *BlobStoreSqlite) Close() error {
	d.mu.Lock()
	if d.db == nil {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
		d.timerVacuum = nil
	}
	db := d.db
	d.db = nil
	d.mu.Unlock()
	// Wait for an in-flight vacuum before closing the handle
	d.vacuumWG.Wait()
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the underlying gorm handle
func (d *BlobStoreSqlite) DB() *gorm.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

func (d *BlobStoreSqlite) handle() (*gorm.DB, error) {
	if d.db == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	return d.db, nil
}

func (d *BlobStoreSqlite) Get(ctx context.Context, key string) ([]byte, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	val, err := gormkv.Get(ctx, db, key)
	d.metrics.Observe("get", len(val), err)
	return val, err
}

func (d *BlobStoreSqlite) Set(ctx context.Context, key string, val []byte) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, err := d.handle()
	if err != nil {
		return err
	}
	err = gormkv.Set(ctx, db, key, val)
	d.metrics.Observe("set", len(val), err)
	return err
}

func (d *BlobStoreSqlite) Delete(ctx context.Context, key string) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, err := d.handle()
	if err != nil {
		return err
	}
	err = gormkv.Delete(ctx, db, key)
	d.metrics.Observe("delete", 0, err)
	return err
}
