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

package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/landregistry/database/plugin"
	"github.com/blinklabs-io/landregistry/database/plugin/blob"
	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	// Register blob store plugins
	_ "github.com/blinklabs-io/landregistry/database/plugin/blob/aws"
	_ "github.com/blinklabs-io/landregistry/database/plugin/blob/badger"
	_ "github.com/blinklabs-io/landregistry/database/plugin/blob/gcs"
	_ "github.com/blinklabs-io/landregistry/database/plugin/blob/memory"
	_ "github.com/blinklabs-io/landregistry/database/plugin/blob/mysql"
	_ "github.com/blinklabs-io/landregistry/database/plugin/blob/postgres"
	_ "github.com/blinklabs-io/landregistry/database/plugin/blob/sqlite"
)

const (
	DefaultBlobPlugin = "badger"

	schemaVersionKey = "schema_version"
	schemaVersion    = "1"
)

// ErrKeyNotFound is returned by Load when nothing is stored under a key
var ErrKeyNotFound = types.ErrBlobKeyNotFound

// SchemaVersionError is returned when the store was written by an
// incompatible version
type SchemaVersionError struct {
	Found    string
	Expected string
}

func (e SchemaVersionError) Error() string {
	return fmt.Sprintf(
		"schema version mismatch: %s (stored) != %s (expected)",
		e.Found,
		e.Expected,
	)
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// BlobPlugin selects the storage backend, defaulting to badger
	BlobPlugin string
	// DataDir overrides the data-dir option of file-backed plugins
	DataDir string
	// InMemory clears the data-dir option of file-backed plugins
	InMemory bool
}

// Database is a flat key/value store on top of a blob plugin
type Database struct {
	logger     *slog.Logger
	blob       blob.BlobStore
	metrics    databaseMetrics
	blobPlugin string
}

type databaseMetrics struct {
	opDuration *prometheus.HistogramVec
}

// New opens the configured blob plugin
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	db := &Database{
		logger:     cfg.Logger,
		blobPlugin: cfg.BlobPlugin,
	}
	if db.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		db.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if db.blobPlugin == "" {
		db.blobPlugin = DefaultBlobPlugin
	}
	if err := applyDataDir(db.blobPlugin, cfg); err != nil {
		return nil, err
	}
	blobDb, err := blob.New(
		db.blobPlugin,
		plugin.StartConfig{
			Logger:       db.logger,
			PromRegistry: cfg.PromRegistry,
		},
	)
	if err != nil {
		return nil, err
	}
	db.blob = blobDb
	db.metrics.init(cfg.PromRegistry)
	if err := db.checkSchemaVersion(); err != nil {
		// Database is available for recovery, so return it with error
		return db, err
	}
	db.logger.Info(
		"opened database",
		"component", "database",
		"plugin", db.blobPlugin,
	)
	return db, nil
}

func applyDataDir(pluginName string, cfg *Config) error {
	if cfg.DataDir == "" && !cfg.InMemory {
		return nil
	}
	dataDir := cfg.DataDir
	if cfg.InMemory {
		dataDir = ""
	}
	err := plugin.SetPluginOption(plugin.PluginTypeBlob, pluginName, "data-dir", dataDir)
	// Remote and memory backends have no data dir
	if errors.Is(err, plugin.ErrPluginOptionNotFound) {
		return nil
	}
	return err
}

func (m *databaseMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.opDuration = promautoFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landregistry_database_op_duration_seconds",
			Help:    "Duration of database load/save operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
}

func (d *Database) checkSchemaVersion() error {
	ctx := context.Background()
	stored, err := d.blob.Get(ctx, schemaVersionKey)
	if errors.Is(err, types.ErrBlobKeyNotFound) {
		return d.blob.Set(ctx, schemaVersionKey, []byte(schemaVersion))
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if string(stored) != schemaVersion {
		return SchemaVersionError{Found: string(stored), Expected: schemaVersion}
	}
	return nil
}

// Blob returns the underlying blob store
func (d *Database) Blob() blob.BlobStore {
	return d.blob
}

// BlobPlugin returns the name of the active blob plugin
func (d *Database) BlobPlugin() string {
	return d.blobPlugin
}

// Load returns the value stored under key, or ErrKeyNotFound
func (d *Database) Load(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := d.blob.Get(ctx, key)
	d.metrics.opDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return val, nil
}

// Save replaces the value stored under key
func (d *Database) Save(ctx context.Context, key string, val []byte) error {
	start := time.Now()
	err := d.blob.Set(ctx, key, val)
	d.metrics.opDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())
	if err != nil {
		d.logger.Error(
			"failed to save key",
			"component", "database",
			"key", key,
			"error", err,
		)
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Delete removes key from the store
func (d *Database) Delete(ctx context.Context, key string) error {
	if err := d.blob.Delete(ctx, key); err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (d *Database) Close() error {
	if d.blob == nil {
		return nil
	}
	return d.blob.Close()
}
