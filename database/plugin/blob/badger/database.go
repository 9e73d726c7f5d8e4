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

package badger

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
	"github.com/blinklabs-io/landregistry/database/types"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	pluginName        = "badger"
	defaultGcInterval = 5 * time.Minute
)

// BlobStoreBadger stores all data in badger. Data is not persisted when no
// data directory is configured
type BlobStoreBadger struct {
	promRegistry   prometheus.Registerer
	db             *badger.DB
	logger         *slog.Logger
	metrics        *blob.Metrics
	gcTicker       *time.Ticker
	gcStopCh       chan struct{}
	dataDir        string
	gcWg           sync.WaitGroup
	mu             sync.RWMutex
	gcInterval     time.Duration
	blockCacheSize uint64
	indexCacheSize uint64
	gcEnabled      bool
}

// New creates a new badger blob store. The database is opened by Start()
func New(opts ...BlobStoreBadgerOptionFunc) (*BlobStoreBadger, error) {
	db := &BlobStoreBadger{
		// Set defaults
		gcEnabled:      true,
		gcInterval:     defaultGcInterval,
		blockCacheSize: DefaultBlockCacheSize,
		indexCacheSize: DefaultIndexCacheSize,
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.gcInterval <= 0 {
		return nil, fmt.Errorf("badger blob: invalid GC interval %s", db.gcInterval)
	}
	return db, nil
}

// Configure implements the plugin.Configurable interface
func (d *BlobStoreBadger) Configure(
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

// Start implements the plugin.Plugin interface
func (d *BlobStoreBadger) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return nil
	}
	if d.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var badgerOpts badger.Options
	if d.dataDir == "" {
		// No dataDir, use in-memory config
		badgerOpts = badger.DefaultOptions("").
			WithLogger(NewBadgerLogger(d.logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(d.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(d.dataDir, "blob")).
			WithLogger(NewBadgerLogger(d.logger)).
			WithLoggingLevel(badger.WARNING).
			WithBlockCacheSize(int64(d.blockCacheSize)). //nolint:gosec // cache sizes are operator controlled
			WithIndexCacheSize(int64(d.indexCacheSize)). //nolint:gosec // cache sizes are operator controlled
			WithCompression(options.Snappy)
	}
	blobDb, err := badger.Open(badgerOpts)
	if err != nil {
		return err
	}
	d.db = blobDb
	d.metrics = blob.NewMetrics(d.promRegistry, pluginName)
	// GC only makes sense for disk-backed stores
	if d.gcEnabled && d.dataDir != "" {
		d.gcTicker = time.NewTicker(d.gcInterval)
		d.gcStopCh = make(chan struct{})
		d.gcWg.Add(1)
		go d.blobGc(d.gcTicker, d.gcStopCh)
	}
	d.logger.Debug(
		"opened badger blob store",
		"component", "database",
		"data_dir", d.dataDir,
	)
	return nil
}

func (d *BlobStoreBadger) blobGc(t *time.Ticker, stop <-chan struct{}) {
	defer d.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				err := d.db.RunValueLogGC(0.5)
				if err == nil {
					// Run it again if it just ran successfully
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					d.logger.Warn(
						fmt.Sprintf("blob DB: GC failure: %s", err),
						"component", "database",
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

// Stop implements the plugin.Plugin interface
func (d *BlobStoreBadger) Stop() error {
	return d.Close()
}

// Close stops GC and closes the underlying database
func (d *BlobStoreBadger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gcTicker != nil {
		d.gcTicker.Stop()
		close(d.gcStopCh)
		d.gcWg.Wait()
		d.gcTicker = nil
		d.gcStopCh = nil
	}
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *BlobStoreBadger) handle() (*badger.DB, error) {
	if d.db == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	return d.db, nil
}

// Get returns a copy of the value stored under key
func (d *BlobStoreBadger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	var ret []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		ret, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		err = types.ErrBlobKeyNotFound
	}
	d.metrics.Observe("get", len(ret), err)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Set stores val under key, replacing any existing value
func (d *BlobStoreBadger) Set(ctx context.Context, key string, val []byte) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, err := d.handle()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	d.metrics.Observe("set", len(val), err)
	return err
}

// Delete removes key from the store
func (d *BlobStoreBadger) Delete(ctx context.Context, key string) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, err := d.handle()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		err = types.ErrBlobKeyNotFound
	}
	d.metrics.Observe("delete", 0, err)
	return err
}
