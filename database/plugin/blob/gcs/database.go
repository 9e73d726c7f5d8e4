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

package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/blinklabs-io/landregistry/database/plugin/blob"
	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/option"
)

const defaultTimeout = 30 * time.Second

type BlobStoreGCS struct {
	promRegistry    prometheus.Registerer
	logger          *GcsLogger
	metrics         *blob.Metrics
	client          *storage.Client
	bucket          *storage.BucketHandle
	bucketName      string
	prefix          string
	credentialsFile string
	endpoint        string
	mu              sync.RWMutex
	timeout         time.Duration
}

// New creates a GCS blob store from a 'gcs://<bucket>[/prefix]' location
func New(
	location string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreGCS, error) {
	bucketName, keyPrefix, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(
		WithBucket(bucketName),
		WithPrefix(keyPrefix),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// ParseLocation splits a 'gcs://<bucket>[/prefix]' location into its bucket
// and object name prefix
func ParseLocation(location string) (string, string, error) {
	const scheme = "gcs://"
	path, ok := strings.CutPrefix(location, scheme)
	if !ok {
		return "", "", errors.New(
			"gcs blob: expected location 'gcs://<bucket>[/prefix]'",
		)
	}
	bucketName, keyPrefix, _ := strings.Cut(path, "/")
	if bucketName == "" {
		return "", "", errors.New("gcs blob: bucket not set")
	}
	return bucketName, normalizePrefix(keyPrefix), nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func NewWithOptions(opts ...BlobStoreGCSOptionFunc) (*BlobStoreGCS, error) {
	db := &BlobStoreGCS{
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(db)
	}
	db.prefix = normalizePrefix(db.prefix)
	if db.logger == nil {
		db.logger = NewGcsLogger(nil)
	}
	return db, nil
}

// ValidateCredentials checks that a configured credentials file exists
func ValidateCredentials(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("GCS credentials file does not exist: %s", path)
		}
		return fmt.Errorf("failed to read GCS credentials file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("GCS credentials path is a directory: %s", path)
	}
	return nil
}

// Configure implements the plugin.Configurable interface
func (d *BlobStoreGCS) Configure(
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) {
	if logger != nil {
		d.logger = NewGcsLogger(logger)
	}
	if promRegistry != nil {
		d.promRegistry = promRegistry
	}
}

func (d *BlobStoreGCS) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return nil
	}
	if d.bucketName == "" {
		return errors.New("gcs blob: bucket not set")
	}
	if err := ValidateCredentials(d.credentialsFile); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var clientOpts []option.ClientOption
	if d.credentialsFile != "" {
		clientOpts = append(
			clientOpts,
			option.WithCredentialsFile(d.credentialsFile),
		)
	}
	if d.endpoint != "" {
		clientOpts = append(
			clientOpts,
			option.WithEndpoint(d.endpoint),
			option.WithoutAuthentication(),
		)
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return fmt.Errorf(
			"gcs blob: failed in creating storage client: %w",
			err,
		)
	}
	d.client = client
	d.bucket = client.Bucket(d.bucketName)
	d.metrics = blob.NewMetrics(d.promRegistry, pluginName)
	d.logger.Debugf("gcs blob store started for bucket %q", d.bucketName)
	return nil
}

func (d *BlobStoreGCS) Stop() error {
	return d.Close()
}

func (d *BlobStoreGCS) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	d.bucket = nil
	return err
}

func (d *BlobStoreGCS) objectName(key string) string {
	return d.prefix + key
}

func (d *BlobStoreGCS) opContext(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func (d *BlobStoreGCS) handle() (*storage.BucketHandle, error) {
	if d.bucket == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	return d.bucket, nil
}

func (d *BlobStoreGCS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	bucket, err := d.handle()
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	r, err := bucket.Object(d.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			d.metrics.Observe("get", 0, types.ErrBlobKeyNotFound)
			return nil, types.ErrBlobKeyNotFound
		}
		d.logger.Errorf("gcs get %q failed: %v", key, err)
		d.metrics.Observe("get", 0, err)
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	d.metrics.Observe("get", len(data), err)
	if err != nil {
		d.logger.Errorf("gcs read %q failed: %v", key, err)
		return nil, err
	}
	return data, nil
}

func (d *BlobStoreGCS) Set(ctx context.Context, key string, val []byte) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	bucket, err := d.handle()
	if err != nil {
		return err
	}
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	w := bucket.Object(d.objectName(key)).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, bytes.NewReader(val)); err != nil {
		_ = w.Close()
		d.metrics.Observe("set", 0, err)
		d.logger.Errorf("gcs write %q failed: %v", key, err)
		return err
	}
	// The object is only committed once the writer is closed
	err = w.Close()
	d.metrics.Observe("set", len(val), err)
	if err != nil {
		d.logger.Errorf("gcs put %q failed: %v", key, err)
		return err
	}
	return nil
}

func (d *BlobStoreGCS) Delete(ctx context.Context, key string) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	bucket, err := d.handle()
	if err != nil {
		return err
	}
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	err = bucket.Object(d.objectName(key)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		err = types.ErrBlobKeyNotFound
	}
	d.metrics.Observe("delete", 0, err)
	return err
}
