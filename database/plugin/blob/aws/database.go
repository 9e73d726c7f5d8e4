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

package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/blinklabs-io/landregistry/database/plugin/blob"
	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultTimeout = 60 * time.Second

type BlobStoreS3 struct {
	promRegistry prometheus.Registerer
	logger       *S3Logger
	metrics      *blob.Metrics
	client       *s3.Client
	bucket       string
	prefix       string
	region       string
	endpoint     string
	mu           sync.RWMutex
	timeout      time.Duration
}

// New creates an S3 blob store from a 's3://<bucket>[/prefix]' location
func New(
	location string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreS3, error) {
	bucket, keyPrefix, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(
		WithBucket(bucket),
		WithPrefix(keyPrefix),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// ParseLocation splits a 's3://<bucket>[/prefix]' location into its bucket
// and key prefix
func ParseLocation(location string) (string, string, error) {
	const scheme = "s3://"
	path, ok := strings.CutPrefix(location, scheme)
	if !ok {
		return "", "", errors.New(
			"s3 blob: expected location 's3://<bucket>[/prefix]'",
		)
	}
	bucket, keyPrefix, _ := strings.Cut(path, "/")
	if bucket == "" {
		return "", "", errors.New("s3 blob: invalid S3 path (missing bucket)")
	}
	return bucket, normalizePrefix(keyPrefix), nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func NewWithOptions(opts ...BlobStoreS3OptionFunc) (*BlobStoreS3, error) {
	db := &BlobStoreS3{
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(db)
	}
	db.prefix = normalizePrefix(db.prefix)
	// Set defaults (no side effects)
	if db.logger == nil {
		db.logger = NewS3Logger(nil)
	}
	// Note: AWS config loading and validation happens in Start()
	return db, nil
}

// Configure implements the plugin.Configurable interface
func (d *BlobStoreS3) Configure(
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) {
	if logger != nil {
		d.logger = NewS3Logger(logger)
	}
	if promRegistry != nil {
		d.promRegistry = promRegistry
	}
}

func (d *BlobStoreS3) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return nil
	}
	if d.bucket == "" {
		return errors.New("s3 blob: bucket not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("s3 blob: load default AWS config: %w", err)
	}
	// Override region if specified
	if d.region != "" {
		awsCfg.Region = d.region
	}
	endpoint := d.endpoint
	d.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Only compute checksums where the API demands them
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	d.metrics = blob.NewMetrics(d.promRegistry, pluginName)
	d.logger.Debugf("s3 blob store started for bucket %q", d.bucket)
	return nil
}

func (d *BlobStoreS3) Stop() error {
	return d.Close()
}

func (d *BlobStoreS3) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.client = nil
	return nil
}

func (d *BlobStoreS3) opContext(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func (d *BlobStoreS3) fullKey(key string) string {
	return d.prefix + key
}

func (d *BlobStoreS3) handle() (*s3.Client, error) {
	if d.client == nil {
		return nil, types.ErrBlobStoreUnavailable
	}
	return d.client, nil
}

func (d *BlobStoreS3) Get(ctx context.Context, key string) ([]byte, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	client, err := d.handle()
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.fullKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			d.metrics.Observe("get", 0, types.ErrBlobKeyNotFound)
			return nil, types.ErrBlobKeyNotFound
		}
		d.logger.Errorf("s3 get %q failed: %v", key, err)
		d.metrics.Observe("get", 0, err)
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	d.metrics.Observe("get", len(data), err)
	if err != nil {
		d.logger.Errorf("s3 read %q failed: %v", key, err)
		return nil, err
	}
	d.logger.Debugf("s3 get %q ok (%d bytes)", key, len(data))
	return data, nil
}

func (d *BlobStoreS3) Set(ctx context.Context, key string, val []byte) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	client, err := d.handle()
	if err != nil {
		return err
	}
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.fullKey(key)),
		Body:          bytes.NewReader(val),
		ContentLength: aws.Int64(int64(len(val))),
		ContentType:   aws.String("application/json"),
	})
	d.metrics.Observe("set", len(val), err)
	if err != nil {
		d.logger.Errorf("s3 put %q failed: %v", key, err)
		return err
	}
	d.logger.Debugf("s3 put %q ok (%d bytes)", key, len(val))
	return nil
}

// Delete removes the object for key. S3 deletes are idempotent, so the object
// is checked first to report missing keys.
func (d *BlobStoreS3) Delete(ctx context.Context, key string) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	client, err := d.handle()
	if err != nil {
		return err
	}
	ctx, cancel := d.opContext(ctx)
	defer cancel()
	_, err = client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.fullKey(key)),
	})
	if err == nil {
		_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(d.fullKey(key)),
		})
	}
	if err != nil && isS3NotFound(err) {
		err = types.ErrBlobKeyNotFound
	}
	d.metrics.Observe("delete", 0, err)
	if err != nil && !errors.Is(err, types.ErrBlobKeyNotFound) {
		d.logger.Errorf("s3 delete %q failed: %v", key, err)
	}
	return err
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	return errors.As(err, &notFound)
}
