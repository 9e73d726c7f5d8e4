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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves a path-style subset of the S3 object API
type fakeS3 struct {
	objects map[string][]byte
	mu      sync.Mutex
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(
				w,
				`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`,
			)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*BlobStoreS3, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_REGION", "ap-south-1")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	fake := &fakeS3{objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	store, err := NewWithOptions(
		WithBucket("land-records"),
		WithPrefix("registry"),
		WithEndpoint(server.URL),
	)
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Close() })
	return store, fake
}

func TestS3RoundTrip(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := t.Context()

	_, err := store.Get(ctx, "parcels")
	require.ErrorIs(t, err, types.ErrBlobKeyNotFound)

	require.NoError(t, store.Set(ctx, "parcels", []byte(`[{"id":1}]`)))
	fake.mu.Lock()
	stored := fake.objects["land-records/registry/parcels"]
	fake.mu.Unlock()
	assert.Equal(t, []byte(`[{"id":1}]`), stored)

	val, err := store.Get(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[{"id":1}]`), val)

	require.NoError(t, store.Delete(ctx, "parcels"))
	require.ErrorIs(t, store.Delete(ctx, "parcels"), types.ErrBlobKeyNotFound)
}

func TestS3ParseLocation(t *testing.T) {
	bucket, prefix, err := ParseLocation("s3://land-records/raipur")
	require.NoError(t, err)
	assert.Equal(t, "land-records", bucket)
	assert.Equal(t, "raipur/", prefix)

	_, _, err = ParseLocation("s3://")
	require.Error(t, err)
	_, _, err = ParseLocation("gcs://bucket")
	require.Error(t, err)
}

func TestS3StartRequiresBucket(t *testing.T) {
	store, err := NewWithOptions()
	require.NoError(t, err)
	require.ErrorContains(t, store.Start(), "bucket not set")
	_, err = store.Get(t.Context(), "parcels")
	require.ErrorIs(t, err, types.ErrBlobStoreUnavailable)
}
