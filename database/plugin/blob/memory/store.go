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

// Package memory provides a process-local blob store for tests and
// throwaway deployments
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/blinklabs-io/landregistry/database/plugin"
	"github.com/blinklabs-io/landregistry/database/plugin/blob"
	"github.com/blinklabs-io/landregistry/database/types"
)

const pluginName = "memory"

func init() {
	plugin.Register(
		plugin.PluginEntry{
			Type:        plugin.PluginTypeBlob,
			Name:        pluginName,
			Description: "In-memory store, contents are lost on exit",
			NewFromOptionsFunc: func() plugin.Plugin {
				return New()
			},
		},
	)
}

type BlobStoreMemory struct {
	data    map[string][]byte
	mu      sync.RWMutex
	stopped bool
}

func New() *BlobStoreMemory {
	return &BlobStoreMemory{
		data: make(map[string][]byte),
	}
}

func (m *BlobStoreMemory) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = false
	return nil
}

func (m *BlobStoreMemory) Stop() error {
	return m.Close()
}

func (m *BlobStoreMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *BlobStoreMemory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return nil, types.ErrBlobStoreClosed
	}
	val, ok := m.data[key]
	if !ok {
		return nil, types.ErrBlobKeyNotFound
	}
	return slices.Clone(val), nil
}

func (m *BlobStoreMemory) Set(ctx context.Context, key string, val []byte) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return types.ErrBlobStoreClosed
	}
	m.data[key] = slices.Clone(val)
	return nil
}

func (m *BlobStoreMemory) Delete(ctx context.Context, key string) error {
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return types.ErrBlobStoreClosed
	}
	if _, ok := m.data[key]; !ok {
		return types.ErrBlobKeyNotFound
	}
	delete(m.data, key)
	return nil
}

// Keys returns the stored keys in sorted order
func (m *BlobStoreMemory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data))
}
