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

package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/blinklabs-io/landregistry/database/plugin"
	"github.com/blinklabs-io/landregistry/database/types"
)

// BlobStore is a flat key/value store. Implementations return
// types.ErrBlobKeyNotFound from Get and Delete when the key is absent.
type BlobStore interface {
	plugin.Plugin
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New returns the started blob plugin selected by name
func New(pluginName string, cfg plugin.StartConfig) (BlobStore, error) {
	// Get and start the plugin
	p, err := plugin.StartPlugin(plugin.PluginTypeBlob, pluginName, cfg)
	if err != nil {
		return nil, err
	}

	// Type assert to BlobStore interface
	blobStore, ok := p.(BlobStore)
	if !ok {
		_ = p.Stop()
		return nil, fmt.Errorf(
			"plugin '%s' does not implement BlobStore interface",
			pluginName,
		)
	}

	return blobStore, nil
}

// ValidateKey rejects keys that no backend can store
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return types.ErrEmptyKey
	}
	return nil
}
