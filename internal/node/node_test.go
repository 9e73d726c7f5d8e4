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

package node_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/landregistry/database"
	"github.com/blinklabs-io/landregistry/internal/config"
	"github.com/blinklabs-io/landregistry/internal/node"
	"github.com/blinklabs-io/landregistry/internal/test/testutil"
	"github.com/blinklabs-io/landregistry/registry"
)

func TestBuildOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	opts, err := node.BuildOptions(cfg, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	cfg.ShutdownTimeout = "soon"
	_, err = node.BuildOptions(cfg, nil)
	require.Error(t, err)
}

func TestSearchLocalStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BlobPlugin = "badger"
	cfg.DatabasePath = t.TempDir()

	db, err := database.New(&database.Config{
		BlobPlugin: cfg.BlobPlugin,
		DataDir:    cfg.DatabasePath,
	})
	require.NoError(t, err)
	reg, err := registry.New(t.Context(), registry.Config{Store: db})
	require.NoError(t, err)
	for _, khasra := range []string{"KH-1", "KH-2", "AB-3"} {
		_, err := reg.Add(t.Context(), testutil.LandData(khasra))
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	parcels, err := node.Search(
		t.Context(),
		cfg,
		nil,
		registry.SearchFilters{KhasraNumber: "kh-"},
	)
	require.NoError(t, err)
	require.Len(t, parcels, 2)
	assert.Equal(t, "KH-1", parcels[0].KhasraNumber)
}
