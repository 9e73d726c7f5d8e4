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
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/landregistry/database/types"
)

func TestDSNFromOptions(t *testing.T) {
	store, err := NewWithOptions(
		WithHost("db.internal"),
		WithPort(3307),
		WithUser("registry"),
		WithPassword("hunter2"),
		WithDatabase("parcels"),
		WithSSLMode("skip-verify"),
	)
	require.NoError(t, err)
	cfg, err := mysql.ParseDSN(store.DSN())
	require.NoError(t, err)
	assert.Equal(t, "registry", cfg.User)
	assert.Equal(t, "hunter2", cfg.Passwd)
	assert.Equal(t, "db.internal:3307", cfg.Addr)
	assert.Equal(t, "parcels", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "skip-verify", cfg.TLSConfig)
}

func TestDSNOverride(t *testing.T) {
	store, err := NewWithOptions(WithDSN("u:p@tcp(localhost:3306)/landregistry"))
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(localhost:3306)/landregistry", store.DSN())
}

func TestNotStarted(t *testing.T) {
	store, err := NewWithOptions(WithDatabase("parcels"))
	require.NoError(t, err)
	require.ErrorIs(t, store.Set(t.Context(), "parcels", []byte("[]")), types.ErrBlobStoreUnavailable)
	require.NoError(t, store.Stop())
}
