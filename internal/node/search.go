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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blinklabs-io/landregistry/database"
	"github.com/blinklabs-io/landregistry/internal/config"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/blinklabs-io/landregistry/registry"
)

// Search queries the local store without starting the node
func Search(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	filters registry.SearchFilters,
) (ret []parcel.Parcel, err error) {
	db, err := database.New(&database.Config{
		Logger:     logger,
		BlobPlugin: cfg.BlobPlugin,
		DataDir:    cfg.DatabasePath,
	})
	if db != nil {
		defer func() {
			err = errors.Join(err, db.Close())
		}()
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	reg, err := registry.New(ctx, registry.Config{
		Store:    db,
		Logger:   logger,
		ReuseIDs: cfg.ReuseIds,
	})
	if err != nil {
		return nil, err
	}
	return reg.Search(filters), nil
}
