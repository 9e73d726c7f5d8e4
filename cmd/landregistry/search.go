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

package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/landregistry/internal/config"
	"github.com/blinklabs-io/landregistry/internal/node"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/blinklabs-io/landregistry/registry"
)

func searchCommand() *cobra.Command {
	var filters registry.SearchFilters
	var statuses []string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search parcels in the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			for _, val := range statuses {
				status, err := parcel.ParseStatus(val)
				if err != nil {
					return err
				}
				filters.Statuses = append(filters.Statuses, status)
			}
			// Results go to stdout, so keep logs on stderr
			logLevel := slog.LevelWarn
			if globalFlags.debug {
				logLevel = slog.LevelDebug
			}
			logger := slog.New(
				slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}),
			)
			parcels, err := node.Search(cmd.Context(), cfg, logger, filters)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(parcels)
		},
	}
	cmd.Flags().StringVar(&filters.KhasraID, "id", "", "parcel id")
	cmd.Flags().StringVar(&filters.District, "district", "", "district (exact match)")
	cmd.Flags().StringVar(&filters.Tehsil, "tehsil", "", "tehsil (substring match)")
	cmd.Flags().StringVar(&filters.Village, "village", "", "village (substring match)")
	cmd.Flags().StringVar(&filters.KhasraNumber, "khasra", "", "khasra number (substring match)")
	cmd.Flags().StringVar(&filters.OwnerName, "owner", "", "owner name (substring match)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status to include, may be repeated")
	return cmd
}
