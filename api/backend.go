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

package api

import (
	"context"

	"github.com/blinklabs-io/landregistry/ledgersync"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/blinklabs-io/landregistry/registry"
)

// Parcels is the read side of the parcel registry plus the admin delete
type Parcels interface {
	Get(id uint64) (parcel.Parcel, bool)
	Search(filters registry.SearchFilters) []parcel.Parcel
	ByOwnerWallet(wallet string) []parcel.Parcel
	CountByStatus() map[parcel.Status]int
	Count() int
	NextID() uint64
	Delete(ctx context.Context, id uint64) error
}

// Council resolves callers to council members
type Council interface {
	Members() []parcel.CouncilMember
	ByWallet(wallet string) (parcel.CouncilMember, bool)
}

// Intents are the state changes that go through the ledger
type Intents interface {
	Submit(ctx context.Context, caller string, data parcel.LandData) ledgersync.Result[ledgersync.Receipt]
	Approve(ctx context.Context, caller string, id uint64, member parcel.CouncilMember) ledgersync.Result[ledgersync.Receipt]
	Reject(ctx context.Context, caller string, id uint64) ledgersync.Result[ledgersync.Receipt]
	Dispute(ctx context.Context, caller string, id uint64) ledgersync.Result[ledgersync.Receipt]
	TransferOwnership(ctx context.Context, caller string, id uint64, newOwnerWallet string, newOwnerName string) ledgersync.Result[ledgersync.Receipt]
}

// Backend bundles what the API serves from
type Backend struct {
	Parcels Parcels
	Council Council
	Intents Intents
}
