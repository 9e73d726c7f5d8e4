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

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/blinklabs-io/landregistry/parcel"
)

// DefaultCouncil is used when no roster has been stored
var DefaultCouncil = []parcel.CouncilMember{
	{
		Name:          "Ramkumar Sahu",
		Role:          "Tehsildar",
		Phone:         "0771-123-4567",
		Office:        "Raipur Tehsil, Revenue Block",
		WalletAddress: "0xCouncil1234",
	},
	{
		Name:          "Nisha Toppo",
		Role:          "Revenue Officer",
		Phone:         "0771-234-5678",
		Office:        "Raipur Tehsil, Revenue Block",
		WalletAddress: "0xCouncil5678",
	},
	{
		Name:          "Suresh Patel",
		Role:          "Naib Tehsildar",
		Phone:         "0771-345-6789",
		Office:        "Durg Tehsil Office",
		WalletAddress: "0xCouncil9012",
	},
}

// Roster is the set of council members allowed to approve parcels
type Roster struct {
	store   Store
	members []parcel.CouncilMember
	mu      sync.RWMutex
}

// LoadRoster returns the stored roster, or the default council if none has
// been saved yet
func LoadRoster(ctx context.Context, store Store) (*Roster, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	r := &Roster{store: store}
	data, err := store.Load(ctx, CouncilKey)
	if err != nil {
		if !errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, fmt.Errorf("load council: %w", err)
		}
		r.members = slices.Clone(DefaultCouncil)
		return r, nil
	}
	var members []parcel.CouncilMember
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("decode council: %w", err)
	}
	r.members = members
	return r, nil
}

// Members returns a copy of the roster in stored order
func (r *Roster) Members() []parcel.CouncilMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.members)
}

// ByWallet finds a council member by wallet address, ignoring case
func (r *Roster) ByWallet(wallet string) (parcel.CouncilMember, bool) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return parcel.CouncilMember{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.members {
		if strings.EqualFold(m.WalletAddress, wallet) {
			return m, true
		}
	}
	return parcel.CouncilMember{}, false
}

// Save validates and persists a replacement roster
func (r *Roster) Save(ctx context.Context, members []parcel.CouncilMember) error {
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if err := m.Validate(); err != nil {
			return err
		}
		id := m.Identity()
		if _, ok := seen[id]; ok {
			return fmt.Errorf(
				"%w: duplicate member %q",
				parcel.ErrInvalidCouncilMember,
				m.Name,
			)
		}
		seen[id] = struct{}{}
	}
	data, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("encode council: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Save(ctx, CouncilKey, data); err != nil {
		return fmt.Errorf("persist council: %w", err)
	}
	r.members = slices.Clone(members)
	return nil
}
