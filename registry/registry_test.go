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

package registry_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/landregistry/database"
	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/blinklabs-io/landregistry/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore is a Store that can be told to fail saves
type mapStore struct {
	data     map[string][]byte
	saveErr  error
	mu       sync.Mutex
	saveHits int
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (s *mapStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", key, types.ErrBlobKeyNotFound)
	}
	return val, nil
}

func (s *mapStore) Save(_ context.Context, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveHits++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data[key] = val
	return nil
}

var fixedNow = time.Date(2025, time.March, 14, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func newRegistry(t *testing.T, store registry.Store, reuse bool) *registry.Registry {
	t.Helper()
	r, err := registry.New(t.Context(), registry.Config{
		Store:    store,
		Clock:    fixedClock,
		ReuseIDs: reuse,
	})
	require.NoError(t, err)
	return r
}

func landData(khasra, owner, district string) parcel.LandData {
	return parcel.LandData{
		KhasraNumber: khasra,
		OwnerName:    owner,
		OwnerWallet:  "0x" + owner,
		District:     district,
		Tehsil:       district,
		Village:      "Kharun",
		Area:         5000,
	}
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	r := newRegistry(t, newMapStore(), false)
	id, err := r.Add(t.Context(), parcel.LandData{
		KhasraNumber: "315/2A",
		OwnerName:    "Asha",
		Area:         5000,
		District:     "Raipur",
		Tehsil:       "Raipur",
		Village:      "Kharun",
		Status:       parcel.StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	p, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, parcel.StatusPending, p.Status)
	assert.Equal(t, parcel.Date("2025-03-14"), p.CreatedDate)
	assert.Empty(t, p.Approvals)

	id, err = r.Add(t.Context(), landData("12", "Bhola", "Durg"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
	assert.Equal(t, 2, r.Count())
}

func TestIDsNotReusedAfterDelete(t *testing.T) {
	store := newMapStore()
	r := newRegistry(t, store, false)
	for range 3 {
		_, err := r.Add(t.Context(), landData("1", "Asha", "Raipur"))
		require.NoError(t, err)
	}
	require.NoError(t, r.Delete(t.Context(), 3))
	id, err := r.Add(t.Context(), landData("2", "Asha", "Raipur"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)

	// The high-water mark survives a reload
	require.NoError(t, r.Delete(t.Context(), 4))
	reloaded := newRegistry(t, store, false)
	assert.Equal(t, uint64(5), reloaded.NextID())
}

func TestInsertUsesGivenID(t *testing.T) {
	store := newMapStore()
	r := newRegistry(t, store, false)
	require.NoError(t, r.Insert(t.Context(), 7, landData("7", "Asha", "Raipur")))
	p, ok := r.Get(7)
	require.True(t, ok)
	assert.Equal(t, "7", p.KhasraNumber)
	// Later local ids continue past the inserted one
	assert.Equal(t, uint64(8), r.NextID())
	reloaded := newRegistry(t, store, false)
	assert.Equal(t, uint64(8), reloaded.NextID())

	err := r.Insert(t.Context(), 7, landData("other", "Bhola", "Durg"))
	require.ErrorIs(t, err, registry.ErrParcelExists)
	p, _ = r.Get(7)
	assert.Equal(t, "7", p.KhasraNumber)
	assert.Equal(t, 1, r.Count())

	require.ErrorIs(t, r.Insert(t.Context(), 0, landData("0", "Asha", "Raipur")), parcel.ErrInvalidParcel)
}

func TestReuseIDsFollowsMaxPlusOne(t *testing.T) {
	r := newRegistry(t, newMapStore(), true)
	for range 3 {
		_, err := r.Add(t.Context(), landData("1", "Asha", "Raipur"))
		require.NoError(t, err)
	}
	require.NoError(t, r.Delete(t.Context(), 3))
	assert.Equal(t, uint64(3), r.NextID())
	id, err := r.Add(t.Context(), landData("2", "Asha", "Raipur"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}

func TestAddValidation(t *testing.T) {
	store := newMapStore()
	r := newRegistry(t, store, false)
	_, err := r.Add(t.Context(), parcel.LandData{OwnerName: "Asha", Area: 10})
	require.ErrorIs(t, err, parcel.ErrInvalidParcel)
	data := landData("1", "Asha", "Raipur")
	data.Status = parcel.StatusApproved
	_, err = r.Add(t.Context(), data)
	require.ErrorIs(t, err, parcel.ErrInvalidParcel)
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, store.saveHits)
}

func TestUpdateMergesFields(t *testing.T) {
	r := newRegistry(t, newMapStore(), false)
	id, err := r.Add(t.Context(), landData("1", "Asha", "Raipur"))
	require.NoError(t, err)
	owner := "Asha Verma"
	area := 7500.0
	require.NoError(t, r.Update(t.Context(), id, registry.ParcelUpdate{
		OwnerName: &owner,
		Area:      &area,
	}))
	p, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Asha Verma", p.OwnerName)
	assert.InEpsilon(t, 7500.0, p.Area, 0.0001)
	assert.Equal(t, "1", p.KhasraNumber)

	bad := 0.0
	err = r.Update(t.Context(), id, registry.ParcelUpdate{Area: &bad})
	require.ErrorIs(t, err, parcel.ErrInvalidParcel)
	p, _ = r.Get(id)
	assert.InEpsilon(t, 7500.0, p.Area, 0.0001)
}

func TestMissingIDLeavesCollectionUnchanged(t *testing.T) {
	store := newMapStore()
	r := newRegistry(t, store, false)
	_, err := r.Add(t.Context(), landData("1", "Asha", "Raipur"))
	require.NoError(t, err)
	before := r.List()
	hits := store.saveHits

	owner := "Nobody"
	require.ErrorIs(
		t,
		r.Update(t.Context(), 999, registry.ParcelUpdate{OwnerName: &owner}),
		registry.ErrParcelNotFound,
	)
	require.ErrorIs(t, r.Delete(t.Context(), 999), registry.ErrParcelNotFound)
	_, ok := r.Get(999)
	assert.False(t, ok)
	assert.Equal(t, before, r.List())
	assert.Equal(t, hits, store.saveHits)
}

func TestMutatePreservesIdentity(t *testing.T) {
	r := newRegistry(t, newMapStore(), false)
	id, err := r.Add(t.Context(), landData("1", "Asha", "Raipur"))
	require.NoError(t, err)
	p, err := r.Mutate(t.Context(), id, func(p *parcel.Parcel) error {
		p.ID = 77
		p.CreatedDate = "1999-01-01"
		p.Status = parcel.StatusDisputed
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, parcel.Date("2025-03-14"), p.CreatedDate)
	assert.Equal(t, parcel.StatusDisputed, p.Status)

	fnErr := errors.New("nope")
	_, err = r.Mutate(t.Context(), id, func(p *parcel.Parcel) error {
		p.Status = parcel.StatusRejected
		return fnErr
	})
	require.ErrorIs(t, err, fnErr)
	got, _ := r.Get(id)
	assert.Equal(t, parcel.StatusDisputed, got.Status)
}

func TestPersistFailureRollsBack(t *testing.T) {
	store := newMapStore()
	r := newRegistry(t, store, false)
	id, err := r.Add(t.Context(), landData("1", "Asha", "Raipur"))
	require.NoError(t, err)

	store.saveErr = errors.New("disk full")
	_, err = r.Add(t.Context(), landData("2", "Bhola", "Durg"))
	require.ErrorContains(t, err, "disk full")
	_, err = r.Mutate(t.Context(), id, func(p *parcel.Parcel) error {
		p.Status = parcel.StatusRejected
		return nil
	})
	require.ErrorContains(t, err, "persist parcels")
	require.Error(t, r.Delete(t.Context(), id))

	assert.Equal(t, 1, r.Count())
	p, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, parcel.StatusPending, p.Status)
}

func TestGetReturnsCopy(t *testing.T) {
	r := newRegistry(t, newMapStore(), false)
	id, err := r.Add(t.Context(), landData("1", "Asha", "Raipur"))
	require.NoError(t, err)
	_, err = r.Mutate(t.Context(), id, func(p *parcel.Parcel) error {
		p.Approvals = append(p.Approvals, parcel.Approval{CouncilMemberName: "A"})
		return nil
	})
	require.NoError(t, err)
	p, _ := r.Get(id)
	p.Approvals[0].CouncilMemberName = "changed"
	p.OwnerName = "changed"
	again, _ := r.Get(id)
	assert.Equal(t, "A", again.Approvals[0].CouncilMemberName)
	assert.Equal(t, "Asha", again.OwnerName)
}

func TestRoundTripPersistence(t *testing.T) {
	db, err := database.New(&database.Config{BlobPlugin: "memory"})
	require.NoError(t, err)
	defer db.Close()

	r := newRegistry(t, db, false)
	for _, d := range []parcel.LandData{
		landData("315/2A", "Asha", "Raipur"),
		landData("12", "Bhola", "Durg"),
		landData("7/1", "Chanda", "Korba"),
	} {
		_, err := r.Add(t.Context(), d)
		require.NoError(t, err)
	}
	_, err = r.Mutate(t.Context(), 2, func(p *parcel.Parcel) error {
		p.Approvals = append(p.Approvals, parcel.Approval{
			CouncilMemberName: "Nisha Toppo",
			CouncilMemberRole: "Revenue Officer",
			ApprovalDate:      "2025-03-15",
			Signature:         "0xabc",
		})
		p.Notes = "boundary surveyed"
		return nil
	})
	require.NoError(t, err)

	reloaded := newRegistry(t, db, false)
	assert.Equal(t, r.List(), reloaded.List())
	assert.Equal(t, r.NextID(), reloaded.NextID())
}

func TestByOwnerWalletAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := registry.New(t.Context(), registry.Config{
		Store:        newMapStore(),
		Clock:        fixedClock,
		PromRegistry: reg,
	})
	require.NoError(t, err)
	_, err = r.Add(t.Context(), landData("1", "Asha", "Raipur"))
	require.NoError(t, err)
	_, err = r.Add(t.Context(), landData("2", "Asha", "Durg"))
	require.NoError(t, err)
	id, err := r.Add(t.Context(), landData("3", "Bhola", "Durg"))
	require.NoError(t, err)
	_, err = r.Mutate(t.Context(), id, func(p *parcel.Parcel) error {
		p.Status = parcel.StatusRejected
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, r.ByOwnerWallet("0XASHA"), 2)
	assert.Empty(t, r.ByOwnerWallet(""))
	counts := r.CountByStatus()
	assert.Equal(t, 2, counts[parcel.StatusPending])
	assert.Equal(t, 1, counts[parcel.StatusRejected])
	assert.Equal(t, 0, counts[parcel.StatusApproved])

	expected := `
# HELP landregistry_parcels number of registered parcels by status
# TYPE landregistry_parcels gauge
landregistry_parcels{status="approved"} 0
landregistry_parcels{status="disputed"} 0
landregistry_parcels{status="pending"} 2
landregistry_parcels{status="rejected"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "landregistry_parcels"))
}
