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

package approval_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/landregistry/approval"
	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/blinklabs-io/landregistry/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type mapStore struct {
	data map[string][]byte
	mu   sync.Mutex
}

func (s *mapStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	if !ok {
		return nil, types.ErrBlobKeyNotFound
	}
	return val, nil
}

func (s *mapStore) Save(_ context.Context, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
	return nil
}

var (
	memberA = parcel.CouncilMember{Name: "Ramkumar Sahu", Role: "Tehsildar", WalletAddress: "0xCouncil1234"}
	memberB = parcel.CouncilMember{Name: "Nisha Toppo", Role: "Revenue Officer", WalletAddress: "0xCouncil5678"}
	memberC = parcel.CouncilMember{Name: "Suresh Patel", Role: "Naib Tehsildar", WalletAddress: "0xCouncil9012"}
)

func clock() time.Time {
	return time.Date(2025, time.April, 2, 9, 0, 0, 0, time.UTC)
}

func newEngine(t *testing.T, threshold int) (*approval.Engine, *registry.Registry) {
	t.Helper()
	repo, err := registry.New(t.Context(), registry.Config{
		Store: &mapStore{data: make(map[string][]byte)},
		Clock: clock,
	})
	require.NoError(t, err)
	engine, err := approval.New(approval.Config{
		Repo:       repo,
		Threshold:  threshold,
		Signatures: &approval.SequentialSignatures{},
		Clock:      clock,
	})
	require.NoError(t, err)
	return engine, repo
}

func addParcel(t *testing.T, repo *registry.Registry) uint64 {
	t.Helper()
	id, err := repo.Add(t.Context(), parcel.LandData{
		KhasraNumber: "315/2A",
		OwnerName:    "Asha",
		Area:         5000,
		District:     "Raipur",
		Tehsil:       "Raipur",
		Village:      "Kharun",
		Status:       parcel.StatusPending,
	})
	require.NoError(t, err)
	return id
}

func TestEndToEndApproval(t *testing.T) {
	engine, repo := newEngine(t, 0)
	assert.Equal(t, approval.DefaultThreshold, engine.Threshold())
	id := addParcel(t, repo)
	assert.Equal(t, uint64(1), id)

	p, err := engine.Approve(t.Context(), id, memberA)
	require.NoError(t, err)
	assert.Len(t, p.Approvals, 1)
	assert.Equal(t, parcel.StatusPending, p.Status)
	assert.Equal(t, "Ramkumar Sahu", p.Approvals[0].CouncilMemberName)
	assert.Equal(t, "Tehsildar", p.Approvals[0].CouncilMemberRole)
	assert.Equal(t, parcel.Date("2025-04-02"), p.Approvals[0].ApprovalDate)
	assert.Equal(t, "0x00000001", p.Approvals[0].Signature)

	p, err = engine.Approve(t.Context(), id, memberB)
	require.NoError(t, err)
	assert.Len(t, p.Approvals, 2)
	assert.Equal(t, parcel.StatusApproved, p.Status)

	stored, ok := repo.Get(id)
	require.True(t, ok)
	assert.Equal(t, p, stored)
}

func TestThresholdProperty(t *testing.T) {
	members := []parcel.CouncilMember{memberA, memberB, memberC}
	for threshold := 1; threshold <= 3; threshold++ {
		t.Run(fmt.Sprintf("threshold %d", threshold), func(t *testing.T) {
			engine, repo := newEngine(t, threshold)
			id := addParcel(t, repo)
			for k, m := range members[:threshold] {
				p, err := engine.Approve(t.Context(), id, m)
				require.NoError(t, err)
				assert.Len(t, p.Approvals, k+1)
				if k+1 >= threshold {
					assert.Equal(t, parcel.StatusApproved, p.Status)
				} else {
					assert.Equal(t, parcel.StatusPending, p.Status)
				}
			}
		})
	}
}

func TestDuplicateApprovalRejected(t *testing.T) {
	engine, repo := newEngine(t, 3)
	id := addParcel(t, repo)
	_, err := engine.Approve(t.Context(), id, memberA)
	require.NoError(t, err)

	// Same wallet with different case and name still counts as the same member
	again := memberA
	again.WalletAddress = "0XCOUNCIL1234"
	_, err = engine.Approve(t.Context(), id, again)
	require.ErrorIs(t, err, approval.ErrDuplicateApproval)
	require.ErrorIs(t, engine.CheckApprove(id, memberA), approval.ErrDuplicateApproval)

	p, _ := repo.Get(id)
	assert.Len(t, p.Approvals, 1)
	require.NoError(t, engine.CheckApprove(id, memberB))
}

func TestApproveClosedParcel(t *testing.T) {
	engine, repo := newEngine(t, 0)
	id := addParcel(t, repo)
	_, err := engine.Reject(t.Context(), id)
	require.NoError(t, err)
	_, err = engine.Approve(t.Context(), id, memberA)
	require.ErrorIs(t, err, approval.ErrParcelClosed)
	require.ErrorIs(t, engine.CheckApprove(id, memberA), approval.ErrParcelClosed)
}

func TestRejectAndDisputeKeepApprovals(t *testing.T) {
	engine, repo := newEngine(t, 0)
	for _, finalStatus := range []parcel.Status{parcel.StatusRejected, parcel.StatusDisputed} {
		id := addParcel(t, repo)
		_, err := engine.Approve(t.Context(), id, memberA)
		require.NoError(t, err)
		approved, err := engine.Approve(t.Context(), id, memberB)
		require.NoError(t, err)
		require.Equal(t, parcel.StatusApproved, approved.Status)

		var p parcel.Parcel
		if finalStatus == parcel.StatusRejected {
			p, err = engine.Reject(t.Context(), id)
		} else {
			p, err = engine.Dispute(t.Context(), id)
		}
		require.NoError(t, err)
		assert.Equal(t, finalStatus, p.Status)
		assert.Equal(t, approved.Approvals, p.Approvals)
	}

	// Dispute works from rejected too
	id := addParcel(t, repo)
	_, err := engine.Reject(t.Context(), id)
	require.NoError(t, err)
	p, err := engine.Dispute(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, parcel.StatusDisputed, p.Status)
}

func TestMissingParcel(t *testing.T) {
	engine, _ := newEngine(t, 0)
	_, err := engine.Approve(t.Context(), 42, memberA)
	require.ErrorIs(t, err, registry.ErrParcelNotFound)
	_, err = engine.Reject(t.Context(), 42)
	require.ErrorIs(t, err, registry.ErrParcelNotFound)
	_, err = engine.Dispute(t.Context(), 42)
	require.ErrorIs(t, err, registry.ErrParcelNotFound)
	require.ErrorIs(t, engine.CheckApprove(42, memberA), registry.ErrParcelNotFound)
}

func TestInvalidThreshold(t *testing.T) {
	_, err := approval.New(approval.Config{Repo: &registry.Registry{}, Threshold: -1})
	require.ErrorIs(t, err, approval.ErrInvalidThreshold)
	_, err = approval.New(approval.Config{})
	require.ErrorIs(t, err, approval.ErrNilRepository)
}

func TestConcurrentApprovalsAreNotLost(t *testing.T) {
	defer goleak.VerifyNone(t)
	const members = 25
	engine, repo := newEngine(t, members)
	id := addParcel(t, repo)

	var wg sync.WaitGroup
	for i := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Approve(t.Context(), id, parcel.CouncilMember{
				Name:          fmt.Sprintf("member-%d", i),
				WalletAddress: fmt.Sprintf("0xmember%d", i),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, ok := repo.Get(id)
	require.True(t, ok)
	assert.Len(t, p.Approvals, members)
	assert.Equal(t, parcel.StatusApproved, p.Status)
}
