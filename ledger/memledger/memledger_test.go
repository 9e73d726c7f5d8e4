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

package memledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blinklabs-io/landregistry/ledger"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var council = []parcel.CouncilMember{
	{Name: "Ramkumar Sahu", WalletAddress: "0xCouncil1234"},
	{Name: "Nisha Toppo", WalletAddress: "0xCouncil5678"},
}

var land = parcel.LandData{
	KhasraNumber: "315/2A",
	OwnerName:    "Asha",
	OwnerWallet:  "0xAsha",
	District:     "Raipur",
	Area:         5000,
}

func submit(t *testing.T, l *Ledger) uint64 {
	t.Helper()
	ref, err := l.SubmitLand(t.Context(), ledger.Call{Caller: "0xAsha"}, land)
	require.NoError(t, err)
	return ref.ParcelID
}

func TestSubmitAndApprove(t *testing.T) {
	l := New(WithCouncil(council))
	ctx := t.Context()
	id := submit(t, l)
	assert.Equal(t, uint64(1), id)
	next, err := l.ViewNextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)

	_, err = l.Approve(ctx, ledger.Call{Caller: "0xcouncil1234"}, id)
	require.NoError(t, err)
	p, err := l.ViewParcel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, parcel.StatusPending, p.Status)

	_, err = l.Approve(ctx, ledger.Call{Caller: "0xCouncil1234"}, id)
	var callErr *ledger.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, StatusAlreadyApproved, callErr.VMStatus)
	require.ErrorIs(t, err, ledger.ErrRejected)

	ref, err := l.Approve(ctx, ledger.Call{Caller: "0xCouncil5678"}, id)
	require.NoError(t, err)
	assert.NotEmpty(t, ref.Hash)
	p, err = l.ViewParcel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, parcel.StatusApproved, p.Status)
	assert.Len(t, p.Approvers, 2)
}

func TestAccessRules(t *testing.T) {
	l := New(WithCouncil(council))
	ctx := t.Context()
	id := submit(t, l)

	_, err := l.Approve(ctx, ledger.Call{Caller: "0xStranger"}, id)
	require.ErrorIs(t, err, ledger.ErrRejected)
	_, err = l.Reject(ctx, ledger.Call{Caller: "0xStranger"}, id)
	require.ErrorIs(t, err, ledger.ErrRejected)
	_, err = l.TransferOwnership(ctx, ledger.Call{Caller: "0xStranger"}, id, "0xBuyer")
	require.ErrorIs(t, err, ledger.ErrRejected)

	// Anyone may dispute
	_, err = l.Dispute(ctx, ledger.Call{Caller: "0xStranger"}, id)
	require.NoError(t, err)

	_, err = l.TransferOwnership(ctx, ledger.Call{Caller: "0xasha"}, id, "0xBuyer")
	require.NoError(t, err)
	p, err := l.ViewParcel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0xBuyer", p.Owner)
	assert.Equal(t, parcel.StatusDisputed, p.Status)

	_, err = l.Approve(ctx, ledger.Call{Caller: "0xCouncil1234"}, id)
	require.ErrorIs(t, err, ledger.ErrRejected)

	_, err = l.Reject(ctx, ledger.Call{}, id)
	require.ErrorIs(t, err, ledger.ErrMissingCaller)

	_, err = l.ViewParcel(ctx, 99)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRequestIDDeduplication(t *testing.T) {
	l := New(WithCouncil(council))
	ctx := t.Context()
	call := ledger.Call{Caller: "0xAsha", RequestID: "req-1"}
	first, err := l.SubmitLand(ctx, call, land)
	require.NoError(t, err)
	again, err := l.SubmitLand(ctx, call, land)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	next, err := l.ViewNextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestInjectedFaults(t *testing.T) {
	l := New(WithCouncil(council))
	ctx := t.Context()
	boom := errors.New("connection reset")
	l.InjectFault(ledger.FuncSubmitLand, errors.Join(ledger.ErrUnavailable, boom), 2)

	call := ledger.Call{Caller: "0xAsha", RequestID: "req-2"}
	for range 2 {
		_, err := l.SubmitLand(ctx, call, land)
		require.ErrorIs(t, err, ledger.ErrUnavailable)
	}
	ref, err := l.SubmitLand(ctx, call, land)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ref.ParcelID)
	assert.Equal(t, 3, l.Calls(ledger.FuncSubmitLand))
}

func TestLostResponseAppliesOnce(t *testing.T) {
	l := New(WithCouncil(council))
	ctx := t.Context()
	id := submit(t, l)
	l.InjectLostResponse(ledger.FuncApprove, 1)
	call := ledger.Call{Caller: "0xCouncil1234", RequestID: "req-3"}
	_, err := l.Approve(ctx, call, id)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	ref, err := l.Approve(ctx, call, id)
	require.NoError(t, err)
	assert.Equal(t, id, ref.ParcelID)
	p, err := l.ViewParcel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xCouncil1234"}, p.Approvers)
}

func TestHoldBlocksUntilRelease(t *testing.T) {
	l := New(WithCouncil(council))
	release := l.Hold()
	done := make(chan error, 1)
	go func() {
		_, err := l.SubmitLand(context.Background(), ledger.Call{Caller: "0xAsha"}, land)
		done <- err
	}()
	select {
	case <-done:
		t.Fatal("call returned while held")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not complete after release")
	}

	release = l.Hold()
	defer release()
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err := l.ViewNextID(ctx)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
}

func TestViewCouncilReturnsCopy(t *testing.T) {
	l := New(WithCouncil(council), WithThreshold(1), WithNextID(10))
	members, err := l.ViewCouncil(t.Context())
	require.NoError(t, err)
	members[0].Name = "changed"
	again, err := l.ViewCouncil(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Ramkumar Sahu", again[0].Name)

	id := submit(t, l)
	assert.Equal(t, uint64(10), id)
	_, err = l.Approve(t.Context(), ledger.Call{Caller: "0xCouncil5678"}, id)
	require.NoError(t, err)
	p, err := l.ViewParcel(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, parcel.StatusApproved, p.Status)
}

func TestWithParcelsContinuesFromStoredState(t *testing.T) {
	stored := []ledger.OnChainParcel{
		{ID: 3, Owner: "0xAsha", Status: parcel.StatusPending, Approvers: []string{"0xCouncil1234"}},
		{ID: 1, Owner: "0xAsha", Status: parcel.StatusApproved},
	}
	l := New(WithCouncil(council), WithParcels(stored))
	ctx := t.Context()

	next, err := l.ViewNextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next)

	_, err = l.Approve(ctx, ledger.Call{Caller: "0xCouncil1234"}, 3)
	require.ErrorIs(t, err, ledger.ErrRejected)
	_, err = l.Approve(ctx, ledger.Call{Caller: "0xCouncil5678"}, 3)
	require.NoError(t, err)
	p, err := l.ViewParcel(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, parcel.StatusApproved, p.Status)

	_, err = l.Dispute(ctx, ledger.Call{Caller: "0xAsha"}, 1)
	require.NoError(t, err)
	assert.Len(t, stored[0].Approvers, 1)
	assert.Equal(t, uint64(4), submit(t, l))
}
