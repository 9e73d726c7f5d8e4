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

package landregistry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/landregistry"
	"github.com/blinklabs-io/landregistry/approval"
	"github.com/blinklabs-io/landregistry/internal/test/testutil"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/blinklabs-io/landregistry/registry"
)

func startNode(t *testing.T, opts ...landregistry.ConfigOptionFunc) (*landregistry.Node, <-chan error) {
	t.Helper()
	n, err := landregistry.New(landregistry.NewConfig(opts...))
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Run(context.Background())
	}()
	select {
	case <-n.Ready():
	case err := <-errCh:
		t.Fatalf("node failed to start: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for node to start")
	}
	return n, errCh
}

func stopNode(t *testing.T, n *landregistry.Node, errCh <-chan error) {
	t.Helper()
	require.NoError(t, n.Stop())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for node to stop")
	}
}

func TestNodeStatePersistsAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()
	opts := []landregistry.ConfigOptionFunc{
		landregistry.WithDatabasePath(dataDir),
		landregistry.WithBlobPlugin("badger"),
		landregistry.WithLedgerMode(landregistry.LedgerModeMemory),
	}

	n, errCh := startNode(t, opts...)
	syncer := n.Syncer()
	receipt, err := syncer.Submit(t.Context(), "0xAsha", testutil.LandData("KH-101")).Unwrap()
	require.NoError(t, err)
	id := receipt.Parcel.ID
	for _, member := range registry.DefaultCouncil[:approval.DefaultThreshold] {
		_, err := syncer.Approve(t.Context(), member.WalletAddress, id, member).Unwrap()
		require.NoError(t, err)
	}
	stopNode(t, n, errCh)

	n, errCh = startNode(t, opts...)
	defer stopNode(t, n, errCh)
	p, ok := n.Registry().Get(id)
	require.True(t, ok)
	assert.Equal(t, parcel.StatusApproved, p.Status)
	assert.Len(t, p.Approvals, approval.DefaultThreshold)
	assert.Equal(t, "KH-101", p.KhasraNumber)
}

func TestNodeContinuesWorkflowAfterRestart(t *testing.T) {
	dataDir := t.TempDir()
	opts := []landregistry.ConfigOptionFunc{
		landregistry.WithDatabasePath(dataDir),
		landregistry.WithBlobPlugin("badger"),
	}
	first, second := registry.DefaultCouncil[0], registry.DefaultCouncil[1]

	n, errCh := startNode(t, opts...)
	pending, err := n.Syncer().Submit(t.Context(), "0xAsha", testutil.LandData("KH-201")).Unwrap()
	require.NoError(t, err)
	other, err := n.Syncer().Submit(t.Context(), "0xAsha", testutil.LandData("KH-202")).Unwrap()
	require.NoError(t, err)
	_, err = n.Syncer().Approve(t.Context(), first.WalletAddress, pending.Parcel.ID, first).Unwrap()
	require.NoError(t, err)
	stopNode(t, n, errCh)

	n, errCh = startNode(t, opts...)
	defer stopNode(t, n, errCh)
	syncer := n.Syncer()

	// The approval recorded before the restart still counts
	_, err = syncer.Approve(t.Context(), first.WalletAddress, pending.Parcel.ID, first).Unwrap()
	require.Error(t, err)
	receipt, err := syncer.Approve(t.Context(), second.WalletAddress, pending.Parcel.ID, second).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, parcel.StatusApproved, receipt.Parcel.Status)

	_, err = syncer.Dispute(t.Context(), "0xAsha", other.Parcel.ID).Unwrap()
	require.NoError(t, err)
	p, ok := n.Registry().Get(other.Parcel.ID)
	require.True(t, ok)
	assert.Equal(t, parcel.StatusDisputed, p.Status)

	fresh, err := syncer.Submit(t.Context(), "0xAsha", testutil.LandData("KH-203")).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, other.Parcel.ID+1, fresh.Parcel.ID)
	assert.Equal(t, fresh.Parcel.ID, fresh.Tx.ParcelID)
}

func TestNodeInMemory(t *testing.T) {
	n, errCh := startNode(
		t,
		landregistry.WithBlobPlugin("memory"),
	)
	defer stopNode(t, n, errCh)
	res := n.Syncer().Submit(t.Context(), "0xAsha", testutil.LandData("KH-7"))
	require.NoError(t, res.Err())
	assert.Equal(t, 1, n.Registry().Count())
}

func TestNodeInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		opts []landregistry.ConfigOptionFunc
	}{
		{
			name: "zero threshold",
			opts: []landregistry.ConfigOptionFunc{
				landregistry.WithApprovalThreshold(0),
			},
		},
		{
			name: "unknown ledger mode",
			opts: []landregistry.ConfigOptionFunc{
				landregistry.WithLedgerMode("carrier-pigeon"),
			},
		},
		{
			name: "rest without url",
			opts: []landregistry.ConfigOptionFunc{
				landregistry.WithLedgerMode(landregistry.LedgerModeRest),
			},
		},
		{
			name: "reuse ids",
			opts: []landregistry.ConfigOptionFunc{
				landregistry.WithReuseIDs(true),
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := landregistry.New(landregistry.NewConfig(tc.opts...))
			require.Error(t, err)
		})
	}
	_, err := landregistry.New(landregistry.NewConfig(landregistry.WithReuseIDs(true)))
	require.ErrorIs(t, err, landregistry.ErrReuseIDs)
}

func TestNodeStopIsIdempotent(t *testing.T) {
	n, errCh := startNode(t, landregistry.WithBlobPlugin("memory"))
	stopNode(t, n, errCh)
	require.NoError(t, n.Stop())
}
