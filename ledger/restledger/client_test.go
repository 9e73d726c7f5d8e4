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

package restledger_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/landregistry/ledger"
	"github.com/blinklabs-io/landregistry/ledger/restledger"
	"github.com/blinklabs-io/landregistry/parcel"
)

type recordedRequest struct {
	Body           map[string]any
	Path           string
	IdempotencyKey string
	Authorization  string
}

type fakeNode struct {
	handler  func(w http.ResponseWriter, r *http.Request, body map[string]any)
	requests []recordedRequest
	mu       sync.Mutex
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Body:           body,
		Path:           r.URL.Path,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Authorization:  r.Header.Get("Authorization"),
	})
	f.mu.Unlock()
	f.handler(w, r, body)
}

func (f *fakeNode) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newClient(t *testing.T, node *fakeNode, opts ...restledger.ClientOptionFunc) *restledger.Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	opts = append(
		[]restledger.ClientOptionFunc{
			restledger.WithBaseURL(srv.URL + "/"),
			restledger.WithModule(ledger.Module{Address: "0xabc", Name: "land_registry"}),
		},
		opts...,
	)
	c, err := restledger.New(opts...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := restledger.New()
	require.Error(t, err)
	_, err = restledger.New(restledger.WithBaseURL("not a url"))
	require.Error(t, err)
	_, err = restledger.New(
		restledger.WithBaseURL("http://localhost:8080"),
		restledger.WithModule(ledger.Module{}),
	)
	require.Error(t, err)
}

func TestSubmitLand(t *testing.T) {
	node := &fakeNode{
		handler: func(w http.ResponseWriter, r *http.Request, body map[string]any) {
			writeJSON(w, http.StatusOK, map[string]any{
				"hash":      "0xfeed",
				"version":   "42",
				"success":   true,
				"vm_status": "Executed successfully",
				"events": []map[string]any{
					{
						"type": "0xabc::land_registry::ParcelSubmitted",
						"data": map[string]any{"parcel_id": "7"},
					},
				},
			})
		},
	}
	c := newClient(t, node, restledger.WithAPIKey("secret"))
	ref, err := c.SubmitLand(
		t.Context(),
		ledger.Call{Caller: "0xowner", RequestID: "req-1"},
		parcel.LandData{
			KhasraNumber: "KH-1",
			OwnerName:    "Asha",
			OwnerWallet:  "0xowner",
			District:     "Raipur",
			Tehsil:       "Arang",
			Village:      "Mandir Hasaud",
			Area:         1500,
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", ref.Hash)
	assert.Equal(t, uint64(7), ref.ParcelID)
	assert.Equal(t, uint64(42), ref.Version)

	req := node.last()
	assert.Equal(t, "/v1/transactions", req.Path)
	assert.Equal(t, "req-1", req.IdempotencyKey)
	assert.Equal(t, "Bearer secret", req.Authorization)
	assert.Equal(t, "0xowner", req.Body["sender"])
	payload, ok := req.Body["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0xabc::land_registry::submit_land", payload["function"])
	args, ok := payload["arguments"].([]any)
	require.True(t, ok)
	require.Len(t, args, 8)
	assert.Equal(t, "KH-1", args[0])
	assert.Equal(t, "1500", args[6])
}

func TestApproveUsesParcelID(t *testing.T) {
	node := &fakeNode{
		handler: func(w http.ResponseWriter, r *http.Request, body map[string]any) {
			writeJSON(w, http.StatusOK, map[string]any{
				"hash":    "0x01",
				"version": "3",
				"success": true,
			})
		},
	}
	c := newClient(t, node)
	ref, err := c.Approve(t.Context(), ledger.Call{Caller: "0xc1", RequestID: "r"}, 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), ref.ParcelID)
	payload := node.last().Body["payload"].(map[string]any)
	assert.Equal(t, "0xabc::land_registry::approve", payload["function"])
	assert.Equal(t, []any{"12"}, payload["arguments"])
}

func TestMissingCallerIsNotSent(t *testing.T) {
	node := &fakeNode{
		handler: func(w http.ResponseWriter, r *http.Request, body map[string]any) {
			t.Error("request should not be sent")
		},
	}
	c := newClient(t, node)
	_, err := c.Dispute(t.Context(), ledger.Call{}, 1)
	require.ErrorIs(t, err, ledger.ErrMissingCaller)
	assert.False(t, ledger.IsRetryable(err))
}

func TestErrorMapping(t *testing.T) {
	testDefs := []struct {
		name      string
		status    int
		body      any
		want      error
		retryable bool
		vmStatus  string
	}{
		{
			name:     "abort",
			status:   http.StatusBadRequest,
			body:     map[string]any{"message": "Move abort", "error_code": "E_NOT_COUNCIL"},
			want:     ledger.ErrRejected,
			vmStatus: "E_NOT_COUNCIL",
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   map[string]any{"message": "no such parcel"},
			want:   ledger.ErrNotFound,
		},
		{
			name:      "server error",
			status:    http.StatusServiceUnavailable,
			body:      map[string]any{"message": "overloaded"},
			want:      ledger.ErrUnavailable,
			retryable: true,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      map[string]any{},
			want:      ledger.ErrUnavailable,
			retryable: true,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			node := &fakeNode{
				handler: func(w http.ResponseWriter, r *http.Request, body map[string]any) {
					writeJSON(w, testDef.status, testDef.body)
				},
			}
			c := newClient(t, node)
			_, err := c.Reject(t.Context(), ledger.Call{Caller: "0xc1", RequestID: "r"}, 1)
			require.ErrorIs(t, err, testDef.want)
			assert.Equal(t, testDef.retryable, ledger.IsRetryable(err))
			var callErr *ledger.CallError
			require.True(t, errors.As(err, &callErr))
			assert.Equal(t, ledger.FuncReject, callErr.Function)
			if testDef.vmStatus != "" {
				assert.Equal(t, testDef.vmStatus, callErr.VMStatus)
			}
		})
	}
}

func TestUnsuccessfulTransactionIsRejected(t *testing.T) {
	node := &fakeNode{
		handler: func(w http.ResponseWriter, r *http.Request, body map[string]any) {
			writeJSON(w, http.StatusOK, map[string]any{
				"hash":      "0x02",
				"success":   false,
				"vm_status": "Move abort: E_NOT_OWNER",
			})
		},
	}
	c := newClient(t, node)
	_, err := c.TransferOwnership(
		t.Context(),
		ledger.Call{Caller: "0xother", RequestID: "r"},
		1,
		"0xnew",
	)
	require.ErrorIs(t, err, ledger.ErrRejected)
	assert.Contains(t, err.Error(), "E_NOT_OWNER")
}

func TestUnreachableNodeIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := restledger.New(restledger.WithBaseURL(url))
	require.NoError(t, err)
	_, err = c.Approve(t.Context(), ledger.Call{Caller: "0xc1", RequestID: "r"}, 1)
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.True(t, ledger.IsRetryable(err))
}

func TestViews(t *testing.T) {
	node := &fakeNode{
		handler: func(w http.ResponseWriter, r *http.Request, body map[string]any) {
			switch body["function"] {
			case "0xabc::land_registry::get_parcel":
				writeJSON(w, http.StatusOK, []any{
					map[string]any{
						"id":            "4",
						"khasra_number": "KH-4",
						"owner":         "0xowner",
						"owner_name":    "Asha",
						"district":      "Raipur",
						"area":          "2500",
						"status":        "Approved",
						"approvals":     []string{"0xc1", "0xc2"},
					},
				})
			case "0xabc::land_registry::get_next_id":
				writeJSON(w, http.StatusOK, []any{"9"})
			case "0xabc::land_registry::get_council":
				writeJSON(w, http.StatusOK, []any{
					[]map[string]any{
						{"name": "Ramkumar Sahu", "role": "Sarpanch", "wallet_address": "0xc1"},
					},
				})
			default:
				writeJSON(w, http.StatusBadRequest, map[string]any{"message": "unknown function"})
			}
		},
	}
	c := newClient(t, node)

	p, err := c.ViewParcel(t.Context(), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), p.ID)
	assert.Equal(t, parcel.StatusApproved, p.Status)
	assert.InDelta(t, 2500.0, p.Area, 0.001)
	assert.Equal(t, []string{"0xc1", "0xc2"}, p.Approvers)
	assert.Equal(t, "/v1/view", node.last().Path)
	assert.Empty(t, node.last().IdempotencyKey)

	next, err := c.ViewNextID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), next)

	council, err := c.ViewCouncil(t.Context())
	require.NoError(t, err)
	require.Len(t, council, 1)
	assert.Equal(t, "0xc1", council[0].WalletAddress)
	assert.Equal(t, "Sarpanch", council[0].Role)
}
