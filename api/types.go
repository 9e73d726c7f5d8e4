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
	"github.com/blinklabs-io/landregistry/ledger"
	"github.com/blinklabs-io/landregistry/parcel"
)

type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// ReceiptResponse is returned by every state-changing endpoint
type ReceiptResponse struct {
	Parcel parcel.Parcel `json:"parcel"`
	Tx     ledger.TxRef  `json:"tx"`
}

type TransferRequest struct {
	NewOwnerWallet string `json:"newOwnerWallet"`
	NewOwnerName   string `json:"newOwnerName,omitempty"`
}

type StatsResponse struct {
	ByStatus map[parcel.Status]int `json:"byStatus"`
	Total    int                   `json:"total"`
	NextID   uint64                `json:"nextId"`
}
