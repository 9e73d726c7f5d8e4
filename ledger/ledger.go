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

// Package ledger defines the boundary to the on-chain land registry
// contract. Implementations perform the calls; callers decide how local
// state follows.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blinklabs-io/landregistry/parcel"
)

const (
	DefaultModuleAddress = "0x5238fbcf073759f549491d62b4a8fe35207189073e5f0eb492d6e86df77dcfac"
	DefaultModuleName    = "land_registry"
)

// Entry and view function names exposed by the contract module
const (
	FuncSubmitLand        = "submit_land"
	FuncApprove           = "approve"
	FuncReject            = "reject"
	FuncDispute           = "dispute"
	FuncTransferOwnership = "transfer_ownership"
	FuncGetParcel         = "get_parcel"
	FuncGetNextID         = "get_next_id"
	FuncGetCouncil        = "get_council"
)

var (
	// ErrRejected is a permanent failure: the contract refused the call
	ErrRejected = errors.New("ledger rejected the call")
	// ErrUnavailable is a transient failure: the call may not have been
	// processed and can be retried with the same request id
	ErrUnavailable   = errors.New("ledger unavailable")
	ErrMissingCaller = errors.New("caller wallet address is required")
	ErrNotFound      = errors.New("not found on ledger")
)

// Module identifies the deployed contract module
type Module struct {
	Address string
	Name    string
}

// DefaultModule returns the module the registry was originally deployed as
func DefaultModule() Module {
	return Module{Address: DefaultModuleAddress, Name: DefaultModuleName}
}

// Function returns the fully qualified function id, <address>::<module>::<fn>
func (m Module) Function(name string) string {
	return fmt.Sprintf("%s::%s::%s", m.Address, m.Name, name)
}

func (m Module) String() string {
	return m.Address + "::" + m.Name
}

// Call carries the caller identity and idempotency token of one intent.
// Every attempt of a retried intent uses the same RequestID.
type Call struct {
	Caller    string
	RequestID string
}

// Validate rejects calls that must not be dispatched
func (c Call) Validate() error {
	if strings.TrimSpace(c.Caller) == "" {
		return ErrMissingCaller
	}
	return nil
}

// TxRef identifies a committed ledger transaction
type TxRef struct {
	Hash string `json:"hash"`
	// ParcelID is the id the ledger assigned or acted on
	ParcelID uint64 `json:"parcelId"`
	// Version is the ledger version the transaction committed at, if known
	Version uint64 `json:"version,omitempty"`
}

// OnChainParcel is the contract's view of a parcel
type OnChainParcel struct {
	ID           uint64        `json:"id"`
	KhasraNumber string        `json:"khasraNumber"`
	Owner        string        `json:"owner"`
	OwnerName    string        `json:"ownerName"`
	District     string        `json:"district"`
	Tehsil       string        `json:"tehsil"`
	Village      string        `json:"village"`
	Area         float64       `json:"area"`
	Status       parcel.Status `json:"status"`
	DocumentCID  string        `json:"documentCID,omitempty"`
	Approvers    []string      `json:"approvers"`
}

// FromParcel builds the contract's view of a locally stored parcel.
// Approvers are the wallets of the recorded approvals.
func FromParcel(p parcel.Parcel) OnChainParcel {
	approvers := make([]string, 0, len(p.Approvals))
	for _, a := range p.Approvals {
		wallet := a.CouncilMemberWallet
		if wallet == "" {
			wallet = a.CouncilMemberName
		}
		approvers = append(approvers, wallet)
	}
	return OnChainParcel{
		ID:           p.ID,
		KhasraNumber: p.KhasraNumber,
		Owner:        p.OwnerWallet,
		OwnerName:    p.OwnerName,
		District:     p.District,
		Tehsil:       p.Tehsil,
		Village:      p.Village,
		Area:         p.Area,
		Status:       p.Status,
		DocumentCID:  p.DocumentCID,
		Approvers:    approvers,
	}
}

// Client performs calls against the contract. State-changing calls return
// errors wrapping ErrRejected or ErrUnavailable.
type Client interface {
	SubmitLand(ctx context.Context, call Call, data parcel.LandData) (TxRef, error)
	Approve(ctx context.Context, call Call, id uint64) (TxRef, error)
	Reject(ctx context.Context, call Call, id uint64) (TxRef, error)
	Dispute(ctx context.Context, call Call, id uint64) (TxRef, error)
	TransferOwnership(ctx context.Context, call Call, id uint64, newOwner string) (TxRef, error)
	ViewParcel(ctx context.Context, id uint64) (OnChainParcel, error)
	ViewNextID(ctx context.Context) (uint64, error)
	ViewCouncil(ctx context.Context) ([]parcel.CouncilMember, error)
}

// CallError describes a failed contract call
type CallError struct {
	Err      error
	Function string
	// VMStatus is the contract's abort reason when the ledger reported one
	VMStatus string
}

func (e *CallError) Error() string {
	if e.VMStatus != "" {
		return fmt.Sprintf("%s: %s: %s", e.Function, e.Err, e.VMStatus)
	}
	return fmt.Sprintf("%s: %s", e.Function, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a failed call may be attempted again
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrMissingCaller) || errors.Is(err, ErrNotFound) {
		return false
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
