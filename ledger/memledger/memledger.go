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

// Package memledger simulates the land registry contract in memory
package memledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/blinklabs-io/landregistry/ledger"
	"github.com/blinklabs-io/landregistry/parcel"
)

// Contract abort codes
const (
	StatusNotCouncil      = "E_NOT_COUNCIL"
	StatusNotOwner        = "E_NOT_OWNER"
	StatusNotPending      = "E_NOT_PENDING"
	StatusAlreadyApproved = "E_ALREADY_APPROVED"
	StatusInvalidInput    = "E_INVALID_INPUT"
)

type fault struct {
	err          error
	remaining    int
	lostResponse bool
}

type result struct {
	ref ledger.TxRef
	err error
}

// Ledger is an in-memory ledger.Client. Requests are deduplicated by
// RequestID so a retried call is applied at most once.
type Ledger struct {
	logger    *slog.Logger
	parcels   map[uint64]*ledger.OnChainParcel
	processed map[string]result
	faults    map[string][]*fault
	calls     map[string]int
	gate      chan struct{}
	council   []parcel.CouncilMember
	nextID    uint64
	version   uint64
	threshold int
	mu        sync.Mutex
}

type LedgerOptionFunc func(*Ledger)

func WithLogger(logger *slog.Logger) LedgerOptionFunc {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithCouncil(members []parcel.CouncilMember) LedgerOptionFunc {
	return func(l *Ledger) {
		l.council = slices.Clone(members)
	}
}

func WithThreshold(threshold int) LedgerOptionFunc {
	return func(l *Ledger) {
		l.threshold = threshold
	}
}

// WithNextID starts id assignment at the given value
func WithNextID(id uint64) LedgerOptionFunc {
	return func(l *Ledger) {
		l.nextID = id
	}
}

// WithParcels preloads parcels already registered on the contract. The
// next assigned id is moved past the highest preloaded one.
func WithParcels(parcels []ledger.OnChainParcel) LedgerOptionFunc {
	return func(l *Ledger) {
		for _, p := range parcels {
			p.Approvers = slices.Clone(p.Approvers)
			if p.Approvers == nil {
				p.Approvers = []string{}
			}
			l.parcels[p.ID] = &p
			l.nextID = max(l.nextID, p.ID+1)
		}
	}
}

func New(opts ...LedgerOptionFunc) *Ledger {
	l := &Ledger{
		parcels:   make(map[uint64]*ledger.OnChainParcel),
		processed: make(map[string]result),
		faults:    make(map[string][]*fault),
		calls:     make(map[string]int),
		nextID:    1,
		threshold: 2,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		// Create logger to throw away logs
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return l
}

// InjectFault makes the next count calls of fn fail with err before they
// reach the contract
func (l *Ledger) InjectFault(fn string, err error, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[fn] = append(l.faults[fn], &fault{err: err, remaining: count})
}

// InjectLostResponse makes the next count calls of fn apply on the contract
// but report ledger.ErrUnavailable to the caller
func (l *Ledger) InjectLostResponse(fn string, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[fn] = append(l.faults[fn], &fault{
		err:          ledger.ErrUnavailable,
		remaining:    count,
		lostResponse: true,
	})
}

// Hold blocks every call until the returned release func is called or the
// call's context ends
func (l *Ledger) Hold() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate := make(chan struct{})
	l.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.gate == gate {
				l.gate = nil
			}
			l.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times fn was invoked, including failed attempts
func (l *Ledger) Calls(fn string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[fn]
}

func (l *Ledger) wait(ctx context.Context) error {
	l.mu.Lock()
	gate := l.gate
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	return nil
}

// takeFault pops the next pending fault for fn. The caller must hold the lock.
func (l *Ledger) takeFault(fn string) *fault {
	queue := l.faults[fn]
	for len(queue) > 0 {
		f := queue[0]
		if f.remaining <= 0 {
			queue = queue[1:]
			continue
		}
		f.remaining--
		l.faults[fn] = queue
		return f
	}
	delete(l.faults, fn)
	return nil
}

func rejected(fn string, status string) error {
	return &ledger.CallError{Function: fn, Err: ledger.ErrRejected, VMStatus: status}
}

// execute runs one state-changing call with dedup and fault handling
func (l *Ledger) execute(
	ctx context.Context,
	fn string,
	call ledger.Call,
	apply func() (uint64, error),
) (ledger.TxRef, error) {
	if err := call.Validate(); err != nil {
		return ledger.TxRef{}, &ledger.CallError{Function: fn, Err: err}
	}
	if err := l.wait(ctx); err != nil {
		return ledger.TxRef{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[fn]++
	if call.RequestID != "" {
		if res, ok := l.processed[call.RequestID]; ok {
			l.logger.Debug(
				"replaying processed request",
				"component", "memledger",
				"function", fn,
				"request_id", call.RequestID,
			)
			return res.ref, res.err
		}
	}
	f := l.takeFault(fn)
	if f != nil && !f.lostResponse {
		return ledger.TxRef{}, &ledger.CallError{Function: fn, Err: f.err}
	}
	id, err := apply()
	var ref ledger.TxRef
	if err == nil {
		l.version++
		ref = ledger.TxRef{
			Hash:     fmt.Sprintf("0x%064x", l.version),
			ParcelID: id,
			Version:  l.version,
		}
	}
	if call.RequestID != "" {
		l.processed[call.RequestID] = result{ref: ref, err: err}
	}
	if f != nil {
		return ledger.TxRef{}, &ledger.CallError{Function: fn, Err: f.err}
	}
	return ref, err
}

func (l *Ledger) councilMember(wallet string) bool {
	for _, m := range l.council {
		if strings.EqualFold(m.WalletAddress, wallet) {
			return true
		}
	}
	return false
}

func (l *Ledger) lookup(fn string, id uint64) (*ledger.OnChainParcel, error) {
	p, ok := l.parcels[id]
	if !ok {
		return nil, &ledger.CallError{
			Function: fn,
			Err:      fmt.Errorf("%w: parcel %d", ledger.ErrNotFound, id),
		}
	}
	return p, nil
}

func (l *Ledger) SubmitLand(
	ctx context.Context,
	call ledger.Call,
	data parcel.LandData,
) (ledger.TxRef, error) {
	return l.execute(ctx, ledger.FuncSubmitLand, call, func() (uint64, error) {
		id := l.nextID
		p, err := parcel.NewParcel(id, data, "")
		if err != nil {
			return 0, rejected(ledger.FuncSubmitLand, StatusInvalidInput)
		}
		owner := p.OwnerWallet
		if owner == "" {
			owner = call.Caller
		}
		l.parcels[id] = &ledger.OnChainParcel{
			ID:           id,
			KhasraNumber: p.KhasraNumber,
			Owner:        owner,
			OwnerName:    p.OwnerName,
			District:     p.District,
			Tehsil:       p.Tehsil,
			Village:      p.Village,
			Area:         p.Area,
			Status:       parcel.StatusPending,
			DocumentCID:  p.DocumentCID,
			Approvers:    []string{},
		}
		l.nextID++
		return id, nil
	})
}

func (l *Ledger) Approve(
	ctx context.Context,
	call ledger.Call,
	id uint64,
) (ledger.TxRef, error) {
	return l.execute(ctx, ledger.FuncApprove, call, func() (uint64, error) {
		if !l.councilMember(call.Caller) {
			return 0, rejected(ledger.FuncApprove, StatusNotCouncil)
		}
		p, err := l.lookup(ledger.FuncApprove, id)
		if err != nil {
			return 0, err
		}
		if p.Status != parcel.StatusPending {
			return 0, rejected(ledger.FuncApprove, StatusNotPending)
		}
		for _, a := range p.Approvers {
			if strings.EqualFold(a, call.Caller) {
				return 0, rejected(ledger.FuncApprove, StatusAlreadyApproved)
			}
		}
		p.Approvers = append(p.Approvers, call.Caller)
		if len(p.Approvers) >= l.threshold {
			p.Status = parcel.StatusApproved
		}
		return id, nil
	})
}

func (l *Ledger) Reject(
	ctx context.Context,
	call ledger.Call,
	id uint64,
) (ledger.TxRef, error) {
	return l.execute(ctx, ledger.FuncReject, call, func() (uint64, error) {
		if !l.councilMember(call.Caller) {
			return 0, rejected(ledger.FuncReject, StatusNotCouncil)
		}
		p, err := l.lookup(ledger.FuncReject, id)
		if err != nil {
			return 0, err
		}
		p.Status = parcel.StatusRejected
		return id, nil
	})
}

// Dispute may be raised by anyone
func (l *Ledger) Dispute(
	ctx context.Context,
	call ledger.Call,
	id uint64,
) (ledger.TxRef, error) {
	return l.execute(ctx, ledger.FuncDispute, call, func() (uint64, error) {
		p, err := l.lookup(ledger.FuncDispute, id)
		if err != nil {
			return 0, err
		}
		p.Status = parcel.StatusDisputed
		return id, nil
	})
}

func (l *Ledger) TransferOwnership(
	ctx context.Context,
	call ledger.Call,
	id uint64,
	newOwner string,
) (ledger.TxRef, error) {
	return l.execute(ctx, ledger.FuncTransferOwnership, call, func() (uint64, error) {
		p, err := l.lookup(ledger.FuncTransferOwnership, id)
		if err != nil {
			return 0, err
		}
		if !strings.EqualFold(p.Owner, call.Caller) {
			return 0, rejected(ledger.FuncTransferOwnership, StatusNotOwner)
		}
		if strings.TrimSpace(newOwner) == "" {
			return 0, rejected(ledger.FuncTransferOwnership, StatusInvalidInput)
		}
		p.Owner = strings.TrimSpace(newOwner)
		return id, nil
	})
}

func (l *Ledger) ViewParcel(ctx context.Context, id uint64) (ledger.OnChainParcel, error) {
	if err := l.wait(ctx); err != nil {
		return ledger.OnChainParcel{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[ledger.FuncGetParcel]++
	p, err := l.lookup(ledger.FuncGetParcel, id)
	if err != nil {
		return ledger.OnChainParcel{}, err
	}
	ret := *p
	ret.Approvers = slices.Clone(p.Approvers)
	return ret, nil
}

func (l *Ledger) ViewNextID(ctx context.Context) (uint64, error) {
	if err := l.wait(ctx); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[ledger.FuncGetNextID]++
	return l.nextID, nil
}

func (l *Ledger) ViewCouncil(ctx context.Context) ([]parcel.CouncilMember, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[ledger.FuncGetCouncil]++
	return slices.Clone(l.council), nil
}
