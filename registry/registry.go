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
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/landregistry/database/types"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ParcelsKey = "parcels"
	CouncilKey = "council"
	NextIDKey  = "parcels_next_id"
)

var (
	ErrParcelNotFound = errors.New("parcel not found")
	ErrParcelExists   = errors.New("parcel id already in use")
	ErrNilStore       = errors.New("registry: store is required")
)

// Store persists serialized collections under fixed keys. Load returns an
// error wrapping types.ErrBlobKeyNotFound when nothing is stored.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, val []byte) error
}

type Config struct {
	Store        Store
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// Clock supplies the current time for created dates
	Clock func() time.Time
	// ReuseIDs assigns 1 + max(existing ids) instead of a persisted
	// high-water mark, so deleting the newest parcel frees its id
	ReuseIDs bool
}

// ParcelUpdate holds the fields to merge into a parcel. Nil fields are left
// unchanged. Status and approvals are owned by the approval engine.
type ParcelUpdate struct {
	KhasraNumber *string
	OwnerName    *string
	OwnerWallet  *string
	District     *string
	Tehsil       *string
	Village      *string
	DocumentCID  *string
	Notes        *string
	Area         *float64
}

// Registry is the authoritative in-memory parcel collection. Every mutation
// is persisted before it becomes visible.
type Registry struct {
	config  Config
	logger  *slog.Logger
	metrics registryMetrics
	parcels []parcel.Parcel
	index   map[uint64]int
	nextID  uint64
	mu      sync.RWMutex
}

// New creates a registry and loads any stored parcels
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	r := &Registry{
		config: cfg,
		logger: cfg.Logger,
		index:  make(map[uint64]int),
		nextID: 1,
	}
	if r.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if r.config.Clock == nil {
		r.config.Clock = time.Now
	}
	r.metrics.init(cfg.PromRegistry)
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	r.updateMetrics()
	return r, nil
}

func (r *Registry) load(ctx context.Context) error {
	data, err := r.config.Store.Load(ctx, ParcelsKey)
	if err != nil && !errors.Is(err, types.ErrBlobKeyNotFound) {
		return fmt.Errorf("load parcels: %w", err)
	}
	var parcels []parcel.Parcel
	if len(data) > 0 {
		if err := json.Unmarshal(data, &parcels); err != nil {
			return fmt.Errorf("decode parcels: %w", err)
		}
	}
	index := make(map[uint64]int, len(parcels))
	var maxID uint64
	for i, p := range parcels {
		if _, ok := index[p.ID]; ok {
			return fmt.Errorf("decode parcels: duplicate id %d", p.ID)
		}
		index[p.ID] = i
		maxID = max(maxID, p.ID)
	}
	nextID := maxID + 1
	if !r.config.ReuseIDs {
		stored, err := r.loadNextID(ctx)
		if err != nil {
			return err
		}
		nextID = max(nextID, stored)
	}
	r.parcels = parcels
	r.index = index
	r.nextID = nextID
	r.logger.Debug(
		fmt.Sprintf("loaded %d parcels", len(parcels)),
		"component", "registry",
		"next_id", nextID,
	)
	return nil
}

func (r *Registry) loadNextID(ctx context.Context) (uint64, error) {
	data, err := r.config.Store.Load(ctx, NextIDKey)
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load next id: %w", err)
	}
	ret, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode next id: %w", err)
	}
	return ret, nil
}

// commit persists the given collection and then makes it visible. The
// caller must hold the write lock.
func (r *Registry) commit(ctx context.Context, parcels []parcel.Parcel) error {
	data, err := json.Marshal(parcels)
	if err != nil {
		return fmt.Errorf("encode parcels: %w", err)
	}
	if err := r.config.Store.Save(ctx, ParcelsKey, data); err != nil {
		r.metrics.persistErrors.Inc()
		return fmt.Errorf("persist parcels: %w", err)
	}
	index := make(map[uint64]int, len(parcels))
	for i, p := range parcels {
		index[p.ID] = i
	}
	r.parcels = parcels
	r.index = index
	r.updateMetrics()
	return nil
}

// Add registers a new pending parcel and returns its id
func (r *Registry) Add(ctx context.Context, data parcel.LandData) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	if r.config.ReuseIDs {
		id = 1
		for _, p := range r.parcels {
			id = max(id, p.ID+1)
		}
	}
	if err := r.insert(ctx, id, data); err != nil {
		return 0, err
	}
	return id, nil
}

// Insert registers a new pending parcel under an id assigned elsewhere, such
// as by the ledger. It fails with ErrParcelExists when the id is taken.
func (r *Registry) Insert(ctx context.Context, id uint64, data parcel.LandData) error {
	if id == 0 {
		return fmt.Errorf("%w: id must be non-zero", parcel.ErrInvalidParcel)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[id]; ok {
		return fmt.Errorf("%w: %d", ErrParcelExists, id)
	}
	return r.insert(ctx, id, data)
}

// insert adds a parcel under id. The caller must hold the write lock.
func (r *Registry) insert(ctx context.Context, id uint64, data parcel.LandData) error {
	p, err := parcel.NewParcel(id, data, parcel.NewDate(r.config.Clock()))
	if err != nil {
		return err
	}
	if !r.config.ReuseIDs && id >= r.nextID {
		// The high-water mark is saved first so a crash never hands out an id twice
		if err := r.config.Store.Save(
			ctx,
			NextIDKey,
			[]byte(strconv.FormatUint(id+1, 10)),
		); err != nil {
			r.metrics.persistErrors.Inc()
			return fmt.Errorf("persist next id: %w", err)
		}
	}
	prevNextID := r.nextID
	r.nextID = max(r.nextID, id+1)
	parcels := slices.Clone(r.parcels)
	parcels = append(parcels, p)
	if err := r.commit(ctx, parcels); err != nil {
		r.nextID = prevNextID
		return err
	}
	r.logger.Info(
		"registered parcel",
		"component", "registry",
		"id", id,
		"khasra_number", p.KhasraNumber,
		"district", p.District,
	)
	return nil
}

// Update merges the non-nil fields of upd into the parcel
func (r *Registry) Update(ctx context.Context, id uint64, upd ParcelUpdate) error {
	_, err := r.Mutate(ctx, id, func(p *parcel.Parcel) error {
		upd.apply(p)
		return nil
	})
	return err
}

func (u ParcelUpdate) apply(p *parcel.Parcel) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&p.KhasraNumber, u.KhasraNumber)
	setString(&p.OwnerName, u.OwnerName)
	setString(&p.OwnerWallet, u.OwnerWallet)
	setString(&p.District, u.District)
	setString(&p.Tehsil, u.Tehsil)
	setString(&p.Village, u.Village)
	setString(&p.DocumentCID, u.DocumentCID)
	if u.Notes != nil {
		p.Notes = *u.Notes
	}
	if u.Area != nil {
		p.Area = *u.Area
	}
}

// Mutate applies fn to a copy of the parcel and persists the result. The id
// and created date cannot be changed. If fn or the save fails, the stored
// parcel is left untouched.
func (r *Registry) Mutate(
	ctx context.Context,
	id uint64,
	fn func(*parcel.Parcel) error,
) (parcel.Parcel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.index[id]
	if !ok {
		return parcel.Parcel{}, fmt.Errorf("%w: %d", ErrParcelNotFound, id)
	}
	orig := r.parcels[idx]
	updated := orig.Clone()
	if err := fn(&updated); err != nil {
		return parcel.Parcel{}, err
	}
	updated.ID = orig.ID
	updated.CreatedDate = orig.CreatedDate
	if err := updated.Validate(); err != nil {
		return parcel.Parcel{}, err
	}
	parcels := slices.Clone(r.parcels)
	parcels[idx] = updated
	if err := r.commit(ctx, parcels); err != nil {
		return parcel.Parcel{}, err
	}
	return updated.Clone(), nil
}

// Delete removes a parcel unconditionally
func (r *Registry) Delete(ctx context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrParcelNotFound, id)
	}
	parcels := slices.Delete(slices.Clone(r.parcels), idx, idx+1)
	if err := r.commit(ctx, parcels); err != nil {
		return err
	}
	r.logger.Info(
		"deleted parcel",
		"component", "registry",
		"id", id,
	)
	return nil
}

// Get returns a copy of the parcel with the given id
func (r *Registry) Get(id uint64) (parcel.Parcel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.index[id]
	if !ok {
		return parcel.Parcel{}, false
	}
	return r.parcels[idx].Clone(), true
}

// List returns copies of all parcels in insertion order
func (r *Registry) List() []parcel.Parcel {
	return r.Search(SearchFilters{})
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parcels)
}

// CountByStatus returns the number of parcels in each status. Every known
// status is present in the result.
func (r *Registry) CountByStatus() map[parcel.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countByStatus()
}

func (r *Registry) countByStatus() map[parcel.Status]int {
	ret := make(map[parcel.Status]int, len(parcel.Statuses))
	for _, s := range parcel.Statuses {
		ret[s] = 0
	}
	for _, p := range r.parcels {
		ret[p.Status]++
	}
	return ret
}

// NextID returns the id the next Add will assign
func (r *Registry) NextID() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.config.ReuseIDs {
		return r.nextID
	}
	var id uint64 = 1
	for _, p := range r.parcels {
		id = max(id, p.ID+1)
	}
	return id
}

// ByOwnerWallet returns the parcels owned by a wallet, compared case-insensitively
func (r *Registry) ByOwnerWallet(wallet string) []parcel.Parcel {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return []parcel.Parcel{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := []parcel.Parcel{}
	for _, p := range r.parcels {
		if strings.EqualFold(p.OwnerWallet, wallet) {
			ret = append(ret, p.Clone())
		}
	}
	return ret
}
