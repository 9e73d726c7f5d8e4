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

package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/blinklabs-io/landregistry/registry"
)

// DefaultThreshold is the number of distinct council approvals needed to
// approve a parcel
const DefaultThreshold = 2

var (
	ErrDuplicateApproval = errors.New("council member has already approved this parcel")
	ErrParcelClosed      = errors.New("parcel is no longer pending")
	ErrInvalidThreshold  = errors.New("approval threshold must be at least 1")
	ErrNilRepository     = errors.New("approval: repository is required")
)

// Repository is the part of the parcel registry the engine needs
type Repository interface {
	Get(id uint64) (parcel.Parcel, bool)
	Mutate(ctx context.Context, id uint64, fn func(*parcel.Parcel) error) (parcel.Parcel, error)
}

type Config struct {
	Repo       Repository
	Signatures SignatureSource
	Logger     *slog.Logger
	Clock      func() time.Time
	// Threshold defaults to DefaultThreshold when zero
	Threshold int
}

// Engine applies council decisions to parcels
type Engine struct {
	config Config
	logger *slog.Logger
	locks  *ParcelLocks
}

func New(cfg Config) (*Engine, error) {
	if cfg.Repo == nil {
		return nil, ErrNilRepository
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidThreshold, cfg.Threshold)
	}
	if cfg.Signatures == nil {
		cfg.Signatures = RandomSignatures{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	e := &Engine{
		config: cfg,
		logger: cfg.Logger,
		locks:  NewParcelLocks(),
	}
	if e.logger == nil {
		// Create logger to throw away logs
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return e, nil
}

// Threshold returns the configured approval threshold
func (e *Engine) Threshold() int {
	return e.config.Threshold
}

// CheckApprove reports whether member could approve the parcel right now
func (e *Engine) CheckApprove(id uint64, member parcel.CouncilMember) error {
	p, ok := e.config.Repo.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", registry.ErrParcelNotFound, id)
	}
	return checkApprove(p, member)
}

func checkApprove(p parcel.Parcel, member parcel.CouncilMember) error {
	if err := member.Validate(); err != nil {
		return err
	}
	if p.Status != parcel.StatusPending {
		return fmt.Errorf("%w: parcel %d is %s", ErrParcelClosed, p.ID, p.Status)
	}
	for _, a := range p.Approvals {
		if a.SameMember(member) {
			return fmt.Errorf(
				"%w: %s on parcel %d",
				ErrDuplicateApproval,
				member.Name,
				p.ID,
			)
		}
	}
	return nil
}

// Approve records member's approval. The parcel becomes approved once it
// holds Threshold approvals.
func (e *Engine) Approve(
	ctx context.Context,
	id uint64,
	member parcel.CouncilMember,
) (parcel.Parcel, error) {
	unlock := e.locks.Lock(id)
	defer unlock()
	p, err := e.config.Repo.Mutate(ctx, id, func(p *parcel.Parcel) error {
		if err := checkApprove(*p, member); err != nil {
			return err
		}
		p.Approvals = append(
			p.Approvals,
			parcel.NewApproval(
				member,
				parcel.NewDate(e.config.Clock()),
				e.config.Signatures.NewSignature(),
			),
		)
		if len(p.Approvals) >= e.config.Threshold {
			p.Status = parcel.StatusApproved
		}
		return nil
	})
	if err != nil {
		return parcel.Parcel{}, err
	}
	e.logger.Info(
		"parcel approval recorded",
		"component", "approval",
		"id", id,
		"member", member.Name,
		"approvals", len(p.Approvals),
		"status", p.Status,
	)
	return p, nil
}

// Reject marks the parcel rejected regardless of its approvals
func (e *Engine) Reject(ctx context.Context, id uint64) (parcel.Parcel, error) {
	return e.setStatus(ctx, id, parcel.StatusRejected)
}

// Dispute marks the parcel disputed from any status
func (e *Engine) Dispute(ctx context.Context, id uint64) (parcel.Parcel, error) {
	return e.setStatus(ctx, id, parcel.StatusDisputed)
}

func (e *Engine) setStatus(
	ctx context.Context,
	id uint64,
	status parcel.Status,
) (parcel.Parcel, error) {
	unlock := e.locks.Lock(id)
	defer unlock()
	var prev parcel.Status
	p, err := e.config.Repo.Mutate(ctx, id, func(p *parcel.Parcel) error {
		prev = p.Status
		p.Status = status
		return nil
	})
	if err != nil {
		return parcel.Parcel{}, err
	}
	e.logger.Info(
		"parcel status changed",
		"component", "approval",
		"id", id,
		"from", prev,
		"to", status,
	)
	return p, nil
}
