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

// Package ledgersync keeps the local registry in step with the on-chain
// contract. Every state change is sent to the ledger first and applied
// locally only once the ledger has accepted it.
package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/landregistry/approval"
	"github.com/blinklabs-io/landregistry/event"
	"github.com/blinklabs-io/landregistry/ledger"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/blinklabs-io/landregistry/registry"
)

const (
	DefaultMaxRetries      = 5
	DefaultInitialInterval = 250 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultAttemptTimeout  = 15 * time.Second

	tracerName = "github.com/blinklabs-io/landregistry/ledgersync"
)

var (
	ErrNilLedger   = errors.New("ledgersync: ledger client is required")
	ErrNilRegistry = errors.New("ledgersync: registry is required")
	ErrNilEngine   = errors.New("ledgersync: approval engine is required")
	// ErrLocalApply means the ledger accepted a change that could not be
	// applied to the local registry
	ErrLocalApply   = errors.New("ledger change committed but local apply failed")
	ErrMissingOwner = errors.New("new owner wallet address is required")
	ErrClosed       = errors.New("ledgersync: syncer is closed")
)

// Repository is the part of the parcel registry the syncer changes directly
type Repository interface {
	Add(ctx context.Context, data parcel.LandData) (uint64, error)
	Insert(ctx context.Context, id uint64, data parcel.LandData) error
	Get(id uint64) (parcel.Parcel, bool)
	Mutate(ctx context.Context, id uint64, fn func(*parcel.Parcel) error) (parcel.Parcel, error)
}

// Decider applies council decisions locally
type Decider interface {
	CheckApprove(id uint64, member parcel.CouncilMember) error
	Approve(ctx context.Context, id uint64, member parcel.CouncilMember) (parcel.Parcel, error)
	Reject(ctx context.Context, id uint64) (parcel.Parcel, error)
	Dispute(ctx context.Context, id uint64) (parcel.Parcel, error)
}

// CouncilStore persists the council roster
type CouncilStore interface {
	Save(ctx context.Context, members []parcel.CouncilMember) error
}

type Config struct {
	Ledger         ledger.Client
	Registry       Repository
	Engine         Decider
	Council        CouncilStore
	EventBus       *event.EventBus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	TracerProvider trace.TracerProvider
	Clock          func() time.Time
	// MaxRetries bounds the retries after the first attempt. Negative
	// disables retries.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
}

// Receipt is the result of a committed state change
type Receipt struct {
	Parcel parcel.Parcel `json:"parcel"`
	Tx     ledger.TxRef  `json:"tx"`
}

// Syncer runs intents against the ledger and mirrors accepted ones locally
type Syncer struct {
	config   Config
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *syncMetrics
	locks    *approval.ParcelLocks
	// submitMu orders submissions so ledger ids reach the registry in
	// the order the ledger assigned them
	submitMu sync.Mutex
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

func New(cfg Config) (*Syncer, error) {
	if cfg.Ledger == nil {
		return nil, ErrNilLedger
	}
	if cfg.Registry == nil {
		return nil, ErrNilRegistry
	}
	if cfg.Engine == nil {
		return nil, ErrNilEngine
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	s := &Syncer{
		config:  cfg,
		logger:  cfg.Logger,
		tracer:  cfg.TracerProvider.Tracer(tracerName),
		metrics: newSyncMetrics(cfg.PromRegistry),
		locks:   approval.NewParcelLocks(),
	}
	if s.logger == nil {
		// Create logger to throw away logs
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return s, nil
}

// intent describes one state change. parcelID is zero for submissions,
// which have no parcel to lock until the ledger accepts them.
type intent struct {
	call      func(ctx context.Context, c ledger.Call) (ledger.TxRef, error)
	preflight func() error
	apply     func(ctx context.Context, ref ledger.TxRef) (parcel.Parcel, error)
	op        string
	caller    string
	eventType event.EventType
	parcelID  uint64
}

// Submit registers land on the ledger and then in the local registry. The
// parcel is stored under the id the ledger assigned; the local registry
// only picks one when the ledger does not report it.
func (s *Syncer) Submit(
	ctx context.Context,
	caller string,
	data parcel.LandData,
) Result[Receipt] {
	return s.execute(ctx, intent{
		op:        ledger.FuncSubmitLand,
		caller:    caller,
		eventType: event.ParcelSubmittedEventType,
		preflight: func() error {
			_, err := parcel.NewParcel(0, data, parcel.NewDate(s.config.Clock()))
			return err
		},
		call: func(ctx context.Context, c ledger.Call) (ledger.TxRef, error) {
			return s.config.Ledger.SubmitLand(ctx, c, data)
		},
		apply: func(ctx context.Context, ref ledger.TxRef) (parcel.Parcel, error) {
			id := ref.ParcelID
			if id != 0 {
				if err := s.config.Registry.Insert(ctx, id, data); err != nil {
					return parcel.Parcel{}, fmt.Errorf("parcel %d: %w", id, err)
				}
			} else {
				var err error
				if id, err = s.config.Registry.Add(ctx, data); err != nil {
					return parcel.Parcel{}, err
				}
			}
			p, _ := s.config.Registry.Get(id)
			return p, nil
		},
	})
}

// Approve records member's approval on the ledger, then locally
func (s *Syncer) Approve(
	ctx context.Context,
	caller string,
	id uint64,
	member parcel.CouncilMember,
) Result[Receipt] {
	return s.execute(ctx, intent{
		op:        ledger.FuncApprove,
		caller:    caller,
		parcelID:  id,
		eventType: event.ParcelApprovedEventType,
		preflight: func() error {
			return s.config.Engine.CheckApprove(id, member)
		},
		call: func(ctx context.Context, c ledger.Call) (ledger.TxRef, error) {
			return s.config.Ledger.Approve(ctx, c, id)
		},
		apply: func(ctx context.Context, _ ledger.TxRef) (parcel.Parcel, error) {
			return s.config.Engine.Approve(ctx, id, member)
		},
	})
}

func (s *Syncer) Reject(ctx context.Context, caller string, id uint64) Result[Receipt] {
	return s.execute(ctx, intent{
		op:        ledger.FuncReject,
		caller:    caller,
		parcelID:  id,
		eventType: event.ParcelRejectedEventType,
		preflight: s.requireParcel(id),
		call: func(ctx context.Context, c ledger.Call) (ledger.TxRef, error) {
			return s.config.Ledger.Reject(ctx, c, id)
		},
		apply: func(ctx context.Context, _ ledger.TxRef) (parcel.Parcel, error) {
			return s.config.Engine.Reject(ctx, id)
		},
	})
}

func (s *Syncer) Dispute(ctx context.Context, caller string, id uint64) Result[Receipt] {
	return s.execute(ctx, intent{
		op:        ledger.FuncDispute,
		caller:    caller,
		parcelID:  id,
		eventType: event.ParcelDisputedEventType,
		preflight: s.requireParcel(id),
		call: func(ctx context.Context, c ledger.Call) (ledger.TxRef, error) {
			return s.config.Ledger.Dispute(ctx, c, id)
		},
		apply: func(ctx context.Context, _ ledger.TxRef) (parcel.Parcel, error) {
			return s.config.Engine.Dispute(ctx, id)
		},
	})
}

// TransferOwnership moves the parcel to a new wallet. The owner name is
// updated too when newOwnerName is not empty.
func (s *Syncer) TransferOwnership(
	ctx context.Context,
	caller string,
	id uint64,
	newOwnerWallet string,
	newOwnerName string,
) Result[Receipt] {
	newOwnerWallet = strings.TrimSpace(newOwnerWallet)
	newOwnerName = strings.TrimSpace(newOwnerName)
	return s.execute(ctx, intent{
		op:        ledger.FuncTransferOwnership,
		caller:    caller,
		parcelID:  id,
		eventType: event.ParcelTransferredEventType,
		preflight: func() error {
			if newOwnerWallet == "" {
				return ErrMissingOwner
			}
			return s.requireParcel(id)()
		},
		call: func(ctx context.Context, c ledger.Call) (ledger.TxRef, error) {
			return s.config.Ledger.TransferOwnership(ctx, c, id, newOwnerWallet)
		},
		apply: func(ctx context.Context, _ ledger.TxRef) (parcel.Parcel, error) {
			return s.config.Registry.Mutate(ctx, id, func(p *parcel.Parcel) error {
				p.OwnerWallet = newOwnerWallet
				if newOwnerName != "" {
					p.OwnerName = newOwnerName
				}
				return nil
			})
		},
	})
}

func (s *Syncer) requireParcel(id uint64) func() error {
	return func() error {
		if _, ok := s.config.Registry.Get(id); !ok {
			return fmt.Errorf("%w: %d", registry.ErrParcelNotFound, id)
		}
		return nil
	}
}

// execute runs the two-phase commit for one intent. The ledger call and the
// local apply run detached from ctx: if the caller stops waiting, a ledger
// success is still applied locally.
func (s *Syncer) execute(ctx context.Context, in intent) Result[Receipt] {
	ctx, span := s.tracer.Start(
		ctx,
		"ledgersync."+in.op,
		trace.WithAttributes(
			attribute.String("ledger.function", in.op),
			attribute.Int64("parcel.id", int64(in.parcelID)),
		),
	)
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return s.fail(span, in, outcomeRejected, ErrClosed)
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	call := ledger.Call{
		Caller:    strings.TrimSpace(in.caller),
		RequestID: uuid.NewString(),
	}
	if err := call.Validate(); err != nil {
		s.wg.Done()
		return s.fail(span, in, outcomeRejected, err)
	}
	var unlock func()
	if in.parcelID != 0 {
		unlock = s.locks.Lock(in.parcelID)
	} else {
		s.submitMu.Lock()
		unlock = s.submitMu.Unlock
	}
	if err := in.preflight(); err != nil {
		unlock()
		s.wg.Done()
		return s.fail(span, in, outcomeRejected, err)
	}
	span.SetAttributes(attribute.String("ledger.request_id", call.RequestID))

	done := make(chan Result[Receipt], 1)
	go func() {
		defer s.wg.Done()
		defer unlock()
		done <- s.dispatch(context.WithoutCancel(ctx), span, in, call)
	}()
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		s.logger.Warn(
			"caller stopped waiting for ledger intent",
			"component", "ledgersync",
			"op", in.op,
			"id", in.parcelID,
			"request_id", call.RequestID,
		)
		return Failure[Receipt](fmt.Errorf("%s: %w", in.op, ctx.Err()))
	}
}

func (s *Syncer) dispatch(
	ctx context.Context,
	span trace.Span,
	in intent,
	call ledger.Call,
) Result[Receipt] {
	start := time.Now()
	s.metrics.inFlight.Inc()
	defer s.metrics.inFlight.Dec()
	defer func() {
		s.metrics.duration.WithLabelValues(in.op).Observe(time.Since(start).Seconds())
	}()

	ref, err := backoff.RetryNotifyWithData(
		func() (ledger.TxRef, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, s.config.AttemptTimeout)
			defer cancel()
			ref, err := in.call(attemptCtx, call)
			if err != nil && !ledger.IsRetryable(err) {
				return ref, backoff.Permanent(err)
			}
			return ref, err
		},
		s.newBackOff(),
		func(err error, wait time.Duration) {
			s.metrics.retries.WithLabelValues(in.op).Inc()
			s.logger.Debug(
				"retrying ledger call",
				"component", "ledgersync",
				"op", in.op,
				"request_id", call.RequestID,
				"wait", wait,
				"error", err,
			)
		},
	)
	if err != nil {
		outcome := outcomeFailed
		if errors.Is(err, ledger.ErrRejected) {
			outcome = outcomeRejected
		}
		return s.fail(span, in, outcome, withFunction(in.op, err))
	}
	span.SetAttributes(attribute.String("ledger.tx_hash", ref.Hash))

	p, err := in.apply(ctx, ref)
	if err != nil {
		s.logger.Error(
			"ledger change committed but not applied locally",
			"component", "ledgersync",
			"op", in.op,
			"id", in.parcelID,
			"tx_hash", ref.Hash,
			"error", err,
		)
		return s.fail(
			span,
			in,
			outcomeApplyError,
			fmt.Errorf("%s: %w: %w", in.op, ErrLocalApply, err),
		)
	}
	if ref.ParcelID == 0 {
		ref.ParcelID = p.ID
	}
	s.metrics.intents.WithLabelValues(in.op, outcomeSuccess).Inc()
	span.SetStatus(codes.Ok, "")
	span.End()
	s.logger.Info(
		"ledger intent committed",
		"component", "ledgersync",
		"op", in.op,
		"id", p.ID,
		"status", p.Status,
		"tx_hash", ref.Hash,
	)
	s.publish(in, call, ref, p)
	return Success(Receipt{Parcel: p, Tx: ref})
}

// withFunction prefixes err with the contract function unless a CallError
// already names it
func withFunction(fn string, err error) error {
	var callErr *ledger.CallError
	if errors.As(err, &callErr) {
		return err
	}
	return fmt.Errorf("%s: %w", fn, err)
}

func (s *Syncer) newBackOff() backoff.BackOff {
	if s.config.MaxRetries < 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialInterval
	b.MaxInterval = s.config.MaxInterval
	// Attempts are bounded by count, not elapsed time
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(s.config.MaxRetries))
}

func (s *Syncer) fail(span trace.Span, in intent, outcome string, err error) Result[Receipt] {
	s.metrics.intents.WithLabelValues(in.op, outcome).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
	s.logger.Debug(
		"ledger intent failed",
		"component", "ledgersync",
		"op", in.op,
		"id", in.parcelID,
		"outcome", outcome,
		"error", err,
	)
	return Failure[Receipt](err)
}

func (s *Syncer) publish(in intent, call ledger.Call, ref ledger.TxRef, p parcel.Parcel) {
	if s.config.EventBus == nil {
		return
	}
	s.config.EventBus.Publish(
		in.eventType,
		event.NewEvent(
			in.eventType,
			event.ParcelEvent{
				ParcelID:  p.ID,
				Caller:    call.Caller,
				TxHash:    ref.Hash,
				Status:    p.Status,
				Approvals: len(p.Approvals),
			},
		),
	)
}

// GetParcel reads a parcel from the ledger
func (s *Syncer) GetParcel(ctx context.Context, id uint64) Result[ledger.OnChainParcel] {
	p, err := s.config.Ledger.ViewParcel(ctx, id)
	if err != nil {
		return Failure[ledger.OnChainParcel](withFunction(ledger.FuncGetParcel, err))
	}
	return Success(p)
}

// GetNextID reads the id the ledger will assign to the next submission
func (s *Syncer) GetNextID(ctx context.Context) Result[uint64] {
	id, err := s.config.Ledger.ViewNextID(ctx)
	if err != nil {
		return Failure[uint64](withFunction(ledger.FuncGetNextID, err))
	}
	return Success(id)
}

// GetCouncil reads the council registered on the ledger
func (s *Syncer) GetCouncil(ctx context.Context) Result[[]parcel.CouncilMember] {
	members, err := s.config.Ledger.ViewCouncil(ctx)
	if err != nil {
		return Failure[[]parcel.CouncilMember](withFunction(ledger.FuncGetCouncil, err))
	}
	return Success(members)
}

// SyncCouncil replaces the local roster with the council on the ledger
func (s *Syncer) SyncCouncil(ctx context.Context) Result[[]parcel.CouncilMember] {
	res := s.GetCouncil(ctx)
	if !res.Ok() {
		return res
	}
	if s.config.Council == nil {
		return Failure[[]parcel.CouncilMember](errors.New("ledgersync: no council store configured"))
	}
	if err := s.config.Council.Save(ctx, res.Value()); err != nil {
		return Failure[[]parcel.CouncilMember](fmt.Errorf("sync council: %w", err))
	}
	s.logger.Info(
		"council synced from ledger",
		"component", "ledgersync",
		"members", len(res.Value()),
	)
	return res
}

// Close stops accepting intents and waits for in-flight ones to finish
// applying locally, or for ctx to end
func (s *Syncer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ledger intents: %w", ctx.Err())
	}
}

// Wait blocks until no intents are in flight
func (s *Syncer) Wait() {
	s.wg.Wait()
}
