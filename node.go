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

package landregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/landregistry/api"
	"github.com/blinklabs-io/landregistry/approval"
	"github.com/blinklabs-io/landregistry/database"
	"github.com/blinklabs-io/landregistry/event"
	"github.com/blinklabs-io/landregistry/ledger"
	"github.com/blinklabs-io/landregistry/ledger/memledger"
	"github.com/blinklabs-io/landregistry/ledger/restledger"
	"github.com/blinklabs-io/landregistry/ledgersync"
	"github.com/blinklabs-io/landregistry/registry"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	registry      *registry.Registry
	roster        *registry.Roster
	engine        *approval.Engine
	ledger        ledger.Client
	syncer        *ledgersync.Syncer
	api           *api.API
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	ready         chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		n.eventBus.Stop()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

// Run starts all components and blocks until Stop is called or ctx ends
func (n *Node) Run(ctx context.Context) error {
	if err := n.start(ctx); err != nil {
		return errors.Join(err, n.Stop())
	}
	close(n.ready)
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return n.Stop()
	}
}

func (n *Node) start(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(ctx); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		BlobPlugin:   n.config.blobPlugin,
		DataDir:      n.config.dataDir,
		InMemory:     n.config.dataDir == "",
	})
	if db != nil {
		n.db = db
		n.shutdownFuncs = append(
			n.shutdownFuncs,
			func(context.Context) error { return db.Close() },
		)
	}
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	// Load parcels and council
	n.registry, err = registry.New(ctx, registry.Config{
		Store:        n.db,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		ReuseIDs:     n.config.reuseIDs,
	})
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	n.roster, err = registry.LoadRoster(ctx, n.db)
	if err != nil {
		return err
	}
	n.engine, err = approval.New(approval.Config{
		Repo:      n.registry,
		Logger:    n.config.logger,
		Threshold: n.config.approvalThreshold,
	})
	if err != nil {
		return err
	}
	if err := n.setupLedger(); err != nil {
		return err
	}
	n.syncer, err = ledgersync.New(ledgersync.Config{
		Ledger:         n.ledger,
		Registry:       n.registry,
		Engine:         n.engine,
		Council:        n.roster,
		EventBus:       n.eventBus,
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		TracerProvider: n.tracerProvider(),
		MaxRetries:     n.config.ledgerMaxRetries,
		AttemptTimeout: n.config.ledgerAttempt,
	})
	if err != nil {
		return err
	}
	if n.config.syncCouncil {
		res := n.syncer.SyncCouncil(ctx)
		if !res.Ok() {
			// The local roster stays in effect
			n.config.logger.Warn(
				"failed to sync council from ledger",
				"component", "node",
				"error", res.Err(),
			)
		}
	}
	for _, evtType := range event.ParcelEventTypes {
		n.eventBus.SubscribeFunc(evtType, n.logParcelEvent)
	}
	// Start API listener
	if n.config.apiListenAddress != "" {
		n.api = api.New(
			api.APIConfig{
				ListenAddress:  n.config.apiListenAddress,
				AdminWallets:   n.config.adminWallets,
				RateLimitRPS:   n.config.rateLimitRPS,
				RateLimitBurst: n.config.rateLimitBurst,
			},
			api.Backend{
				Parcels: n.registry,
				Council: n.roster,
				Intents: n.syncer,
			},
			n.eventBus,
			n.config.logger,
		)
		if err := n.api.Start(ctx); err != nil {
			return err
		}
	}
	n.config.logger.Info(
		"node started",
		"component", "node",
		"parcels", n.registry.Count(),
		"council", len(n.roster.Members()),
		"ledger", n.ledgerDescription(),
	)
	return nil
}

func (n *Node) setupLedger() error {
	if n.config.ledgerClient != nil {
		n.ledger = n.config.ledgerClient
		return nil
	}
	switch n.config.ledgerMode {
	case LedgerModeRest:
		client, err := restledger.New(
			restledger.WithLogger(n.config.logger),
			restledger.WithBaseURL(n.config.ledgerURL),
			restledger.WithModule(n.config.module),
			restledger.WithAPIKey(n.config.ledgerAPIKey),
		)
		if err != nil {
			return fmt.Errorf("ledger client: %w", err)
		}
		n.ledger = client
	default:
		// The simulator starts from the persisted parcels so ids and
		// contract state survive a restart
		stored := n.registry.List()
		onChain := make([]ledger.OnChainParcel, 0, len(stored))
		for _, p := range stored {
			onChain = append(onChain, ledger.FromParcel(p))
		}
		n.ledger = memledger.New(
			memledger.WithLogger(n.config.logger),
			memledger.WithCouncil(n.roster.Members()),
			memledger.WithThreshold(n.config.approvalThreshold),
			memledger.WithNextID(n.registry.NextID()),
			memledger.WithParcels(onChain),
		)
	}
	return nil
}

func (n *Node) ledgerDescription() string {
	if n.config.ledgerClient != nil {
		return "custom"
	}
	if n.config.ledgerMode == LedgerModeRest {
		return n.config.ledgerURL + " " + n.config.module.String()
	}
	return LedgerModeMemory
}

func (n *Node) logParcelEvent(evt event.Event) {
	data, ok := evt.Data.(event.ParcelEvent)
	if !ok {
		return
	}
	n.config.logger.Info(
		"parcel event",
		"component", "node",
		"event", string(evt.Type),
		"status", string(data.Status),
		"parcel_id", data.ParcelID,
		"caller", data.Caller,
		"tx", data.TxHash,
		"approvals", data.Approvals,
	)
}

// Ready is closed once Run has started all components
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

func (n *Node) Registry() *registry.Registry {
	return n.registry
}

func (n *Node) Syncer() *ledgersync.Syncer {
	return n.syncer
}

func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop accepting new work
	if n.api != nil {
		if stopErr := n.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Let in-flight intents finish their local apply
	if n.syncer != nil {
		if stopErr := n.syncer.Close(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("syncer shutdown: %w", stopErr))
		}
	}
	n.eventBus.Stop()

	// Phase 3: Release resources in reverse order of acquisition
	for i := len(n.shutdownFuncs) - 1; i >= 0; i-- {
		if fnErr := n.shutdownFuncs[i](ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	close(n.done)
	return err
}
