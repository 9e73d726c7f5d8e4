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

// Package api serves the land registry over HTTP
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/landregistry/event"
	"github.com/blinklabs-io/landregistry/parcel"
)

const (
	DefaultListenAddress = ":8080"
	// CallerHeader carries the wallet address of the caller
	CallerHeader = "X-Wallet-Address"

	maxBodyBytes = 1 << 20
)

type APIConfig struct {
	ListenAddress string
	// AdminWallets may delete parcels
	AdminWallets []string
	Districts    []string
	// RateLimitRPS and RateLimitBurst bound state-changing requests per
	// wallet. Rate limiting is off when either is zero.
	RateLimitRPS   float64
	RateLimitBurst int
}

// API is the REST API server
type API struct {
	config     APIConfig
	logger     *slog.Logger
	backend    Backend
	events     *event.EventBus
	limiter    *walletLimiter
	httpServer *http.Server
	now        func() time.Time
	mu         sync.Mutex
}

// New creates a new API server instance. The event bus may be nil.
func New(
	cfg APIConfig,
	backend Backend,
	events *event.EventBus,
	logger *slog.Logger,
) *API {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "api")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if len(cfg.Districts) == 0 {
		cfg.Districts = slices.Clone(parcel.DefaultDistricts)
	}
	return &API{
		config:  cfg,
		logger:  logger,
		backend: backend,
		events:  events,
		limiter: newWalletLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		now:     time.Now,
	}
}

// Handler returns the request router
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /api/v0/parcels", a.handleSearchParcels)
	mux.HandleFunc("GET /api/v0/parcels/{id}", a.handleGetParcel)
	mux.HandleFunc("GET /api/v0/owners/{wallet}/parcels", a.handleOwnerParcels)
	mux.HandleFunc("POST /api/v0/parcels", a.intent(a.handleSubmit))
	mux.HandleFunc("POST /api/v0/parcels/{id}/approve", a.intent(a.handleApprove))
	mux.HandleFunc("POST /api/v0/parcels/{id}/reject", a.intent(a.handleReject))
	mux.HandleFunc("POST /api/v0/parcels/{id}/dispute", a.intent(a.handleDispute))
	mux.HandleFunc("POST /api/v0/parcels/{id}/transfer", a.intent(a.handleTransfer))
	mux.HandleFunc("DELETE /api/v0/parcels/{id}", a.intent(a.handleDelete))
	mux.HandleFunc("GET /api/v0/council", a.handleCouncil)
	mux.HandleFunc("GET /api/v0/districts", a.handleDistricts)
	mux.HandleFunc("GET /api/v0/stats", a.handleStats)
	return mux
}

// Start binds the listener and serves in a background goroutine until Stop
// is called or ctx ends
func (a *API) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              a.config.ListenAddress,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	a.httpServer = server
	a.mu.Unlock()

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		a.mu.Lock()
		a.httpServer = nil
		a.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("API server error", "error", err)
		}
	}()
	a.logger.Info("API listener started on " + ln.Addr().String())

	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		//nolint:contextcheck
		if err := a.Stop(shutdownCtx); err != nil {
			a.logger.Error("failed to shutdown API server on context cancellation", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (a *API) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	a.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}

type intentHandlerFunc func(w http.ResponseWriter, r *http.Request, caller string)

// intent guards state-changing routes: the caller wallet is required and
// rate limited
func (a *API) intent(next intentHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := strings.TrimSpace(r.Header.Get(CallerHeader))
		if caller == "" {
			writeError(
				w,
				http.StatusUnauthorized,
				"Unauthorized",
				"missing "+CallerHeader+" header",
			)
			return
		}
		if !a.limiter.Allow(caller, a.now()) {
			writeError(
				w,
				http.StatusTooManyRequests,
				"Too Many Requests",
				"rate limit exceeded",
			)
			return
		}
		next(w, r, caller)
	}
}

func (a *API) isAdmin(wallet string) bool {
	return slices.ContainsFunc(a.config.AdminWallets, func(admin string) bool {
		return strings.EqualFold(strings.TrimSpace(admin), wallet)
	})
}
