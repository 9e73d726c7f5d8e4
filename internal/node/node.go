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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/landregistry"
	"github.com/blinklabs-io/landregistry/internal/config"
)

// BuildOptions builds the root node options from the loaded config
func BuildOptions(cfg *config.Config, logger *slog.Logger) ([]landregistry.ConfigOptionFunc, error) {
	shutdownTimeout, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		return nil, err
	}
	attemptTimeout, err := cfg.LedgerAttemptTimeoutDuration()
	if err != nil {
		return nil, err
	}
	opts := []landregistry.ConfigOptionFunc{
		landregistry.WithLogger(logger),
		landregistry.WithDatabasePath(cfg.DatabasePath),
		landregistry.WithBlobPlugin(cfg.BlobPlugin),
		landregistry.WithLedgerMode(string(cfg.LedgerMode)),
		landregistry.WithLedgerURL(cfg.LedgerUrl),
		landregistry.WithLedgerAPIKey(cfg.LedgerApiKey),
		landregistry.WithModule(cfg.Module()),
		landregistry.WithLedgerRetry(cfg.LedgerMaxRetries, attemptTimeout),
		landregistry.WithSyncCouncil(cfg.SyncCouncil),
		landregistry.WithApprovalThreshold(cfg.ApprovalThreshold),
		landregistry.WithReuseIDs(cfg.ReuseIds),
		landregistry.WithAdminWallets(cfg.AdminWallets...),
		landregistry.WithRateLimit(cfg.RateLimitRps, cfg.RateLimitBurst),
		landregistry.WithShutdownTimeout(shutdownTimeout),
		// Enable metrics with default prometheus registry
		landregistry.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		landregistry.WithTracing(cfg.TracingEnabled),
		landregistry.WithTracingEndpoint(cfg.TracingEndpoint),
	}
	if cfg.ApiPort > 0 {
		opts = append(
			opts,
			landregistry.WithAPIListenAddress(
				fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ApiPort),
			),
		)
	}
	return opts, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := BuildOptions(cfg, logger)
	if err != nil {
		return err
	}
	n, err := landregistry.New(landregistry.NewConfig(opts...))
	if err != nil {
		return err
	}

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	g, ctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		return n.Run(ctx)
	})

	if cfg.MetricsPort > 0 {
		// Metrics and debug listener
		http.Handle("/metrics", promhttp.Handler())
		metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
		metricsServer := &http.Server{
			Addr:              metricsAddr,
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		logger.Info(
			"serving prometheus metrics on "+metricsAddr,
			"component", "node",
		)
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				10*time.Second,
			)
			defer cancel()
			//nolint:contextcheck
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	// The node may still be running if the metrics listener failed first
	if stopErr := n.Stop(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	if err != nil {
		logger.Error("shutdown errors occurred", "component", "node", "error", err)
		return err
	}
	logger.Info("shutdown complete", "component", "node")
	return nil
}
