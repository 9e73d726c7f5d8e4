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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/landregistry/approval"
	"github.com/blinklabs-io/landregistry/ledger"
)

const (
	LedgerModeMemory = "memory"
	LedgerModeRest   = "rest"
)

// ErrReuseIDs is returned when id reuse is combined with ledger-assigned ids
var ErrReuseIDs = errors.New("parcel id reuse cannot be combined with ledger-assigned ids")

type Config struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	ledgerClient    ledger.Client
	module          ledger.Module
	dataDir         string
	blobPlugin      string
	ledgerMode      string
	ledgerURL       string
	ledgerAPIKey    string
	tracingEndpoint string
	// API listen address (empty = disabled)
	apiListenAddress  string
	adminWallets      []string
	rateLimitRPS      float64
	rateLimitBurst    int
	approvalThreshold int
	ledgerMaxRetries  int
	ledgerAttempt     time.Duration
	shutdownTimeout   time.Duration
	reuseIDs          bool
	syncCouncil       bool
	tracing           bool
	tracingStdout     bool
}

func (n *Node) configValidate() error {
	if n.config.approvalThreshold < 1 {
		return fmt.Errorf("%w: got %d", approval.ErrInvalidThreshold, n.config.approvalThreshold)
	}
	// Parcels are stored under the id the ledger assigns
	if n.config.reuseIDs {
		return ErrReuseIDs
	}
	if n.config.ledgerClient != nil {
		return nil
	}
	switch n.config.ledgerMode {
	case LedgerModeMemory:
	case LedgerModeRest:
		if _, err := url.ParseRequestURI(n.config.ledgerURL); err != nil {
			return fmt.Errorf("invalid ledger URL %q: %w", n.config.ledgerURL, err)
		}
	default:
		return fmt.Errorf("unknown ledger mode: %s", n.config.ledgerMode)
	}
	if n.config.module.Address == "" || n.config.module.Name == "" {
		return errors.New("ledger module address and name are required")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new node config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		ledgerMode:        LedgerModeMemory,
		module:            ledger.DefaultModule(),
		approvalThreshold: approval.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob storage plugin to use.
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithLedgerMode selects the in-memory contract simulator or the REST client
func WithLedgerMode(mode string) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerMode = mode
	}
}

// WithLedgerClient uses the given client instead of building one from the ledger mode
func WithLedgerClient(client ledger.Client) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerClient = client
	}
}

// WithLedgerURL specifies the full node REST endpoint used in rest mode
func WithLedgerURL(ledgerURL string) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerURL = ledgerURL
	}
}

func WithLedgerAPIKey(apiKey string) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerAPIKey = apiKey
	}
}

// WithModule specifies the deployed contract module
func WithModule(module ledger.Module) ConfigOptionFunc {
	return func(c *Config) {
		c.module = module
	}
}

// WithLedgerRetry bounds retries of ledger calls and the time allowed for each attempt
func WithLedgerRetry(maxRetries int, attemptTimeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerMaxRetries = maxRetries
		c.ledgerAttempt = attemptTimeout
	}
}

// WithApprovalThreshold specifies how many council approvals approve a parcel
func WithApprovalThreshold(threshold int) ConfigOptionFunc {
	return func(c *Config) {
		c.approvalThreshold = threshold
	}
}

// WithReuseIDs hands out max(id)+1 for new parcels instead of a never-reused
// sequence. A node rejects it since its ledger assigns parcel ids.
func WithReuseIDs(reuse bool) ConfigOptionFunc {
	return func(c *Config) {
		c.reuseIDs = reuse
	}
}

// WithSyncCouncil replaces the local roster with the ledger's council at startup
func WithSyncCouncil(syncCouncil bool) ConfigOptionFunc {
	return func(c *Config) {
		c.syncCouncil = syncCouncil
	}
}

// WithAPIListenAddress specifies the REST API listen address. The API is
// disabled when empty.
func WithAPIListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithAdminWallets specifies the wallets allowed to delete parcels
func WithAdminWallets(wallets ...string) ConfigOptionFunc {
	return func(c *Config) {
		c.adminWallets = wallets
	}
}

// WithRateLimit bounds state-changing API requests per wallet
func WithRateLimit(rps float64, burst int) ConfigOptionFunc {
	return func(c *Config) {
		c.rateLimitRPS = rps
		c.rateLimitBurst = burst
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithTracingEndpoint overrides the OTLP endpoint URL
func WithTracingEndpoint(endpoint string) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingEndpoint = endpoint
	}
}

// WithShutdownTimeout specifies the maximum time allowed for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
