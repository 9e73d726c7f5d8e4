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

package ledgersync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess    = "success"
	outcomeRejected   = "rejected"
	outcomeFailed     = "failed"
	outcomeApplyError = "apply_error"
)

type syncMetrics struct {
	intents  *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func newSyncMetrics(reg prometheus.Registerer) *syncMetrics {
	f := promauto.With(reg)
	return &syncMetrics{
		intents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landregistry_ledger_intents_total",
				Help: "total number of ledger intents by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landregistry_ledger_retries_total",
				Help: "total number of retried ledger calls",
			},
			[]string{"op"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "landregistry_ledger_intent_duration_seconds",
				Help:    "time from dispatch to local apply of ledger intents",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "landregistry_ledger_intents_in_flight",
				Help: "number of ledger intents awaiting the ledger",
			},
		),
	}
}
