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

package blob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "landregistry_blob_"

// Metrics tracks operations for a blob store backend
type Metrics struct {
	ops    *prometheus.CounterVec
	errors *prometheus.CounterVec
	bytes  *prometheus.CounterVec
	plugin string
}

// NewMetrics registers the blob metrics for the named backend. A nil
// registry produces working but unregistered collectors.
func NewMetrics(promRegistry prometheus.Registerer, pluginName string) *Metrics {
	promautoFactory := promauto.With(promRegistry)
	return &Metrics{
		plugin: pluginName,
		ops: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "ops_total",
				Help: "Total number of blob store operations",
			},
			[]string{"plugin", "op"},
		),
		errors: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "errors_total",
				Help: "Total number of failed blob store operations",
			},
			[]string{"plugin", "op"},
		),
		bytes: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricNamePrefix + "bytes_total",
				Help: "Total bytes read or written by blob store operations",
			},
			[]string{"plugin", "op"},
		),
	}
}

// Observe records the outcome of a single operation. Safe on a nil receiver.
func (m *Metrics) Observe(op string, size int, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(m.plugin, op).Inc()
	if err != nil {
		m.errors.WithLabelValues(m.plugin, op).Inc()
		return
	}
	if size > 0 {
		m.bytes.WithLabelValues(m.plugin, op).Add(float64(size))
	}
}
