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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type registryMetrics struct {
	parcels       *prometheus.GaugeVec
	persistErrors prometheus.Counter
}

func (m *registryMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.parcels = promautoFactory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "landregistry_parcels",
			Help: "number of registered parcels by status",
		},
		[]string{"status"},
	)
	m.persistErrors = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "landregistry_registry_persist_errors_total",
		Help: "total number of failed parcel collection saves",
	})
}

// updateMetrics refreshes the status gauges. The caller must hold a lock.
func (r *Registry) updateMetrics() {
	for status, count := range r.countByStatus() {
		r.metrics.parcels.WithLabelValues(string(status)).Set(float64(count))
	}
}
