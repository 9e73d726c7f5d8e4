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

package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type eventMetrics struct {
	eventsTotal    *prometheus.CounterVec
	subscribers    *prometheus.GaugeVec
	deliveryErrors *prometheus.CounterVec
	dropped        *prometheus.CounterVec
}

func newEventMetrics(reg prometheus.Registerer) *eventMetrics {
	f := promauto.With(reg)
	return &eventMetrics{
		eventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landregistry_events_total",
				Help: "total number of events published",
			},
			[]string{"type"},
		),
		subscribers: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "landregistry_event_subscribers",
				Help: "current number of event subscribers",
			},
			[]string{"type"},
		),
		deliveryErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landregistry_event_handler_errors_total",
				Help: "total number of panics recovered from event handlers",
			},
			[]string{"type"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landregistry_events_dropped_total",
				Help: "total number of async events dropped on a full queue",
			},
			[]string{"type"},
		),
	}
}
