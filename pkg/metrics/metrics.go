/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	Namespace = "gang_scheduler"

	ActionLabel = "action"
)

var (
	ActionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "actions_total",
			Help:      "Number of actions executed against the cluster. Labeled by action type (bind, preempt).",
		},
		[]string{ActionLabel},
	)
	ReinitializationsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "reinitializations_total",
			Help:      "Number of times the engine was rebuilt from the live cluster after an irrecoverable error.",
		},
	)
	DecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "decision_duration_seconds",
			Help:      "Time taken to compute the action list for a single event.",
			Buckets:   durationBuckets(),
		},
	)
	TrackedPodsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "tracked_pods",
			Help:      "Number of non-terminal pods in the engine's pod table.",
		},
	)
	TrackedNodesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "tracked_nodes",
			Help:      "Number of schedulable nodes in the engine's view.",
		},
	)
)

func MustRegister() {
	crmetrics.Registry.MustRegister(
		ActionsCounter,
		ReinitializationsCounter,
		DecisionDuration,
		TrackedPodsGauge,
		TrackedNodesGauge,
	)
}

// Measure returns a deferrable that observes the time since its creation.
func Measure(observer prometheus.Observer) func() {
	start := time.Now()
	return func() { observer.Observe(time.Since(start).Seconds()) }
}

func durationBuckets() []float64 {
	return []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
}
