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
	"context"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	clientmetrics "k8s.io/client-go/tools/metrics"
)

// client-go exposes its request metrics through registration hooks rather
// than a registry. The names below match what the core controllers export
// so dashboards carry over.

var (
	requestResult = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_go_requests_total",
			Help: "Number of HTTP requests, partitioned by status code, method, and host.",
		},
		[]string{"code", "method", "host"},
	)
	requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "client_go_requests_duration_seconds",
		Help:    "Request latency in seconds. Broken down by verb and URL.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	}, []string{"verb", "url"})
)

// RegisterClientMetrics wires client-go's request instrumentation into the
// given registry.
func RegisterClientMetrics(r prometheus.Registerer) {
	r.MustRegister(requestResult, requestLatency)
	clientmetrics.Register(clientmetrics.RegisterOpts{
		RequestResult:  &resultAdapter{metric: requestResult},
		RequestLatency: &latencyAdapter{metric: requestLatency},
	})
}

type resultAdapter struct {
	metric *prometheus.CounterVec
}

func (r *resultAdapter) Increment(_ context.Context, code, method, host string) {
	r.metric.WithLabelValues(code, method, host).Inc()
}

type latencyAdapter struct {
	metric *prometheus.HistogramVec
}

func (l *latencyAdapter) Observe(_ context.Context, verb string, u url.URL, latency time.Duration) {
	l.metric.WithLabelValues(verb, u.String()).Observe(latency.Seconds())
}
