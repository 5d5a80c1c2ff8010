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

package operator

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	v1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/record"
	"knative.dev/pkg/logging"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/minkovich/gang-scheduler/pkg/apis/config/settings"
	"github.com/minkovich/gang-scheduler/pkg/controllers/dispatch"
	"github.com/minkovich/gang-scheduler/pkg/events"
	"github.com/minkovich/gang-scheduler/pkg/metrics"
	operatormetrics "github.com/minkovich/gang-scheduler/pkg/operator/metrics"
)

// Operator wires the process together: configuration, logging, the API
// client, the event recorder, metrics, and the dispatch loop.
type Operator struct {
	ctx        context.Context
	kubeClient kubernetes.Interface
	recorder   events.Recorder
}

// NewOperator builds the process context. It panics on misconfiguration
// since there is nothing useful to do without a client or settings.
func NewOperator(ctx context.Context) *Operator {
	logger := lo.Must(zap.NewProduction()).Sugar()
	ctx = logging.WithLogger(ctx, logger)

	s := lo.Must(settings.NewSettings())
	ctx = settings.ToContext(ctx, s)

	config := lo.Must(restConfig())
	kubeClient := lo.Must(kubernetes.NewForConfig(config))

	metrics.MustRegister()
	operatormetrics.RegisterClientMetrics(crmetrics.Registry)

	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{Interface: kubeClient.CoreV1().Events("")})
	recorder := events.NewRecorder(broadcaster.NewRecorder(scheme.Scheme, v1.EventSource{Component: s.SchedulerName}))

	return &Operator{ctx: ctx, kubeClient: kubeClient, recorder: recorder}
}

// Start runs the dispatch loop and the metrics server until the context is
// canceled or either fails.
func (o *Operator) Start() error {
	s := settings.FromContext(o.ctx)
	logging.FromContext(o.ctx).With("scheduler", s.SchedulerName).Infof("starting scheduler")

	group, ctx := errgroup.WithContext(o.ctx)
	group.Go(func() error {
		return dispatch.NewController(ctx, o.kubeClient, o.recorder).Run(ctx)
	})
	group.Go(func() error {
		return serveMetrics(ctx, s.MetricsPort)
	})
	return group.Wait()
}

// restConfig prefers the in-cluster service account and falls back to the
// local kubeconfig for development.
func restConfig() (*rest.Config, error) {
	if config, err := rest.InClusterConfig(); err == nil {
		return config, nil
	}
	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(), &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig, %w", err)
	}
	return config, nil
}

func serveMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving metrics, %w", err)
	}
	return nil
}
