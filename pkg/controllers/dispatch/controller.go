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

package dispatch

import (
	"context"
	"errors"
	"fmt"

	retry "github.com/avast/retry-go"
	"golang.org/x/time/rate"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"knative.dev/pkg/logging"

	"github.com/minkovich/gang-scheduler/pkg/apis/config/settings"
	"github.com/minkovich/gang-scheduler/pkg/controllers/scheduling"
	"github.com/minkovich/gang-scheduler/pkg/events"
	"github.com/minkovich/gang-scheduler/pkg/metrics"
	podutils "github.com/minkovich/gang-scheduler/pkg/utils/pod"
	"github.com/minkovich/gang-scheduler/pkg/utils/pretty"
)

// errStreamClosed is returned when the watch channel drains without error.
// The loop resumes the watch from the last seen resource version instead of
// rebuilding the engine.
var errStreamClosed = errors.New("watch stream closed")

// Controller is the event adapter. It subscribes to the pod watch stream,
// normalizes each event for the engine, and executes the returned bind and
// preempt actions against the platform. All engine calls happen on this
// loop, which is what lets the engine stay lock-free.
type Controller struct {
	kubeClient kubernetes.Interface
	engine     *scheduling.Engine
	recorder   events.Recorder
	clock      clock.Clock
	reinit     *rate.Limiter
	cm         *pretty.ChangeMonitor

	schedulerName   string
	resourceVersion string
}

func NewController(ctx context.Context, kubeClient kubernetes.Interface, recorder events.Recorder) *Controller {
	s := settings.FromContext(ctx)
	return &Controller{
		kubeClient:    kubeClient,
		engine:        scheduling.NewEngine(),
		recorder:      recorder,
		clock:         clock.RealClock{},
		reinit:        rate.NewLimiter(rate.Every(s.ReinitCooldown), 1),
		cm:            pretty.NewChangeMonitor(),
		schedulerName: s.SchedulerName,
	}
}

// Run initializes the cluster view and processes pod events until the
// context is canceled. Irrecoverable errors trigger a re-initialization,
// rate limited by the configured cooldown; if the limiter denies one the
// process gives up and exits so the orchestrator can restart it cleanly.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.initialize(ctx); err != nil {
		return fmt.Errorf("initializing cluster state, %w", err)
	}
	for {
		err := c.watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errStreamClosed) {
			logging.FromContext(ctx).Debugf("watch stream closed, resuming")
			continue
		}
		if err := c.reinitialize(ctx, err); err != nil {
			return err
		}
	}
}

// initialize snapshots schedulable nodes and this scheduler's non-terminal
// pods, seeds the engine, and executes the first action list. Listing is
// retried since it races with API server availability at startup.
func (c *Controller) initialize(ctx context.Context) error {
	var nodeList *v1.NodeList
	var podList *v1.PodList
	if err := retry.Do(func() error {
		var err error
		if nodeList, err = c.kubeClient.CoreV1().Nodes().List(ctx, metav1.ListOptions{}); err != nil {
			return fmt.Errorf("listing nodes, %w", err)
		}
		if podList, err = c.kubeClient.CoreV1().Pods(v1.NamespaceAll).List(ctx, metav1.ListOptions{}); err != nil {
			return fmt.Errorf("listing pods, %w", err)
		}
		return nil
	}, retry.Context(ctx), retry.Attempts(3), retry.LastErrorOnly(true)); err != nil {
		return err
	}
	c.resourceVersion = podList.ResourceVersion

	var nodes []string
	for i := range nodeList.Items {
		if node := &nodeList.Items[i]; !node.Spec.Unschedulable {
			nodes = append(nodes, node.Name)
		}
	}
	var existing []scheduling.Pod
	for i := range podList.Items {
		if pod := &podList.Items[i]; c.owns(pod) && !podutils.IsTerminal(pod) {
			existing = append(existing, toRecord(pod))
		}
	}

	actions, err := c.engine.Initialize(ctx, nodes, existing)
	if err != nil {
		return err
	}
	c.observeStats()
	return c.execute(ctx, actions)
}

// watch consumes the pod stream from the last seen resource version and
// drives the engine with each relevant event.
func (c *Controller) watch(ctx context.Context) error {
	w, err := c.kubeClient.CoreV1().Pods(v1.NamespaceAll).Watch(ctx, metav1.ListOptions{ResourceVersion: c.resourceVersion})
	if err != nil {
		return fmt.Errorf("starting pod watch, %w", err)
	}
	defer w.Stop()
	for evt := range w.ResultChan() {
		if evt.Type == watch.Error {
			return fmt.Errorf("pod watch failed, %v", evt.Object)
		}
		pod, ok := evt.Object.(*v1.Pod)
		if !ok {
			continue
		}
		c.resourceVersion = pod.ResourceVersion
		if err := c.handle(ctx, evt.Type, pod); err != nil {
			return err
		}
	}
	return errStreamClosed
}

func (c *Controller) handle(ctx context.Context, eventType watch.EventType, pod *v1.Pod) error {
	logger := logging.FromContext(ctx).With("pod", klog.KObj(pod))
	if !c.owns(pod) {
		return nil
	}
	if podutils.IsTerminal(pod) {
		logger.Debugf("ignoring pod in terminal phase %s", pod.Status.Phase)
		return nil
	}
	// Pending MODIFIED events replay stale assignment information and carry
	// no scheduling signal; drop them before they reach the engine.
	if eventType == watch.Modified && pod.Status.Phase == v1.PodPending {
		logger.Debugf("ignoring modified event for pending pod")
		return nil
	}

	stop := metrics.Measure(metrics.DecisionDuration)
	actions, err := c.engine.HandleEvent(ctx, scheduling.Event{Type: scheduling.EventType(eventType), Pod: toRecord(pod)})
	stop()
	if err != nil {
		return fmt.Errorf("handling %s for pod %s, %w", eventType, klog.KObj(pod), err)
	}
	c.observeStats()
	if err := c.execute(ctx, actions); err != nil {
		return err
	}

	stats := c.engine.Stats()
	if c.cm.HasChanged("cluster-view", stats) {
		logger.With("nodes", stats.Nodes, "pods", stats.Pods, "assigned", stats.Assigned, "plan", stats.PlanSize).Infof("cluster view updated")
	}
	return nil
}

// reinitialize rebuilds the engine from the live cluster after a settle
// delay so in-flight platform calls can land first. The cooldown limiter
// prevents an error loop from turning into a re-list storm.
func (c *Controller) reinitialize(ctx context.Context, cause error) error {
	if !c.reinit.Allow() {
		return fmt.Errorf("re-initialization denied by cooldown, %w", cause)
	}
	logging.FromContext(ctx).Errorf("re-initializing scheduler state, %s", cause)
	metrics.ReinitializationsCounter.Inc()
	select {
	case <-ctx.Done():
		return nil
	case <-c.clock.After(settings.FromContext(ctx).ReinitSettleDelay):
	}
	c.engine = scheduling.NewEngine()
	if err := c.initialize(ctx); err != nil {
		return fmt.Errorf("re-initializing cluster state, %w", err)
	}
	return nil
}

func (c *Controller) owns(pod *v1.Pod) bool {
	return pod.Spec.SchedulerName == c.schedulerName
}

func (c *Controller) observeStats() {
	stats := c.engine.Stats()
	metrics.TrackedPodsGauge.Set(float64(stats.Pods))
	metrics.TrackedNodesGauge.Set(float64(stats.Nodes))
}

func toRecord(pod *v1.Pod) scheduling.Pod {
	return scheduling.Pod{
		UID:       string(pod.UID),
		Name:      pod.Name,
		Namespace: pod.Namespace,
		Priority:  podutils.Priority(pod),
		GangName:  podutils.GangName(pod),
		NodeName:  pod.Spec.NodeName,
	}
}
