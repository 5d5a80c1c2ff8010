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
	"fmt"

	"github.com/samber/lo"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"
	"knative.dev/pkg/logging"

	dispatchevents "github.com/minkovich/gang-scheduler/pkg/controllers/dispatch/events"
	"github.com/minkovich/gang-scheduler/pkg/controllers/scheduling"
	"github.com/minkovich/gang-scheduler/pkg/metrics"
)

// execute applies the engine's action list in order. Errors the policy in
// this file can absorb are handled inline; anything returned is
// irrecoverable and makes the caller re-initialize.
func (c *Controller) execute(ctx context.Context, actions []scheduling.Action) error {
	if len(actions) == 0 {
		return nil
	}
	logging.FromContext(ctx).With("actions", len(actions)).Infof("executing actions")
	for _, action := range actions {
		metrics.ActionsCounter.WithLabelValues(string(action.Type)).Inc()
		var err error
		switch action.Type {
		case scheduling.ActionBind:
			err = c.bind(ctx, action)
		case scheduling.ActionPreempt:
			err = c.preempt(ctx, action)
		default:
			logging.FromContext(ctx).Errorf("unknown action type %q", action.Type)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// bind places the pod on its target node through the binding subresource.
// 404 means the pod vanished under us: the engine is told via a synthesized
// deletion (whose resulting actions are discarded, since the current batch
// is already being applied). 409 means someone else bound it: landing on
// our intended node counts as success, anywhere else is irrecoverable.
func (c *Controller) bind(ctx context.Context, action scheduling.Action) error {
	logger := logging.FromContext(ctx).With("pod", klog.KRef(action.PodNamespace, action.PodName), "node", action.NodeName)
	binding := &v1.Binding{
		ObjectMeta: metav1.ObjectMeta{Name: action.PodName, Namespace: action.PodNamespace, UID: types.UID(action.PodUID)},
		Target:     v1.ObjectReference{Kind: "Node", APIVersion: "v1", Name: action.NodeName},
	}
	err := c.kubeClient.CoreV1().Pods(action.PodNamespace).Bind(ctx, binding, metav1.CreateOptions{})
	if err == nil {
		logger.Infof("bound pod")
		c.recorder.Publish(dispatchevents.Scheduled(involvedPod(action), action.NodeName))
		return nil
	}
	if apierrors.IsNotFound(err) {
		logger.Debugf("pod disappeared during bind, synthesizing deletion")
		if _, herr := c.engine.HandleEvent(ctx, scheduling.Event{
			Type: scheduling.EventDeleted,
			Pod:  scheduling.Pod{UID: action.PodUID, Name: action.PodName, Namespace: action.PodNamespace},
		}); herr != nil {
			return fmt.Errorf("synthesizing deletion after failed bind, %w", herr)
		}
		return nil
	}
	if apierrors.IsConflict(err) {
		pod, rerr := c.kubeClient.CoreV1().Pods(action.PodNamespace).Get(ctx, action.PodName, metav1.GetOptions{})
		if rerr != nil {
			return fmt.Errorf("verifying binding after conflict, %w", rerr)
		}
		if pod.Spec.NodeName == action.NodeName {
			logger.Debugf("pod already bound to target node")
			return nil
		}
		return fmt.Errorf("pod %s bound to node %q, expected %q, %w", klog.KRef(action.PodNamespace, action.PodName), pod.Spec.NodeName, action.NodeName, err)
	}
	return fmt.Errorf("binding pod %s to node %s, %w", klog.KRef(action.PodNamespace, action.PodName), action.NodeName, err)
}

// preempt destroys the pod so its controller recreates it as pending. The
// node name is immutable on a bound pod, which is why preemption is
// implemented by deletion rather than by moving.
func (c *Controller) preempt(ctx context.Context, action scheduling.Action) error {
	logger := logging.FromContext(ctx).With("pod", klog.KRef(action.PodNamespace, action.PodName))
	err := c.kubeClient.CoreV1().Pods(action.PodNamespace).Delete(ctx, action.PodName, metav1.DeleteOptions{
		GracePeriodSeconds: lo.ToPtr(int64(0)),
		Preconditions:      &metav1.Preconditions{UID: lo.ToPtr(types.UID(action.PodUID))},
	})
	if err == nil || apierrors.IsNotFound(err) {
		logger.Infof("preempted pod")
		c.recorder.Publish(dispatchevents.Preempted(involvedPod(action)))
		return nil
	}
	return fmt.Errorf("preempting pod %s, %w", klog.KRef(action.PodNamespace, action.PodName), err)
}

// involvedPod reconstructs just enough of the pod for event attribution.
func involvedPod(action scheduling.Action) *v1.Pod {
	return &v1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name:      action.PodName,
		Namespace: action.PodNamespace,
		UID:       types.UID(action.PodUID),
	}}
}
