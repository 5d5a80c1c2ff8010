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

package scheduling

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
	"knative.dev/pkg/logging"
)

// Engine is the scheduling decision core. It owns an in-memory view of
// cluster occupancy and, for each pod event, recomputes the admission plan
// and diffs it against current assignments to produce the minimal bind and
// preempt actions. It performs no I/O and must be driven serially; the
// dispatcher is the only caller and applies the returned actions in order.
type Engine struct {
	// nodeAssignments maps node name to the uid of its pod, or "" when the
	// node is free. One pod per node, always.
	nodeAssignments map[string]string
	// pods tracks every non-terminal pod the engine knows about.
	pods map[string]*Pod
	// gangsInTransition holds gangs with a preemption in flight. Preempted
	// pods are destroyed and reborn with fresh uids, so a gang is matched
	// back up by name once its members are observed settled.
	gangsInTransition sets.Set[string]
	nextOrdinal       int64
	lastPlanSize      int
}

func NewEngine() *Engine {
	return &Engine{
		nodeAssignments:   map[string]string{},
		pods:              map[string]*Pod{},
		gangsInTransition: sets.New[string](),
	}
}

// Stats summarizes the engine's view for logging and metrics.
type Stats struct {
	Nodes    int
	Pods     int
	Assigned int
	PlanSize int
}

func (e *Engine) Stats() Stats {
	return Stats{
		Nodes:    len(e.nodeAssignments),
		Pods:     len(e.pods),
		Assigned: lo.CountBy(lo.Values(e.nodeAssignments), func(uid string) bool { return uid != "" }),
		PlanSize: e.lastPlanSize,
	}
}

// Initialize builds the engine's tables from a cluster snapshot and returns
// the first action list. Pods carrying a tracked node name populate the
// assignment table; everything else is pending and considered for the plan.
func (e *Engine) Initialize(ctx context.Context, nodes []string, existing []Pod) ([]Action, error) {
	e.nodeAssignments = map[string]string{}
	e.pods = map[string]*Pod{}
	e.gangsInTransition = sets.New[string]()
	for _, node := range nodes {
		e.nodeAssignments[node] = ""
	}
	for i := range existing {
		p := e.upsert(existing[i])
		if p.NodeName != "" {
			if _, ok := e.nodeAssignments[p.NodeName]; ok {
				e.nodeAssignments[p.NodeName] = p.UID
			}
		}
	}
	logging.FromContext(ctx).With("nodes", len(nodes), "pods", len(e.pods)).Infof("initialized cluster view")
	return e.decide(ctx)
}

// HandleEvent processes one normalized pod event and returns the actions the
// dispatcher must execute, in order. Recognized inconsistencies return an
// empty list and no error; only invariant violations surface as errors.
func (e *Engine) HandleEvent(ctx context.Context, evt Event) ([]Action, error) {
	logger := logging.FromContext(ctx).With("pod", klog.KRef(evt.Pod.Namespace, evt.Pod.Name), "uid", evt.Pod.UID)
	switch evt.Type {
	case EventDeleted:
		if _, ok := e.pods[evt.Pod.UID]; !ok {
			logger.Debugf("ignoring deletion of unknown pod")
			return nil, nil
		}
		e.handleDeleted(ctx, evt.Pod.UID)
	case EventModified:
		// A consistent MODIFIED carries no scheduling signal, and we never
		// reassign on one. Anything inconsistent is logged and dropped.
		e.checkModified(ctx, evt.Pod)
		return nil, nil
	case EventAdded:
		p := e.upsert(evt.Pod)
		if p.NodeName != "" {
			if _, ok := e.nodeAssignments[p.NodeName]; ok {
				e.nodeAssignments[p.NodeName] = p.UID
			}
		}
		if p.GangName != "" && e.gangsInTransition.Has(p.GangName) {
			e.reformGang(ctx, p.GangName)
		}
	default:
		logger.Errorf("ignoring event of unknown type %q", evt.Type)
		return nil, nil
	}
	return e.decide(ctx)
}

// upsert inserts or replaces the pod record, preserving the arrival ordinal
// of a pod we have seen before so repeated events stay idempotent.
func (e *Engine) upsert(pod Pod) *Pod {
	p := pod
	p.WaitingOnDeletion = false
	if existing, ok := e.pods[p.UID]; ok {
		p.ordinal = existing.ordinal
	} else {
		p.ordinal = e.nextOrdinal
		e.nextOrdinal++
	}
	e.pods[p.UID] = &p
	return &p
}

func (e *Engine) handleDeleted(ctx context.Context, uid string) {
	delete(e.pods, uid)
	for node, assigned := range e.nodeAssignments {
		if assigned == uid {
			e.nodeAssignments[node] = ""
			logging.FromContext(ctx).With("node", node).Debugf("freed node on pod deletion")
			break
		}
	}
}

func (e *Engine) checkModified(ctx context.Context, pod Pod) {
	logger := logging.FromContext(ctx).With("pod", klog.KRef(pod.Namespace, pod.Name), "uid", pod.UID)
	if _, ok := e.pods[pod.UID]; !ok {
		logger.Debugf("modified event for unknown pod, likely pending deletion")
		return
	}
	if pod.NodeName == "" {
		logger.Errorf("modified event without a node")
		return
	}
	if assigned, ok := e.nodeAssignments[pod.NodeName]; ok && assigned != pod.UID {
		logger.With("node", pod.NodeName, "assigned", assigned).Errorf("modified event disagrees with node assignment")
	}
}

// reformGang clears a gang's in-transition mark once at least one member is
// back and none are still waiting on deletion. Until then the gang holds no
// capacity, so it can never wedge the cluster while unschedulable.
func (e *Engine) reformGang(ctx context.Context, name string) {
	members := lo.Filter(lo.Values(e.pods), func(p *Pod, _ int) bool { return p.GangName == name })
	if len(members) == 0 {
		return
	}
	if lo.SomeBy(members, func(p *Pod) bool { return p.WaitingOnDeletion }) {
		return
	}
	e.gangsInTransition.Delete(name)
	logging.FromContext(ctx).With("gang", name, "members", len(members)).Infof("gang reformation complete")
}

// decide runs the post-event pipeline: rebuild the queue, build the plan,
// diff it against current assignments, and optimistically apply the result
// so a subsequent event cannot double-schedule a node.
func (e *Engine) decide(ctx context.Context) ([]Action, error) {
	units := buildUnits(e.pods, e.gangsInTransition)
	plan := buildPlan(units, len(e.nodeAssignments))
	e.lastPlanSize = len(plan)
	return e.applyPlan(ctx, plan)
}

// applyPlan is the action differ. Step A preempts every assigned pod that is
// not in the plan, step B collects free nodes in name order for
// deterministic placement, and step C binds unassigned plan members while
// leaving consistent placements untouched.
func (e *Engine) applyPlan(ctx context.Context, plan []*Unit) ([]Action, error) {
	logger := logging.FromContext(ctx)
	var actions []Action

	planned := sets.New[string]()
	for _, u := range plan {
		for _, p := range u.Pods {
			planned.Insert(p.UID)
		}
	}

	for _, node := range sortedNodes(e.nodeAssignments) {
		uid := e.nodeAssignments[node]
		if uid == "" || planned.Has(uid) {
			continue
		}
		if p, ok := e.pods[uid]; ok {
			actions = append(actions, preemptAction(p))
			p.WaitingOnDeletion = true
			if p.GangName != "" {
				e.gangsInTransition.Insert(p.GangName)
				logger.With("gang", p.GangName).Debugf("gang entering transition on preemption")
			}
		} else {
			// Dangling assignment; nothing to delete, but the node is not
			// actually held by anything we track.
			logger.With("node", node, "uid", uid).Errorf("clearing assignment for untracked pod")
		}
		e.nodeAssignments[node] = ""
	}

	assignedNode := map[string]string{}
	var free []string
	for node, uid := range e.nodeAssignments {
		if uid == "" {
			free = append(free, node)
		} else {
			assignedNode[uid] = node
		}
	}
	sort.Strings(free)

	for _, u := range plan {
		for _, p := range u.Pods {
			if _, ok := assignedNode[p.UID]; ok {
				continue
			}
			if len(free) == 0 {
				return nil, fmt.Errorf("no free node for pod %s, %w", p, ErrInconsistentState)
			}
			node := free[0]
			free = free[1:]
			if e.nodeAssignments[node] != "" {
				return nil, fmt.Errorf("node %s already assigned to %s, %w", node, e.nodeAssignments[node], ErrInconsistentState)
			}
			actions = append(actions, bindAction(p, node))
			e.nodeAssignments[node] = p.UID
			assignedNode[p.UID] = node
		}
	}
	return actions, nil
}

func sortedNodes(assignments map[string]string) []string {
	nodes := lo.Keys(assignments)
	sort.Strings(nodes)
	return nodes
}
