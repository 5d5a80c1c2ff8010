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
	"errors"
	"fmt"
)

// ErrInconsistentState marks an engine invariant violation, e.g. the plan
// requiring more nodes than are free during binding. The dispatcher's policy
// on seeing it is to rebuild the engine from the live cluster.
var ErrInconsistentState = errors.New("inconsistent engine state")

// Pod is the engine's view of a workload. It carries only what scheduling
// decisions need; everything else stays behind in the platform objects.
type Pod struct {
	UID       string
	Name      string
	Namespace string
	Priority  int
	// GangName groups pods that must be placed atomically. Empty for singles.
	GangName string
	// NodeName is the binding observed on the event or snapshot that
	// produced this record. Inside the engine the node-assignment table is
	// the source of truth, not this field.
	NodeName string
	// WaitingOnDeletion is set between emitting a preempt action and
	// observing the corresponding deletion. Pods in this state hold no
	// capacity and join no unit.
	WaitingOnDeletion bool

	// ordinal is the arrival sequence number stamped when the pod first
	// enters the table. It makes unit ordering and gang member order
	// deterministic across identical states.
	ordinal int64
}

func (p *Pod) String() string {
	return fmt.Sprintf("%s/%s(%s)", p.Namespace, p.Name, p.UID)
}

type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventDeleted  EventType = "DELETED"
	EventModified EventType = "MODIFIED"
)

// Event is a normalized pod event handed to the engine by the dispatcher.
type Event struct {
	Type EventType
	Pod  Pod
}

type ActionType string

const (
	ActionBind    ActionType = "bind"
	ActionPreempt ActionType = "preempt"
)

// Action is an instruction to the dispatcher. Within one action list all
// preempts precede all binds, so freed capacity is announced before fills
// are requested.
type Action struct {
	Type         ActionType
	PodUID       string
	PodName      string
	PodNamespace string
	// NodeName is set for binds only.
	NodeName string
}

func bindAction(pod *Pod, node string) Action {
	return Action{
		Type:         ActionBind,
		PodUID:       pod.UID,
		PodName:      pod.Name,
		PodNamespace: pod.Namespace,
		NodeName:     node,
	}
}

func preemptAction(pod *Pod) Action {
	return Action{
		Type:         ActionPreempt,
		PodUID:       pod.UID,
		PodName:      pod.Name,
		PodNamespace: pod.Namespace,
	}
}

func (a Action) String() string {
	if a.Type == ActionBind {
		return fmt.Sprintf("bind(%s/%s -> %s)", a.PodNamespace, a.PodName, a.NodeName)
	}
	return fmt.Sprintf("preempt(%s/%s)", a.PodNamespace, a.PodName)
}
