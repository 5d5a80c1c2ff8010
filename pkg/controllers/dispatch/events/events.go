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

package events

import (
	"fmt"

	v1 "k8s.io/api/core/v1"

	"github.com/minkovich/gang-scheduler/pkg/events"
)

func Scheduled(pod *v1.Pod, nodeName string) events.Event {
	return events.Event{
		InvolvedObject: pod,
		Type:           v1.EventTypeNormal,
		Reason:         "Scheduled",
		Message:        fmt.Sprintf("Bound pod to %s", nodeName),
		DedupeValues:   []string{string(pod.UID), nodeName},
	}
}

func Preempted(pod *v1.Pod) events.Event {
	return events.Event{
		InvolvedObject: pod,
		Type:           v1.EventTypeNormal,
		Reason:         "Preempted",
		Message:        "Deleted pod to free its node for a higher priority workload",
		DedupeValues:   []string{string(pod.UID)},
	}
}
