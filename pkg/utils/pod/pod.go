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

package pod

import (
	"strconv"

	v1 "k8s.io/api/core/v1"

	"github.com/minkovich/gang-scheduler/pkg/apis/v1alpha1"
)

// IsTerminal returns true for pods that will never run again and should be
// invisible to scheduling.
func IsTerminal(pod *v1.Pod) bool {
	return pod.Status.Phase == v1.PodSucceeded || pod.Status.Phase == v1.PodFailed
}

// Priority resolves the scheduling priority of a pod. The priority
// annotation wins over the pod-spec priority; both default to zero.
func Priority(pod *v1.Pod) int {
	if raw, ok := pod.Annotations[v1alpha1.PriorityAnnotationKey]; ok {
		if p, err := strconv.Atoi(raw); err == nil {
			return p
		}
	}
	if pod.Spec.Priority != nil {
		return int(*pod.Spec.Priority)
	}
	return 0
}

// GangName returns the pod's gang membership, or empty for a single pod.
func GangName(pod *v1.Pod) string {
	return pod.Annotations[v1alpha1.PodGroupAnnotationKey]
}
