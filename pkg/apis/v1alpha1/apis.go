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

// Package v1alpha1 contains the well-known keys the scheduler reads off of
// pods. Workloads opt in by setting spec.schedulerName and annotate their
// pods with a priority and, optionally, a pod group for gang scheduling.
package v1alpha1

const (
	// DefaultSchedulerName is the schedulerName pods must carry for this
	// scheduler to pick them up, unless overridden via settings.
	DefaultSchedulerName = "custom-scheduler"

	// PriorityAnnotationKey overrides the pod's native priority. Parsed as a
	// signed integer; higher values dominate.
	PriorityAnnotationKey = "priority"

	// PodGroupAnnotationKey names the gang a pod belongs to. All pods that
	// share a value are placed atomically or not at all.
	PodGroupAnnotationKey = "pod-group"
)
