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

package test

import (
	"fmt"
	"strings"

	"github.com/Pallinder/go-randomdata"
	"github.com/imdario/mergo"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/minkovich/gang-scheduler/pkg/apis/v1alpha1"
)

// PodOptions customizes a test pod.
type PodOptions struct {
	metav1.ObjectMeta
	SchedulerName string
	NodeName      string
	Phase         v1.PodPhase
	// Priority sets the priority annotation the scheduler reads.
	Priority *int
	// GangName sets the pod-group annotation.
	GangName string
}

// Pod creates a test pod with defaults overridden by options, merged in
// order with later options winning.
func Pod(overrides ...PodOptions) *v1.Pod {
	options := PodOptions{}
	for _, opts := range overrides {
		if err := mergo.Merge(&options, opts, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("merging pod options, %v", err))
		}
	}
	if options.Name == "" {
		options.Name = RandomName()
	}
	if options.Namespace == "" {
		options.Namespace = "default"
	}
	if options.UID == "" {
		options.UID = types.UID(RandomName())
	}
	if options.SchedulerName == "" {
		options.SchedulerName = v1alpha1.DefaultSchedulerName
	}
	if options.Phase == "" {
		options.Phase = v1.PodPending
	}
	if options.Annotations == nil {
		options.Annotations = map[string]string{}
	}
	if options.Priority != nil {
		options.Annotations[v1alpha1.PriorityAnnotationKey] = fmt.Sprint(*options.Priority)
	}
	if options.GangName != "" {
		options.Annotations[v1alpha1.PodGroupAnnotationKey] = options.GangName
	}
	return &v1.Pod{
		ObjectMeta: options.ObjectMeta,
		Spec: v1.PodSpec{
			SchedulerName: options.SchedulerName,
			NodeName:      options.NodeName,
			Containers:    []v1.Container{{Name: "app", Image: "public.ecr.aws/eks-distro/kubernetes/pause:3.7"}},
		},
		Status: v1.PodStatus{Phase: options.Phase},
	}
}

// RandomName returns a lowercase DNS-safe random name.
func RandomName() string {
	return strings.ToLower(fmt.Sprintf("%s-%s", randomdata.SillyName(), randomdata.Alphanumeric(10)))
}
