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

	"github.com/imdario/mergo"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// NodeOptions customizes a test node.
type NodeOptions struct {
	metav1.ObjectMeta
	Unschedulable bool
}

// Node creates a test node with defaults overridden by options.
func Node(overrides ...NodeOptions) *v1.Node {
	options := NodeOptions{}
	for _, opts := range overrides {
		if err := mergo.Merge(&options, opts, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("merging node options, %v", err))
		}
	}
	if options.Name == "" {
		options.Name = RandomName()
	}
	return &v1.Node{
		ObjectMeta: options.ObjectMeta,
		Spec:       v1.NodeSpec{Unschedulable: options.Unschedulable},
	}
}
