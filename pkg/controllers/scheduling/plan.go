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

// buildPlan selects the units that fit the cluster, walking the ordered
// queue and admitting every unit whose size still fits the remaining
// capacity. It deliberately does not stop at the first unit that doesn't
// fit: a smaller, lower-priority unit behind it may still use a slot no
// higher-priority unit could, which keeps the cluster work-conserving
// without violating priority order.
func buildPlan(units []*Unit, totalNodes int) []*Unit {
	var plan []*Unit
	needed := 0
	for _, u := range units {
		if needed+u.RequiredNodes() <= totalNodes {
			plan = append(plan, u)
			needed += u.RequiredNodes()
		}
	}
	return plan
}
