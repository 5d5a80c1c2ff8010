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
	"sort"

	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Unit is an atomic reservation: a single pod, or a complete gang whose
// members must land on distinct nodes together. Units are derived from the
// pod table on every decision and never persisted.
type Unit struct {
	// Pods are the members in arrival order. Singles have exactly one.
	Pods []*Pod
	// GangName is empty for singles.
	GangName string
	// Priority is the effective priority: the pod's own for a single, the
	// minimum across members for a gang. A gang is only as urgent as its
	// least urgent member, otherwise a low-priority pod could ride in on a
	// high-priority gang.
	Priority int
}

func (u *Unit) IsGang() bool {
	return u.GangName != ""
}

// RequiredNodes is the capacity this unit reserves under one-pod-per-node.
func (u *Unit) RequiredNodes() int {
	return len(u.Pods)
}

func (u *Unit) ordinal() int64 {
	return u.Pods[0].ordinal
}

// buildUnits partitions the pod table into scheduling units. Pods waiting on
// deletion join no unit, a gang with any such member is suppressed entirely,
// and a gang being reformed after preemption stays suppressed until its
// membership settles.
func buildUnits(pods map[string]*Pod, gangsInTransition sets.Set[string]) []*Unit {
	var units []*Unit
	gangs := map[string][]*Pod{}
	for _, p := range pods {
		if p.GangName != "" {
			gangs[p.GangName] = append(gangs[p.GangName], p)
			continue
		}
		if p.WaitingOnDeletion {
			continue
		}
		units = append(units, &Unit{Pods: []*Pod{p}, Priority: p.Priority})
	}
	for name, members := range gangs {
		if gangsInTransition.Has(name) {
			continue
		}
		if lo.SomeBy(members, func(p *Pod) bool { return p.WaitingOnDeletion }) {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ordinal < members[j].ordinal })
		units = append(units, &Unit{
			Pods:     members,
			GangName: name,
			Priority: lo.MinBy(members, func(a, b *Pod) bool { return a.Priority < b.Priority }).Priority,
		})
	}
	sortUnits(units)
	return units
}

// sortUnits orders units by descending effective priority, then ascending
// size. Smaller reservations are strictly easier to admit, so at equal
// priority they go first. Arrival order breaks exact ties, which keeps two
// invocations over identical state producing identical plans.
func sortUnits(units []*Unit) {
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if len(a.Pods) != len(b.Pods) {
			return len(a.Pods) < len(b.Pods)
		}
		return a.ordinal() < b.ordinal()
	})
}
