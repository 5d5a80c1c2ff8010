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

package scheduling_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/minkovich/gang-scheduler/pkg/controllers/scheduling"
)

var _ = Describe("Engine", func() {
	var engine *scheduling.Engine

	BeforeEach(func() {
		engine = scheduling.NewEngine()
	})

	Context("Initialization", func() {
		It("should bind pending pods that fit", func() {
			actions, err := engine.Initialize(ctx, []string{"node-1", "node-2"}, []scheduling.Pod{single("a", 10), single("b", 20)})
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(Equal([]scheduling.Action{bind("b", "node-1"), bind("a", "node-2")}))
		})
		It("should leave running pods where they are", func() {
			actions, err := engine.Initialize(ctx, []string{"node-1"}, []scheduling.Pod{onNode(single("a", 10), "node-1")})
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(BeEmpty())
		})
		It("should ignore assignments to untracked nodes", func() {
			actions, err := engine.Initialize(ctx, []string{"node-1"}, []scheduling.Pod{onNode(single("a", 10), "node-unknown")})
			Expect(err).ToNot(HaveOccurred())
			// the recorded node isn't in the cluster, so the pod is pending
			Expect(actions).To(Equal([]scheduling.Action{bind("a", "node-1")}))
		})
	})

	Context("Preemption", func() {
		It("should preempt a lower priority pod for a higher priority one", func() {
			_, err := engine.Initialize(ctx, []string{"node-1"}, []scheduling.Pod{onNode(single("low", 10), "node-1")})
			Expect(err).ToNot(HaveOccurred())

			actions, err := engine.HandleEvent(ctx, added(single("high", 100)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(Equal([]scheduling.Action{preempt("low"), bind("high", "node-1")}))
		})
		It("should prefer a free node over preemption", func() {
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2", "node-3"}, []scheduling.Pod{
				onNode(single("low1", 10), "node-1"),
				onNode(single("low2", 10), "node-2"),
			})
			Expect(err).ToNot(HaveOccurred())

			actions, err := engine.HandleEvent(ctx, added(single("high", 100)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(Equal([]scheduling.Action{bind("high", "node-3")}))
		})
		It("should not resurrect a preempted pod while its deletion is in flight", func() {
			_, err := engine.Initialize(ctx, []string{"node-1"}, []scheduling.Pod{onNode(single("low", 10), "node-1")})
			Expect(err).ToNot(HaveOccurred())
			actions, err := engine.HandleEvent(ctx, added(single("high", 100)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(Equal([]scheduling.Action{preempt("low"), bind("high", "node-1")}))

			// another event before the platform confirms low's deletion;
			// low is waiting on deletion and must not be re-planned
			actions, err = engine.HandleEvent(ctx, added(single("other", 1)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(BeEmpty())
		})
	})

	Context("Gang scheduling", func() {
		It("should place a complete gang on distinct nodes in arrival order", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2", "node-3"}, nil)
			Expect(err).ToNot(HaveOccurred())
			for _, uid := range []string{"g1", "g2", "g3"} {
				actions, err := engine.HandleEvent(ctx, added(gangMember(uid, "A", 50)))
				Expect(err).ToNot(HaveOccurred())
				c.apply(actions)
			}
			Expect(c.nodes).To(Equal(map[string]string{"node-1": "g1", "node-2": "g2", "node-3": "g3"}))
		})
		It("should not let an unschedulable gang block other workloads", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2"}, nil)
			Expect(err).ToNot(HaveOccurred())
			for _, uid := range []string{"a1", "a2", "a3"} {
				actions, err := engine.HandleEvent(ctx, added(gangMember(uid, "A", 50)))
				Expect(err).ToNot(HaveOccurred())
				c.apply(actions)
			}
			// the third member made the gang unschedulable; members bound so
			// far are preempted and the gang holds nothing
			Expect(c.nodes).To(BeEmpty())

			actions, err := engine.HandleEvent(ctx, added(single("high", 100)))
			Expect(err).ToNot(HaveOccurred())
			c.apply(actions)
			Expect(c.nodeOf("high")).To(Equal("node-1"))
			Expect(c.nodes).To(HaveLen(1))
		})
		It("should let strictly lower priority pods schedule around a parked gang", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2"}, nil)
			Expect(err).ToNot(HaveOccurred())
			for _, uid := range []string{"a1", "a2", "a3"} {
				actions, err := engine.HandleEvent(ctx, added(gangMember(uid, "A", 50)))
				Expect(err).ToNot(HaveOccurred())
				c.apply(actions)
			}
			actions, err := engine.HandleEvent(ctx, added(single("low", 10)))
			Expect(err).ToNot(HaveOccurred())
			c.apply(actions)
			Expect(c.nodeOf("low")).ToNot(BeEmpty())
		})
		It("should rank a gang by its minimum member priority", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2"}, nil)
			Expect(err).ToNot(HaveOccurred())
			for _, evt := range []scheduling.Event{
				added(gangMember("m1", "A", 50)),
				added(gangMember("m2", "A", 30)),
			} {
				actions, err := engine.HandleEvent(ctx, evt)
				Expect(err).ToNot(HaveOccurred())
				c.apply(actions)
			}
			// effective gang priority is 30, so a 40 single outranks it and
			// the two-node gang can no longer fit beside it
			actions, err := engine.HandleEvent(ctx, added(single("mid", 40)))
			Expect(err).ToNot(HaveOccurred())
			c.apply(actions)
			Expect(c.nodeOf("mid")).ToNot(BeEmpty())
			Expect(c.nodeOf("m1")).To(BeEmpty())
			Expect(c.nodeOf("m2")).To(BeEmpty())
		})
		It("should admit smaller units first at equal priority", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2", "node-3"}, nil)
			Expect(err).ToNot(HaveOccurred())
			for _, evt := range []scheduling.Event{
				added(gangMember("a1", "A", 50)),
				added(gangMember("a2", "A", 50)),
				added(gangMember("a3", "A", 50)),
				added(single("s1", 50)),
				added(single("s2", 50)),
			} {
				actions, err := engine.HandleEvent(ctx, evt)
				Expect(err).ToNot(HaveOccurred())
				c.apply(actions)
			}
			Expect(c.nodeOf("s1")).ToNot(BeEmpty())
			Expect(c.nodeOf("s2")).ToNot(BeEmpty())
			for _, uid := range []string{"a1", "a2", "a3"} {
				Expect(c.nodeOf(uid)).To(BeEmpty())
			}
		})
	})

	Context("Gang reformation", func() {
		It("should suppress a gang until its preempted members reappear", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2"}, nil)
			Expect(err).ToNot(HaveOccurred())
			for _, evt := range []scheduling.Event{
				added(gangMember("a1", "A", 50)),
				added(gangMember("a2", "A", 50)),
			} {
				actions, err := engine.HandleEvent(ctx, evt)
				Expect(err).ToNot(HaveOccurred())
				c.apply(actions)
			}
			// the high single displaces the whole gang
			actions, err := engine.HandleEvent(ctx, added(single("high", 100)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(Equal([]scheduling.Action{preempt("a1"), preempt("a2"), bind("high", "node-1")}))
			c.apply(actions)

			// platform confirms the deletions; gang A stays in transition
			for _, uid := range []string{"a1", "a2"} {
				actions, err = engine.HandleEvent(ctx, deleted(gangMember(uid, "A", 50)))
				Expect(err).ToNot(HaveOccurred())
				Expect(actions).To(BeEmpty())
				c.apply(actions)
			}

			// the controller recreates a member under a fresh uid; the gang
			// reforms and schedules into the remaining capacity
			actions, err = engine.HandleEvent(ctx, added(gangMember("a1-reborn", "A", 50)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(Equal([]scheduling.Action{bind("a1-reborn", "node-2")}))
		})
		It("should hold a gang in transition while any member awaits deletion", func() {
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2"}, nil)
			Expect(err).ToNot(HaveOccurred())
			for _, evt := range []scheduling.Event{
				added(gangMember("a1", "A", 50)),
				added(gangMember("a2", "A", 50)),
				added(single("high", 100)),
			} {
				_, err := engine.HandleEvent(ctx, evt)
				Expect(err).ToNot(HaveOccurred())
			}
			// only a1's deletion has been observed; a2 is still in flight,
			// so a reborn member must not reactivate the gang yet
			_, err = engine.HandleEvent(ctx, deleted(gangMember("a1", "A", 50)))
			Expect(err).ToNot(HaveOccurred())
			actions, err := engine.HandleEvent(ctx, added(gangMember("a1-reborn", "A", 50)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(BeEmpty())
		})
	})

	Context("Stability", func() {
		It("should keep consistent placements across unrelated events", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2", "node-3"}, []scheduling.Pod{
				onNode(single("a", 10), "node-2"),
			})
			Expect(err).ToNot(HaveOccurred())
			actions, err := engine.HandleEvent(ctx, added(single("b", 20)))
			Expect(err).ToNot(HaveOccurred())
			c.apply(actions)
			// a was bound to node-2 before the event and stays there
			Expect(actions).To(Equal([]scheduling.Action{bind("b", "node-1")}))
		})
	})

	Context("Idempotence", func() {
		It("should return no actions when an event is replayed", func() {
			_, err := engine.Initialize(ctx, []string{"node-1"}, nil)
			Expect(err).ToNot(HaveOccurred())
			actions, err := engine.HandleEvent(ctx, added(single("a", 10)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(Equal([]scheduling.Action{bind("a", "node-1")}))

			actions, err = engine.HandleEvent(ctx, added(single("a", 10)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(BeEmpty())
		})
		It("should restore an equivalent placement after delete and re-add", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2"}, nil)
			Expect(err).ToNot(HaveOccurred())
			actions, err := engine.HandleEvent(ctx, added(single("a", 10)))
			Expect(err).ToNot(HaveOccurred())
			c.apply(actions)

			actions, err = engine.HandleEvent(ctx, deleted(single("a", 10)))
			Expect(err).ToNot(HaveOccurred())
			// the deletion happened on the platform; mirror it in the simulation
			delete(c.nodes, c.nodeOf("a"))
			c.apply(actions)
			Expect(c.nodes).To(BeEmpty())

			actions, err = engine.HandleEvent(ctx, added(single("a-reborn", 10)))
			Expect(err).ToNot(HaveOccurred())
			c.apply(actions)
			Expect(c.nodeOf("a-reborn")).ToNot(BeEmpty())
		})
	})

	Context("Transient inconsistencies", func() {
		It("should treat a consistent modified event as a no-op", func() {
			_, err := engine.Initialize(ctx, []string{"node-1"}, []scheduling.Pod{onNode(single("a", 10), "node-1")})
			Expect(err).ToNot(HaveOccurred())
			actions, err := engine.HandleEvent(ctx, modified(onNode(single("a", 10), "node-1")))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(BeEmpty())
		})
		It("should return no actions for a modified event about an unknown pod", func() {
			_, err := engine.Initialize(ctx, []string{"node-1"}, nil)
			Expect(err).ToNot(HaveOccurred())
			actions, err := engine.HandleEvent(ctx, modified(onNode(single("ghost", 10), "node-1")))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(BeEmpty())
		})
		It("should never reassign on an inconsistent modified event", func() {
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2"}, []scheduling.Pod{onNode(single("a", 10), "node-1")})
			Expect(err).ToNot(HaveOccurred())
			actions, err := engine.HandleEvent(ctx, modified(onNode(single("a", 10), "node-2")))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(BeEmpty())
		})
		It("should ignore the deletion of an unknown pod", func() {
			_, err := engine.Initialize(ctx, []string{"node-1"}, nil)
			Expect(err).ToNot(HaveOccurred())
			actions, err := engine.HandleEvent(ctx, deleted(single("ghost", 10)))
			Expect(err).ToNot(HaveOccurred())
			Expect(actions).To(BeEmpty())
		})
	})

	Context("Capacity accounting", func() {
		It("should never assign more pods than nodes", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1", "node-2", "node-3"}, nil)
			Expect(err).ToNot(HaveOccurred())
			for i := 0; i < 10; i++ {
				actions, err := engine.HandleEvent(ctx, added(single(lo.RandomString(10, lo.LettersCharset), 10)))
				Expect(err).ToNot(HaveOccurred())
				c.apply(actions)
			}
			Expect(len(c.nodes)).To(BeNumerically("<=", 3))
		})
		It("should schedule freed capacity after a deletion", func() {
			c := newCluster()
			_, err := engine.Initialize(ctx, []string{"node-1"}, []scheduling.Pod{onNode(single("a", 10), "node-1")})
			Expect(err).ToNot(HaveOccurred())
			c.nodes["node-1"] = "a"

			actions, err := engine.HandleEvent(ctx, added(single("b", 5)))
			Expect(err).ToNot(HaveOccurred())
			c.apply(actions)
			Expect(actions).To(BeEmpty())

			actions, err = engine.HandleEvent(ctx, deleted(onNode(single("a", 10), "node-1")))
			Expect(err).ToNot(HaveOccurred())
			// the deletion happened on the platform; mirror it in the simulation
			delete(c.nodes, c.nodeOf("a"))
			c.apply(actions)
			Expect(actions).To(Equal([]scheduling.Action{bind("b", "node-1")}))
		})
	})
})
