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
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
)

const defaultDedupeTimeout = 2 * time.Minute

// Event is a de-duplicatable wrapper around a Kubernetes event.
type Event struct {
	InvolvedObject runtime.Object
	Type           string
	Reason         string
	Message        string
	// DedupeValues identify the event for suppression; repeats within the
	// timeout are dropped rather than spamming the API server.
	DedupeValues  []string
	DedupeTimeout time.Duration
}

func (e Event) dedupeKey() string {
	return strings.Join(append([]string{e.Reason}, e.DedupeValues...), "-")
}

type Recorder interface {
	Publish(...Event)
}

type recorder struct {
	rec   record.EventRecorder
	cache *cache.Cache
}

func NewRecorder(rec record.EventRecorder) Recorder {
	return &recorder{
		rec:   rec,
		cache: cache.New(defaultDedupeTimeout, 10*time.Second),
	}
}

func (r *recorder) Publish(evts ...Event) {
	for _, evt := range evts {
		r.publish(evt)
	}
}

func (r *recorder) publish(evt Event) {
	timeout := evt.DedupeTimeout
	if timeout == 0 {
		timeout = defaultDedupeTimeout
	}
	key := evt.dedupeKey()
	if _, exists := r.cache.Get(key); exists {
		return
	}
	r.cache.Set(key, nil, timeout)
	r.rec.Event(evt.InvolvedObject, evt.Type, evt.Reason, evt.Message)
}

// NopRecorder discards everything; used by tests and simulations.
type NopRecorder struct{}

func (NopRecorder) Publish(...Event) {}
