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

package pretty

import (
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"

	"github.com/minkovich/gang-scheduler/pkg/utils/functional"
)

// ChangeMonitor reduces log volume for values that rarely change, e.g. the
// dispatcher's per-event cluster summary. Recorded hashes expire so a stable
// value is still re-logged occasionally rather than only at startup.
type ChangeMonitor struct {
	lastSeen *cache.Cache
}

type Options struct {
	VisibilityTimeout time.Duration
}

func WithVisibilityTimeout(d time.Duration) functional.Option[Options] {
	return func(o Options) Options {
		o.VisibilityTimeout = d
		return o
	}
}

func NewChangeMonitor(opts ...functional.Option[Options]) *ChangeMonitor {
	options := functional.ResolveOptions(opts...)
	if options.VisibilityTimeout == 0 {
		options.VisibilityTimeout = time.Hour * 24
	}
	return &ChangeMonitor{
		lastSeen: cache.New(options.VisibilityTimeout, options.VisibilityTimeout/2),
	}
}

// HasChanged hashes value and returns true if the hash differs from the last
// one recorded under key, recording the new hash either way.
func (c *ChangeMonitor) HasChanged(key string, value any) bool {
	hv, _ := hashstructure.Hash(value, hashstructure.FormatV2, &hashstructure.HashOptions{SlicesAsSets: true})
	existing, ok := c.lastSeen.Get(key)
	if ok && existing.(uint64) == hv {
		return false
	}
	c.lastSeen.SetDefault(key, hv)
	return true
}
