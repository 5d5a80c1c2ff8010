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

package functional

// Option is a functional option for the options struct T.
type Option[T any] func(T) T

// ResolveOptions applies all options over the zero value of T.
func ResolveOptions[T any](opts ...Option[T]) T {
	o := *new(T)
	for _, opt := range opts {
		if opt != nil {
			o = opt(o)
		}
	}
	return o
}
