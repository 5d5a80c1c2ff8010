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

package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type settingsKeyType struct{}

var ContextKey = settingsKeyType{}

// Settings holds the process configuration. Everything is sourced from the
// environment; the scheduler has no ConfigMap or CRD surface.
type Settings struct {
	// SchedulerName filters the pod watch stream down to the pods this
	// scheduler owns (spec.schedulerName).
	SchedulerName string `envconfig:"SCHEDULER_NAME" default:"custom-scheduler" validate:"required"`
	// MetricsPort serves the prometheus registry.
	MetricsPort int `envconfig:"METRICS_PORT" default:"8080" validate:"gt=0,lte=65535"`
	// ReinitCooldown is the minimum interval between forced
	// re-initializations, preventing a crash-looping reinit cycle.
	ReinitCooldown time.Duration `envconfig:"REINIT_COOLDOWN" default:"30s" validate:"gt=0"`
	// ReinitSettleDelay is how long we wait for in-flight platform calls to
	// land before re-reading cluster state during a re-initialization.
	ReinitSettleDelay time.Duration `envconfig:"REINIT_SETTLE_DELAY" default:"10s" validate:"gte=0"`
}

// NewSettings reads settings from the environment, applying defaults.
func NewSettings() (Settings, error) {
	s := Settings{}
	if err := envconfig.Process("", &s); err != nil {
		return Settings{}, fmt.Errorf("parsing settings from environment, %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("validating settings, %w", err)
	}
	return s, nil
}

func (s Settings) Validate() error {
	return multierr.Combine(
		validator.New().Struct(s),
	)
}

func ToContext(ctx context.Context, s Settings) context.Context {
	return context.WithValue(ctx, ContextKey, s)
}

func FromContext(ctx context.Context) Settings {
	data := ctx.Value(ContextKey)
	if data == nil {
		// This is developer error if this happens, so we should panic
		panic("settings doesn't exist in context")
	}
	return data.(Settings)
}
