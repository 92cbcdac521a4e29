// Package clock abstracts wall time so lifecycle transitions and
// billing-period math stay testable with a fake clock.
package clock

import (
	"time"

	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func NewSystemClock() Clock { return systemClock{} }

// Module wires the system clock as the default Clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
