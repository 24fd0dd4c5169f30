package events

import (
	"github.com/Conte777/tgvault/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the event bus as the process-wide Publisher
var Module = fx.Module("events",
	fx.Provide(
		NewBusFx,
		func(b *Bus) Publisher { return b },
	),
)

// BusParams collects relays contributed by transport modules
type BusParams struct {
	fx.In

	Relays  []Relay `group:"event_relays"`
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// NewBusFx builds the bus from every enabled relay
func NewBusFx(p BusParams) *Bus {
	enabled := make([]Relay, 0, len(p.Relays))
	for _, r := range p.Relays {
		if r.Publisher != nil {
			enabled = append(enabled, r)
		}
	}
	return NewBus(enabled, p.Metrics, p.Logger)
}
