package agent

import (
	"github.com/danmuck/agentctl/internal/observability"
	"github.com/danmuck/agentctl/internal/protocol/packet"
	"github.com/rs/zerolog"
)

const defaultChannelCapacity = 10

// Config sizes the engine channels and frame limits. MaxProtocolAnomalies
// stops Run after that many consecutive non-response packets; zero logs and
// drops them forever.
type Config struct {
	ControlCapacity      int
	ResponseCapacity     int
	Limits               packet.Limits
	MaxProtocolAnomalies int
	Logger               *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		ControlCapacity:  defaultChannelCapacity,
		ResponseCapacity: defaultChannelCapacity,
		Limits:           packet.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ControlCapacity <= 0 {
		c.ControlCapacity = def.ControlCapacity
	}
	if c.ResponseCapacity <= 0 {
		c.ResponseCapacity = def.ResponseCapacity
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	if c.MaxProtocolAnomalies < 0 {
		c.MaxProtocolAnomalies = 0
	}
	if c.Logger == nil {
		logger := observability.Component("agent.client")
		c.Logger = &logger
	}
	return c
}
