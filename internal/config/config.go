package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/agentctl/internal/agent"
	"github.com/danmuck/agentctl/internal/protocol/packet"
	gotoml "github.com/pelletier/go-toml/v2"
)

const EnvAuthSock = "SSH_AUTH_SOCK"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Socket               string
	ControlCapacity      int
	ResponseCapacity     int
	MaxPayloadBytes      uint64
	MaxProtocolAnomalies int
	RequestTimeout       time.Duration
	Bridge               BridgeConfig
}

// BridgeConfig configures the HTTP bridge. A non-empty Token guards the
// agent routes with bearer auth.
type BridgeConfig struct {
	Addr        string
	CorsOrigins []string
	Token       string
}

// fileConfig is the on-disk shape; durations stay strings so rendered files
// read the same as hand-written ones.
type fileConfig struct {
	Socket               string     `toml:"socket"`
	ControlCapacity      int        `toml:"control_capacity"`
	ResponseCapacity     int        `toml:"response_capacity"`
	MaxPayloadBytes      uint64     `toml:"max_payload_bytes"`
	MaxProtocolAnomalies int        `toml:"max_protocol_anomalies"`
	RequestTimeout       string     `toml:"request_timeout"`
	Bridge               fileBridge `toml:"bridge"`
}

type fileBridge struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token,omitempty"`
}

func Default() Config {
	def := agent.DefaultConfig()
	return Config{
		Socket:               strings.TrimSpace(os.Getenv(EnvAuthSock)),
		ControlCapacity:      def.ControlCapacity,
		ResponseCapacity:     def.ResponseCapacity,
		MaxPayloadBytes:      def.Limits.MaxPayloadBytes,
		MaxProtocolAnomalies: def.MaxProtocolAnomalies,
		RequestTimeout:       5 * time.Second,
		Bridge: BridgeConfig{
			Addr:        "127.0.0.1:9107",
			CorsOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load is Decode followed by Validate.
func Load(path string) (Config, error) {
	cfg, err := Decode(path)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays the keys present in path on Default without validating,
// so callers can apply flag overrides first.
func Decode(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	if meta.IsDefined("socket") {
		cfg.Socket = strings.TrimSpace(raw.Socket)
	}
	if meta.IsDefined("control_capacity") {
		cfg.ControlCapacity = raw.ControlCapacity
	}
	if meta.IsDefined("response_capacity") {
		cfg.ResponseCapacity = raw.ResponseCapacity
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("max_protocol_anomalies") {
		cfg.MaxProtocolAnomalies = raw.MaxProtocolAnomalies
	}
	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if meta.IsDefined("bridge", "addr") {
		cfg.Bridge.Addr = strings.TrimSpace(raw.Bridge.Addr)
	}
	if meta.IsDefined("bridge", "cors_origins") {
		cfg.Bridge.CorsOrigins = normalizeOrigins(raw.Bridge.CorsOrigins)
	}
	if meta.IsDefined("bridge", "token") {
		cfg.Bridge.Token = strings.TrimSpace(raw.Bridge.Token)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Socket) == "" {
		return fmt.Errorf("%w: socket is required (set socket or %s)", ErrInvalid, EnvAuthSock)
	}
	if cfg.ControlCapacity <= 0 {
		return fmt.Errorf("%w: control_capacity must be positive", ErrInvalid)
	}
	if cfg.ResponseCapacity <= 0 {
		return fmt.Errorf("%w: response_capacity must be positive", ErrInvalid)
	}
	if cfg.MaxPayloadBytes == 0 || cfg.MaxPayloadBytes > math.MaxUint32 {
		return fmt.Errorf("%w: max_payload_bytes must be in 1..%d", ErrInvalid, uint64(math.MaxUint32))
	}
	if cfg.MaxProtocolAnomalies < 0 {
		return fmt.Errorf("%w: max_protocol_anomalies must not be negative", ErrInvalid)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalid)
	}
	if strings.TrimSpace(cfg.Bridge.Addr) == "" {
		return fmt.Errorf("%w: bridge.addr is required", ErrInvalid)
	}
	return nil
}

// AgentConfig sizes the engine from cfg.
func (c Config) AgentConfig() agent.Config {
	return agent.Config{
		ControlCapacity:      c.ControlCapacity,
		ResponseCapacity:     c.ResponseCapacity,
		Limits:               packet.Limits{MaxPayloadBytes: c.MaxPayloadBytes},
		MaxProtocolAnomalies: c.MaxProtocolAnomalies,
	}
}

// Render encodes cfg in the same TOML shape Load reads.
func Render(cfg Config) (string, error) {
	raw := fileConfig{
		Socket:               cfg.Socket,
		ControlCapacity:      cfg.ControlCapacity,
		ResponseCapacity:     cfg.ResponseCapacity,
		MaxPayloadBytes:      cfg.MaxPayloadBytes,
		MaxProtocolAnomalies: cfg.MaxProtocolAnomalies,
		RequestTimeout:       cfg.RequestTimeout.String(),
		Bridge: fileBridge{
			Addr:        cfg.Bridge.Addr,
			CorsOrigins: cfg.Bridge.CorsOrigins,
			Token:       cfg.Bridge.Token,
		},
	}
	out, err := gotoml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("config render failed: %w", err)
	}
	return string(out), nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
