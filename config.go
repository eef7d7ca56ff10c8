package rudp

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes the retransmission and buffering parameters of a
// Multiplexer. The zero value is not valid; use DefaultConfig or LoadConfig.
type Config struct {
	// RetransmitTimeout is how long the transmit queue waits for an ack
	// before resending the head entry. Spec.md §5: 1000ms in the baseline.
	RetransmitTimeout time.Duration `yaml:"retransmit_timeout"`

	// MTU bounds the payload size of a single DATA datagram.
	MTU int `yaml:"mtu"`

	// ReceiveBufferSize bounds the size of the buffer each substrate read
	// fills; it must be at least large enough for a maximum-size datagram
	// (headerMaxSize + MTU).
	ReceiveBufferSize int `yaml:"receive_buffer_size"`

	// AcceptBacklog bounds how many established connections a Listener
	// will buffer before Accept is called.
	AcceptBacklog int `yaml:"accept_backlog"`
}

// UnmarshalYAML lets RetransmitTimeout be written as a duration string
// (e.g. "250ms") even though its Go type is time.Duration, which yaml.v3
// cannot parse from a string on its own.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	aux := struct {
		RetransmitTimeout string `yaml:"retransmit_timeout"`
		MTU               int    `yaml:"mtu"`
		ReceiveBufferSize int    `yaml:"receive_buffer_size"`
		AcceptBacklog     int    `yaml:"accept_backlog"`
	}{
		RetransmitTimeout: c.RetransmitTimeout.String(),
		MTU:               c.MTU,
		ReceiveBufferSize: c.ReceiveBufferSize,
		AcceptBacklog:     c.AcceptBacklog,
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}

	d, err := time.ParseDuration(aux.RetransmitTimeout)
	if err != nil {
		return fmt.Errorf("retransmit_timeout: %w", err)
	}
	c.RetransmitTimeout = d
	c.MTU = aux.MTU
	c.ReceiveBufferSize = aux.ReceiveBufferSize
	c.AcceptBacklog = aux.AcceptBacklog
	return nil
}

// DefaultConfig returns the baseline configuration from spec.md §5/§6.
func DefaultConfig() *Config {
	return &Config{
		RetransmitTimeout: 1000 * time.Millisecond,
		MTU:               MTU,
		ReceiveBufferSize: maxDatagramSize,
		AcceptBacklog:     16,
	}
}

// LoadConfig reads YAML configuration from path, applying it on top of
// DefaultConfig. A missing file is not an error; it yields the defaults,
// matching the corpus's config-loading convention (e.g. nexctl's
// config.Load) of treating "no config file yet" as "use defaults".
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("rudp: read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("rudp: parse config %s: %w", path, err)
	}
	if cfg.RetransmitTimeout <= 0 {
		return nil, fmt.Errorf("rudp: config %s: retransmit_timeout must be positive", path)
	}
	if cfg.MTU <= 0 || cfg.MTU > MTU {
		return nil, fmt.Errorf("rudp: config %s: mtu must be in (0, %d]", path, MTU)
	}
	if cfg.ReceiveBufferSize < headerMaxSize+cfg.MTU {
		return nil, fmt.Errorf("rudp: config %s: receive_buffer_size must be >= %d", path, headerMaxSize+cfg.MTU)
	}
	return cfg, nil
}
