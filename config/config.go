package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config holds the engine-wide settings loaded from the YAML configuration
// file. Durations are expressed in milliseconds so the file stays plain
// integers.
type Config struct {
	ProtocolID      int `yaml:"protocolID"`      // protocol number used by the wire codec
	PreferredMSS    int `yaml:"preferredMSS"`    // maximum payload bytes per segment
	PayloadPoolSize int `yaml:"payloadPoolSize"` // number of payload chunks in the ring pool

	AdvertisedWindow int `yaml:"advertisedWindow"` // receive window advertised to the peer, in segments
	InitialCwnd      int `yaml:"initialCwnd"`      // congestion window at connection start, in segments
	InitialSsthresh  int `yaml:"initialSsthresh"`  // slow start threshold at connection start, in segments

	RtoMin          int `yaml:"rtoMin"`          // RTO floor in milliseconds
	RtoMax          int `yaml:"rtoMax"`          // RTO cap in milliseconds
	RtoInitial      int `yaml:"rtoInitial"`      // RTO before the first RTT sample, in milliseconds
	TimeWaitTimeout int `yaml:"timeWaitTimeout"` // TIME-WAIT hold time in milliseconds

	SlowStartPerAck bool `yaml:"slowStartPerAck"` // grow cwnd per ACK instead of per round trip
	FastRetransmit  bool `yaml:"fastRetransmit"`  // treat repeated duplicate ACKs as an early loss signal
	DupAckThreshold int  `yaml:"dupAckThreshold"` // duplicate ACK count that triggers fast retransmit

	LinkDelay int     `yaml:"linkDelay"` // one-way channel delay in milliseconds
	LossRate  float64 `yaml:"lossRate"`  // channel loss probability, 0 disables
	LossSeed  int64   `yaml:"lossSeed"`  // seed for the loss oracle

	Debug bool `yaml:"debug"` // verbose logging of per-segment activity
}

// AppConfig is the process-wide configuration instance populated by ReadConfig.
var AppConfig *Config

// DefaultConfig returns a Config with the built-in defaults. ReadConfig starts
// from these so a partial YAML file only overrides what it names.
func DefaultConfig() *Config {
	return &Config{
		ProtocolID:       6,
		PreferredMSS:     1440,
		PayloadPoolSize:  2000,
		AdvertisedWindow: 8,
		InitialCwnd:      1,
		InitialSsthresh:  16,
		RtoMin:           1000,
		RtoMax:           60000,
		RtoInitial:       1000,
		TimeWaitTimeout:  2000,
		SlowStartPerAck:  false,
		FastRetransmit:   false,
		DupAckThreshold:  3,
		LinkDelay:        50,
		LossRate:         0,
		LossSeed:         1,
	}
}

// ReadConfig loads the YAML file at path on top of the defaults.
func ReadConfig(path string) (*Config, error) {
	conf := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// Validate rejects settings that would violate the engine's invariants.
func (c *Config) Validate() error {
	if c.InitialCwnd < 1 {
		return fmt.Errorf("config: initialCwnd must be at least 1, got %d", c.InitialCwnd)
	}
	if c.InitialSsthresh < 2 {
		return fmt.Errorf("config: initialSsthresh must be at least 2, got %d", c.InitialSsthresh)
	}
	if c.AdvertisedWindow < 1 {
		return fmt.Errorf("config: advertisedWindow must be at least 1, got %d", c.AdvertisedWindow)
	}
	if c.RtoMin <= 0 || c.RtoMax < c.RtoMin {
		return fmt.Errorf("config: invalid RTO bounds [%d, %d]", c.RtoMin, c.RtoMax)
	}
	if c.LossRate < 0 || c.LossRate >= 1 {
		return fmt.Errorf("config: lossRate must be in [0, 1), got %f", c.LossRate)
	}
	if c.DupAckThreshold < 1 {
		c.DupAckThreshold = 3
	}
	return nil
}
