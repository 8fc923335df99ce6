// Package config holds the bench settings, loadable from a YAML file so a
// test matrix can be checked in and replayed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osmsg/GoMsgChan/internal/testbench"
)

// Duration wraps time.Duration so YAML values like "5s" parse naturally.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Concurrency is one producer/consumer pairing of the bench matrix.
type Concurrency struct {
	Producers int `yaml:"producers"`
	Consumers int `yaml:"consumers"`
}

// Bench is the full bench configuration.
type Bench struct {
	Iterations   int           `yaml:"iterations"`
	Duration     Duration      `yaml:"duration"`
	PayloadSizes []int         `yaml:"payload_sizes"`
	Concurrency  []Concurrency `yaml:"concurrency"`
}

// Default returns the matrix used when no config file is given.
func Default() Bench {
	return Bench{
		Iterations:   5,
		Duration:     Duration(5 * time.Second),
		PayloadSizes: []int{64, 512, 4096},
		Concurrency: []Concurrency{
			{Producers: 2, Consumers: 2},
			{Producers: 10, Consumers: 10},
			{Producers: 50, Consumers: 50},
		},
	}
}

// Load reads a YAML bench configuration. Omitted fields keep their default
// values.
func Load(path string) (Bench, error) {
	b := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	if err := yaml.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := b.validate(); err != nil {
		return b, err
	}
	return b, nil
}

func (b Bench) validate() error {
	if b.Iterations < 1 {
		return fmt.Errorf("config: iterations must be at least 1, got %d", b.Iterations)
	}
	if time.Duration(b.Duration) <= 0 {
		return fmt.Errorf("config: duration must be positive")
	}
	if len(b.PayloadSizes) == 0 {
		return fmt.Errorf("config: at least one payload size is required")
	}
	for _, s := range b.PayloadSizes {
		if s < 1 {
			return fmt.Errorf("config: payload size must be positive, got %d", s)
		}
	}
	for _, c := range b.Concurrency {
		if c.Producers < 1 || c.Consumers < 1 {
			return fmt.Errorf("config: concurrency entries need at least one producer and one consumer")
		}
	}
	return nil
}

// Scenarios expands the configured matrix for one payload size into
// testbench configs.
func (b Bench) Scenarios(payloadSize int) []testbench.Config {
	out := make([]testbench.Config, 0, len(b.Concurrency))
	for _, c := range b.Concurrency {
		out = append(out, testbench.Config{
			NumProducers: c.Producers,
			NumConsumers: c.Consumers,
			PayloadSize:  payloadSize,
		})
	}
	return out
}
