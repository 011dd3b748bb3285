package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/vkexec/engine/core"
	"github.com/spaghettifunk/vkexec/engine/vulkan/vkapi"
)

type LogConfig struct {
	Level string `toml:"level"`
}

type DeviceConfig struct {
	// Name selects the first physical device whose name contains it.
	// Empty prefers the first discrete GPU.
	Name       string `toml:"name"`
	Validation bool   `toml:"validation"`
}

type ExecConfig struct {
	// Queue is the purpose of the queue family the pool submits to.
	Queue      string `toml:"queue"`
	Contexts   int    `toml:"contexts"`
	Timestamps bool   `toml:"timestamps"`
}

type WorkloadConfig struct {
	Workers int `toml:"workers"`
	// Rounds is the number of rounds to run. Zero runs until stopped.
	Rounds     int    `toml:"rounds"`
	BufferSize uint64 `toml:"buffer_size"`
	IntervalMS int    `toml:"interval_ms"`
}

type Config struct {
	Log      LogConfig      `toml:"log"`
	Device   DeviceConfig   `toml:"device"`
	Exec     ExecConfig     `toml:"exec"`
	Workload WorkloadConfig `toml:"workload"`
}

var queuePurposes = map[string]vkapi.QueueFlags{
	"graphics": vkapi.QueueGraphics,
	"compute":  vkapi.QueueCompute,
	"transfer": vkapi.QueueTransfer,
	"decode":   vkapi.QueueVideoDecode,
	"encode":   vkapi.QueueVideoEncode,
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Exec: ExecConfig{
			Queue:      "transfer",
			Contexts:   4,
			Timestamps: true,
		},
		Workload: WorkloadConfig{
			Workers:    2,
			Rounds:     8,
			BufferSize: 1 << 20,
			IntervalMS: 100,
		},
	}
}

// Load reads a TOML file on top of the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory documents.
func Parse(data []byte) (*Config, error) {
	return decode(bytes.NewReader(data))
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%s: %w", strict.String(), core.ErrInvalidArgument)
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("line %d column %d: %s: %w", row, col, derr.Error(), core.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("%s: %w", err, core.ErrInvalidArgument)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Exec.Contexts < 1 {
		return fmt.Errorf("exec.contexts must be at least 1, got %d: %w", c.Exec.Contexts, core.ErrInvalidArgument)
	}
	if _, ok := queuePurposes[strings.ToLower(c.Exec.Queue)]; !ok {
		return fmt.Errorf("unknown exec.queue %q: %w", c.Exec.Queue, core.ErrInvalidArgument)
	}
	if c.Workload.Workers < 1 {
		return fmt.Errorf("workload.workers must be at least 1, got %d: %w", c.Workload.Workers, core.ErrInvalidArgument)
	}
	if c.Workload.Rounds < 0 {
		return fmt.Errorf("workload.rounds cannot be negative: %w", core.ErrInvalidArgument)
	}
	if c.Workload.BufferSize == 0 || c.Workload.BufferSize%4 != 0 {
		return fmt.Errorf("workload.buffer_size must be a non-zero multiple of 4, got %d: %w",
			c.Workload.BufferSize, core.ErrInvalidArgument)
	}
	if c.Workload.IntervalMS < 0 {
		return fmt.Errorf("workload.interval_ms cannot be negative: %w", core.ErrInvalidArgument)
	}
	return nil
}

// QueuePurpose returns the queue flag matching Exec.Queue.
func (c *Config) QueuePurpose() vkapi.QueueFlags {
	return queuePurposes[strings.ToLower(c.Exec.Queue)]
}

// PoolChanged reports whether switching from c to next needs a new
// execution pool.
func (c *Config) PoolChanged(next *Config) bool {
	return c.Exec != next.Exec
}

func (c *Config) String() string {
	b, err := toml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
