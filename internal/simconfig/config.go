// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package simconfig loads bufqsim configuration from file, environment
// and defaults.
package simconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"code.hybscloud.com/bufq"
	"code.hybscloud.com/bufq/internal/sim"
	"github.com/gogpu/gputypes"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. BUFQSIM_QUEUE_WIDTH.
const EnvPrefix = "BUFQSIM"

// Config is the complete simulator configuration.
type Config struct {
	Queue   QueueConfig   `mapstructure:"queue" yaml:"queue"`
	Sim     SimConfig     `mapstructure:"sim" yaml:"sim"`
	Trace   TraceConfig   `mapstructure:"trace" yaml:"trace"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type QueueConfig struct {
	Name           string        `mapstructure:"name" yaml:"name"`
	Width          uint32        `mapstructure:"width" yaml:"width"`
	Height         uint32        `mapstructure:"height" yaml:"height"`
	Format         string        `mapstructure:"format" yaml:"format"`
	MaxDequeued    int           `mapstructure:"max_dequeued" yaml:"max_dequeued"`
	MaxAcquired    int           `mapstructure:"max_acquired" yaml:"max_acquired"`
	Async          bool          `mapstructure:"async" yaml:"async"`
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout" yaml:"dequeue_timeout"`
}

type SimConfig struct {
	Frames           int           `mapstructure:"frames" yaml:"frames"`
	ProducerInterval time.Duration `mapstructure:"producer_interval" yaml:"producer_interval"`
	ConsumerInterval time.Duration `mapstructure:"consumer_interval" yaml:"consumer_interval"`
	FenceDelay       time.Duration `mapstructure:"fence_delay" yaml:"fence_delay"`
	DetachEvery      int           `mapstructure:"detach_every" yaml:"detach_every"`
}

type TraceConfig struct {
	// Sink is one of "none", "log" or "msgpack".
	Sink     string `mapstructure:"sink" yaml:"sink"`
	File     string `mapstructure:"file" yaml:"file"`
	Capacity int    `mapstructure:"capacity" yaml:"capacity"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

var formats = map[string]gputypes.TextureFormat{
	"rgba8":           gputypes.TextureFormatRGBA8Unorm,
	"bgra8":           gputypes.TextureFormatBGRA8Unorm,
	"r8":              gputypes.TextureFormatR8Unorm,
	"depth24stencil8": gputypes.TextureFormatDepth24PlusStencil8,
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Name:           "bufqsim",
			Width:          1280,
			Height:         720,
			Format:         "rgba8",
			MaxDequeued:    2,
			MaxAcquired:    1,
			DequeueTimeout: 100 * time.Millisecond,
		},
		Sim: SimConfig{
			Frames:           240,
			ProducerInterval: 4 * time.Millisecond,
			ConsumerInterval: 6 * time.Millisecond,
			FenceDelay:       time.Millisecond,
			DetachEvery:      30,
		},
		Trace: TraceConfig{
			Sink:     "none",
			File:     "bufqsim.trace",
			Capacity: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads cfgFile, or config.yaml from ~/.bufqsim and the working
// directory, then applies BUFQSIM_* environment overrides. A missing
// config file is not an error.
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.New(), cfgFile)
}

// LoadWith is Load on a caller-provided viper instance, so that command
// line flags bound to v take precedence.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bufqsim"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges the queue builder would otherwise panic on.
func (c *Config) Validate() error {
	if c.Queue.Width == 0 || c.Queue.Height == 0 {
		return errors.New("queue.width and queue.height must be non-zero")
	}
	if _, err := ParseFormat(c.Queue.Format); err != nil {
		return err
	}
	if c.Queue.MaxAcquired < 1 || c.Queue.MaxAcquired > bufq.MaxSlots-2 {
		return fmt.Errorf("queue.max_acquired must be between 1 and %d", bufq.MaxSlots-2)
	}
	extra := 0
	if c.Queue.Async {
		extra = 1
	}
	if c.Queue.MaxDequeued < 1 || c.Queue.MaxDequeued+c.Queue.MaxAcquired+extra > bufq.MaxSlots {
		return fmt.Errorf("queue.max_dequeued must be between 1 and %d", bufq.MaxSlots-c.Queue.MaxAcquired-extra)
	}
	if c.Sim.Frames < 1 {
		return errors.New("sim.frames must be positive")
	}
	if c.Sim.DetachEvery < 0 {
		return errors.New("sim.detach_every must not be negative")
	}
	validSinks := []string{"none", "log", "msgpack"}
	if !slices.Contains(validSinks, c.Trace.Sink) {
		return fmt.Errorf("trace.sink must be one of: %v", validSinks)
	}
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	validFormats := []string{"text", "json"}
	if !slices.Contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validFormats)
	}
	return nil
}

// ParseFormat maps a config format name to a texture format.
func ParseFormat(name string) (gputypes.TextureFormat, error) {
	f, ok := formats[strings.ToLower(name)]
	if !ok {
		return gputypes.TextureFormatUndefined, fmt.Errorf("queue.format %q must be one of: %v", name, FormatNames())
	}
	return f, nil
}

// FormatNames lists the accepted queue.format values.
func FormatNames() []string {
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// SimRun converts the configuration into a simulation run description.
func (c *Config) SimRun() sim.Config {
	format, _ := ParseFormat(c.Queue.Format)
	return sim.Config{
		Name:             c.Queue.Name,
		Width:            c.Queue.Width,
		Height:           c.Queue.Height,
		Format:           format,
		MaxDequeued:      c.Queue.MaxDequeued,
		MaxAcquired:      c.Queue.MaxAcquired,
		Async:            c.Queue.Async,
		DequeueTimeout:   c.Queue.DequeueTimeout,
		Frames:           c.Sim.Frames,
		ProducerInterval: c.Sim.ProducerInterval,
		ConsumerInterval: c.Sim.ConsumerInterval,
		FenceDelay:       c.Sim.FenceDelay,
		DetachEvery:      c.Sim.DetachEvery,
	}
}

// YAML renders the configuration with durations in their string form.
func (c *Config) YAML() ([]byte, error) {
	doc := map[string]map[string]any{
		"queue": {
			"name":            c.Queue.Name,
			"width":           c.Queue.Width,
			"height":          c.Queue.Height,
			"format":          c.Queue.Format,
			"max_dequeued":    c.Queue.MaxDequeued,
			"max_acquired":    c.Queue.MaxAcquired,
			"async":           c.Queue.Async,
			"dequeue_timeout": c.Queue.DequeueTimeout.String(),
		},
		"sim": {
			"frames":            c.Sim.Frames,
			"producer_interval": c.Sim.ProducerInterval.String(),
			"consumer_interval": c.Sim.ConsumerInterval.String(),
			"fence_delay":       c.Sim.FenceDelay.String(),
			"detach_every":      c.Sim.DetachEvery,
		},
		"trace": {
			"sink":     c.Trace.Sink,
			"file":     c.Trace.File,
			"capacity": c.Trace.Capacity,
		},
		"logging": {
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"file":   c.Logging.File,
		},
	}
	return yaml.Marshal(doc)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("queue.name", cfg.Queue.Name)
	v.SetDefault("queue.width", cfg.Queue.Width)
	v.SetDefault("queue.height", cfg.Queue.Height)
	v.SetDefault("queue.format", cfg.Queue.Format)
	v.SetDefault("queue.max_dequeued", cfg.Queue.MaxDequeued)
	v.SetDefault("queue.max_acquired", cfg.Queue.MaxAcquired)
	v.SetDefault("queue.async", cfg.Queue.Async)
	v.SetDefault("queue.dequeue_timeout", cfg.Queue.DequeueTimeout)

	v.SetDefault("sim.frames", cfg.Sim.Frames)
	v.SetDefault("sim.producer_interval", cfg.Sim.ProducerInterval)
	v.SetDefault("sim.consumer_interval", cfg.Sim.ConsumerInterval)
	v.SetDefault("sim.fence_delay", cfg.Sim.FenceDelay)
	v.SetDefault("sim.detach_every", cfg.Sim.DetachEvery)

	v.SetDefault("trace.sink", cfg.Trace.Sink)
	v.SetDefault("trace.file", cfg.Trace.File)
	v.SetDefault("trace.capacity", cfg.Trace.Capacity)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
}
