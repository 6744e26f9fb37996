// Package config loads the operator-facing configuration and seeds the flag
// store. Anything set here counts as explicitly supplied, the command-line
// equivalent the sizing policy gives highest precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/genvm/genheap/internal/align"
	"github.com/genvm/genheap/internal/flags"
)

// Size is a byte count that unmarshals from plain integers or strings with
// k/m/g suffixes.
type Size uint64

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	var n uint64
	if err := value.Decode(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	v, err := ParseSize(raw)
	if err != nil {
		return err
	}
	*s = Size(v)
	return nil
}

type Config struct {
	Heap   HeapConfig   `yaml:"heap"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// HeapConfig holds the operator's heap requests. Nil fields were not
// supplied and leave the corresponding flag at its default.
type HeapConfig struct {
	InitialHeapSize   *Size   `yaml:"initial_heap_size"`
	MaxHeapSize       *Size   `yaml:"max_heap_size"`
	MinHeapSize       *Size   `yaml:"min_heap_size"`
	NewSize           *Size   `yaml:"new_size"`
	MaxNewSize        *Size   `yaml:"max_new_size"`
	OldSize           *Size   `yaml:"old_size"`
	MinHeapDeltaBytes *Size   `yaml:"min_heap_delta_bytes"`
	NewRatio          *uint64 `yaml:"new_ratio"`
	Alignment         *Size   `yaml:"alignment"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: getEnv("LISTEN_ADDR", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	for _, f := range []struct {
		key  string
		dest **Size
	}{
		{"HEAP_INITIAL_SIZE", &cfg.Heap.InitialHeapSize},
		{"HEAP_MAX_SIZE", &cfg.Heap.MaxHeapSize},
		{"HEAP_MIN_SIZE", &cfg.Heap.MinHeapSize},
		{"HEAP_NEW_SIZE", &cfg.Heap.NewSize},
		{"HEAP_MAX_NEW_SIZE", &cfg.Heap.MaxNewSize},
		{"HEAP_OLD_SIZE", &cfg.Heap.OldSize},
		{"HEAP_MIN_DELTA_BYTES", &cfg.Heap.MinHeapDeltaBytes},
		{"HEAP_ALIGNMENT", &cfg.Heap.Alignment},
	} {
		raw := os.Getenv(f.key)
		if raw == "" {
			continue
		}
		v, err := ParseSize(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.key, err)
		}
		size := Size(v)
		*f.dest = &size
	}

	if raw := os.Getenv("HEAP_NEW_RATIO"); raw != "" {
		ratio, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("HEAP_NEW_RATIO: %w", err)
		}
		cfg.Heap.NewRatio = &ratio
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML configuration file, then lets environment variables
// override individual values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	env, err := Load()
	if err != nil {
		return nil, err
	}
	cfg.merge(env)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) merge(over *Config) {
	h, oh := &c.Heap, &over.Heap
	if oh.InitialHeapSize != nil {
		h.InitialHeapSize = oh.InitialHeapSize
	}
	if oh.MaxHeapSize != nil {
		h.MaxHeapSize = oh.MaxHeapSize
	}
	if oh.MinHeapSize != nil {
		h.MinHeapSize = oh.MinHeapSize
	}
	if oh.NewSize != nil {
		h.NewSize = oh.NewSize
	}
	if oh.MaxNewSize != nil {
		h.MaxNewSize = oh.MaxNewSize
	}
	if oh.OldSize != nil {
		h.OldSize = oh.OldSize
	}
	if oh.MinHeapDeltaBytes != nil {
		h.MinHeapDeltaBytes = oh.MinHeapDeltaBytes
	}
	if oh.NewRatio != nil {
		h.NewRatio = oh.NewRatio
	}
	if oh.Alignment != nil {
		h.Alignment = oh.Alignment
	}
	if over.Server.ListenAddr != "" {
		c.Server.ListenAddr = over.Server.ListenAddr
	}
	if over.Log.Level != "" {
		c.Log.Level = over.Log.Level
	}
}

func (c *Config) validate() error {
	if c.Heap.MaxHeapSize != nil && *c.Heap.MaxHeapSize == 0 {
		return fmt.Errorf("max_heap_size must be positive")
	}
	if c.Heap.Alignment != nil {
		if err := align.Validate(uint64(*c.Heap.Alignment)); err != nil {
			return fmt.Errorf("alignment: %w", err)
		}
	}
	return nil
}

// AlignmentProvider returns the configured fixed alignment, or the platform
// provider when none was set.
func (c *Config) AlignmentProvider() align.Provider {
	if c.Heap.Alignment != nil {
		return align.Fixed(*c.Heap.Alignment)
	}
	return align.Platform{}
}

// Apply seeds the flag store with every supplied heap value, marking each as
// explicitly set.
func (c *Config) Apply(store *flags.Store) {
	set := func(name flags.Name, v *Size) {
		if v != nil {
			store.SetExplicit(name, uint64(*v))
		}
	}
	set(flags.InitialHeapSize, c.Heap.InitialHeapSize)
	set(flags.MaxHeapSize, c.Heap.MaxHeapSize)
	set(flags.MinHeapSize, c.Heap.MinHeapSize)
	set(flags.NewSize, c.Heap.NewSize)
	set(flags.MaxNewSize, c.Heap.MaxNewSize)
	set(flags.OldSize, c.Heap.OldSize)
	set(flags.MinHeapDeltaBytes, c.Heap.MinHeapDeltaBytes)
	if c.Heap.NewRatio != nil {
		store.SetExplicit(flags.NewRatio, *c.Heap.NewRatio)
	}
}

// ParseSize parses a byte count: a plain integer, optionally suffixed with
// k, m or g (case-insensitive).
func ParseSize(raw string) (uint64, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	if mult > 1 && n > ^uint64(0)/mult {
		return 0, fmt.Errorf("size %q overflows", raw)
	}
	return n * mult, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
