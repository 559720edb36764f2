package dabstract

import (
	"fmt"

	"github.com/spf13/viper"
)

// PoolKind selects how a parallel materialization shares the source graph.
type PoolKind string

const (
	// PoolShared runs tasks on goroutines that all read the same graph.
	PoolShared PoolKind = "shared"
	// PoolIsolated gives every worker its own clone of the graph, so sources
	// holding per-reader state (file handles, decoders) are never shared.
	PoolIsolated PoolKind = "isolated"
)

// OutputKind selects the container GetMany assembles.
type OutputKind string

const (
	// OutputAuto stacks numeric items into an Array while their shapes agree
	// and falls back to a list otherwise.
	OutputAuto OutputKind = "auto"
	// OutputArray always stacks; items that are not numeric or whose shapes
	// disagree fail with ErrShapeMismatch.
	OutputArray OutputKind = "array"
	// OutputList never stacks.
	OutputList OutputKind = "list"
)

// DemotePolicy decides when an in-progress Array is given up in auto mode.
type DemotePolicy string

const (
	// DemoteSqueezed compares shapes with their size-1 dimensions removed,
	// so a (1, 4) item still stacks with a (4,) one.
	DemoteSqueezed DemotePolicy = "squeezed"
	// DemoteExact demotes on any difference in shape.
	DemoteExact DemotePolicy = "exact"
	// DemoteError fails with ErrShapeMismatch instead of demoting.
	DemoteError DemotePolicy = "error"
)

// Config controls bulk retrieval.
type Config struct {
	// Workers is the number of concurrent tasks; 0 evaluates sequentially.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// BufferLen bounds the number of submitted, not yet collected results.
	BufferLen int          `yaml:"buffer_len" mapstructure:"buffer_len"`
	Pool      PoolKind     `yaml:"pool" mapstructure:"pool"`
	Output    OutputKind   `yaml:"output" mapstructure:"output"`
	Demote    DemotePolicy `yaml:"demote" mapstructure:"demote"`
}

// DefaultBufferLen is the BufferLen ApplyDefaults fills in.
const DefaultBufferLen = 3

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.BufferLen == 0 {
		c.BufferLen = DefaultBufferLen
	}
	if c.Pool == "" {
		c.Pool = PoolShared
	}
	if c.Output == "" {
		c.Output = OutputAuto
	}
	if c.Demote == "" {
		c.Demote = DemoteSqueezed
	}
}

// Validate checks the configuration. Call ApplyDefaults first.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0 (got: %d)", ErrInvalidConfig, c.Workers)
	}
	if c.BufferLen < 1 {
		return fmt.Errorf("%w: buffer_len must be >= 1 (got: %d)", ErrInvalidConfig, c.BufferLen)
	}
	switch c.Pool {
	case PoolShared, PoolIsolated:
	default:
		return fmt.Errorf("%w: pool must be one of [shared, isolated] (got: %s)", ErrInvalidConfig, c.Pool)
	}
	switch c.Output {
	case OutputAuto, OutputArray, OutputList:
	default:
		return fmt.Errorf("%w: output must be one of [auto, array, list] (got: %s)", ErrInvalidConfig, c.Output)
	}
	switch c.Demote {
	case DemoteSqueezed, DemoteExact, DemoteError:
	default:
		return fmt.Errorf("%w: demote must be one of [squeezed, exact, error] (got: %s)", ErrInvalidConfig, c.Demote)
	}
	return nil
}

// LoadConfig reads a Config from v under key (the whole tree when key is
// empty), applies defaults and validates it.
//
//	# config.yml
//	materialize:
//	  workers: 4
//	  buffer_len: 8
//	  pool: isolated
func LoadConfig(v *viper.Viper, key string) (Config, error) {
	var cfg Config
	src := v
	if key != "" {
		src = v.Sub(key)
	}
	if src != nil {
		if err := src.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile is LoadConfig over a YAML, JSON or TOML file.
func LoadConfigFile(path, key string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %w", ErrInvalidConfig, path, err)
	}
	return LoadConfig(v, key)
}

// Option adjusts a Config.
type Option func(*Config)

// WithWorkers sets the number of concurrent tasks.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithBufferLen sets the bound on in-flight results.
func WithBufferLen(n int) Option {
	return func(c *Config) { c.BufferLen = n }
}

// WithPool sets the pool kind.
func WithPool(kind PoolKind) Option {
	return func(c *Config) { c.Pool = kind }
}

// WithOutput sets the output kind.
func WithOutput(kind OutputKind) Option {
	return func(c *Config) { c.Output = kind }
}

// WithDemotePolicy sets the demotion policy.
func WithDemotePolicy(p DemotePolicy) Option {
	return func(c *Config) { c.Demote = p }
}

// WithConfig replaces the whole configuration, e.g. one from LoadConfig.
// Later options still apply on top of it.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

func buildConfig(base Config, opts []Option) (Config, error) {
	cfg := base
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
