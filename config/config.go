// Package config loads world, scheduler and accelerator settings, plus
// data-driven component layouts, from YAML.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/plus3/latch/ecs"
	"github.com/plus3/latch/ecs/query"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = eris.New("invalid configuration")

// Config is the root of a configuration file.
type Config struct {
	Workers    int             `yaml:"workers"`
	ChunkSize  int             `yaml:"chunk_size"`
	CellList   CellList        `yaml:"cell_list"`
	Components []ComponentSpec `yaml:"components"`
}

// CellList holds the cell list accelerator parameters.
type CellList struct {
	CellSize        int32   `yaml:"cell_size"`
	Radius          float32 `yaml:"radius"`
	MaxDenseCells   int     `yaml:"max_dense_cells"`
	InitialCapacity int     `yaml:"initial_capacity"`
}

// ComponentSpec declares a component by layout alone. Systems access these
// through raw bytes or a matching Go type.
type ComponentSpec struct {
	ID     ecs.ComponentId `yaml:"id"`
	Name   string          `yaml:"name"`
	Size   int             `yaml:"size"`
	Align  int             `yaml:"align"`
	Policy Policy          `yaml:"policy"`
}

// Policy is an ecs.WritePolicy spelled copy_forward or full_rewrite.
type Policy ecs.WritePolicy

// UnmarshalYAML parses the policy name. An empty value means copy_forward.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	switch name {
	case "", ecs.CopyForward.String():
		*p = Policy(ecs.CopyForward)
	case ecs.FullRewrite.String():
		*p = Policy(ecs.FullRewrite)
	default:
		return eris.Wrapf(ErrInvalid, "line %d: unknown write policy %q", value.Line, name)
	}
	return nil
}

// MarshalYAML writes the policy name.
func (p Policy) MarshalYAML() (any, error) {
	return ecs.WritePolicy(p).String(), nil
}

// Default returns the settings used when a file omits a field.
func Default() Config {
	return Config{
		ChunkSize: ecs.DefaultChunkSize,
		CellList: CellList{
			CellSize:        50,
			Radius:          25,
			MaxDenseCells:   query.DefaultMaxDenseCells,
			InitialCapacity: query.DefaultInitialCapacity,
		},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "config: load %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, eris.Wrapf(err, "config: %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are rejected; an empty document yields Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, eris.Wrap(err, "unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, eris.Wrapf(ErrInvalid, format, args...))
	}

	if c.Workers < 0 {
		fail("workers: %d is negative", c.Workers)
	}
	if c.ChunkSize < 0 {
		fail("chunk_size: %d is negative", c.ChunkSize)
	}
	if c.CellList.CellSize <= 0 {
		fail("cell_list.cell_size: %d must be positive", c.CellList.CellSize)
	}
	if c.CellList.Radius < 0 || c.CellList.Radius > float32(c.CellList.CellSize) {
		fail("cell_list.radius: %g must be within [0, cell_size]", c.CellList.Radius)
	}

	ids := make(map[ecs.ComponentId]bool, len(c.Components))
	for i, spec := range c.Components {
		if spec.Size <= 0 {
			fail("components[%d] (%s): size %d must be positive", i, spec.Name, spec.Size)
		}
		if spec.Align <= 0 || spec.Align&(spec.Align-1) != 0 {
			fail("components[%d] (%s): align %d is not a power of two", i, spec.Name, spec.Align)
		}
		if ids[spec.ID] {
			fail("components[%d] (%s): duplicate id %d", i, spec.Name, spec.ID)
		}
		ids[spec.ID] = true
	}
	return errors.Join(errs...)
}

// RegisterComponents registers every declared component through the raw path.
func (c Config) RegisterComponents(r *ecs.ComponentRegistry) error {
	for _, spec := range c.Components {
		_, err := r.Register(spec.ID, spec.Size, spec.Align, spec.Name, ecs.WithPolicy(ecs.WritePolicy(spec.Policy)))
		if err != nil {
			return eris.Wrapf(err, "register %s", spec.Name)
		}
	}
	return nil
}

// SchedulerOptions returns the worker pool settings as scheduler options.
func (c Config) SchedulerOptions() []ecs.SchedulerOption {
	return []ecs.SchedulerOption{
		ecs.WithWorkers(c.Workers),
		ecs.WithChunkSize(c.ChunkSize),
	}
}

// CellListConfig builds the accelerator config for the given position component.
func (c Config) CellListConfig(position ecs.ComponentId) query.CellListConfig {
	return query.CellListConfig{
		Position:        position,
		CellSize:        c.CellList.CellSize,
		Radius:          c.CellList.Radius,
		MaxDenseCells:   c.CellList.MaxDenseCells,
		InitialCapacity: c.CellList.InitialCapacity,
	}
}
