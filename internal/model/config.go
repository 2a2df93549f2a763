package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version    int        `json:"version" yaml:"version"` // fixed 0 for now
	Service    Service    `json:"service" yaml:"service"`
	Supervisor Supervisor `json:"supervisor" yaml:"supervisor"`
	Worker     Worker     `json:"worker" yaml:"worker"`
	Spawn      Spawn      `json:"spawn" yaml:"spawn"`
}

type Service struct {
	Verbose bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log     string `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
}

// Supervisor tunes the reconciliation loop and its channels.
type Supervisor struct {
	Tick            Duration `json:"tick,omitzero" yaml:"tick,omitempty"`
	StatusCapacity  int      `json:"status_capacity,omitempty" yaml:"status_capacity,omitempty"`
	ControlCapacity int      `json:"control_capacity,omitempty" yaml:"control_capacity,omitempty"`
	MaxRunning      int      `json:"max_running,omitempty" yaml:"max_running,omitempty"` // 0 is unlimited
}

// Worker describes the simulated job. Durations are counted in TimeUnit.
type Worker struct {
	TimeUnit     Duration `json:"time_unit,omitzero" yaml:"time_unit,omitempty"`
	MinUnits     int      `json:"min_units,omitempty" yaml:"min_units,omitempty"`
	MaxUnits     int      `json:"max_units,omitempty" yaml:"max_units,omitempty"`
	Workload     *int     `json:"workload,omitempty" yaml:"workload,omitempty"`
	StrikeChance *float64 `json:"strike_chance,omitempty" yaml:"strike_chance,omitempty"`
}

// Spawn configures automatic task creation. Cron has a precedence over Every.
type Spawn struct {
	Cron  string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Every string `json:"every,omitempty" yaml:"every,omitempty"`
	Batch int    `json:"batch,omitempty" yaml:"batch,omitempty"`
}

func (s Spawn) Enabled() bool {
	return s.Cron != "" || s.Every != ""
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// Missing values are filled from DefaultConfig.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out.withDefaults(), nil
}

func DefaultConfig() Config {
	workload := 2_000_000
	strike := 0.05
	return Config{
		Version: 0,
		Service: Service{
			Log: "stderr",
		},
		Supervisor: Supervisor{
			Tick:            Duration(DefaultTick),
			StatusCapacity:  64,
			ControlCapacity: 16,
		},
		Worker: Worker{
			TimeUnit:     Duration(DefaultTimeUnit),
			MinUnits:     2,
			MaxUnits:     60,
			Workload:     &workload,
			StrikeChance: &strike,
		},
		Spawn: Spawn{
			Batch: 1,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Service.Log == "" {
		c.Service.Log = d.Service.Log
	}
	if c.Supervisor.Tick == 0 {
		c.Supervisor.Tick = d.Supervisor.Tick
	}
	if c.Supervisor.StatusCapacity == 0 {
		c.Supervisor.StatusCapacity = d.Supervisor.StatusCapacity
	}
	if c.Supervisor.ControlCapacity == 0 {
		c.Supervisor.ControlCapacity = d.Supervisor.ControlCapacity
	}
	if c.Worker.TimeUnit == 0 {
		c.Worker.TimeUnit = d.Worker.TimeUnit
	}
	if c.Worker.MinUnits == 0 {
		c.Worker.MinUnits = d.Worker.MinUnits
	}
	if c.Worker.MaxUnits == 0 {
		c.Worker.MaxUnits = max(d.Worker.MaxUnits, c.Worker.MinUnits)
	}
	if c.Worker.Workload == nil {
		c.Worker.Workload = d.Worker.Workload
	}
	if c.Worker.StrikeChance == nil {
		c.Worker.StrikeChance = d.Worker.StrikeChance
	}
	if c.Spawn.Batch == 0 {
		c.Spawn.Batch = d.Spawn.Batch
	}
	return c
}
