package service

import (
	"time"

	"github.com/clustrctrl/clustrctrl/internal/model"
	"github.com/clustrctrl/clustrctrl/internal/worker"
)

type Config struct {
	Tick            time.Duration
	StatusCapacity  int
	ControlCapacity int
	MaxRunning      int // 0 is unlimited
	Worker          worker.Config
}

func DefaultConfig() Config {
	return ConfigFromModel(model.DefaultConfig())
}

func ConfigFromModel(cfg model.Config) Config {
	ret := Config{
		Tick:            cfg.Supervisor.Tick.AsDuration(),
		StatusCapacity:  cfg.Supervisor.StatusCapacity,
		ControlCapacity: cfg.Supervisor.ControlCapacity,
		MaxRunning:      cfg.Supervisor.MaxRunning,
		Worker: worker.Config{
			TimeUnit: cfg.Worker.TimeUnit.AsDuration(),
			MinUnits: cfg.Worker.MinUnits,
			MaxUnits: cfg.Worker.MaxUnits,
		},
	}
	if cfg.Worker.Workload != nil {
		ret.Worker.Workload = *cfg.Worker.Workload
	}
	if cfg.Worker.StrikeChance != nil {
		ret.Worker.StrikeChance = *cfg.Worker.StrikeChance
	}
	return ret
}
