package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/clustrctrl/clustrctrl/internal/model"
)

// Submitter accepts requests for a supervisor running elsewhere.
type Submitter interface {
	Submit(Request) error
}

// Spawner creates tasks on a schedule. It never touches the supervisor
// directly, it only submits create requests.
type Spawner struct {
	scheduler gocron.Scheduler
}

func NewSpawner(ctx context.Context, cfg model.Spawn, target Submitter, pick func() model.Candidate) (*Spawner, error) {
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		if err := model.ValidateCron(cfg.Cron); err != nil {
			return nil, fmt.Errorf("parsing spawn.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	case cfg.Every != "":
		d, err := model.ParseISODuration(cfg.Every)
		if err != nil {
			return nil, fmt.Errorf("parsing spawn.every: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("spawn.every must be positive, got %s", cfg.Every)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "every", d.String())
	default:
		return nil, errors.New("both cron and every are empty")
	}

	batch := max(cfg.Batch, 1)
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(func() {
			for range batch {
				c := pick()
				if err := target.Submit(CreateRequest(c.Name, c.Description)); err != nil {
					slog.WarnContext(ctx, "spawning task failed", "name", c.Name, "error", err)
				}
			}
		}),
		// runs never overlap, pick need not be safe for concurrent use
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("initializing gocron job: %w", err),
			s.Shutdown(),
		)
	}
	return &Spawner{scheduler: s}, nil
}

func (s *Spawner) Start() {
	s.scheduler.Start()
}

func (s *Spawner) Shutdown() error {
	return s.scheduler.Shutdown()
}
