package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clustrctrl/clustrctrl/internal/log"
	"github.com/clustrctrl/clustrctrl/internal/model"
	"github.com/clustrctrl/clustrctrl/internal/service"
)

var (
	flagTasks        int
	flagCancelAfter  time.Duration
	flagExitWhenDone bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run creates tasks without a terminal UI and prints the final snapshot as JSON",
	Args:  cobra.NoArgs,
	RunE:  doRun,
}

func init() {
	runCmd.Flags().IntVar(&flagTasks, "tasks", 3, "number of random tasks created on start")
	runCmd.Flags().DurationVar(&flagCancelAfter, "cancel-after", 0, "cancel all tasks after this duration, 0 never")
	runCmd.Flags().BoolVar(&flagExitWhenDone, "exit-when-done", true, "exit once every task is finalized")
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, processAttrs("run"))

	if flagTasks < 0 {
		return fmt.Errorf("--tasks must not be negative, got %d", flagTasks)
	}
	if flagTasks == 0 && !config.Spawn.Enabled() && flagExitWhenDone {
		return errors.New("nothing to run: use --tasks or configure spawn")
	}

	supervisor, err := service.NewSupervisor(service.ConfigFromModel(config))
	if err != nil {
		return err
	}
	defer supervisor.Close()
	supervisor.SetExitWhenIdle(flagExitWhenDone)

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	for _, c := range model.PickCandidates(rng, flagTasks) {
		supervisor.CreateTask(ctx, c.Name, c.Description)
	}
	// picking more than the catalogue holds repeats candidates
	for range flagTasks - len(model.Candidates()) {
		c := model.PickCandidate(rng)
		supervisor.CreateTask(ctx, c.Name, c.Description)
	}

	if config.Spawn.Enabled() {
		spawner, err := service.NewSpawner(ctx, config.Spawn, supervisor, func() model.Candidate {
			return model.PickCandidate(rng)
		})
		if err != nil {
			return err
		}
		spawner.Start()
		defer func() {
			if err := spawner.Shutdown(); err != nil {
				slog.WarnContext(ctx, "stopping spawner", "error", err)
			}
		}()
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		defer cancelLoop()
		return supervisor.Do(gctx)
	})
	if flagCancelAfter > 0 {
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-time.After(flagCancelAfter):
				slog.InfoContext(gctx, "cancel-after elapsed", "after", flagCancelAfter)
				if err := supervisor.Submit(service.CancelAllRequest()); err != nil {
					return fmt.Errorf("submitting cancel: %w", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return service.NewReportWriter(stdout).Write(ctx, supervisor.Tasks())
}
