package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/clustrctrl/clustrctrl/internal/log"
	"github.com/clustrctrl/clustrctrl/internal/model"
	"github.com/clustrctrl/clustrctrl/internal/service"
)

const (
	pickerSize = 6

	keyCtrlC = 0x03
	keyEsc   = 0x1b
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "dashboard shows the tasks in an interactive terminal table",
	Args:  cobra.NoArgs,
	RunE:  doDashboard,
}

// dashboard is the interactive state around a supervisor. It is driven from
// the dashboard loop only.
type dashboard struct {
	sup    *service.Supervisor
	rng    *rand.Rand
	cursor int
	picker []model.Candidate // nil when closed
	pickAt int
	status string
	done   bool
}

func newDashboard(sup *service.Supervisor, rng *rand.Rand) *dashboard {
	return &dashboard{
		sup:    sup,
		rng:    rng,
		status: "Press n to create a task.",
	}
}

func (d *dashboard) handleKey(ctx context.Context, b byte) {
	if d.picker != nil {
		d.handlePickerKey(ctx, b)
		return
	}

	tasks := d.sup.Tasks()
	switch b {
	case 'q', keyCtrlC:
		d.quit(ctx)
	case 'j':
		d.cursor = max(min(d.cursor+1, len(tasks)-1), 0)
	case 'k':
		d.cursor = max(d.cursor-1, 0)
	case 'n':
		d.picker = model.PickCandidates(d.rng, pickerSize)
		d.pickAt = 0
	case 'x':
		if len(tasks) == 0 {
			d.status = "No task selected."
			return
		}
		rec := tasks[min(d.cursor, len(tasks)-1)]
		if d.sup.CancelTask(ctx, rec.ID) {
			d.status = fmt.Sprintf("Stop requested for task %d.", rec.ID)
		} else {
			d.status = fmt.Sprintf("Task %d is already %s.", rec.ID, rec.State)
		}
	case 'X':
		d.sup.CancelAll(ctx)
		d.status = "Stop requested for all tasks."
	}
}

func (d *dashboard) handlePickerKey(ctx context.Context, b byte) {
	switch b {
	case keyCtrlC:
		d.quit(ctx)
	case 'j':
		d.pickAt = min(d.pickAt+1, len(d.picker)-1)
	case 'k':
		d.pickAt = max(d.pickAt-1, 0)
	case '\r', '\n':
		c := d.picker[d.pickAt]
		id := d.sup.CreateTask(ctx, c.Name, c.Description)
		d.picker = nil
		d.cursor = int(id) - 1
		d.status = fmt.Sprintf("Created task %d %s.", id, c)
	case keyEsc, 'q', 'n':
		d.picker = nil
	}
}

// quit stops every unit without waiting for them.
func (d *dashboard) quit(ctx context.Context) {
	d.sup.CancelAll(ctx)
	d.done = true
}

func (d *dashboard) view(now time.Time) dashboardView {
	tasks := d.sup.Tasks()
	d.cursor = max(min(d.cursor, len(tasks)-1), 0)
	return dashboardView{
		tasks:   tasks,
		summary: service.Summarize(tasks),
		cursor:  d.cursor,
		picker:  d.picker,
		pickAt:  d.pickAt,
		status:  d.status,
		session: session,
		now:     now,
	}
}

func doDashboard(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, processAttrs("dashboard"))

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(int(os.Stdout.Fd())) || !term.IsTerminal(fd) {
		return errors.New("dashboard requires an interactive terminal, use run instead")
	}

	cfg := service.ConfigFromModel(config)
	sup, err := service.NewSupervisor(cfg)
	if err != nil {
		return err
	}
	defer sup.Close()

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	if config.Spawn.Enabled() {
		spawnRng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		spawner, err := service.NewSpawner(ctx, config.Spawn, sup, func() model.Candidate {
			return model.PickCandidate(spawnRng)
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

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("initializing terminal: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, state)
		_, _ = fmt.Fprint(stdout, "\x1b[?25h\x1b[?1049l")
	}()
	_, _ = fmt.Fprint(stdout, "\x1b[?1049h\x1b[?25l\x1b[H\x1b[2J")

	keyCh := make(chan byte, 128)
	errCh := make(chan error, 1)
	go readKeys(os.Stdin, keyCh, errCh)

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	d := newDashboard(sup, rng)
	for !d.done {
		width, height := terminalSize()
		renderDashboard(stdout, d.view(time.Now()), width, height)

		select {
		case <-ctx.Done():
			d.quit(ctx)
		case <-ticker.C:
		case req := <-sup.Requests():
			sup.Handle(ctx, req)
		case readErr := <-errCh:
			if !errors.Is(readErr, io.EOF) {
				slog.ErrorContext(ctx, "reading terminal input", "error", readErr)
			}
			d.quit(ctx)
		case b := <-keyCh:
			d.handleKey(ctx, b)
		}
		// a key press ticks early, so the table reacts right away
		sup.Tick(ctx)
	}

	slog.InfoContext(ctx, "dashboard closed", "tasks", len(sup.Tasks()), "outstanding", sup.Outstanding())
	return nil
}

func readKeys(r io.Reader, keyCh chan<- byte, errCh chan<- error) {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if err != nil {
			errCh <- err
			return
		}
		if n == 1 {
			keyCh <- buf[0]
		}
	}
}

func terminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = 120
	}
	if height <= 0 {
		height = 40
	}
	return width, height
}
