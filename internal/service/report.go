package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/clustrctrl/clustrctrl/internal/task"
)

// Summary counts records per state.
type Summary map[task.State]int

func Summarize(records []task.Record) Summary {
	ret := make(Summary, len(task.States()))
	for _, s := range task.States() {
		ret[s] = 0
	}
	for _, rec := range records {
		ret[rec.State]++
	}
	return ret
}

type Report struct {
	Tasks   []task.Record `json:"tasks"`
	Summary Summary       `json:"summary"`
}

type ReportWriter struct {
	w io.Writer
}

func NewReportWriter(w io.Writer) ReportWriter {
	return ReportWriter{w: w}
}

// Write stores the records and their summary as indented JSON.
func (r ReportWriter) Write(ctx context.Context, records []task.Record) error {
	if r.w == nil {
		r.w = os.Stdout
	}
	if records == nil {
		records = []task.Record{}
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	err := enc.Encode(Report{Tasks: records, Summary: Summarize(records)})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "report written", "tasks", len(records))
	return nil
}
