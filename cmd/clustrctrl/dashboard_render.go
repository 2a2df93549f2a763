package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/clustrctrl/clustrctrl/internal/model"
	"github.com/clustrctrl/clustrctrl/internal/service"
	"github.com/clustrctrl/clustrctrl/internal/task"
)

const (
	styleBar      = "\x1b[48;5;238m\x1b[38;5;250m"
	styleHeader   = "\x1b[1m"
	styleSelected = "\x1b[44m\x1b[1m"
	styleMuted    = "\x1b[90m"
	styleGood     = "\x1b[32m"
	styleWarn     = "\x1b[33m"
	styleBad      = "\x1b[31m\x1b[5m"
	styleReset    = "\x1b[0m"

	clockLayout = "03:04:05 pm"
	selectMark  = ">> "
)

type column struct {
	title string
	width int
}

// fixed columns, the description takes what is left
var columns = []column{
	{"ID", 4},
	{"Name", 16},
	{"Status", 10},
	{"Halt?", 7},
	{"Progress", 12},
	{"Start", 14},
	{"End", 14},
	{"Description", 0},
}

type dashboardView struct {
	tasks   []task.Record
	summary service.Summary
	cursor  int
	picker  []model.Candidate
	pickAt  int
	status  string
	session string
	now     time.Time
}

func renderDashboard(out io.Writer, v dashboardView, width, height int) {
	lines := dashboardLines(v, width, height)
	_, _ = fmt.Fprint(out, "\x1b[H\x1b[2J"+strings.Join(lines, "\r\n"))
}

func dashboardLines(v dashboardView, width, height int) []string {
	lines := make([]string, 0, height)
	bar := fmt.Sprintf(" clustrctrl | session:%s | tasks:%d | running:%d | sleeping:%d | strike:%d | finished:%d | canceled:%d ",
		shortSession(v.session),
		len(v.tasks),
		v.summary[task.StateRunning],
		v.summary[task.StateSleeping],
		v.summary[task.StateOnStrike],
		v.summary[task.StateFinished],
		v.summary[task.StateCanceled],
	)
	lines = append(lines, styleBar+fitLine(bar, width)+styleReset)
	lines = append(lines, styleMuted+fitLine("Updated: "+v.now.Format(clockLayout), width)+styleReset)
	lines = append(lines, "")
	lines = append(lines, styleHeader+fitLine(strings.Repeat(" ", len(selectMark))+headerRow(width), width)+styleReset)

	var footer []string
	if v.picker != nil {
		footer = append(footer, "")
		footer = append(footer, styleHeader+fitLine("New task (j/k move, enter create, esc close):", width)+styleReset)
		for i, c := range v.picker {
			mark := "   "
			if i == v.pickAt {
				mark = selectMark
			}
			line := fitLine(mark+c.String(), width)
			if i == v.pickAt {
				line = styleSelected + line + styleReset
			}
			footer = append(footer, line)
		}
	}
	footer = append(footer, "")
	footer = append(footer, fitLine(v.status, width))
	footer = append(footer, styleBar+fitLine(" n new | j/k move | x cancel | X cancel all | q quit ", width)+styleReset)

	rows := max(height-len(lines)-len(footer), 1)
	if len(v.tasks) == 0 {
		lines = append(lines, styleMuted+fitLine("   (no tasks)", width)+styleReset)
	}
	first := 0
	if v.cursor >= rows {
		first = v.cursor - rows + 1
	}
	for i := first; i < len(v.tasks) && i < first+rows; i++ {
		lines = append(lines, taskRow(v.tasks[i], i, i == v.cursor, width))
	}
	return append(lines, footer...)
}

func headerRow(width int) string {
	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = pad(c.title, cellWidth(c, width))
	}
	return strings.Join(cells, " ")
}

func taskRow(rec task.Record, n int, selected bool, width int) string {
	texts := []string{
		fmt.Sprint(rec.ID),
		rec.Name,
		rec.State.String(),
		haltLabel(rec),
		progressBar(rec.Progress, columns[4].width),
		formatClock(rec.Start),
		formatClock(rec.End),
		rec.Description,
	}

	mark := "   "
	if selected {
		mark = selectMark
	}
	var b strings.Builder
	b.WriteString(mark)
	for i, c := range columns {
		if i > 0 {
			b.WriteByte(' ')
		}
		cell := pad(texts[i], cellWidth(c, width))
		if selected {
			b.WriteString(cell)
			continue
		}
		switch i {
		case 2:
			cell = wrap(statusStyle(rec.State), cell)
		case 3:
			cell = wrap(haltStyle(rec), cell)
		}
		b.WriteString(cell)
	}

	switch {
	case selected:
		return styleSelected + b.String() + styleReset
	case n%2 == 1:
		return styleMuted + b.String() + styleReset
	default:
		return b.String()
	}
}

// haltLabel shows whether a stop was requested and whether the unit obeyed.
func haltLabel(rec task.Record) string {
	if !rec.PendingCancel {
		return ""
	}
	if rec.State == task.StateCanceled {
		return "Done"
	}
	return "Req"
}

func haltStyle(rec task.Record) string {
	switch haltLabel(rec) {
	case "Done":
		return styleGood
	case "Req":
		return styleWarn
	default:
		return ""
	}
}

func statusStyle(s task.State) string {
	switch s {
	case task.StateFinished:
		return styleGood
	case task.StateOnStrike:
		return styleBad
	case task.StateSleeping:
		return styleMuted
	case task.StateUnknown, task.StateRunning, task.StateCanceled:
		return ""
	default:
		return ""
	}
}

// progressBar renders p percent as "[###   ] 50%" in exactly width runes.
func progressBar(p, width int) string {
	p = min(max(p, 0), 100)
	label := fmt.Sprintf("%3d%%", p)
	inner := width - len(label) - 3
	if inner <= 0 {
		return pad(label, width)
	}
	filled := p * inner / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", inner-filled) + "] " + label
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(clockLayout)
}

func shortSession(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func cellWidth(c column, width int) int {
	if c.width > 0 {
		return c.width
	}
	used := len(selectMark)
	for _, c := range columns {
		used += c.width + 1
	}
	return max(width-1-used, 0)
}

func wrap(style, s string) string {
	if style == "" {
		return s
	}
	return style + s + styleReset
}

// pad cuts or fills s to exactly width runes.
func pad(s string, width int) string {
	runes := []rune(s)
	if len(runes) > width {
		if width > 3 {
			return string(runes[:width-3]) + "..."
		}
		return string(runes[:width])
	}
	return s + strings.Repeat(" ", width-len(runes))
}

func fitLine(line string, width int) string {
	if width <= 1 {
		return line
	}
	return pad(line, width-1)
}
