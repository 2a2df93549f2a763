package model

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidateCron checks a 5 field cron expression or a macro (@hourly,
// @every 30s) the way the spawn scheduler reads it.
func ValidateCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return errors.New("empty cron expression")
	}
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}
	_, err := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(e)
	return err
}

type designator struct {
	symbol byte
	unit   time.Duration
}

var (
	dateDesignators = []designator{{'D', 24 * time.Hour}}
	timeDesignators = []designator{{'H', time.Hour}, {'M', time.Minute}, {'S', time.Second}}
)

// ParseISODuration parses the day and time part of an ISO 8601 duration,
// eg P1D, PT1H30M or PT0.5S. Years, months and weeks are rejected.
func ParseISODuration(dur string) (time.Duration, error) {
	rest, ok := strings.CutPrefix(dur, "P")
	if !ok || rest == "" {
		return 0, ErrISOFormat
	}
	datePart, timePart, hasT := strings.Cut(rest, "T")
	// eg P2DT
	if hasT && timePart == "" {
		return 0, ErrISOFormat
	}

	days, err := sumComponents(datePart, dateDesignators)
	if err != nil {
		return 0, err
	}
	clock, err := sumComponents(timePart, timeDesignators)
	if err != nil {
		return 0, err
	}
	return days + clock, nil
}

// sumComponents adds up number and designator pairs like 1H30M. Each
// designator may appear once and in the order of designators.
func sumComponents(s string, designators []designator) (time.Duration, error) {
	var ret time.Duration
	next := 0
	for s != "" {
		i := strings.IndexFunc(s, func(r rune) bool {
			return r != '.' && r != ',' && (r < '0' || r > '9')
		})
		if i <= 0 {
			return 0, ErrISOFormat
		}
		num, symbol := s[:i], s[i]
		s = s[i+1:]

		j := slices.IndexFunc(designators[next:], func(d designator) bool {
			return d.symbol == symbol
		})
		if j < 0 {
			return 0, ErrISOFormat
		}
		next += j + 1

		v, err := strconv.ParseFloat(strings.Replace(num, ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing %q: %w", num, ErrISOFormat)
		}
		ret += time.Duration(v * float64(designators[next-1].unit))
	}
	return ret, nil
}
