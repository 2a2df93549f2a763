package model

import (
	"errors"
)

var ErrISOFormat = errors.New("invalid ISO8601 duration")
