// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"time"

	"github.com/jllopis/reactloop/pkg/errors"
	"github.com/jllopis/reactloop/pkg/loop"
	"github.com/jllopis/reactloop/pkg/planner"
)

// Mode selects the execution strategy.
type Mode string

const (
	// ModeSequential runs the ReAct loop: one oracle call per action.
	ModeSequential Mode = "sequential"
	// ModeReWOO plans every action upfront and executes the plan in parallel.
	ModeReWOO Mode = "rewoo"
)

// Config tunes one run. Zero values take the defaults of DefaultConfig.
type Config struct {
	MaxIterations       int           `koanf:"max_iterations"`
	RepetitionTolerance int           `koanf:"repetition_tolerance"`
	TranscriptWindow    int           `koanf:"transcript_window"`
	Mode                Mode          `koanf:"mode"`
	ConcurrencyLimit    int           `koanf:"concurrency_limit"`
	OracleTimeout       time.Duration `koanf:"oracle_timeout"`
	ActionTimeout       time.Duration `koanf:"action_timeout"`
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       loop.DefaultMaxIterations,
		RepetitionTolerance: loop.DefaultRepetitionTolerance,
		Mode:                ModeSequential,
		ConcurrencyLimit:    planner.DefaultConcurrencyLimit,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations == 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.RepetitionTolerance == 0 {
		c.RepetitionTolerance = d.RepetitionTolerance
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.ConcurrencyLimit == 0 {
		c.ConcurrencyLimit = d.ConcurrencyLimit
	}
	return c
}

// Validate rejects out-of-range values with INVALID_INPUT.
func (c Config) Validate() error {
	invalid := func(field string, value any) error {
		return errors.Newf(errors.CodeInvalidInput, "invalid %s: %v", field, value).
			WithContext("field", field)
	}
	switch {
	case c.MaxIterations < 1:
		return invalid("max_iterations", c.MaxIterations)
	case c.RepetitionTolerance < 1:
		return invalid("repetition_tolerance", c.RepetitionTolerance)
	case c.TranscriptWindow < 0:
		return invalid("transcript_window", c.TranscriptWindow)
	case c.Mode != ModeSequential && c.Mode != ModeReWOO:
		return invalid("mode", c.Mode)
	case c.ConcurrencyLimit < 1:
		return invalid("concurrency_limit", c.ConcurrencyLimit)
	case c.OracleTimeout < 0:
		return invalid("oracle_timeout", c.OracleTimeout)
	case c.ActionTimeout < 0:
		return invalid("action_timeout", c.ActionTimeout)
	}
	return nil
}
