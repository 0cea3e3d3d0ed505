package poller

import (
	"time"

	"ticket-pass/models"
)

const (
	DefaultBaseInterval  = 5 * time.Second
	DefaultFastInterval  = 1 * time.Second
	DefaultSlowInterval  = 30 * time.Second
	DefaultDegradedAfter = 3
	DefaultMaxFailures   = 120
	DefaultIdleAfter     = 10 * DefaultSlowInterval
)

// Cadence picks the next poll interval from the last known status.
// Pending tickets poll at Base, scanned tickets at Fast while the gate
// finishes confirmation, and validated tickets settle to Slow.
//
// A poller gives up after MaxFailures consecutive failures. A Manager
// drops pollers nobody has read for IdleAfter.
type Cadence struct {
	Base          time.Duration
	Fast          time.Duration
	Slow          time.Duration
	DegradedAfter int
	MaxFailures   int
	IdleAfter     time.Duration
}

func DefaultCadence() Cadence {
	return Cadence{
		Base:          DefaultBaseInterval,
		Fast:          DefaultFastInterval,
		Slow:          DefaultSlowInterval,
		DegradedAfter: DefaultDegradedAfter,
		MaxFailures:   DefaultMaxFailures,
		IdleAfter:     DefaultIdleAfter,
	}
}

// withDefaults fills unset or non-positive fields.
func (c Cadence) withDefaults() Cadence {
	d := DefaultCadence()
	if c.Base <= 0 {
		c.Base = d.Base
	}
	if c.Fast <= 0 {
		c.Fast = d.Fast
	}
	if c.Slow <= 0 {
		c.Slow = d.Slow
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = d.DegradedAfter
	}
	if c.MaxFailures < c.DegradedAfter {
		c.MaxFailures = max(d.MaxFailures, c.DegradedAfter)
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = 10 * c.Slow
	}
	return c
}

func (c Cadence) Interval(status models.ValidationState) time.Duration {
	switch status {
	case models.StatusScannedNotValidated:
		return c.Fast
	case models.StatusValidated:
		return c.Slow
	}
	return c.Base
}
