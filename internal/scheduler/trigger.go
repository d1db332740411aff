package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes the fire times of a job.
type Trigger interface {
	// Next returns the first fire time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

type interval struct {
	every time.Duration
}

// Every fires at a fixed interval, measured from the previous fire.
func Every(d time.Duration) Trigger {
	if d <= 0 {
		panic(fmt.Sprintf("scheduler: non-positive interval %s", d))
	}
	return interval{every: d}
}

func (i interval) Next(t time.Time) time.Time { return t.Add(i.every) }
func (i interval) String() string             { return "every " + i.every.String() }

type cronTrigger struct {
	expr     string
	schedule cron.Schedule
	loc      *time.Location
}

// Cron parses a standard five-field cron expression evaluated in loc.
func Cron(expr string, loc *time.Location) (Trigger, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return cronTrigger{expr: expr, schedule: schedule, loc: loc}, nil
}

func (c cronTrigger) Next(t time.Time) time.Time { return c.schedule.Next(t.In(c.loc)) }
func (c cronTrigger) String() string             { return fmt.Sprintf("cron %q (%s)", c.expr, c.loc) }
