package worker

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger decides when the next scheduled run fires.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

// IntervalTrigger fires a fixed duration after the previous decision point.
type IntervalTrigger struct {
	Interval time.Duration
}

func (t IntervalTrigger) Next(after time.Time) time.Time {
	if t.Interval <= 0 {
		return after.Add(5 * time.Minute)
	}
	return after.Add(t.Interval)
}

func (t IntervalTrigger) String() string {
	return "every " + t.Interval.String()
}

// CronTrigger fires on a standard five-field cron expression.
type CronTrigger struct {
	expr     string
	schedule cron.Schedule
	location *time.Location
}

// NewCronTrigger parses expr, evaluating it in loc.
func NewCronTrigger(expr string, loc *time.Location) (*CronTrigger, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronTrigger{expr: expr, schedule: schedule, location: loc}, nil
}

func (t *CronTrigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after.In(t.location))
}

func (t *CronTrigger) String() string {
	return "cron " + t.expr
}

// NewTrigger prefers a cron schedule when one is configured.
func NewTrigger(schedule string, interval time.Duration, loc *time.Location) (Trigger, error) {
	if schedule != "" {
		return NewCronTrigger(schedule, loc)
	}
	return IntervalTrigger{Interval: interval}, nil
}
