// Package schedule describes cron schedules attached to pipelines by name.
// Running the pipelines is left to the execution runtime; this package only
// validates schedules and computes fire times.
package schedule

import (
	"strings"
	"time"

	"github.com/FrancisVarga/stupid-db-sub000/pkg/schema"
	"github.com/robfig/cron/v3"
)

// DefaultTimezone is used when a schedule names no zone.
const DefaultTimezone = "UTC"

// parser accepts standard 5-field expressions (minute hour dom month dow)
// and descriptors such as @daily.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule fires a pipeline on a cron expression.
type Schedule struct {
	Name           string `json:"name" yaml:"name"`
	PipelineName   string `json:"pipeline_name" yaml:"pipeline_name"`
	CronExpression string `json:"cron_expression" yaml:"cron_expression"`
	Timezone       string `json:"timezone" yaml:"timezone"`
	Enabled        bool   `json:"enabled" yaml:"enabled"`
}

// New builds an enabled schedule named "<pipeline>-schedule" and validates it.
func New(pipelineName, cronExpr, timezone string) (Schedule, error) {
	s := Schedule{
		Name:           pipelineName + "-schedule",
		PipelineName:   pipelineName,
		CronExpression: cronExpr,
		Timezone:       timezone,
		Enabled:        true,
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Validate checks the name, pipeline reference, cron expression and zone.
func (s Schedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return schema.NewError(schema.ErrCodeInvalidSchedule, "schedule name is required")
	}
	if strings.TrimSpace(s.PipelineName) == "" {
		return schema.NewErrorf(schema.ErrCodeInvalidSchedule, "schedule %q does not name a pipeline", s.Name)
	}
	if _, err := Parse(s.CronExpression); err != nil {
		return err
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the schedule's timezone. Empty means UTC.
func (s Schedule) Location() (*time.Location, error) {
	tz := s.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidSchedule, "unknown timezone %q", tz).
			WithCause(err).
			WithDetails(map[string]any{"schedule": s.Name, "timezone": tz})
	}
	return loc, nil
}

// Next returns the first fire time strictly after the given instant,
// evaluated in the schedule's timezone.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	sched, err := Parse(s.CronExpression)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.In(loc)), nil
}

// Upcoming returns the next n fire times after the given instant.
func (s Schedule) Upcoming(after time.Time, n int) ([]time.Time, error) {
	sched, err := Parse(s.CronExpression)
	if err != nil {
		return nil, err
	}
	loc, err := s.Location()
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, max(n, 0))
	t := after.In(loc)
	for range n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// Parse compiles a cron expression.
func Parse(expr string) (cron.Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidSchedule, "cron expression is required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidSchedule, "parse cron expression %q: %s", expr, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"cron_expression": expr})
	}
	return sched, nil
}
