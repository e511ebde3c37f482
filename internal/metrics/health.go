package metrics

import (
	"context"
	"sort"
)

// Status is a coarse health state.
type Status string

const (
	StatusUp       Status = "UP"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
)

func (s Status) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Report is the health of one component or of a whole node.
type Report struct {
	Status     Status            `json:"status"`
	Message    string            `json:"message,omitempty"`
	Components map[string]Report `json:"components,omitempty"`
}

// Up, Degraded and Down build single-component reports.
func Up(msg string) Report       { return Report{Status: StatusUp, Message: msg} }
func Degraded(msg string) Report { return Report{Status: StatusDegraded, Message: msg} }
func Down(msg string) Report     { return Report{Status: StatusDown, Message: msg} }

// Indicator reports the health of one component.
type Indicator interface {
	Health(ctx context.Context) Report
}

// IndicatorFunc adapts a function to Indicator.
type IndicatorFunc func(ctx context.Context) Report

func (f IndicatorFunc) Health(ctx context.Context) Report { return f(ctx) }

// Aggregate evaluates every indicator and returns a report whose status is
// the worst component status. With no indicators the result is UP.
func Aggregate(ctx context.Context, indicators map[string]Indicator) Report {
	names := make([]string, 0, len(indicators))
	for name := range indicators {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := Report{Status: StatusUp, Components: make(map[string]Report, len(indicators))}
	for _, name := range names {
		r := indicators[name].Health(ctx)
		overall.Components[name] = r
		if r.Status.severity() > overall.Status.severity() {
			overall.Status = r.Status
			overall.Message = name + ": " + r.Message
		}
	}
	return overall
}
