package montage

import (
	"sort"
	"strings"
	"time"

	"review-montage/internal/api"
)

// Validation field names, matching the search form inputs.
const (
	FieldFrom     = "from"
	FieldTo       = "to"
	FieldMonitors = "monitors"
)

// SearchRequest is a montage search as submitted by the user.
type SearchRequest struct {
	From     *time.Time      `json:"from"`
	To       *time.Time      `json:"to"`
	Monitors []api.MonitorID `json:"monitors"`
}

// ValidationError reports search fields that must be fixed before anything is
// sent to the API. Fields maps a field name to its message.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid search: " + strings.Join(parts, "; ")
}

// Validate checks the request against now. It returns nil or a
// *ValidationError.
func (r SearchRequest) Validate(now time.Time) error {
	fields := make(map[string]string)

	if r.From == nil {
		fields[FieldFrom] = "Please enter a start date"
	} else if r.From.After(now) {
		fields[FieldFrom] = "Date cannot be in the future"
	}
	if r.To == nil {
		fields[FieldTo] = "Please enter an end date"
	} else if r.To.After(now) {
		fields[FieldTo] = "Date cannot be in the future"
	}
	if len(r.Monitors) == 0 {
		fields[FieldMonitors] = "Please select at least one monitor"
	}
	if len(fields) == 0 && r.From.After(*r.To) {
		fields[FieldFrom] = "Start date is after end date"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// MonitorSet returns the selected monitors with repeats removed, in the
// order each was first selected.
func (r SearchRequest) MonitorSet() []api.MonitorID {
	seen := make(map[api.MonitorID]bool, len(r.Monitors))
	set := make([]api.MonitorID, 0, len(r.Monitors))
	for _, id := range r.Monitors {
		if seen[id] {
			continue
		}
		seen[id] = true
		set = append(set, id)
	}
	return set
}

// Query converts a validated request to an API event query.
func (r SearchRequest) Query() api.EventQuery {
	q := api.EventQuery{Monitors: r.MonitorSet()}
	if r.From != nil {
		q.After = *r.From
	}
	if r.To != nil {
		q.Before = *r.To
	}
	return q
}
