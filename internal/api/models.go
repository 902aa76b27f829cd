package api

import "time"

// EventID identifies a recorded event.
type EventID int64

// MonitorID identifies a monitor (camera feed).
type MonitorID int64

// Event is a recorded clip from one monitor. Start and End bound the clip;
// the API promises Start < End but callers must not rely on it.
type Event struct {
	ID        EventID   `json:"id"`
	MonitorID MonitorID `json:"monitorId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Frames    int64     `json:"frames"`
	Size      int64     `json:"size"`
	Runtime   float64   `json:"runtime,omitempty"`
	Location  string    `json:"location"`
	Thumbnail string    `json:"thumbnail,omitempty"`
}

// Monitor is a camera/recording source.
type Monitor struct {
	ID   MonitorID `json:"id"`
	Name string    `json:"name"`
}

// EventQuery filters the event listing. Events starting in [After, Before]
// are returned; an empty Monitors slice means all monitors.
type EventQuery struct {
	After    time.Time
	Before   time.Time
	Monitors []MonitorID
}

// ListResponse is the envelope every list endpoint returns.
type ListResponse[T any] struct {
	Results []T `json:"results"`
}

// eventPayload is the wire form of Event. Times carry no offset and are
// interpreted in the client's location.
type eventPayload struct {
	ID        EventID   `json:"id"`
	MonitorID MonitorID `json:"monitorId"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	Frames    int64     `json:"frames"`
	Size      int64     `json:"size"`
	Runtime   float64   `json:"runtime"`
	Location  string    `json:"location"`
	Thumbnail string    `json:"thumbnail"`
}
