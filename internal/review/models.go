package review

import (
	"context"
	"time"

	"review-montage/internal/api"
	"review-montage/internal/montage"
)

// SessionID uniquely identifies an open montage view.
type SessionID string

// SessionState is the in-memory record of one montage session.
type SessionState struct {
	ID        SessionID
	Session   *montage.Session
	CreatedAt time.Time
	// LastSeen is bumped whenever a client touches the session.
	LastSeen time.Time

	// cancel stops the session's loop.
	cancel context.CancelFunc
}

// EventRow is an event decorated for display: the events table and the
// single event viewer both render these.
type EventRow struct {
	api.Event
	MonitorName  string `json:"monitorName"`
	SizeHuman    string `json:"sizeHuman"`
	RuntimeHuman string `json:"runtimeHuman"`
	DownloadName string `json:"downloadName"`
	DownloadURL  string `json:"downloadUrl"`
}

// Download is an open clip ready to be streamed to the client.
type Download struct {
	*api.Export
	Filename string
}
