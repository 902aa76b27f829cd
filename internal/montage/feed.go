package montage

import (
	"time"

	"review-montage/internal/api"
)

// ResyncThreshold is the drift, at rate 1, above which a feed hard-seeks.
// It scales with the playback rate.
const ResyncThreshold = 1000 * time.Millisecond

// catchUpFactor multiplies the resync threshold to get the drift at which a
// feed is shown as catching up.
const catchUpFactor = 3

// AspectWidescreen is pinned while a feed shows an overlay instead of video.
const AspectWidescreen = "16:9"

// FeedStatus is what a feed renders.
type FeedStatus string

const (
	FeedPlaying    FeedStatus = "playing"
	FeedNoData     FeedStatus = "no_data"
	FeedCatchingUp FeedStatus = "catching_up"
)

// Frame is the shared state a feed evaluates against, borrowed read-only from
// the orchestrator.
type Frame struct {
	Timestamp time.Time
	Rate      float64
	Paused    bool
	Events    []api.Event
}

// FeedState is a feed's derived state after an evaluation.
type FeedState struct {
	MonitorID   api.MonitorID `json:"monitorId"`
	MonitorName string        `json:"monitorName"`
	Status      FeedStatus    `json:"status"`
	Current     *api.Event    `json:"currentEvent,omitempty"`
	Next        *api.Event    `json:"nextEvent,omitempty"`
	// ExpectedOffset is how far into Current the player should be.
	ExpectedOffset time.Duration `json:"-"`
	Drift          time.Duration `json:"-"`
	OffsetSeconds  float64       `json:"expectedOffset"`
	DriftMillis    int64         `json:"driftMs"`
	// Resynced is set when this evaluation issued a hard seek.
	Resynced bool `json:"resynced"`
	// AspectRatio is empty when the natural video dimensions apply.
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// Feed synchronizes one monitor's player with the virtual clock.
type Feed struct {
	monitor api.Monitor
	player  Player

	current    *api.Event
	progress   time.Duration
	commanded  bool
	sentRate   float64
	sentPaused bool

	state FeedState
}

// NewFeed returns a feed for monitor m driving p.
func NewFeed(m api.Monitor, p Player) *Feed {
	f := &Feed{monitor: m, player: p}
	f.state = FeedState{
		MonitorID:   m.ID,
		MonitorName: m.Name,
		Status:      FeedNoData,
		AspectRatio: AspectWidescreen,
	}
	return f
}

// Monitor returns the monitor this feed shows.
func (f *Feed) Monitor() api.Monitor { return f.monitor }

// State returns the result of the last evaluation.
func (f *Feed) State() FeedState { return f.state }

// ReportProgress records how far the player is into the loaded clip.
func (f *Feed) ReportProgress(played time.Duration) {
	f.progress = played
}

// Evaluate derives what the player should be doing at fr.Timestamp, commands
// it accordingly and returns the new state.
func (f *Feed) Evaluate(fr Frame) FeedState {
	idx := activeIndex(fr.Events, fr.Timestamp)

	var cur, next *api.Event
	if idx >= 0 {
		ev := fr.Events[idx]
		cur = &ev
		if idx+1 < len(fr.Events) {
			nx := fr.Events[idx+1]
			next = &nx
		}
	}

	if eventChanged(f.current, cur) {
		f.switchTo(cur, next)
	}
	f.forwardPlayback(fr.Rate, fr.Paused)

	st := FeedState{
		MonitorID:   f.monitor.ID,
		MonitorName: f.monitor.Name,
		Current:     cur,
		Next:        next,
	}

	if cur == nil {
		st.Status = FeedNoData
		st.AspectRatio = AspectWidescreen
		f.state = st
		return st
	}

	expected := fr.Timestamp.Sub(cur.Start)
	reported := cur.Start.Add(f.progress)
	drift := absDuration(reported.Sub(fr.Timestamp))
	threshold := scaleByRate(ResyncThreshold, fr.Rate)

	if drift > threshold {
		f.player.Seek(expected)
		st.Resynced = true
	}

	st.Status = FeedPlaying
	if drift > catchUpFactor*threshold {
		st.Status = FeedCatchingUp
		st.AspectRatio = AspectWidescreen
	}
	st.ExpectedOffset = expected
	st.Drift = drift
	st.OffsetSeconds = expected.Seconds()
	st.DriftMillis = drift.Milliseconds()

	f.state = st
	return st
}

// switchTo loads cur (or unloads when nil) and preloads next. Progress from
// the previous clip no longer applies, and the fresh clip needs rate and
// play state again.
func (f *Feed) switchTo(cur, next *api.Event) {
	if cur == nil {
		f.player.Load("")
	} else {
		f.player.Load(cur.Location)
		if next != nil {
			f.player.Preload(next.Location)
		}
	}
	f.current = cur
	f.progress = 0
	f.commanded = false
}

func (f *Feed) forwardPlayback(rate float64, paused bool) {
	if !f.commanded || f.sentRate != rate {
		f.player.SetRate(rate)
		f.sentRate = rate
	}
	if !f.commanded || f.sentPaused != paused {
		if paused {
			f.player.Pause()
		} else {
			f.player.Play()
		}
		f.sentPaused = paused
	}
	f.commanded = true
}

func eventChanged(prev, cur *api.Event) bool {
	switch {
	case prev == nil && cur == nil:
		return false
	case prev == nil || cur == nil:
		return true
	default:
		return prev.ID != cur.ID
	}
}

func scaleByRate(d time.Duration, rate float64) time.Duration {
	return time.Duration(float64(d) * rate)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
