package montage

import (
	"errors"
	"log/slog"
	"time"

	"review-montage/internal/api"
	"review-montage/internal/platform/logger"
)

// Layout bounds, in grid columns.
const (
	DefaultLayout = 2
	MinLayout     = 2
	MaxLayout     = 6
)

// RateWarningThreshold is the rate above which playback is flagged as likely
// to stutter.
const RateWarningThreshold = 8

// NotificationAutoHide is how long a notification stays on screen.
const NotificationAutoHide = 6 * time.Second

// UnknownMonitorName labels feeds whose monitor is missing from the listing.
const UnknownMonitorName = "Unknown"

var (
	ErrInvalidLayout  = errors.New("layout must be between 2 and 6 columns")
	ErrNoRange        = errors.New("no search has been loaded")
	ErrUnknownMonitor = errors.New("monitor is not part of the montage")
)

// RateOptions lists the selectable playback rates, 0.25x to 32x.
func RateOptions() []float64 {
	opts := make([]float64, 0, 8)
	r := 0.25
	for i := 0; i < 8; i++ {
		opts = append(opts, r)
		r *= 2
	}
	return opts
}

// Hooks are optional callbacks for instrumentation. They run on the goroutine
// that owns the orchestrator and must not block.
type Hooks struct {
	OnResync func(id api.MonitorID)
	// OnSearch is called once per search that was not superseded, with the
	// failure if it failed.
	OnSearch func(err error)
}

// Options configures an Orchestrator.
type Options struct {
	// MinFrames drops events with this many frames or fewer. Zero keeps all.
	MinFrames int64
	Players   PlayerFactory
	Hooks     Hooks
	Log       *slog.Logger
}

// SearchResult is what a search fetch produced.
type SearchResult struct {
	Events   []api.Event
	Monitors []api.Monitor
}

// Notification is a transient message for the user.
type Notification struct {
	Seq      uint64 `json:"seq"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	AutoHide int64  `json:"autoHideMs"`
}

// Snapshot is a copy of the montage state for rendering.
type Snapshot struct {
	Version      uint64        `json:"version"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	RangeStart   *time.Time    `json:"rangeStart,omitempty"`
	RangeEnd     *time.Time    `json:"rangeEnd,omitempty"`
	Rate         float64       `json:"rate"`
	RateWarning  bool          `json:"rateWarning"`
	Paused       bool          `json:"paused"`
	Layout       int           `json:"layout"`
	Loading      bool          `json:"loading"`
	EventCount   int           `json:"eventCount"`
	Feeds        []FeedState   `json:"feeds"`
	Notification *Notification `json:"notification,omitempty"`
}

// Orchestrator owns the montage state: clock, index, feeds and layout. All
// mutation goes through its methods, which must be called from a single
// goroutine. Session provides that goroutine.
type Orchestrator struct {
	clock     *Clock
	index     *Index
	feeds     []*Feed
	players   PlayerFactory
	minFrames int64
	hooks     Hooks
	log       *slog.Logger

	layout  int
	loading bool

	searchSeq uint64
	pending   SearchRequest

	notifySeq    uint64
	notification *Notification

	version uint64
}

// NewOrchestrator returns an empty, paused montage.
func NewOrchestrator(opts Options) *Orchestrator {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	players := opts.Players
	if players == nil {
		players = NewCommandQueue().Factory()
	}
	return &Orchestrator{
		clock:     NewClock(),
		players:   players,
		minFrames: opts.MinFrames,
		hooks:     opts.Hooks,
		log:       log,
		layout:    DefaultLayout,
	}
}

// BeginSearch validates req and marks a search in flight. The returned
// sequence number identifies the search; a later BeginSearch supersedes it.
func (o *Orchestrator) BeginSearch(req SearchRequest, now time.Time) (uint64, error) {
	if err := req.Validate(now); err != nil {
		return 0, err
	}
	o.searchSeq++
	o.pending = req
	o.loading = true
	o.version++
	return o.searchSeq, nil
}

// CompleteSearch installs the result of search seq. It reports false and
// changes nothing when seq has been superseded.
func (o *Orchestrator) CompleteSearch(seq uint64, res SearchResult) bool {
	if seq != o.searchSeq || !o.loading {
		return false
	}
	req := o.pending
	o.loading = false

	events := FilterMinFrames(res.Events, o.minFrames)
	o.index = BuildIndex(events)
	o.clock.Seed(*req.From, *req.To)

	names := make(map[api.MonitorID]string, len(res.Monitors))
	for _, m := range res.Monitors {
		names[m.ID] = m.Name
	}
	monitors := req.MonitorSet()
	o.feeds = make([]*Feed, 0, len(monitors))
	for _, id := range monitors {
		name, ok := names[id]
		if !ok {
			name = UnknownMonitorName
		}
		m := api.Monitor{ID: id, Name: name}
		o.feeds = append(o.feeds, NewFeed(m, o.players(m)))
	}

	o.log.Debug("search loaded",
		slog.Uint64("seq", seq),
		slog.Int("events", o.index.Len()),
		slog.Int("filtered", len(res.Events)-len(events)),
		slog.Int("feeds", len(o.feeds)),
	)
	if o.hooks.OnSearch != nil {
		o.hooks.OnSearch(nil)
	}
	o.evaluate()
	return true
}

// FailSearch clears the loading state of search seq and raises a
// notification. Stale failures are ignored.
func (o *Orchestrator) FailSearch(seq uint64, err error) bool {
	if seq != o.searchSeq || !o.loading {
		return false
	}
	o.loading = false
	o.notify(failureMessage(err))
	o.log.Warn("search failed", slog.Uint64("seq", seq), slog.String("error", err.Error()))
	if o.hooks.OnSearch != nil {
		o.hooks.OnSearch(err)
	}
	o.version++
	return true
}

// Play resumes the clock.
func (o *Orchestrator) Play() error {
	if !o.clock.Seeded() {
		return ErrNoRange
	}
	o.clock.Resume()
	o.evaluate()
	return nil
}

// Pause freezes the clock.
func (o *Orchestrator) Pause() {
	o.clock.Pause()
	o.evaluate()
}

// SetRate changes the playback multiplier for the clock and every feed.
func (o *Orchestrator) SetRate(rate float64) error {
	if err := o.clock.SetRate(rate); err != nil {
		return err
	}
	o.evaluate()
	return nil
}

// SetLayout sets the grid column count. Feeds are unaffected.
func (o *Orchestrator) SetLayout(columns int) error {
	if columns < MinLayout || columns > MaxLayout {
		return ErrInvalidLayout
	}
	o.layout = columns
	o.version++
	return nil
}

// Scrub jumps the clock to t.
func (o *Orchestrator) Scrub(t time.Time) error {
	if !o.clock.Seeded() {
		return ErrNoRange
	}
	o.clock.Scrub(t)
	o.evaluate()
	return nil
}

// Tick advances the clock to wall-clock instant now and re-evaluates the
// feeds if the timestamp moved. The clock is always updated before any feed
// reads it.
func (o *Orchestrator) Tick(now time.Time) bool {
	if !o.clock.Tick(now) {
		return false
	}
	o.evaluate()
	return true
}

// ReportProgress records how far monitor id's player is into its clip and
// re-evaluates that feed.
func (o *Orchestrator) ReportProgress(id api.MonitorID, played time.Duration) error {
	for _, f := range o.feeds {
		if f.Monitor().ID != id {
			continue
		}
		f.ReportProgress(played)
		o.evaluateFeed(f, o.frameFor(f))
		o.version++
		return nil
	}
	return ErrUnknownMonitor
}

// Snapshot copies the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	s := Snapshot{
		Version:     o.version,
		Rate:        o.clock.Rate(),
		RateWarning: o.clock.Rate() > RateWarningThreshold,
		Paused:      o.clock.Paused(),
		Layout:      o.layout,
		Loading:     o.loading,
		EventCount:  o.index.Len(),
		Feeds:       make([]FeedState, 0, len(o.feeds)),
	}
	if o.clock.Seeded() {
		now := o.clock.Now()
		start, end := o.clock.Range()
		s.Timestamp, s.RangeStart, s.RangeEnd = &now, &start, &end
	}
	for _, f := range o.feeds {
		s.Feeds = append(s.Feeds, f.State())
	}
	if o.notification != nil {
		n := *o.notification
		s.Notification = &n
	}
	return s
}

func (o *Orchestrator) evaluate() {
	for _, f := range o.feeds {
		o.evaluateFeed(f, o.frameFor(f))
	}
	o.version++
}

func (o *Orchestrator) evaluateFeed(f *Feed, fr Frame) {
	st := f.Evaluate(fr)
	if st.Resynced && o.hooks.OnResync != nil {
		o.hooks.OnResync(st.MonitorID)
	}
}

func (o *Orchestrator) frameFor(f *Feed) Frame {
	return Frame{
		Timestamp: o.clock.Now(),
		Rate:      o.clock.Rate(),
		Paused:    o.clock.Paused(),
		Events:    o.index.Events(f.Monitor().ID),
	}
}

func (o *Orchestrator) notify(message string) {
	o.notifySeq++
	o.notification = &Notification{
		Seq:      o.notifySeq,
		Severity: "error",
		Message:  message,
		AutoHide: NotificationAutoHide.Milliseconds(),
	}
}

func failureMessage(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return "Network Error: " + err.Error()
}
