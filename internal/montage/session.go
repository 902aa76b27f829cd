package montage

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"review-montage/internal/api"
	"review-montage/internal/platform/logger"
)

// ErrSessionStopped is returned by commands sent to a session whose loop has
// exited.
var ErrSessionStopped = errors.New("montage session stopped")

// ErrInvalidProgress is returned for progress reports that are negative, not
// finite or longer than MaxProgress.
var ErrInvalidProgress = errors.New("progress must be between 0 and 24 hours")

// MaxProgress bounds a reported position within one clip.
const MaxProgress = 24 * time.Hour

const (
	DefaultTickInterval     = 100 * time.Millisecond
	defaultSubscriberBuffer = 64
)

// EventSource fetches search data. *api.Client implements it.
type EventSource interface {
	ListEvents(ctx context.Context, q api.EventQuery) ([]api.Event, error)
	ListMonitors(ctx context.Context) ([]api.Monitor, error)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	TickInterval time.Duration
	MinFrames    int64
	Hooks        Hooks
	Log          *slog.Logger
	// Now is the wall clock used to validate searches. Defaults to time.Now.
	Now func() time.Time
	// SubscriberBuffer is the number of updates a subscriber may fall behind
	// before it is disconnected.
	SubscriberBuffer int
}

// Update is published to subscribers after every state change. Commands are
// the player commands issued since the previous update, in order.
type Update struct {
	Snapshot Snapshot        `json:"snapshot"`
	Commands []PlayerCommand `json:"commands,omitempty"`
}

// Session runs an Orchestrator on its own event loop. A ticker and a command
// channel are the loop's only inputs; every command runs to completion on the
// loop goroutine, so the orchestrator is never touched concurrently.
//
// Subscribers receive every update in order. One that falls more than
// SubscriberBuffer updates behind is disconnected rather than skipped, since
// a skipped update may hold player commands. It can subscribe again and
// rebuild from the snapshot.
type Session struct {
	source EventSource
	orch   *Orchestrator
	queue  *CommandQueue
	tick   time.Duration
	now    func() time.Time
	buffer int
	log    *slog.Logger

	cmds    chan func()
	done    chan struct{}
	runOnce sync.Once

	// Owned by the loop goroutine.
	loopCtx      context.Context
	cancelSearch context.CancelFunc
	fetches      sync.WaitGroup
	published    uint64

	mu      sync.Mutex
	latest  Snapshot
	subs    map[uint64]chan Update
	nextSub uint64
	stopped bool
}

// NewSession returns a session fetching from source. Call Run to start it.
func NewSession(source EventSource, opts SessionOptions) *Session {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	buffer := opts.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	q := NewCommandQueue()
	orch := NewOrchestrator(Options{
		MinFrames: opts.MinFrames,
		Players:   q.Factory(),
		Hooks:     opts.Hooks,
		Log:       log,
	})
	s := &Session{
		source: source,
		orch:   orch,
		queue:  q,
		tick:   tick,
		now:    now,
		buffer: buffer,
		log:    log,
		cmds:   make(chan func()),
		done:   make(chan struct{}),
		subs:   make(map[uint64]chan Update),
	}
	s.latest = orch.Snapshot()
	s.published = s.latest.Version
	return s
}

// Run drives the session until ctx is cancelled. In-flight searches are
// cancelled and subscribers closed before it returns. Run may be called once.
func (s *Session) Run(ctx context.Context) {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return
	}

	s.loopCtx = ctx
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Debug("session started", slog.Duration("tick", s.tick))
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case t := <-ticker.C:
			if s.orch.Tick(t) {
				s.publish()
			}
		case fn := <-s.cmds:
			fn()
		}
	}
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the most recently published state. Safe for concurrent
// use.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Subscribe returns a channel of updates, starting with the current
// snapshot, and a function that unsubscribes. The channel is closed when the
// session stops, when the subscriber lags too far behind, or on unsubscribe.
func (s *Session) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, s.buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- Update{Snapshot: s.latest}

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Search validates req and starts fetching it, superseding any search in
// flight. Validation failures are returned as *ValidationError; fetch
// failures surface later as a notification.
func (s *Session) Search(ctx context.Context, req SearchRequest) error {
	return s.exec(ctx, func() error {
		seq, err := s.orch.BeginSearch(req, s.now())
		if err != nil {
			return err
		}
		if s.cancelSearch != nil {
			s.cancelSearch()
		}
		fetchCtx, cancel := context.WithCancel(s.loopCtx)
		s.cancelSearch = cancel

		s.fetches.Add(1)
		go s.fetch(fetchCtx, seq, req.Query())
		return nil
	})
}

func (s *Session) Play(ctx context.Context) error {
	return s.exec(ctx, s.orch.Play)
}

func (s *Session) Pause(ctx context.Context) error {
	return s.exec(ctx, func() error {
		s.orch.Pause()
		return nil
	})
}

func (s *Session) SetRate(ctx context.Context, rate float64) error {
	return s.exec(ctx, func() error { return s.orch.SetRate(rate) })
}

func (s *Session) SetLayout(ctx context.Context, columns int) error {
	return s.exec(ctx, func() error { return s.orch.SetLayout(columns) })
}

func (s *Session) Scrub(ctx context.Context, t time.Time) error {
	return s.exec(ctx, func() error { return s.orch.Scrub(t) })
}

// ReportProgress records seconds played into monitor id's current clip.
func (s *Session) ReportProgress(ctx context.Context, id api.MonitorID, seconds float64) error {
	played, err := progressDuration(seconds)
	if err != nil {
		return err
	}
	return s.exec(ctx, func() error { return s.orch.ReportProgress(id, played) })
}

func progressDuration(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || seconds < 0 || seconds > MaxProgress.Seconds() {
		return 0, ErrInvalidProgress
	}
	return time.Duration(math.Round(seconds * float64(time.Second))), nil
}

// exec runs fn on the loop goroutine and waits for its result. The update fn
// caused is published before exec returns.
func (s *Session) exec(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	run := func() {
		err := fn()
		s.publish()
		errc <- err
	}
	select {
	case s.cmds <- run:
	case <-s.done:
		return ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once accepted, fn runs before the loop looks at anything else.
	return <-errc
}

// post hands fn to the loop without waiting. It is dropped if the loop has
// exited.
func (s *Session) post(fn func()) {
	run := func() {
		fn()
		s.publish()
	}
	select {
	case s.cmds <- run:
	case <-s.done:
	}
}

func (s *Session) fetch(ctx context.Context, seq uint64, q api.EventQuery) {
	defer s.fetches.Done()

	var res SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := s.source.ListEvents(gctx, q)
		res.Events = events
		return err
	})
	g.Go(func() error {
		monitors, err := s.source.ListMonitors(gctx)
		res.Monitors = monitors
		return err
	})
	err := g.Wait()

	if ctx.Err() != nil {
		// Superseded or shutting down; nobody is waiting for this result.
		return
	}
	s.post(func() {
		if err != nil {
			s.orch.FailSearch(seq, err)
			return
		}
		s.orch.CompleteSearch(seq, res)
	})
}

func (s *Session) publish() {
	snap := s.orch.Snapshot()
	cmds := s.queue.Drain()
	if snap.Version == s.published && len(cmds) == 0 {
		return
	}
	s.published = snap.Version
	u := Update{Snapshot: snap, Commands: cmds}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	for id, ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.log.Warn("closing lagging subscriber", slog.Uint64("subscriber", id))
			delete(s.subs, id)
			close(ch)
		}
	}
}

func (s *Session) shutdown() {
	if s.cancelSearch != nil {
		s.cancelSearch()
	}
	close(s.done)
	s.fetches.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.log.Debug("session stopped")
}
