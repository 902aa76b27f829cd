package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"review-montage/internal/api"
	"review-montage/internal/montage"
)

// DefaultIdleTimeout closes sessions no client has touched for this long.
const DefaultIdleTimeout = 30 * time.Minute

// API is the part of the review API client the service uses.
// *api.Client implements it.
type API interface {
	montage.EventSource
	GetEvent(ctx context.Context, id api.EventID) (api.Event, error)
	Export(ctx context.Context, id api.EventID, download bool) (*api.Export, error)
	ExportURL(id api.EventID, download bool) string
	ParseTime(s string) (time.Time, error)
}

// Config tunes the sessions the service creates.
type Config struct {
	TickInterval time.Duration
	MinFrames    int64
	// IdleTimeout of zero or less uses DefaultIdleTimeout.
	IdleTimeout time.Duration
	Hooks       montage.Hooks
}

// Service owns montage sessions and decorates API data for display.
type Service struct {
	ctx  context.Context
	repo Repository
	api  API
	log  *slog.Logger
	cfg  Config
	now  func() time.Time
}

// NewService returns a Service. Session loops run until ctx is cancelled or
// the session is closed.
func NewService(ctx context.Context, repo Repository, client API, log *slog.Logger, cfg Config) *Service {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Service{
		ctx:  ctx,
		repo: repo,
		api:  client,
		log:  log,
		cfg:  cfg,
		now:  time.Now,
	}
}

// CreateSession starts a new montage session and returns its ID.
func (s *Service) CreateSession() (SessionID, error) {
	id := SessionID(uuid.NewString())
	sess := montage.NewSession(s.api, montage.SessionOptions{
		TickInterval: s.cfg.TickInterval,
		MinFrames:    s.cfg.MinFrames,
		Hooks:        s.cfg.Hooks,
		Log:          s.log.With(slog.String("session_id", string(id))),
	})

	ctx, cancel := context.WithCancel(s.ctx)
	st := &SessionState{
		ID:        id,
		Session:   sess,
		CreatedAt: s.now().UTC(),
		cancel:    cancel,
	}
	if err := s.repo.CreateSession(st); err != nil {
		cancel()
		return "", err
	}
	go sess.Run(ctx)

	s.log.Info("session created", slog.String("session_id", string(id)))
	return id, nil
}

// Session returns the open session with the given ID and marks it as used.
func (s *Service) Session(id SessionID) (*montage.Session, error) {
	st, ok := s.repo.GetSession(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := s.repo.Touch(id, s.now().UTC()); err != nil {
		return nil, err
	}
	return st.Session, nil
}

// CloseSession stops a session, cancelling any search it has in flight, and
// waits for its loop to exit.
func (s *Service) CloseSession(id SessionID) error {
	st, err := s.repo.RemoveSession(id)
	if err != nil {
		return err
	}
	st.cancel()
	<-st.Session.Done()
	s.log.Info("session closed", slog.String("session_id", string(id)))
	return nil
}

// CloseAll stops every session. Used on shutdown.
func (s *Service) CloseAll() {
	for _, id := range s.repo.ListSessionIDs() {
		_ = s.CloseSession(id)
	}
}

// ReapIdle closes sessions idle for longer than the configured timeout and
// returns how many it closed.
func (s *Service) ReapIdle() int {
	n := 0
	for _, id := range s.repo.IdleSessions(s.now().UTC().Add(-s.cfg.IdleTimeout)) {
		if err := s.CloseSession(id); err == nil {
			n++
		}
	}
	if n > 0 {
		s.log.Info("idle sessions closed", slog.Int("count", n))
	}
	return n
}

// RunReaper calls ReapIdle periodically until ctx is cancelled.
func (s *Service) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReapIdle()
		}
	}
}

// ParseTime reads a timestamp from a client the way the API writes them.
func (s *Service) ParseTime(v string) (time.Time, error) {
	return s.api.ParseTime(v)
}

// ActiveSessionCount returns the number of open sessions.
func (s *Service) ActiveSessionCount() int {
	return s.repo.ActiveSessionCount()
}

// ListMonitors returns every monitor.
func (s *Service) ListMonitors(ctx context.Context) ([]api.Monitor, error) {
	return s.api.ListMonitors(ctx)
}

// ListEvents validates req and returns matching events as table rows, sized
// in SI units.
func (s *Service) ListEvents(ctx context.Context, req montage.SearchRequest) ([]EventRow, error) {
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	var (
		events   []api.Event
		monitors []api.Monitor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = s.api.ListEvents(gctx, req.Query())
		return err
	})
	g.Go(func() error {
		var err error
		monitors, err = s.api.ListMonitors(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := monitorNames(monitors)
	rows := make([]EventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, s.row(ev, names, true))
	}
	return rows, nil
}

// GetEvent returns one event for the viewer, sized in binary units.
func (s *Service) GetEvent(ctx context.Context, id api.EventID) (EventRow, error) {
	ev, names, err := s.eventWithMonitors(ctx, id)
	if err != nil {
		return EventRow{}, err
	}
	return s.row(ev, names, false), nil
}

// Download opens an event's clip as an attachment named after its monitor.
// The caller must close the returned body.
func (s *Service) Download(ctx context.Context, id api.EventID) (*Download, error) {
	ev, names, err := s.eventWithMonitors(ctx, id)
	if err != nil {
		return nil, err
	}
	export, err := s.api.Export(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return &Download{
		Export:   export,
		Filename: DownloadFilename(monitorName(names, ev.MonitorID), id),
	}, nil
}

func (s *Service) eventWithMonitors(ctx context.Context, id api.EventID) (api.Event, map[api.MonitorID]string, error) {
	var (
		ev       api.Event
		monitors []api.Monitor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ev, err = s.api.GetEvent(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		monitors, err = s.api.ListMonitors(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return api.Event{}, nil, err
	}
	return ev, monitorNames(monitors), nil
}

func (s *Service) row(ev api.Event, names map[api.MonitorID]string, si bool) EventRow {
	name := monitorName(names, ev.MonitorID)
	return EventRow{
		Event:        ev,
		MonitorName:  name,
		SizeHuman:    HumanFileSize(ev.Size, si, 1),
		RuntimeHuman: FormatRuntime(ev.Runtime),
		DownloadName: DownloadFilename(name, ev.ID),
		DownloadURL:  s.api.ExportURL(ev.ID, true),
	}
}

func monitorNames(monitors []api.Monitor) map[api.MonitorID]string {
	names := make(map[api.MonitorID]string, len(monitors))
	for _, m := range monitors {
		names[m.ID] = m.Name
	}
	return names
}

func monitorName(names map[api.MonitorID]string, id api.MonitorID) string {
	if name, ok := names[id]; ok {
		return name
	}
	return montage.UnknownMonitorName
}
