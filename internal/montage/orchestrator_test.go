package montage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"review-montage/internal/api"
)

var searchNow = at(23, 0, 0)

func validSearch(monitors ...api.MonitorID) SearchRequest {
	return SearchRequest{From: timePtr(at(0, 0, 0)), To: timePtr(at(1, 0, 0)), Monitors: monitors}
}

func twoMonitorResult() SearchResult {
	return SearchResult{
		Events: []api.Event{
			event(1, 10, at(0, 0, 0), at(0, 10, 0)),
			event(2, 20, at(0, 5, 0), at(0, 15, 0)),
			event(3, 10, at(0, 20, 0), at(0, 30, 0)),
		},
		Monitors: []api.Monitor{{ID: 10, Name: "Drive"}, {ID: 20, Name: "Garden"}},
	}
}

func loadedOrchestrator(t *testing.T, opts Options) (*Orchestrator, *CommandQueue) {
	t.Helper()
	q := NewCommandQueue()
	if opts.Players == nil {
		opts.Players = q.Factory()
	}
	o := NewOrchestrator(opts)
	seq, err := o.BeginSearch(validSearch(10, 20), searchNow)
	if err != nil {
		t.Fatalf("BeginSearch: %v", err)
	}
	if !o.CompleteSearch(seq, twoMonitorResult()) {
		t.Fatal("CompleteSearch rejected current search")
	}
	return o, q
}

func TestRateOptions(t *testing.T) {
	got := fmt.Sprint(RateOptions())
	if got != "[0.25 0.5 1 2 4 8 16 32]" {
		t.Errorf("got %s", got)
	}
}

func TestNewOrchestrator_defaults(t *testing.T) {
	o := NewOrchestrator(Options{})
	s := o.Snapshot()
	if s.Layout != DefaultLayout || !s.Paused || s.Rate != 1 || s.Loading {
		t.Errorf("unexpected initial snapshot %+v", s)
	}
	if s.Timestamp != nil || len(s.Feeds) != 0 {
		t.Errorf("nothing should be loaded yet: %+v", s)
	}
	if err := o.Play(); !errors.Is(err, ErrNoRange) {
		t.Errorf("Play before a search: got %v", err)
	}
	if err := o.Scrub(at(0, 0, 0)); !errors.Is(err, ErrNoRange) {
		t.Errorf("Scrub before a search: got %v", err)
	}
}

func TestOrchestrator_search_loads_range_and_feeds(t *testing.T) {
	o, q := loadedOrchestrator(t, Options{})
	s := o.Snapshot()

	if s.Loading {
		t.Error("loading should clear once the result is installed")
	}
	if !s.Paused || !s.Timestamp.Equal(at(0, 0, 0)) {
		t.Errorf("expected paused at range start, got paused=%v ts=%v", s.Paused, s.Timestamp)
	}
	if !s.RangeEnd.Equal(at(1, 0, 0)) {
		t.Errorf("range end %v", s.RangeEnd)
	}
	if len(s.Feeds) != 2 || s.Feeds[0].MonitorName != "Drive" || s.Feeds[1].MonitorName != "Garden" {
		t.Fatalf("feeds %+v", s.Feeds)
	}
	if s.Feeds[0].Current == nil || s.Feeds[0].Current.ID != 1 {
		t.Errorf("monitor 10 should show event 1 at range start, got %+v", s.Feeds[0].Current)
	}
	if s.Feeds[1].Status != FeedNoData {
		t.Errorf("monitor 20 has nothing at 00:00, got %s", s.Feeds[1].Status)
	}
	if s.EventCount != 3 {
		t.Errorf("event count %d", s.EventCount)
	}

	cmds := q.Drain()
	if len(cmds) == 0 || cmds[0].Kind != CommandLoad || cmds[0].MonitorID != 10 {
		t.Errorf("expected a load for monitor 10 first, got %+v", cmds)
	}
}

func TestOrchestrator_unknown_monitor_name(t *testing.T) {
	o := NewOrchestrator(Options{})
	seq, _ := o.BeginSearch(validSearch(10, 99), searchNow)
	o.CompleteSearch(seq, twoMonitorResult())

	feeds := o.Snapshot().Feeds
	if len(feeds) != 2 || feeds[1].MonitorName != UnknownMonitorName {
		t.Errorf("expected Unknown for monitor 99, got %+v", feeds)
	}
}

func TestOrchestrator_min_frames_filter(t *testing.T) {
	o := NewOrchestrator(Options{MinFrames: 100})
	seq, _ := o.BeginSearch(validSearch(10), searchNow)
	res := twoMonitorResult()
	res.Events[0].Frames = 101
	o.CompleteSearch(seq, res)

	if got := o.Snapshot().EventCount; got != 1 {
		t.Errorf("only the 101-frame event should survive, got %d", got)
	}
}

func TestOrchestrator_validation_blocks_search(t *testing.T) {
	o := NewOrchestrator(Options{})
	_, err := o.BeginSearch(SearchRequest{}, searchNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if o.Snapshot().Loading {
		t.Error("invalid search must not start loading")
	}
}

func TestOrchestrator_stale_results_dropped(t *testing.T) {
	o := NewOrchestrator(Options{})
	first, _ := o.BeginSearch(validSearch(10), searchNow)
	second, _ := o.BeginSearch(validSearch(20), searchNow)

	if o.CompleteSearch(first, twoMonitorResult()) {
		t.Error("superseded result must be dropped")
	}
	if o.FailSearch(first, errors.New("boom")) {
		t.Error("superseded failure must be dropped")
	}
	if !o.Snapshot().Loading {
		t.Error("newer search is still loading")
	}
	if !o.CompleteSearch(second, twoMonitorResult()) {
		t.Fatal("current result rejected")
	}
	if o.CompleteSearch(second, twoMonitorResult()) {
		t.Error("a search completes only once")
	}
	feeds := o.Snapshot().Feeds
	if len(feeds) != 1 || feeds[0].MonitorID != 20 {
		t.Errorf("expected the second search's feed set, got %+v", feeds)
	}
}

func TestOrchestrator_FailSearch_notifications(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"api_error", &api.APIError{StatusCode: 400, Body: api.ErrorBody{Message: "Invalid date range"}}, "Invalid date range"},
		{"network_error", fmt.Errorf("%w: connection refused", api.ErrNetwork), "Network Error: network error: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hooked error
			o := NewOrchestrator(Options{Hooks: Hooks{OnSearch: func(err error) { hooked = err }}})
			seq, _ := o.BeginSearch(validSearch(10), searchNow)
			if !o.FailSearch(seq, tt.err) {
				t.Fatal("current failure rejected")
			}
			s := o.Snapshot()
			if s.Loading {
				t.Error("failure must clear loading")
			}
			if s.Notification == nil || s.Notification.Message != tt.want {
				t.Fatalf("notification %+v, want %q", s.Notification, tt.want)
			}
			if s.Notification.Severity != "error" || s.Notification.AutoHide != 6000 {
				t.Errorf("notification style %+v", s.Notification)
			}
			if hooked != tt.err {
				t.Errorf("OnSearch got %v", hooked)
			}
		})
	}
}

func TestOrchestrator_failure_keeps_previous_montage(t *testing.T) {
	o, _ := loadedOrchestrator(t, Options{})
	seq, _ := o.BeginSearch(validSearch(10), searchNow)
	o.FailSearch(seq, errors.New("timeout"))

	s := o.Snapshot()
	if len(s.Feeds) != 2 || s.EventCount != 3 {
		t.Errorf("previous montage should stay intact, got %d feeds %d events", len(s.Feeds), s.EventCount)
	}
}

func TestOrchestrator_tick_advances_and_switches_events(t *testing.T) {
	o, q := loadedOrchestrator(t, Options{})
	if err := o.SetRate(60); err != nil {
		t.Fatal(err)
	}
	if err := o.Play(); err != nil {
		t.Fatal(err)
	}
	q.Drain()

	o.Tick(wall0)
	if !o.Tick(wall0.Add(10 * time.Second)) {
		t.Fatal("expected the clock to move")
	}
	s := o.Snapshot()
	if !s.Timestamp.Equal(at(0, 10, 0)) {
		t.Fatalf("10s at 60x should reach 00:10:00, got %v", s.Timestamp)
	}
	if !s.RateWarning {
		t.Error("60x is above the warning threshold")
	}
	if s.Feeds[0].Status != FeedNoData || s.Feeds[1].Current == nil || s.Feeds[1].Current.ID != 2 {
		t.Errorf("unexpected feeds at 00:10: %+v", s.Feeds)
	}

	var unload bool
	for _, c := range q.Drain() {
		if c.MonitorID == 10 && c.Kind == CommandLoad && c.Location == "" {
			unload = true
		}
	}
	if !unload {
		t.Error("monitor 10 should have been unloaded")
	}
}

func TestOrchestrator_pause_freezes_ticks(t *testing.T) {
	o, _ := loadedOrchestrator(t, Options{})
	_ = o.Play()
	o.Tick(wall0)
	o.Tick(wall0.Add(time.Second))
	o.Pause()

	before := o.Snapshot().Version
	if o.Tick(wall0.Add(time.Hour)) {
		t.Error("paused orchestrator should not advance")
	}
	if o.Snapshot().Version != before {
		t.Error("a no-op tick must not bump the version")
	}
	_ = o.Play()
	o.Tick(wall0.Add(time.Hour + time.Second))
	o.Tick(wall0.Add(time.Hour + 2*time.Second))
	if ts := o.Snapshot().Timestamp; !ts.Equal(at(0, 0, 2)) {
		t.Errorf("paused hour must not count, got %v", ts)
	}
}

func TestOrchestrator_SetLayout(t *testing.T) {
	o := NewOrchestrator(Options{})
	for _, n := range []int{1, 7, 0} {
		if err := o.SetLayout(n); !errors.Is(err, ErrInvalidLayout) {
			t.Errorf("layout %d: got %v", n, err)
		}
	}
	if err := o.SetLayout(4); err != nil || o.Snapshot().Layout != 4 {
		t.Errorf("layout 4: err=%v layout=%d", err, o.Snapshot().Layout)
	}
}

func TestOrchestrator_SetRate_rejects_invalid(t *testing.T) {
	o := NewOrchestrator(Options{})
	if err := o.SetRate(0); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("got %v", err)
	}
}

func TestOrchestrator_scrub_and_progress_resync(t *testing.T) {
	var resynced []api.MonitorID
	o, q := loadedOrchestrator(t, Options{Hooks: Hooks{OnResync: func(id api.MonitorID) {
		resynced = append(resynced, id)
	}}})
	q.Drain()

	if err := o.Scrub(at(0, 7, 0)); err != nil {
		t.Fatal(err)
	}
	s := o.Snapshot()
	if s.Feeds[1].Current == nil || s.Feeds[1].Current.ID != 2 {
		t.Fatalf("monitor 20 should show event 2 at 00:07, got %+v", s.Feeds[1])
	}
	// Monitor 10's clip has played 0s but should be 7 minutes in.
	if s.Feeds[0].Status != FeedCatchingUp {
		t.Errorf("monitor 10 status %s", s.Feeds[0].Status)
	}
	if len(resynced) == 0 || resynced[0] != 10 {
		t.Errorf("expected a resync of monitor 10, got %v", resynced)
	}

	if err := o.ReportProgress(10, 7*time.Minute); err != nil {
		t.Fatal(err)
	}
	if st := o.Snapshot().Feeds[0]; st.Status != FeedPlaying || st.Drift != 0 {
		t.Errorf("in-sync report should clear catching up, got %+v", st)
	}
	if err := o.ReportProgress(99, 0); !errors.Is(err, ErrUnknownMonitor) {
		t.Errorf("unknown monitor: got %v", err)
	}
}

func TestOrchestrator_version_increases(t *testing.T) {
	o := NewOrchestrator(Options{})
	v0 := o.Snapshot().Version
	_ = o.SetLayout(3)
	v1 := o.Snapshot().Version
	o.Pause()
	v2 := o.Snapshot().Version
	if !(v0 < v1 && v1 < v2) {
		t.Errorf("versions %d %d %d", v0, v1, v2)
	}
}

func TestOrchestrator_repeated_monitor_gets_one_feed(t *testing.T) {
	q := NewCommandQueue()
	o := NewOrchestrator(Options{Players: q.Factory()})
	seq, err := o.BeginSearch(validSearch(10, 10, 20, 10), searchNow)
	if err != nil {
		t.Fatal(err)
	}
	o.CompleteSearch(seq, twoMonitorResult())

	feeds := o.Snapshot().Feeds
	if len(feeds) != 2 || feeds[0].MonitorID != 10 || feeds[1].MonitorID != 20 {
		t.Fatalf("expected one feed per monitor, got %+v", feeds)
	}

	if err := o.ReportProgress(10, 0); err != nil {
		t.Fatal(err)
	}
	if st := o.Snapshot().Feeds[0]; st.Status != FeedPlaying || st.Resynced {
		t.Errorf("the only feed for monitor 10 should be in sync, got %+v", st)
	}
}
