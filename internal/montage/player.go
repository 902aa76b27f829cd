package montage

import (
	"time"

	"review-montage/internal/api"
)

// Player is the command side of one external media player. Commands are fire
// and forget: a clip that fails to load is the player's problem, and the feed
// only reacts when its current event changes again. Progress flows the other
// way through Feed.ReportProgress.
type Player interface {
	// Load replaces the playing clip. An empty location unloads it.
	Load(location string)
	// Preload fetches a clip muted and paused so a later Load is gapless.
	Preload(location string)
	// Seek jumps to offset from the start of the loaded clip.
	Seek(offset time.Duration)
	SetRate(rate float64)
	Play()
	Pause()
}

// PlayerFactory creates the player for a monitor when its feed is created.
type PlayerFactory func(m api.Monitor) Player

// CommandKind names a player command on the wire.
type CommandKind string

const (
	CommandLoad    CommandKind = "load"
	CommandPreload CommandKind = "preload"
	CommandSeek    CommandKind = "seek"
	CommandRate    CommandKind = "rate"
	CommandPlay    CommandKind = "play"
	CommandPause   CommandKind = "pause"
)

// PlayerCommand is one command addressed to a monitor's player.
type PlayerCommand struct {
	MonitorID api.MonitorID `json:"monitorId"`
	Kind      CommandKind   `json:"kind"`
	Location  string        `json:"location,omitempty"`
	Offset    float64       `json:"offset"` // seconds into the clip
	Rate      float64       `json:"rate,omitempty"`
}

// CommandQueue collects commands for players that live elsewhere, such as
// video elements on a page. It belongs to the goroutine that evaluates
// feeds and is not safe for concurrent use.
type CommandQueue struct {
	cmds []PlayerCommand
}

// NewCommandQueue returns an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Player returns a Player whose commands are queued for monitor id.
func (q *CommandQueue) Player(id api.MonitorID) Player {
	return &remotePlayer{id: id, q: q}
}

// Factory adapts the queue to a PlayerFactory.
func (q *CommandQueue) Factory() PlayerFactory {
	return func(m api.Monitor) Player { return q.Player(m.ID) }
}

// Drain returns the queued commands in issue order and empties the queue.
func (q *CommandQueue) Drain() []PlayerCommand {
	cmds := q.cmds
	q.cmds = nil
	return cmds
}

func (q *CommandQueue) push(cmd PlayerCommand) {
	q.cmds = append(q.cmds, cmd)
}

type remotePlayer struct {
	id api.MonitorID
	q  *CommandQueue
}

func (p *remotePlayer) Load(location string) {
	p.q.push(PlayerCommand{MonitorID: p.id, Kind: CommandLoad, Location: location})
}

func (p *remotePlayer) Preload(location string) {
	p.q.push(PlayerCommand{MonitorID: p.id, Kind: CommandPreload, Location: location})
}

func (p *remotePlayer) Seek(offset time.Duration) {
	p.q.push(PlayerCommand{MonitorID: p.id, Kind: CommandSeek, Offset: offset.Seconds()})
}

func (p *remotePlayer) SetRate(rate float64) {
	p.q.push(PlayerCommand{MonitorID: p.id, Kind: CommandRate, Rate: rate})
}

func (p *remotePlayer) Play() {
	p.q.push(PlayerCommand{MonitorID: p.id, Kind: CommandPlay})
}

func (p *remotePlayer) Pause() {
	p.q.push(PlayerCommand{MonitorID: p.id, Kind: CommandPause})
}
