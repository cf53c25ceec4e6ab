// Package replay plays reconciled scene timelines back for inspection. The
// player is a small two-state machine over timeline positions; rendering of
// the frames it presents lives in render.go.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gridframe-data/gridframe/internal/timeline"
	"github.com/gridframe-data/gridframe/internal/timeutil"
)

// State is the player's playback mode.
type State int

const (
	Paused State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "paused"
}

// Command is one playback control input.
type Command int

const (
	CmdTogglePlay Command = iota
	CmdStepForward
	CmdStepBack
	CmdQuit
)

// DefaultCadence paces automatic advancement when playing. It matches the
// default capture tick rate of 20 Hz.
const DefaultCadence = 50 * time.Millisecond

// Player steps through a reconciled timeline. Manual steps clamp at both
// ends; automatic advancement halts (returns to Paused) at the final
// position instead of wrapping. Safe for concurrent use: the run loop and
// command senders may live on different goroutines.
type Player struct {
	mu      sync.Mutex
	tl      *timeline.Timeline
	pos     int
	state   State
	cadence time.Duration
	clock   timeutil.Clock
}

// NewPlayer creates a player positioned at the start of tl, paused.
func NewPlayer(tl *timeline.Timeline, cadence time.Duration) (*Player, error) {
	if tl == nil || tl.Len() == 0 {
		return nil, fmt.Errorf("replay: timeline has no presentable frames")
	}
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Player{tl: tl, cadence: cadence, clock: timeutil.RealClock{}}, nil
}

// State returns the current playback mode.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the current timeline position.
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Current returns the presented frame at the current position.
func (p *Player) Current() timeline.PresentedFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tl.Frame(p.pos)
}

// Apply executes one command against the state machine and reports whether
// the presented position changed. Step commands always pause: a manual
// step is an inspection gesture, and inspection wants a still frame.
// CmdQuit is handled by the run loop, not here.
func (p *Player) Apply(cmd Command) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd {
	case CmdTogglePlay:
		if p.state == Playing {
			p.state = Paused
		} else {
			p.state = Playing
		}
		return false
	case CmdStepForward:
		p.state = Paused
		if p.pos < p.tl.Len()-1 {
			p.pos++
			return true
		}
		return false
	case CmdStepBack:
		p.state = Paused
		if p.pos > 0 {
			p.pos--
			return true
		}
		return false
	default:
		return false
	}
}

// tick advances one position if playing. Reaching the final position halts
// playback.
func (p *Player) tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Playing {
		return false
	}
	if p.pos >= p.tl.Len()-1 {
		p.state = Paused
		return false
	}
	p.pos++
	if p.pos == p.tl.Len()-1 {
		p.state = Paused
	}
	return true
}

// Run drives the player until CmdQuit, a closed command channel, or
// context cancellation. present is called for the initial frame and after
// every position change; a present error aborts the run.
func (p *Player) Run(ctx context.Context, commands <-chan Command, present func(timeline.PresentedFrame) error) error {
	if err := present(p.Current()); err != nil {
		return err
	}

	ticker := p.clock.NewTicker(p.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-commands:
			if !ok || cmd == CmdQuit {
				return nil
			}
			if p.Apply(cmd) {
				if err := present(p.Current()); err != nil {
					return err
				}
			}
		case <-ticker.C():
			if p.tick() {
				if err := present(p.Current()); err != nil {
					return err
				}
			}
		}
	}
}
