// Package execengine implements privileged command execution: direct
// mode (exec after credential switch) and PTY-mediated mode (monitor
// goroutine, event loop, I/O and signal relay).
package execengine

import (
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// PTYPair is an allocated pseudo-terminal: the leader (controlled by
// this process) and the follower (attached to the command via the
// monitor).
type PTYPair struct {
	Leader   *os.File
	Follower *os.File
}

// AllocatePTY opens a new pseudo-terminal pair sized to match the
// invoking terminal, if any.
func AllocatePTY(invokingTTY *os.File) (*PTYPair, error) {
	leader, follower, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("execengine: allocate pty: %w", err)
	}
	if invokingTTY != nil {
		if sz, err := pty.GetsizeFull(invokingTTY); err == nil {
			_ = pty.Setsize(leader, sz)
		}
	}
	return &PTYPair{Leader: leader, Follower: follower}, nil
}

func (p *PTYPair) Close() {
	p.Leader.Close()
	p.Follower.Close()
}

// SyncWindowSize copies the invoking terminal's current window size onto
// the PTY leader; called on startup and on every WINCH.
func SyncWindowSize(invokingTTY, leader *os.File) error {
	sz, err := pty.GetsizeFull(invokingTTY)
	if err != nil {
		return err
	}
	return pty.Setsize(leader, sz)
}

// RawMode puts the invoking terminal into raw mode for the duration of
// the event loop, returning a restore function.
func RawMode(f *os.File) (restore func(), err error) {
	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { term.Restore(fd, state) }, nil
}
