package execengine

import (
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/auditlog"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/credswitch"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/sigstream"
)

// State is one of the event loop's five states, driven by CHLD status
// changes and back-channel messages.
type State int

const (
	StateStarting State = iota
	StateRunningForeground
	StateRunningBackground
	StateStopped
	StateExiting
)

// Result is the terminal outcome of a PTY-mediated run.
type Result struct {
	ExitCode   int
	ExitSignal syscall.Signal // nonzero if killed by a signal
	ExecFailed bool
	Errno      syscall.Errno
}

// Engine drives the PTY-mediated event loop: it relays I/O between the
// invoking terminal and the PTY leader, translates managed signals into
// actions on the command's process group, and tracks the command's
// lifecycle via the back-channel and process-exit notification.
//
// Go's goroutine/channel model replaces the original single-threaded
// readiness-multiplexing reactor: the signal stream and the back-channel
// each run on their own goroutine feeding a shared event channel, which
// the loop below drains one event at a time. I/O in each direction is
// copied by its own goroutine outside that channel, so relayed I/O is not
// ordered with respect to signal handling.
type Engine struct {
	pty       *PTYPair
	invoking  *os.File // invoking process's controlling terminal, or nil
	sig       *sigstream.Stream
	back      *os.File // read end of the back-channel
	mon       *monitor
	log       *auditlog.Logger
	state     State
	commandPID int
}

type eventKind int

const (
	evSignal eventKind = iota
	evBackChannel
	evChildExit
)

type event struct {
	kind eventKind
	sig  sigstream.Info
	msg  BackChannelMsg
}

// New constructs an Engine ready to Run the given command under the
// target credentials, relaying I/O through pty and signals from sig.
func New(p *PTYPair, invoking *os.File, sig *sigstream.Stream, log *auditlog.Logger) *Engine {
	if log == nil {
		log = auditlog.NewDiscard()
	}
	return &Engine{pty: p, invoking: invoking, sig: sig, log: log, state: StateStarting}
}

// Run starts the command and drives the event loop until it exits.
func (e *Engine) Run(target credswitch.Target, path string, args, env []string) (Result, error) {
	backR, backW, err := os.Pipe()
	if err != nil {
		return Result{}, err
	}
	defer backR.Close()
	e.back = backR
	e.mon = newMonitor(e.pty, target, path, args, env, backW)

	events := make(chan event, 64)

	var wg sync.WaitGroup
	childDone := make(chan struct{ state *os.ProcessState; err error }, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer backW.Close()
		st, err := e.mon.run(nil)
		childDone <- struct {
			state *os.ProcessState
			err   error
		}{st, err}
	}()

	go e.pumpBackChannel(events)
	go e.pumpSignals(events)
	stopIO := e.pumpIO()
	defer stopIO()

	e.state = StateRunningForeground
	var result Result
	for {
		select {
		case ev := <-events:
			switch ev.kind {
			case evBackChannel:
				if done := e.handleBackChannel(ev.msg, &result); done {
					wg.Wait()
					return result, nil
				}
			case evSignal:
				// commandPID is only ever written here in the single event-loop
				// goroutine, so reading it here to stamp the originator is safe.
				ev.sig.Originator = int32(e.commandPID)
				e.log.Debug("signal relayed", auditlog.F("signal", ev.sig.Signal.String()), auditlog.F("originator", ev.sig.Originator))
				e.handleSignal(ev.sig.Signal)
			}
		case cd := <-childDone:
			e.state = StateExiting
			result = resultFromProcessState(cd.state, cd.err)
			wg.Wait()
			return result, nil
		}
	}
}

func resultFromProcessState(ps *os.ProcessState, err error) Result {
	if ps == nil {
		return Result{ExitCode: 1}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return Result{ExitSignal: ws.Signal()}
		}
		return Result{ExitCode: ws.ExitStatus()}
	}
	return Result{ExitCode: ps.ExitCode()}
}

func (e *Engine) handleBackChannel(msg BackChannelMsg, result *Result) (terminal bool) {
	switch msg.Tag {
	case msgStarted:
		e.commandPID = int(msg.PID)
		e.log.Debug("command started", auditlog.F("pid", msg.PID))
	case msgExecFailed:
		result.ExecFailed = true
		result.Errno = syscall.Errno(msg.Errno)
		e.log.Error("exec failed", auditlog.F("errno", int(msg.Errno)))
		return true
	case msgStopped:
		e.state = StateStopped
	case msgForeground:
		e.state = StateRunningForeground
	case msgBackground:
		e.state = StateRunningBackground
	}
	return false
}

// handleSignal implements the per-signal reactions for the event loop.
// CHLD handling happens via childDone instead (Go's os/exec already
// reaps the child), so CHLD is not separately forwarded here.
func (e *Engine) handleSignal(sig syscall.Signal) {
	switch sig {
	case syscall.SIGWINCH:
		if e.invoking != nil {
			if err := SyncWindowSize(e.invoking, e.pty.Leader); err != nil {
				e.log.Debug("winch sync failed", auditlog.F("error", err.Error()))
			}
		}
	case syscall.SIGCHLD:
		// reaping happens via cmd.Wait() in the monitor goroutine
	case syscall.SIGTSTP:
		e.mon.signalGroup(sig)
		e.state = StateStopped
	case syscall.SIGCONT:
		e.mon.signalGroup(sig)
		if e.state == StateStopped {
			e.state = StateRunningForeground
		}
	default:
		// INT/QUIT/TERM/HUP/USR1/USR2/ALRM and the rest: forwarded to the
		// command's process group unconditionally; the sender is not known
		// here, so a signal the command sent itself is forwarded as well.
		e.mon.signalGroup(sig)
	}
}

func (e *Engine) pumpSignals(out chan<- event) {
	for sig := range e.sig.Events() {
		s, ok := sigstream.AsSignal(sig)
		if !ok {
			continue
		}
		out <- event{kind: evSignal, sig: sigstream.Info{Signal: s}}
	}
}

func (e *Engine) pumpBackChannel(out chan<- event) {
	for {
		msg, err := readMsg(e.back)
		if err != nil {
			return
		}
		out <- event{kind: evBackChannel, msg: msg}
	}
}

// pumpIO relays invoking-stdin -> PTY leader and PTY leader -> invoking
// stdout. The returned stop function does not interrupt the copy
// goroutines; each ends when its read or write fails, e.g. once the PTY
// pair is closed.
func (e *Engine) pumpIO() func() {
	done := make(chan struct{})
	if e.invoking != nil {
		go func() {
			io.Copy(e.pty.Leader, os.Stdin)
		}()
		go func() {
			io.Copy(os.Stdout, e.pty.Leader)
		}()
	}
	return func() { close(done) }
}
