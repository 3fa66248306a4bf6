package execengine

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/credswitch"
	"golang.org/x/sys/unix"
)

// monitor owns the PTY follower side and the command process. In the
// original architecture the monitor is a forked child; Go cannot safely
// fork without exec'ing immediately (the runtime isn't fork-safe), so
// here the monitor runs as a goroutine in the driver process, driving
// the command via os/exec attached to the follower, and reporting over
// the same fixed-message back-channel a real forked monitor would use.
type monitor struct {
	pty    *PTYPair
	target credswitch.Target
	path   string
	args   []string
	env    []string
	backW  *os.File
	cmd    *exec.Cmd
}

func newMonitor(p *PTYPair, target credswitch.Target, path string, args, env []string, backW *os.File) *monitor {
	return &monitor{pty: p, target: target, path: path, args: args, env: env, backW: backW}
}

// run starts the command attached to the PTY follower as its controlling
// terminal, reports msgStarted/msgExecFailed over the back-channel, and
// blocks until the command exits, then sends msgStopped once. Stop and
// continue transitions of the running command are not reported.
func (m *monitor) run(stopNotify chan<- struct{}) (*os.ProcessState, error) {
	groups := m.target.Groups
	if m.target.PreserveGroups {
		groups = m.target.InvokingGroups
	}

	cmd := exec.Command(m.path, m.args...)
	cmd.Env = m.env
	cmd.Dir = m.target.Chdir
	cmd.Stdin = m.pty.Follower
	cmd.Stdout = m.pty.Follower
	cmd.Stderr = m.pty.Follower
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    int(m.pty.Follower.Fd()),
		Chroot:  m.target.Chroot,
		Credential: &syscall.Credential{
			Uid:    m.target.UID,
			Gid:    m.target.GID,
			Groups: groups,
		},
	}
	m.cmd = cmd

	// The child inherits whatever umask is in effect at fork(2) time, and
	// Go's SysProcAttr has no per-child umask field, so the driver's
	// umask is set just long enough to cover Start's fork and restored
	// immediately after — this process never does anything else with it
	// in between.
	oldMask := unix.Umask(int(m.target.Umask))
	err := cmd.Start()
	unix.Umask(oldMask)
	if err != nil {
		writeMsg(m.backW, BackChannelMsg{Tag: msgExecFailed, Errno: int32(errnoOf(err))})
		return nil, err
	}
	writeMsg(m.backW, BackChannelMsg{Tag: msgStarted, PID: int32(cmd.Process.Pid)})

	waitErr := cmd.Wait()
	writeMsg(m.backW, BackChannelMsg{Tag: msgStopped})
	return cmd.ProcessState, waitErr
}

// signalGroup forwards sig to the command's process group.
func (m *monitor) signalGroup(sig syscall.Signal) error {
	if m.cmd == nil || m.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-m.cmd.Process.Pid, sig)
}

func errnoOf(err error) syscall.Errno {
	if pe, ok := err.(*os.PathError); ok {
		if errno, ok := pe.Err.(syscall.Errno); ok {
			return errno
		}
	}
	return syscall.EIO
}
