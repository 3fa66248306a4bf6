package execengine

import (
	"syscall"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/credswitch"
)

// RunDirect performs the credential switch and replaces the current
// process image with the command, inheriting the invoking controlling
// terminal. Used when no PTY is required.
// On success this call never returns; on failure it returns the error
// from the credential switch or from exec itself.
func RunDirect(target credswitch.Target, path string, args, env []string) error {
	if err := credswitch.Apply(target); err != nil {
		return err
	}
	return syscall.Exec(path, args, env)
}
