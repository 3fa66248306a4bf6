// Package credswitch implements the atomic transition from running as
// root to the target identity immediately before exec. The manager
// package's use of syscall.Credential for dropping privilege on a
// spawned child suggested the step ordering; here the switch happens
// in-process (this process becomes the target, rather than spawning one
// that already runs as it).
package credswitch

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Target is the identity and run-time controls the switch moves this
// process to.
type Target struct {
	UID            uint32
	GID            uint32
	Groups         []uint32 // target's full supplementary group vector
	PreserveGroups bool     // keep the invoking vector instead of Groups
	InvokingGroups []uint32
	Chdir          string
	Umask          uint32
	Chroot         string
}

// Apply performs the credential switch in order, failing fast on the
// first error: chroot (if configured), then groups, gid, uid, chdir,
// umask. Any failure here must be treated as fatal by the caller — exec
// must never proceed on a partial switch.
func Apply(t Target) error {
	if t.Chroot != "" {
		if err := unix.Chroot(t.Chroot); err != nil {
			return fmt.Errorf("credswitch: chroot %s: %w", t.Chroot, err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("credswitch: chdir after chroot: %w", err)
		}
	}

	groups := t.Groups
	if t.PreserveGroups {
		groups = t.InvokingGroups
	}
	ugroups := make([]int, len(groups))
	for i, g := range groups {
		ugroups[i] = int(g)
	}
	if err := unix.Setgroups(ugroups); err != nil {
		return fmt.Errorf("credswitch: setgroups: %w", err)
	}

	if err := unix.Setresgid(int(t.GID), int(t.GID), int(t.GID)); err != nil {
		return fmt.Errorf("credswitch: setresgid(%d): %w", t.GID, err)
	}

	if err := unix.Setresuid(int(t.UID), int(t.UID), int(t.UID)); err != nil {
		return fmt.Errorf("credswitch: setresuid(%d): %w", t.UID, err)
	}

	if t.Chdir != "" {
		if err := os.Chdir(t.Chdir); err != nil {
			return fmt.Errorf("credswitch: chdir %s: %w", t.Chdir, err)
		}
	}

	unix.Umask(int(t.Umask))
	return nil
}
