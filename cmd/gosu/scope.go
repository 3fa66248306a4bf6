package main

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/tsstore"
	"golang.org/x/sys/unix"
)

// resolveScope picks the timestamp scope for this invocation: the
// controlling terminal's session when one is attached, falling back to
// the parent process when running detached (e.g. from cron or a script
// with its stdin redirected).
func resolveScope() tsstore.Scope {
	if s, ok := ttyScope(); ok {
		return s
	}
	if s, err := ppidScope(); err == nil {
		return s
	}
	return tsstore.Scope{Tag: tsstore.ScopeGlobal}
}

func ttyScope() (tsstore.Scope, bool) {
	f, err := os.Open("/dev/tty")
	if err != nil {
		return tsstore.Scope{}, false
	}
	f.Close()

	// fstat on /dev/tty reports the /dev/tty node itself; the controlling
	// terminal's device number is tty_nr, field 7 of /proc/self/stat
	// (fields[4] after the comm).
	data, err := os.ReadFile("/proc/self/stat")
	idx := bytes.LastIndexByte(data, ')')
	if err != nil || idx < 0 {
		return tsstore.Scope{}, false
	}
	fields := strings.Fields(string(data[idx+1:]))
	if len(fields) < 5 {
		return tsstore.Scope{}, false
	}
	ttyNr, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil || ttyNr == 0 {
		return tsstore.Scope{}, false
	}
	sid, err := unix.Getsid(0)
	if err != nil {
		return tsstore.Scope{}, false
	}
	start, err := processStartTime(sid)
	if err != nil {
		return tsstore.Scope{}, false
	}
	return tsstore.Scope{Tag: tsstore.ScopeTTY, Dev: ttyNr, Pid: int32(sid), StartTime: start}, true
}

func ppidScope() (tsstore.Scope, error) {
	ppid := os.Getppid()
	start, err := processStartTime(ppid)
	if err != nil {
		return tsstore.Scope{}, err
	}
	return tsstore.Scope{Tag: tsstore.ScopePPID, Pid: int32(ppid), StartTime: start}, nil
}

// processStartTime reads the kernel-reported start time (in clock ticks
// since boot) of pid from /proc, field 22 of /proc/<pid>/stat. The comm
// field is parenthesized and may itself contain spaces or parens, so
// parsing resumes after the last ')' rather than splitting naively.
func processStartTime(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	idx := bytes.LastIndexByte(data, ')')
	if idx < 0 || idx+2 > len(data) {
		return 0, fmt.Errorf("scope: malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(string(data[idx+2:]))
	// fields[0] is state (field 3); starttime is field 22 overall, the
	// 20th field after the comm, i.e. fields[19] here.
	if len(fields) < 20 {
		return 0, fmt.Errorf("scope: short /proc/%d/stat", pid)
	}
	return strconv.ParseUint(fields[19], 10, 64)
}

// bootID reads the kernel's stable per-boot identifier, used by the
// timestamp store to invalidate records across a reboot.
func bootID() ([16]byte, error) {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return [16]byte{}, err
	}
	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return [16]byte{}, err
	}
	return [16]byte(id), nil
}
