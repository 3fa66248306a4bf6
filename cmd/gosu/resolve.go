package main

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/errs"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/principal"
)

// groupResolver adapts os/user's group lookups to principal.GroupNameResolver.
type groupResolver struct{}

func (groupResolver) GIDByName(name string) (uint32, bool) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, false
	}
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(gid), true
}

func loadInvokingUser() (*principal.Real, error) {
	u, err := user.Current()
	if err != nil {
		return nil, &errs.Io{Err: err}
	}
	return realFromOSUser(u)
}

func realFromOSUser(u *user.User) (*principal.Real, error) {
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, &errs.Io{Err: err}
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, &errs.Io{Err: err}
	}
	gidStrs, err := u.GroupIds()
	if err != nil {
		return nil, &errs.Io{Err: err}
	}
	gids := make([]uint32, 0, len(gidStrs))
	for _, s := range gidStrs {
		n, err := strconv.ParseUint(s, 10, 32)
		if err == nil {
			gids = append(gids, uint32(n))
		}
	}
	r := principal.NewReal(u.Username, uint32(uid), uint32(gid), gids)
	return r.WithResolver(groupResolver{}), nil
}

func lookupTargetUser(name string) (*user.User, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, &errs.UserNotFound{Name: name}
	}
	return u, nil
}

// resolveCommand finds the absolute path for cmd, searching PATH when
// cmd has no path separator: a relative cmd succeeds iff some entry of
// PATH contains an executable of that name.
func resolveCommand(cmd, pathEnv string) (string, error) {
	if cmd == "" {
		return "", &errs.Options{Msg: "no command specified"}
	}
	if strings.Contains(cmd, "/") {
		if isExecutable(cmd) {
			return filepath.Abs(cmd)
		}
		return "", &errs.InvalidCommand{Path: cmd}
	}
	for _, dir := range strings.Split(pathEnv, ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, cmd)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", &errs.InvalidCommand{Path: cmd}
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode()&0111 != 0
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

func groupNames(u *user.User) []string {
	gids, err := u.GroupIds()
	if err != nil {
		return nil
	}
	var names []string
	for _, gidStr := range gids {
		if g, err := user.LookupGroupId(gidStr); err == nil {
			names = append(names, g.Name)
		}
	}
	return names
}
