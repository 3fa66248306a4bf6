package main

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/policy"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/principal"
)

// buildEnvironment applies an evaluated EnvPolicy against the invoking
// process's environment, then layers on the target account's identity
// variables and any VAR=value overrides in opts.SetEnv. reset (unless -E
// is given) discards everything except the keep/check lists; a non-reset
// policy, or -E, starts from the full invoking environment instead.
func buildEnvironment(pol policy.EnvPolicy, invoking *principal.Real, target *user.User, opts *Options, securePath string) []string {
	base := map[string]string{}

	if pol.Reset && !opts.PreserveEnv {
		for _, k := range pol.Keep {
			if v, ok := os.LookupEnv(k); ok {
				base[k] = v
			}
		}
		for _, k := range pol.Check {
			if v, ok := os.LookupEnv(k); ok {
				base[k] = v
			}
		}
	} else {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				base[kv[:i]] = kv[i+1:]
			}
		}
	}

	base["USER"] = target.Username
	base["LOGNAME"] = target.Username
	// HOME follows the target account whenever the environment is reset
	// (the default) or -H was given explicitly; otherwise the invoking
	// user's HOME, already copied into base above, is left alone.
	if pol.Reset || opts.SetHome {
		base["HOME"] = target.HomeDir
	}
	if _, ok := base["SHELL"]; !ok || (!opts.PreserveEnv && pol.Reset) {
		base["SHELL"] = shellFor(target)
	}
	if securePath != "" {
		base["PATH"] = securePath
	}

	base["SUDO_USER"] = invoking.Name()
	base["SUDO_UID"] = fmt.Sprint(invoking.UID())
	base["SUDO_GID"] = fmt.Sprint(invoking.GID())
	base["SUDO_COMMAND"] = opts.Command

	for _, kv := range opts.SetEnv {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}

	out := make([]string, 0, len(base))
	for k, v := range base {
		out = append(out, k+"="+v)
	}
	return out
}

// shellFor picks a shell for the target account without reading its
// login shell from /etc/passwd: /bin/bash when the home directory is
// /root, /bin/sh otherwise.
func shellFor(u *user.User) string {
	// os/user on Linux does not expose the shell field; the caller's
	// target lookup only gives us name/uid/gid/home, so a reasonable
	// system default is used instead of misreporting an empty shell.
	if u.HomeDir == "/root" {
		return "/bin/bash"
	}
	return "/bin/sh"
}
