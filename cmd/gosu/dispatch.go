package main

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/auditlog"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/auth"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/credswitch"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/errs"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/execengine"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/policy"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/principal"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/secureio"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/settings"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/sigstream"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/tsstore"

	"golang.org/x/term"
)

// timestampDir is the root-owned directory holding one timestamp record
// file per invoking uid.
const timestampDir = "/run/gosu-ts"

// dispatch interprets opts against the policy file, running whichever of
// the core's subcommands opts.Mode selects. The returned exit code only
// matters when err is nil; a non-nil err is always translated by main
// via its ExitCoder, when it implements one.
func dispatch(opts *Options, log *auditlog.Logger) (int, error) {
	invoking, err := loadInvokingUser()
	if err != nil {
		return 0, err
	}

	ast, reg, err := loadPolicy(opts)
	if err != nil {
		return 0, err
	}

	switch opts.Mode {
	case ModeValidate:
		return runValidate(ast)
	case ModeList:
		return runList(ast, invoking)
	case ModeResetTimestamp:
		return runTimestampReset(invoking, reg, false)
	case ModeRemoveTimestamp:
		return runTimestampReset(invoking, reg, true)
	case ModeEdit:
		return runEdit(opts, reg)
	}

	return runExecute(opts, ast, reg, invoking, log)
}

func loadPolicy(opts *Options) (*policy.AST, *settings.Registry, error) {
	f, err := secureio.SecureOpen(opts.PolicyPath)
	if err != nil {
		return nil, nil, &errs.Configuration{Msg: fmt.Sprintf("%s: %v", opts.PolicyPath, err)}
	}
	src, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, nil, &errs.Io{Err: err}
	}

	resolver := policy.OSIncludeResolver{SecureOpen: secureio.SecureOpen}
	ast, err := policy.Parse(string(src), opts.PolicyPath, policy.ParseOptions{
		Strict:     opts.Strict,
		NoIncludes: opts.NoIncludes,
		IncludeRes: resolver,
	})
	if err != nil {
		return nil, nil, &errs.Configuration{Msg: err.Error()}
	}
	return ast, settings.NewRegistry(), nil
}

func runValidate(ast *policy.AST) (int, error) {
	hadError := false
	for _, d := range ast.Diagnostics {
		fmt.Fprintln(os.Stderr, d.String())
		if d.Severity == policy.SeverityError {
			hadError = true
		}
	}
	if hadError {
		return 0, &errs.Configuration{Msg: "policy file has errors"}
	}
	fmt.Println("gosu: parsed OK")
	return 0, nil
}

func runList(ast *policy.AST, invoking *principal.Real) (int, error) {
	host := hostname()
	fmt.Printf("User %s may run the following commands on %s:\n", invoking.Name(), host)
	for _, us := range ast.UserSpecs {
		if !policy.MatchesUser(ast, us.Users, invoking) {
			continue
		}
		for _, hc := range us.Hosts {
			if !policy.MatchesHost(ast, hc.Host, host) {
				continue
			}
			for _, cs := range hc.Commands {
				fmt.Println("    " + describeCommandSpec(cs))
			}
		}
	}
	return 0, nil
}

func describeCommandSpec(cs policy.CommandSpec) string {
	runas := "root"
	if len(cs.RunAs.Users) > 0 {
		names := make([]string, 0, len(cs.RunAs.Users))
		for _, m := range cs.RunAs.Users {
			switch {
			case m.All:
				names = append(names, "ALL")
			case m.Alias != "":
				names = append(names, m.Alias)
			default:
				names = append(names, m.Literal)
			}
		}
		runas = strings.Join(names, ",")
	}

	cmd := cs.Command.Literal
	switch {
	case cs.Command.All:
		cmd = "ALL"
	case cs.Command.Alias != "":
		cmd = cs.Command.Alias
	}
	if cs.Command.ArgGlob != "" {
		cmd += " " + cs.Command.ArgGlob
	}

	prefix := "(" + runas + ") "
	if cs.Tag.Authenticate != nil && !*cs.Tag.Authenticate {
		prefix += "NOPASSWD: "
	}
	return prefix + cmd
}

func runTimestampReset(invoking *principal.Real, reg *settings.Registry, removeAll bool) (int, error) {
	store := tsstore.Open(timestampDir, invoking.UID(), timeoutWindow(reg), bootID)
	var err error
	if removeAll {
		err = store.RemoveAll()
	} else {
		err = store.Reset(resolveScope().Tag)
	}
	if err != nil {
		return 0, &errs.Io{Err: err}
	}
	return 0, nil
}

func runEdit(opts *Options, reg *settings.Registry) (int, error) {
	if opts.Command == "" {
		return 0, &errs.Options{Msg: "no file specified"}
	}
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = reg.Text("editor")
	}
	path, err := resolveCommand(editor, os.Getenv("PATH"))
	if err != nil {
		return 0, err
	}
	args := append([]string{path, opts.Command}, opts.Args...)
	if err := syscall.Exec(path, args, os.Environ()); err != nil {
		return 0, &errs.Io{Err: err}
	}
	return 0, nil
}

func timeoutWindow(reg *settings.Registry) time.Duration {
	return reg.Duration("timestamp_timeout")
}

func runExecute(opts *Options, ast *policy.AST, reg *settings.Registry, invoking *principal.Real, log *auditlog.Logger) (int, error) {
	target, err := lookupTargetUser(opts.TargetUser)
	if err != nil {
		return 0, err
	}
	targetUID, targetGID, targetGroups, err := targetIdentity(target)
	if err != nil {
		return 0, &errs.Io{Err: err}
	}
	if opts.TargetGroup != "" {
		g, err := user.LookupGroup(opts.TargetGroup)
		if err != nil {
			return 0, &errs.GroupNotFound{Name: opts.TargetGroup}
		}
		gid, err := strconv.ParseUint(g.Gid, 10, 32)
		if err != nil {
			return 0, &errs.Io{Err: err}
		}
		targetGID = uint32(gid)
	}

	host := hostname()
	pathEnv := reg.Text("secure_path")
	if pathEnv == "" {
		pathEnv = os.Getenv("PATH")
	}
	resolvedCmd, err := resolveCommand(opts.Command, pathEnv)
	if err != nil {
		return 0, err
	}

	for _, derr := range policy.ApplyDefaults(ast, reg, policy.DefaultsContext{
		Host:      host,
		User:      invoking.Name(),
		Command:   resolvedCmd,
		RunasUser: opts.TargetUser,
	}) {
		log.Warn("malformed Defaults statement", auditlog.F("error", derr.Error()))
	}

	req := policy.Request{
		InvokingUser: invoking,
		TargetUser:   opts.TargetUser,
		Host:         host,
		Command:      resolvedCmd,
		Args:         opts.Args,
	}
	if opts.TargetGroup != "" {
		req.TargetGroups = []string{opts.TargetGroup}
	}

	judgement := policy.Evaluate(ast, reg, req)
	if judgement.Forbidden() {
		log.Warn("denied", auditlog.F("user", invoking.Name()), auditlog.F("command", resolvedCmd))
		return 0, &errs.Authorization{User: invoking.Name()}
	}

	if judgement.Controls.NeedsAuth {
		store := tsstore.Open(timestampDir, invoking.UID(), timeoutWindow(reg), bootID)
		scope := resolveScope()
		if opts.NonInteractive {
			res, terr := store.Touch(scope, targetUID)
			if terr != nil || res != tsstore.Found {
				return 0, &errs.Authentication{Reason: "a password is required"}
			}
		} else {
			authOpts := auth.Options{
				Service:      auth.ServiceName(opts.LoginShell),
				InvokingUser: invoking.Name(),
				InvokingUID:  invoking.UID(),
				TargetUID:    targetUID,
				Scope:        scope,
				MaxAttempts:  int(reg.Integer("passwd_tries")),
				Store:        store,
				Log:          log,
			}
			if err := auth.Authenticate(auth.OpenPAM(opts.PasswordStdin), authOpts); err != nil {
				return 0, err
			}
		}
	}

	log.Info("command allowed",
		auditlog.F("user", invoking.Name()),
		auditlog.F("target", opts.TargetUser),
		auditlog.F("command", resolvedCmd))

	env := buildEnvironment(judgement.Controls.Env, invoking, target, opts, reg.Text("secure_path"))

	chdir := judgement.Controls.ChDir
	if opts.ChdirTo != "" {
		chdir = opts.ChdirTo
	}
	ct := credswitch.Target{
		UID:            targetUID,
		GID:            targetGID,
		Groups:         targetGroups,
		PreserveGroups: reg.Flag("preserve_groups") || opts.PreserveGroups,
		InvokingGroups: invoking.GIDs(),
		Chdir:          chdir,
		Umask:          judgement.Controls.Umask,
		Chroot:         opts.ChrootTo,
	}

	args := append([]string{resolvedCmd}, opts.Args...)

	if !opts.Background && term.IsTerminal(int(os.Stdin.Fd())) {
		return runPTY(ct, resolvedCmd, args, env, log)
	}
	return 0, execengine.RunDirect(ct, resolvedCmd, args, env)
}

func runPTY(ct credswitch.Target, path string, args, env []string, log *auditlog.Logger) (int, error) {
	invokingTTY := os.Stdin
	pair, err := execengine.AllocatePTY(invokingTTY)
	if err != nil {
		return 0, &errs.Io{Err: err}
	}
	defer pair.Close()

	if restore, err := execengine.RawMode(invokingTTY); err == nil {
		defer restore()
	}
	execengine.SyncWindowSize(invokingTTY, pair.Leader)

	sig := sigstream.New()
	defer sig.Stop()

	eng := execengine.New(pair, invokingTTY, sig, log)
	result, err := eng.Run(ct, path, args, env)
	if err != nil {
		return 0, &errs.Io{Err: err}
	}
	if result.ExecFailed {
		return 0, &errs.InvalidCommand{Path: path, Err: result.Errno}
	}
	if result.ExitSignal != 0 {
		return 128 + int(result.ExitSignal), nil
	}
	return result.ExitCode, nil
}

func targetIdentity(u *user.User) (uid, gid uint32, groups []uint32, err error) {
	uid64, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, nil, err
	}
	gid64, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, nil, err
	}
	gidStrs, err := u.GroupIds()
	if err != nil {
		return 0, 0, nil, err
	}
	for _, s := range gidStrs {
		if n, e := strconv.ParseUint(s, 10, 32); e == nil {
			groups = append(groups, uint32(n))
		}
	}
	return uint32(uid64), uint32(gid64), groups, nil
}
