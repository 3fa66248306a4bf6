package main

import (
	"fmt"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/errs"
)

// Mode is which of the core's subcommands is being invoked.
type Mode int

const (
	ModeExecute Mode = iota
	ModeList
	ModeValidate
	ModeResetTimestamp
	ModeRemoveTimestamp
	ModeEdit
)

// Options is the parsed command line, covering the flags the core
// consumes. Full argument parsing (beyond this minimal subset) and
// help/usage text are handled by an outer wrapper, not this package.
type Options struct {
	Mode Mode

	TargetUser     string
	TargetGroup    string
	SetHome        bool // -H (set HOME to the target account's home directory)
	PreserveGroups bool // -P (preserve the invoking group vector)
	PreserveEnv    bool // -E (preserve whole environment)
	SetEnv         []string
	LoginShell     bool   // -i
	Shell          bool   // -s
	ChdirTo        string // -D
	ChrootTo       string // -R
	NonInteractive bool   // -n
	PasswordStdin  bool   // -S
	Background     bool   // -b
	NoIncludes     bool   // --no-includes
	Strict         bool   // --strict
	PolicyPath     string

	Command string
	Args    []string
}

func parseArgs(argv []string) (*Options, error) {
	o := &Options{TargetUser: "root", PolicyPath: "/etc/gosu.conf"}
	i := 0
	for i < len(argv) {
		a := argv[i]
		switch a {
		case "-l":
			o.Mode = ModeList
		case "-v":
			o.Mode = ModeValidate
		case "-k":
			o.Mode = ModeResetTimestamp
		case "-K":
			o.Mode = ModeRemoveTimestamp
		case "-e":
			o.Mode = ModeEdit
		case "-H":
			o.SetHome = true
		case "-P":
			o.PreserveGroups = true
		case "-E":
			o.PreserveEnv = true
		case "-i":
			o.LoginShell = true
		case "-s":
			o.Shell = true
		case "-n":
			o.NonInteractive = true
		case "-S":
			o.PasswordStdin = true
		case "-b":
			o.Background = true
		case "--strict":
			o.Strict = true
		case "--no-includes":
			o.NoIncludes = true
		case "-u":
			i++
			if i >= len(argv) {
				return nil, &errs.Options{Msg: "-u requires an argument"}
			}
			o.TargetUser = argv[i]
		case "-g":
			i++
			if i >= len(argv) {
				return nil, &errs.Options{Msg: "-g requires an argument"}
			}
			o.TargetGroup = argv[i]
		case "-D":
			i++
			if i >= len(argv) {
				return nil, &errs.Options{Msg: "-D requires an argument"}
			}
			o.ChdirTo = argv[i]
		case "-R":
			i++
			if i >= len(argv) {
				return nil, &errs.Options{Msg: "-R requires an argument"}
			}
			o.ChrootTo = argv[i]
		case "--":
			i++
			o.Command, o.Args = splitCommand(argv[i:])
			return o, nil
		default:
			if len(a) > 0 && a[0] == '-' {
				return nil, &errs.Options{Msg: fmt.Sprintf("unrecognized option: %s", a)}
			}
			o.Command, o.Args = splitCommand(argv[i:])
			return o, nil
		}
		i++
	}
	return o, nil
}

func splitCommand(rest []string) (string, []string) {
	if len(rest) == 0 {
		return "", nil
	}
	return rest[0], rest[1:]
}
