package policy

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/principal"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/settings"
)

// Decision is the evaluator's outcome discriminant. The three values use
// widely-spaced bit patterns (pairwise Hamming distance >= 8 bits) so a
// single-bit memory fault cannot turn Forbidden into Allowed.
type Decision uint32

const (
	DecisionForbidden Decision = 0x1EADC0DE
	DecisionNeedsAuth Decision = 0x7A17B33F
	DecisionAllowed   Decision = 0xC001D00D
)

func (d Decision) String() string {
	switch d {
	case DecisionForbidden:
		return "Forbidden"
	case DecisionNeedsAuth:
		return "AllowedNeedsAuth"
	case DecisionAllowed:
		return "Allowed"
	}
	return "Invalid"
}

// EnvPolicy is the synthesized environment-handling controls for a
// granted request.
type EnvPolicy struct {
	Reset bool
	Keep  []string
	Check []string
}

// Controls are the run-time controls the evaluator emits alongside a
// non-Forbidden Judgement.
type Controls struct {
	NeedsAuth    bool
	Env          EnvPolicy
	ChDir        string
	Umask        uint32
	TargetUser   string
	TargetGroups []string
	Editor       string
	NoExec       bool
	SetHome      bool
	Mail         bool
}

// Judgement is the evaluator's total, deterministic output for one
// request triple.
type Judgement struct {
	Decision Decision
	Controls Controls
}

func (j Judgement) Forbidden() bool { return j.Decision == DecisionForbidden }
func (j Judgement) Allowed() bool {
	return j.Decision == DecisionAllowed || j.Decision == DecisionNeedsAuth
}

// Request is the (invoking user, target user, command) triple, plus the
// host identity the evaluator needs to match Host_List entries.
type Request struct {
	InvokingUser principal.User
	TargetUser   string // name being requested via -u (defaults to root)
	TargetGroups []string
	Host         string
	Command      string // resolved absolute path
	Args         []string
}

// Evaluate collects matching user-specs for (invoking user, host), walks
// them in file order keeping the last matching command-spec for the
// requested triple, and turns that into a Judgement. Evaluate is total:
// every well-formed AST and Request produces exactly one of
// Forbidden/NeedsAuth/Allowed, never an error — the evaluator has no I/O
// of its own.
func Evaluate(ast *AST, defaults *settings.Registry, req Request) Judgement {
	var lastSpec *CommandSpec
	var lastRunAs RunAs

	for _, us := range ast.UserSpecs {
		if !matchUserList(ast, us.Users, req.InvokingUser) {
			continue
		}
		for _, hc := range us.Hosts {
			if !matchHost(ast, hc.Host, req.Host) {
				continue
			}
			if cs, runas, ok := lastMatchingCommand(ast, hc.Commands, req); ok {
				lastSpec = cs
				lastRunAs = runas
			}
		}
	}

	if lastSpec == nil {
		return Judgement{Decision: DecisionForbidden}
	}

	controls := synthesizeControls(defaults, *lastSpec, lastRunAs, req)
	if lastSpec.Tag.Authenticate != nil && !*lastSpec.Tag.Authenticate {
		return Judgement{Decision: DecisionAllowed, Controls: controls}
	}
	controls.NeedsAuth = true
	return Judgement{Decision: DecisionNeedsAuth, Controls: controls}
}

// matchUserList applies a matcher list to an invoking user: the last
// applicable element (alias expansion included) decides membership;
// earlier negations can be overridden by a later positive match and vice
// versa.
// MatchesUser reports whether an invoking-user matcher list (as found in
// a UserSpec's Users field) matches who. Exported so the -l (list) mode
// can reuse alias resolution without duplicating it.
func MatchesUser(ast *AST, list []Matcher, who principal.User) bool {
	return matchUserList(ast, list, who)
}

// MatchesHost reports whether a single host matcher matches host.
// Exported for the same reason as MatchesUser.
func MatchesHost(ast *AST, m Matcher, host string) bool {
	return matchHost(ast, m, host)
}

func matchUserList(ast *AST, list []Matcher, who principal.User) bool {
	matched := false
	any := false
	for _, m := range list {
		if applies, positive := matchUserElem(ast, m, who, map[string]bool{}); applies {
			any = true
			matched = positive
		}
	}
	return any && matched
}

func matchUserElem(ast *AST, m Matcher, who principal.User, visiting map[string]bool) (applies, positive bool) {
	if m.All {
		return true, !m.Negated
	}
	if m.Alias != "" {
		if visiting[m.Alias] {
			return false, false
		}
		visiting[m.Alias] = true
		if matchUserList(ast, ast.UserAliases[m.Alias], who) {
			return true, !m.Negated
		}
		return false, false
	}
	lit := m.Literal
	if strings.HasPrefix(lit, "%") {
		if who.InGroupByName(strings.TrimPrefix(lit, "%")) {
			return true, !m.Negated
		}
		return false, false
	}
	if who.HasName(lit) {
		return true, !m.Negated
	}
	return false, false
}

func matchHost(ast *AST, m Matcher, host string) bool {
	applies, positive := matchHostElem(ast, m, host, map[string]bool{})
	return applies && positive
}

func matchHostElem(ast *AST, m Matcher, host string, visiting map[string]bool) (applies, positive bool) {
	if m.All {
		return true, !m.Negated
	}
	if m.Alias != "" {
		if visiting[m.Alias] {
			return false, false
		}
		visiting[m.Alias] = true
		member := false
		for _, elem := range ast.HostAliases[m.Alias] {
			if a, p := matchHostElem(ast, elem, host, visiting); a {
				member = p
			}
		}
		if !member {
			return false, false
		}
		return true, !m.Negated
	}
	if strings.EqualFold(m.Literal, host) {
		return true, !m.Negated
	}
	return false, false
}

// lastMatchingCommand walks one host's command-spec list in order,
// returning the last spec whose run-as clause and command matcher both
// match the request. This realizes the "last match wins" rule within a
// single list.
func lastMatchingCommand(ast *AST, specs []CommandSpec, req Request) (*CommandSpec, RunAs, bool) {
	var found *CommandSpec
	var foundRunAs RunAs
	for i := range specs {
		cs := specs[i]
		if !matchRunAs(ast, cs.RunAs, req) {
			continue
		}
		if !matchCommand(ast, cs.Command, req.Command, req.Args, map[string]bool{}) {
			continue
		}
		found = &specs[i]
		foundRunAs = cs.RunAs
	}
	return found, foundRunAs, found != nil
}

func matchRunAs(ast *AST, runas RunAs, req Request) bool {
	if len(runas.Users) == 0 {
		// An omitted run-as clause defaults to root only, per sudoers
		// convention, unless the request doesn't specify -u (then the
		// implicit target is root and always satisfied).
		return req.TargetUser == "" || req.TargetUser == "root"
	}
	ok := false
	for _, m := range runas.Users {
		applies, positive := matchRunasUserElem(ast, m, req.TargetUser, map[string]bool{})
		if applies {
			ok = positive
		}
	}
	return ok
}

func matchRunasUserElem(ast *AST, m Matcher, target string, visiting map[string]bool) (applies, positive bool) {
	if m.All {
		return true, !m.Negated
	}
	if m.Alias != "" {
		if visiting[m.Alias] {
			return false, false
		}
		visiting[m.Alias] = true
		member := false
		for _, elem := range ast.RunasUserAliases[m.Alias] {
			if a, p := matchRunasUserElem(ast, elem, target, visiting); a {
				member = p
			}
		}
		if !member {
			return false, false
		}
		return true, !m.Negated
	}
	if m.Literal == target {
		return true, !m.Negated
	}
	return false, false
}

// matchCommand implements the path/directory/arg-glob semantics: a
// trailing "/" on the command path matches any file directly inside that
// directory, and any other path must equal the command exactly, with an
// optional argument glob. Exact matches get no precedence over directory
// matches: lastMatchingCommand keeps the last matching spec of either
// kind.
func matchCommand(ast *AST, cm CommandMatcher, path string, args []string, visiting map[string]bool) bool {
	applies, positive := matchCommandElem(ast, cm, path, args, visiting)
	return applies && positive
}

func matchCommandElem(ast *AST, cm CommandMatcher, path string, args []string, visiting map[string]bool) (applies, positive bool) {
	if cm.All {
		return true, !cm.Negated
	}
	if cm.Alias != "" {
		if visiting[cm.Alias] {
			return false, false
		}
		visiting[cm.Alias] = true
		member := false
		for _, elem := range ast.CommandAliases[cm.Alias] {
			if a, p := matchCommandElem(ast, elem, path, args, visiting); a {
				member = p
			}
		}
		if !member {
			return false, false
		}
		return true, !cm.Negated
	}
	if cm.Directory {
		dir := strings.TrimSuffix(cm.Literal, "/")
		if filepath.Dir(path) == dir {
			return true, !cm.Negated
		}
		return false, false
	}
	if cm.Literal != path {
		return false, false
	}
	if cm.ArgGlob == "" {
		return true, !cm.Negated
	}
	if argGlobMatches(cm.ArgGlob, args) {
		return true, !cm.Negated
	}
	return false, false
}

// argGlobMatches matches a command's joined argv against a sudoers-style
// arg pattern. gobwas/glob (not filepath.Match) is used deliberately: the
// pattern is matched against free-form argv text, not a filesystem path,
// and filepath.Match's special treatment of "/" as a path separator would
// wrongly stop "*" from matching an argument that itself contains a path.
func argGlobMatches(pattern string, args []string) bool {
	given := strings.Join(args, " ")
	if pattern == given {
		return true
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(given)
}

// synthesizeControls builds the run-time Controls for a granted request:
// env policy, umask, chdir, target identity, preferred editor.
func synthesizeControls(defaults *settings.Registry, cs CommandSpec, runas RunAs, req Request) Controls {
	c := Controls{
		TargetUser: req.TargetUser,
		Editor:     defaults.Text("editor"),
		NoExec:     cs.Tag.NoExec != nil && *cs.Tag.NoExec,
		SetHome:    cs.Tag.SetHome != nil && *cs.Tag.SetHome,
		Mail:       cs.Tag.Mail != nil && *cs.Tag.Mail,
		ChDir:      cs.Tag.CWDConstraint,
	}
	if c.TargetUser == "" {
		c.TargetUser = "root"
	}
	for _, g := range runas.Groups {
		if g.Literal != "" {
			c.TargetGroups = append(c.TargetGroups, g.Literal)
		}
	}

	resetEnv := defaults.Flag("env_reset")
	keep := append([]string(nil), defaults.List("env_keep")...)
	check := append([]string(nil), defaults.List("env_check")...)
	if cs.Tag.PreserveEnv != nil && *cs.Tag.PreserveEnv {
		resetEnv = false
	}
	c.Env = EnvPolicy{Reset: resetEnv, Keep: keep, Check: check}

	umask := uint32(defaults.Integer("umask"))
	c.Umask = umask
	return c
}
