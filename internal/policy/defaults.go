package policy

import (
	"fmt"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/settings"
)

// DefaultsContext is the request-scoped information needed to decide
// whether a scoped Defaults statement (`@host`, `:user`, `!cmd`,
// `>runas`) applies.
type DefaultsContext struct {
	Host      string
	User      string
	Command   string // resolved absolute path
	RunasUser string
}

// ApplyDefaults runs every Defaults statement in the AST against reg, in
// file order, skipping any whose scope doesn't match ctx. Global
// (unscoped) statements always apply. A malformed statement (e.g. a
// value that fails to parse for its key's kind) does not abort the
// remaining statements but is returned so the caller can diagnose it
// rather than have it silently leave the registry at its default.
func ApplyDefaults(ast *AST, reg *settings.Registry, ctx DefaultsContext) []error {
	var errs []error
	for _, d := range ast.Defaults {
		if !scopeApplies(d, ctx) {
			continue
		}
		op := settings.OpSet
		switch d.Op {
		case '!':
			op = settings.OpNegate
		case '+':
			op = settings.OpAppend
		case '-':
			op = settings.OpRemove
		}
		if err := reg.Apply(d.Key, op, d.Value); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", d.Line, err))
		}
	}
	return errs
}

func scopeApplies(d DefaultStmt, ctx DefaultsContext) bool {
	switch d.ScopeKind {
	case 0:
		return true
	case '@':
		return d.ScopeName == ctx.Host
	case ':':
		return d.ScopeName == ctx.User
	case '!':
		return d.ScopeName == ctx.Command
	case '>':
		return d.ScopeName == ctx.RunasUser
	}
	return false
}
