package policy

import (
	"fmt"
	"strings"
)

// Parser turns a token stream into an AST. Syntax errors are fatal
// (recorded and returned); semantic issues (unknown alias, cycle) are
// collected as non-fatal warnings unless strict is set.
type Parser struct {
	lex       *Lexer
	tok       Token
	ast       *AST
	strict    bool
	resolver  IncludeResolver
	fatal     error
	fileStack []string
}

// IncludeResolver resolves `@include`/`@includedir` directives to policy
// source text. The default OS implementation lives in include.go; tests
// substitute a fake so parsing is hermetic.
type IncludeResolver interface {
	ReadFile(path string) (string, error)
	ReadDir(path string) ([]string, error) // returns file paths, sorted
}

// ParseOptions configures a single parse invocation.
type ParseOptions struct {
	Strict      bool // elevate semantic warnings to fatal
	NoIncludes  bool // skip include directives; the included file is not read and nothing is recorded
	IncludeRes  IncludeResolver
}

// Parse parses one top-level policy file (and any includes it pulls in)
// into an AST. A syntax error aborts with a non-nil error; semantic
// warnings are attached to ast.Diagnostics.
func Parse(src, path string, opts ParseOptions) (*AST, error) {
	p := &Parser{ast: newAST(), strict: opts.Strict, resolver: opts.IncludeRes}
	if err := p.parseSource(src, path, opts.NoIncludes); err != nil {
		return p.ast, err
	}
	if err := resolveAliases(p.ast, p.strict); err != nil {
		return p.ast, err
	}
	if p.strict {
		for _, d := range p.ast.Diagnostics {
			if d.Severity == SeverityWarning {
				return p.ast, fmt.Errorf("%s", d.String())
			}
		}
	}
	return p.ast, nil
}

func (p *Parser) parseSource(src, path string, noIncludes bool) error {
	for _, f := range p.fileStack {
		if f == path {
			return fmt.Errorf("%s: recursive @include", path)
		}
	}
	p.fileStack = append(p.fileStack, path)
	defer func() { p.fileStack = p.fileStack[:len(p.fileStack)-1] }()

	lex := NewLexer(src)
	p.lex = lex
	p.advance()
	for p.tok.Kind != TokEOF {
		if p.tok.Kind == TokEOL {
			p.advance()
			continue
		}
		if err := p.parseStatement(noIncludes); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) advance() { p.tok = p.lex.Next() }

func (p *Parser) errf(format string, args ...interface{}) error {
	msg := fmt.Sprintf("line %d:%d: %s", p.tok.Line, p.tok.Col, fmt.Sprintf(format, args...))
	return fmt.Errorf("%s\n%s", msg, Diagnostic{Line: p.tok.Line, Col: p.tok.Col, Message: msg, Excerpt: p.tok.SrcLine}.String())
}

func (p *Parser) warn(msg string) {
	p.ast.Diagnostics = append(p.ast.Diagnostics, Diagnostic{
		Severity: SeverityWarning, Line: p.tok.Line, Col: p.tok.Col, Message: msg, Excerpt: p.tok.SrcLine,
	})
}

func (p *Parser) expectEOLorEOF() error {
	if p.tok.Kind != TokEOL && p.tok.Kind != TokEOF {
		return p.errf("expected end of line, found %q", p.tok.Text)
	}
	if p.tok.Kind == TokEOL {
		p.advance()
	}
	return nil
}

func (p *Parser) parseStatement(noIncludes bool) error {
	if p.tok.Kind == TokAt {
		p.advance() // consume '@'
		if p.tok.Kind != TokIdent || (p.tok.Text != "include" && p.tok.Text != "includedir") {
			return p.errf("expected include or includedir after '@'")
		}
		dir := p.tok.Text == "includedir"
		p.advance() // consume "include"/"includedir"
		return p.parseInclude(dir, noIncludes)
	}
	if p.tok.Kind != TokIdent {
		return p.errf("expected statement, found %q", p.tok.Text)
	}
	word := p.tok.Text
	switch {
	case word == "Defaults":
		return p.parseDefaults()
	case isAliasKeyword(word):
		return p.parseAliasDecl(word)
	default:
		return p.parseUserSpec()
	}
}

func isAliasKeyword(w string) bool {
	switch w {
	case "User_Alias", "Runas_Alias", "Host_Alias", "Cmnd_Alias":
		return true
	}
	return false
}

func (p *Parser) parseInclude(dir, noIncludes bool) error {
	if p.tok.Kind != TokIdent {
		return p.errf("expected path after @include")
	}
	path := p.tok.Text
	p.advance()
	if err := p.expectEOLorEOF(); err != nil {
		return err
	}
	if noIncludes {
		// Under --no-includes the directive is dropped: the file is not
		// read and the AST records nothing for it.
		return nil
	}
	if p.resolver == nil {
		p.warn(fmt.Sprintf("cannot resolve %s %s: no include resolver configured", includeDirective(dir), path))
		return nil
	}
	if dir {
		files, err := p.resolver.ReadDir(path)
		if err != nil {
			p.warn(fmt.Sprintf("@includedir %s: %v", path, err))
			return nil
		}
		for _, f := range files {
			if err := p.parseIncludedFile(f); err != nil {
				return err
			}
		}
		return nil
	}
	return p.parseIncludedFile(path)
}

func includeDirective(dir bool) string {
	if dir {
		return "@includedir"
	}
	return "@include"
}

func (p *Parser) parseIncludedFile(path string) error {
	src, err := p.resolver.ReadFile(path)
	if err != nil {
		p.warn(fmt.Sprintf("%s: %v", path, err))
		return nil
	}
	savedLex, savedTok := p.lex, p.tok
	err = p.parseSource(src, path, false)
	p.lex, p.tok = savedLex, savedTok
	return err
}

func (p *Parser) parseAliasDecl(keyword string) error {
	var kind AliasKind
	switch keyword {
	case "User_Alias":
		kind = AliasUser
	case "Runas_Alias":
		kind = AliasRunasUser
	case "Host_Alias":
		kind = AliasHost
	case "Cmnd_Alias":
		kind = AliasCommand
	}
	p.advance()
	for {
		if p.tok.Kind != TokIdent {
			return p.errf("expected alias name")
		}
		name := p.tok.Text
		p.advance()
		if p.tok.Kind != TokAssign {
			return p.errf("expected '=' after alias name %s", name)
		}
		p.advance()
		if kind == AliasCommand {
			elems, err := p.parseCommandMatcherList()
			if err != nil {
				return err
			}
			p.ast.CommandAliases[name] = elems
		} else {
			elems, err := p.parseMatcherList()
			if err != nil {
				return err
			}
			switch kind {
			case AliasUser:
				p.ast.UserAliases[name] = elems
			case AliasRunasUser:
				// Runas_Alias is a single grammar keyword shared by both the
				// runas-user and runas-group positions; which table is
				// consulted depends on where it's referenced.
				p.ast.RunasUserAliases[name] = elems
				p.ast.RunasGroupAliases[name] = elems
			case AliasHost:
				p.ast.HostAliases[name] = elems
			}
		}
		if p.tok.Kind == TokColon {
			p.advance()
			continue
		}
		break
	}
	return p.expectEOLorEOF()
}

func (p *Parser) parseMatcher() (Matcher, error) {
	neg := false
	for p.tok.Kind == TokBang {
		neg = !neg
		p.advance()
	}
	if p.tok.Kind != TokIdent {
		return Matcher{}, p.errf("expected identifier, found %q", p.tok.Text)
	}
	text := p.tok.Text
	p.advance()
	m := Matcher{Negated: neg}
	if text == "ALL" {
		m.All = true
	} else if isAliasName(text) {
		m.Alias = text
	} else {
		m.Literal = text
	}
	return m, nil
}

// isAliasName follows sudoers convention: an alias reference is an
// all-uppercase identifier (distinguishing NAME from a lowercase literal
// username/hostname/path). ALL is handled separately by the caller.
func isAliasName(s string) bool {
	if s == "" {
		return false
	}
	hasUpper := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasUpper = true
		}
	}
	return hasUpper
}

func (p *Parser) parseMatcherList() ([]Matcher, error) {
	var out []Matcher
	for {
		m, err := p.parseMatcher()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
		if p.tok.Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *Parser) parseCommandMatcher() (CommandMatcher, error) {
	neg := false
	for p.tok.Kind == TokBang {
		neg = !neg
		p.advance()
	}
	if p.tok.Kind != TokIdent {
		return CommandMatcher{}, p.errf("expected command, found %q", p.tok.Text)
	}
	text := p.tok.Text
	p.advance()
	cm := CommandMatcher{Matcher: Matcher{Negated: neg}}
	switch {
	case text == "ALL":
		cm.All = true
	case isAliasName(text):
		cm.Alias = text
	default:
		cm.Literal = text
		if strings.HasSuffix(text, "/") {
			cm.Directory = true
		}
		// Any further ident tokens on the same logical line, up to a
		// comma/colon/EOL, are the argument glob (sudoers allows bare
		// words after the path as the constrained argv).
		var args []string
		for p.tok.Kind == TokIdent {
			args = append(args, p.tok.Text)
			p.advance()
		}
		if len(args) > 0 {
			cm.ArgGlob = strings.Join(args, " ")
		}
	}
	return cm, nil
}

func (p *Parser) parseCommandMatcherList() ([]CommandMatcher, error) {
	var out []CommandMatcher
	for {
		m, err := p.parseCommandMatcher()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
		if p.tok.Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *Parser) parseDefaults() error {
	p.advance() // consume "Defaults"
	var scopeKind byte
	var scopeName string
	switch p.tok.Kind {
	case TokAt:
		p.advance()
		scopeKind = '@'
		if p.tok.Kind != TokIdent {
			return p.errf("expected host after Defaults@")
		}
		scopeName = p.tok.Text
		p.advance()
	case TokColon:
		p.advance()
		scopeKind = ':'
		if p.tok.Kind != TokIdent {
			return p.errf("expected user after Defaults:")
		}
		scopeName = p.tok.Text
		p.advance()
	case TokBang:
		p.advance()
		scopeKind = '!'
		if p.tok.Kind != TokIdent {
			return p.errf("expected command alias after Defaults!")
		}
		scopeName = p.tok.Text
		p.advance()
	}
	if scopeKind == 0 && p.tok.Kind == TokIdent && strings.HasPrefix(p.tok.Text, ">") {
		scopeKind = '>'
		scopeName = strings.TrimPrefix(p.tok.Text, ">")
		p.advance()
	}
	for {
		line := p.tok.Line
		neg := false
		for p.tok.Kind == TokBang {
			neg = !neg
			p.advance()
		}
		if p.tok.Kind != TokIdent {
			return p.errf("expected Defaults key")
		}
		key := p.tok.Text
		p.advance()
		stmt := DefaultStmt{ScopeKind: scopeKind, ScopeName: scopeName, Key: key, Line: line}
		switch {
		case neg:
			stmt.Op = '!'
		case p.tok.Kind == TokAssign:
			p.advance()
			stmt.Op = '='
			stmt.Value = p.collectValue()
		case p.tok.Kind == TokPlusAssign:
			p.advance()
			stmt.Op = '+'
			stmt.Value = p.collectValue()
		case p.tok.Kind == TokMinusAssign:
			p.advance()
			stmt.Op = '-'
			stmt.Value = p.collectValue()
		default:
			stmt.Op = '=' // bare key with no value or negation is a flag-set in sudoers shorthand
		}
		p.ast.Defaults = append(p.ast.Defaults, stmt)
		if p.tok.Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return p.expectEOLorEOF()
}

// collectValue consumes ident tokens up to the next comma/EOL and joins
// them with spaces; a Defaults value can be a single quoted string
// (already unquoted by the lexer) or a bare list like `a b c`.
func (p *Parser) collectValue() string {
	var parts []string
	for p.tok.Kind == TokIdent {
		parts = append(parts, p.tok.Text)
		p.advance()
	}
	return strings.Join(parts, " ")
}

func (p *Parser) parseUserSpec() error {
	line := p.tok.Line
	users, err := p.parseMatcherList()
	if err != nil {
		return err
	}
	spec := UserSpec{Users: users, Line: line}
	for {
		hosts, err := p.parseMatcherList()
		if err != nil {
			return err
		}
		if p.tok.Kind != TokAssign {
			return p.errf("expected '=' after host list")
		}
		p.advance()
		cmds, err := p.parseCmndSpecList()
		if err != nil {
			return err
		}
		// A HostCommands entry is recorded per host matcher in the list so
		// evaluation can test each host independently; they all share the
		// same command-spec list per this `Host_List = Cmnd_Spec_List` group.
		for _, h := range hosts {
			spec.Hosts = append(spec.Hosts, HostCommands{Host: h, Commands: cmds})
		}
		if p.tok.Kind == TokColon {
			p.advance()
			continue
		}
		break
	}
	p.ast.UserSpecs = append(p.ast.UserSpecs, spec)
	return p.expectEOLorEOF()
}

func (p *Parser) parseCmndSpecList() ([]CommandSpec, error) {
	var out []CommandSpec
	for {
		cs, err := p.parseCmndSpec()
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
		if p.tok.Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *Parser) parseCmndSpec() (CommandSpec, error) {
	var cs CommandSpec
	if p.tok.Kind == TokLParen {
		p.advance()
		users, err := p.parseMatcherList()
		if err != nil {
			return cs, err
		}
		cs.RunAs.Users = users
		if p.tok.Kind == TokColon {
			p.advance()
			groups, err := p.parseMatcherList()
			if err != nil {
				return cs, err
			}
			cs.RunAs.Groups = groups
		}
		if p.tok.Kind != TokRParen {
			return cs, p.errf("expected ')' closing run-as clause")
		}
		p.advance()
	}
	for {
		if p.tok.Kind != TokIdent {
			break
		}
		if tagged, tag, ok := parseTagWord(p.tok.Text); ok {
			_ = tagged
			p.advance()
			if p.tok.Kind != TokColon {
				// Not actually a tag: colon required; treat word as command.
				// Tag words are all upper case, so the word is a command
				// alias reference, as parseCommandMatcher would read it.
				cs.Command = CommandMatcher{Matcher: Matcher{Alias: tagged}}
				return cs, nil
			}
			p.advance()
			cs.Tag = cs.Tag.Merge(tag)
			continue
		}
		break
	}
	cm, err := p.parseCommandMatcher()
	if err != nil {
		return cs, err
	}
	cs.Command = cm
	return cs, nil
}

func boolPtr(b bool) *bool { return &b }

func parseTagWord(w string) (string, Tag, bool) {
	switch w {
	case "NOPASSWD":
		return w, Tag{Authenticate: boolPtr(false)}, true
	case "PASSWD":
		return w, Tag{Authenticate: boolPtr(true)}, true
	case "SETENV":
		return w, Tag{PreserveEnv: boolPtr(true)}, true
	case "NOSETENV":
		return w, Tag{PreserveEnv: boolPtr(false)}, true
	case "NOEXEC":
		return w, Tag{NoExec: boolPtr(true)}, true
	case "EXEC":
		return w, Tag{NoExec: boolPtr(false)}, true
	case "SETHOME":
		return w, Tag{SetHome: boolPtr(true)}, true
	case "NOSETHOME":
		return w, Tag{SetHome: boolPtr(false)}, true
	case "MAIL":
		return w, Tag{Mail: boolPtr(true)}, true
	case "NOMAIL":
		return w, Tag{Mail: boolPtr(false)}, true
	}
	return "", Tag{}, false
}
