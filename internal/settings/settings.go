// Package settings implements a typed defaults registry: a finite set of
// recognized keys, each with a default value and, for some, a negated
// value, plus env/umask/string-list types. The validated-struct shape
// follows config.IngestConfig.Verify elsewhere in the tree.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the type of value a Default key holds.
type Kind int

const (
	KindFlag Kind = iota
	KindInteger
	KindText
	KindList
	KindDuration
)

// Value is the typed, possibly-negated value of one Default key.
type Value struct {
	Kind     Kind
	Flag     bool
	Integer  int64
	Text     string
	List     []string
	Duration time.Duration
}

// Default describes one recognized key: its kind, its default value, and
// (for flags/integers/text) the value it takes when the key is negated
// with a leading "!" in the policy file, if negation is meaningful.
type Default struct {
	Name    string
	Kind    Kind
	Default Value
	Negated *Value
}

// Registry is the full set of recognized Default keys plus the
// currently-in-effect overridden values, keyed by name.
type Registry struct {
	known     map[string]Default
	overrides map[string]Value
	Warnings  []string // unknown keys seen while applying overrides
}

func NewRegistry() *Registry {
	r := &Registry{
		known:     make(map[string]Default, len(builtins)),
		overrides: make(map[string]Value),
	}
	for _, d := range builtins {
		r.known[d.Name] = d
	}
	return r
}

var builtins = []Default{
	{Name: "env_reset", Kind: KindFlag, Default: Value{Kind: KindFlag, Flag: true}},
	{Name: "umask_override", Kind: KindFlag, Default: Value{Kind: KindFlag, Flag: false}},
	{Name: "preserve_groups", Kind: KindFlag, Default: Value{Kind: KindFlag, Flag: false}},
	{Name: "mail_badpass", Kind: KindFlag, Default: Value{Kind: KindFlag, Flag: false}},
	{Name: "passwd_tries", Kind: KindInteger, Default: Value{Kind: KindInteger, Integer: 3}},
	// timestamp_timeout is sudoers-style fractional minutes (e.g. "0.1" is
	// 6 seconds), so it gets its own duration kind rather than Integer.
	{Name: "timestamp_timeout", Kind: KindDuration, Default: Value{Kind: KindDuration, Duration: 15 * time.Minute}},
	{Name: "umask", Kind: KindInteger,
		Default: Value{Kind: KindInteger, Integer: 0o22},
		Negated: &Value{Kind: KindInteger, Integer: 0o777}},
	{Name: "editor", Kind: KindText, Default: Value{Kind: KindText, Text: "/usr/bin/editor"}},
	{Name: "verifypw", Kind: KindText,
		Default: Value{Kind: KindText, Text: "all"},
		Negated: &Value{Kind: KindText, Text: "never"}},
	{Name: "secure_path", Kind: KindText, Default: Value{Kind: KindText, Text: ""}},
	{Name: "env_keep", Kind: KindList, Default: Value{Kind: KindList, List: []string{
		"COLORS", "DISPLAY", "HOSTNAME", "KRB5CCNAME", "LS_COLORS",
		"PATH", "PS1", "PS2", "XAUTHORIZATION", "XAUTHORITY", "XDG_CURRENT_DESKTOP",
	}}},
	{Name: "env_check", Kind: KindList, Default: Value{Kind: KindList, List: nil}},
}

// Lookup returns the effective value for a key: an override if one has
// been applied, otherwise the built-in default. ok is false for unknown
// keys.
func (r *Registry) Lookup(name string) (Value, bool) {
	if v, ok := r.overrides[name]; ok {
		return v, true
	}
	if d, ok := r.known[name]; ok {
		return d.Default, true
	}
	return Value{}, false
}

func (r *Registry) Flag(name string) bool {
	v, _ := r.Lookup(name)
	return v.Flag
}

func (r *Registry) Integer(name string) int64 {
	v, _ := r.Lookup(name)
	return v.Integer
}

func (r *Registry) Text(name string) string {
	v, _ := r.Lookup(name)
	return v.Text
}

func (r *Registry) List(name string) []string {
	v, _ := r.Lookup(name)
	return v.List
}

func (r *Registry) Duration(name string) time.Duration {
	v, _ := r.Lookup(name)
	return v.Duration
}

// Op is how a Defaults statement combines with the current value:
// `=` replaces, `+=` appends (list keys only), `-=` removes (list keys
// only), and negation (`!key`) selects the key's Negated value.
type Op int

const (
	OpSet Op = iota
	OpAppend
	OpRemove
	OpNegate
)

// Apply applies one `Defaults key[op]value` statement. Unknown keys are
// recorded as warnings, not errors, so an unrecognized Defaults key never
// aborts policy loading.
func (r *Registry) Apply(name string, op Op, raw string) error {
	d, known := r.known[name]
	if !known {
		r.Warnings = append(r.Warnings, fmt.Sprintf("unknown Defaults key %q", name))
		return nil
	}
	switch op {
	case OpNegate:
		if d.Negated == nil {
			if d.Kind == KindFlag {
				r.overrides[name] = Value{Kind: KindFlag, Flag: false}
				return nil
			}
			return fmt.Errorf("Defaults key %q cannot be negated", name)
		}
		r.overrides[name] = *d.Negated
		return nil
	case OpAppend, OpRemove:
		if d.Kind != KindList {
			return fmt.Errorf("Defaults key %q does not accept += or -=", name)
		}
		cur, _ := r.Lookup(name)
		items := splitListValue(raw)
		if op == OpAppend {
			cur.List = appendUnique(cur.List, items...)
		} else {
			cur.List = removeAll(cur.List, items...)
		}
		r.overrides[name] = cur
		return nil
	case OpSet:
		v, err := parseValue(d.Kind, raw)
		if err != nil {
			return fmt.Errorf("Defaults key %q: %w", name, err)
		}
		r.overrides[name] = v
		return nil
	}
	return fmt.Errorf("unknown Defaults operator for key %q", name)
}

func parseValue(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindFlag:
		return Value{Kind: KindFlag, Flag: true}, nil
	case KindInteger:
		raw = strings.TrimSpace(raw)
		base := 10
		if strings.HasPrefix(raw, "0o") {
			raw, base = raw[2:], 8
		} else if strings.HasPrefix(raw, "0") && len(raw) > 1 {
			base = 8
		}
		n, err := strconv.ParseInt(raw, base, 64)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindInteger, Integer: n}, nil
	case KindDuration:
		raw = strings.TrimSpace(raw)
		minutes, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		return Value{Kind: KindDuration, Duration: time.Duration(minutes * float64(time.Minute))}, nil
	case KindText:
		return Value{Kind: KindText, Text: unquote(raw)}, nil
	case KindList:
		return Value{Kind: KindList, List: splitListValue(raw)}, nil
	}
	return Value{}, fmt.Errorf("unsupported kind")
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func splitListValue(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "\"")
	raw = strings.TrimSuffix(raw, "\"")
	var out []string
	for _, f := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		found := false
		for _, l := range list {
			if l == it {
				found = true
				break
			}
		}
		if !found {
			list = append(list, it)
		}
	}
	return list
}

func removeAll(list []string, items ...string) []string {
	rm := make(map[string]bool, len(items))
	for _, it := range items {
		rm[it] = true
	}
	out := list[:0:0]
	for _, l := range list {
		if !rm[l] {
			out = append(out, l)
		}
	}
	return out
}
