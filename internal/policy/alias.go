package policy

import "fmt"

// resolveAliases validates that every alias reference resolves to a
// defined alias of the correct category and that no alias table contains
// a cycle. Cycles are detected by iterative expansion with a visited set
// rather than by following pointers, since aliases are stored flat in a
// name-keyed registry, not as a linked graph.
func resolveAliases(ast *AST, strict bool) error {
	check := func(kind AliasKind, table AliasTable, list []Matcher, context string) {
		for _, m := range list {
			if m.Alias == "" {
				continue
			}
			if _, ok := table[m.Alias]; !ok {
				addDiag(ast, strict, fmt.Sprintf("undefined %s %q referenced in %s", kind, m.Alias, context))
			}
		}
	}

	for name, list := range ast.UserAliases {
		check(AliasUser, ast.UserAliases, list, fmt.Sprintf("User_Alias %s", name))
	}
	for name, list := range ast.RunasUserAliases {
		check(AliasRunasUser, ast.RunasUserAliases, list, fmt.Sprintf("Runas_Alias %s", name))
	}
	for name, list := range ast.HostAliases {
		check(AliasHost, ast.HostAliases, list, fmt.Sprintf("Host_Alias %s", name))
	}
	for name, list := range ast.CommandAliases {
		for _, cm := range list {
			if cm.Alias != "" {
				if _, ok := ast.CommandAliases[cm.Alias]; !ok {
					addDiag(ast, strict, fmt.Sprintf("undefined Cmnd_Alias %q referenced in Cmnd_Alias %s", cm.Alias, name))
				}
			}
		}
	}

	for _, us := range ast.UserSpecs {
		check(AliasUser, ast.UserAliases, us.Users, "user specification")
		for _, hc := range us.Hosts {
			if hc.Host.Alias != "" {
				if _, ok := ast.HostAliases[hc.Host.Alias]; !ok {
					addDiag(ast, strict, fmt.Sprintf("undefined Host_Alias %q", hc.Host.Alias))
				}
			}
			for _, cs := range hc.Commands {
				check(AliasRunasUser, ast.RunasUserAliases, cs.RunAs.Users, "runas-user clause")
				check(AliasRunasGroup, ast.RunasGroupAliases, cs.RunAs.Groups, "runas-group clause")
				if cs.Command.Alias != "" {
					if _, ok := ast.CommandAliases[cs.Command.Alias]; !ok {
						addDiag(ast, strict, fmt.Sprintf("undefined Cmnd_Alias %q", cs.Command.Alias))
					}
				}
			}
		}
	}

	if cyc := findCycle(ast.UserAliases); cyc != "" {
		addDiag(ast, strict, fmt.Sprintf("cycle detected in User_Alias %s", cyc))
	}
	if cyc := findCycle(ast.RunasUserAliases); cyc != "" {
		addDiag(ast, strict, fmt.Sprintf("cycle detected in Runas_Alias %s", cyc))
	}
	if cyc := findCycle(ast.HostAliases); cyc != "" {
		addDiag(ast, strict, fmt.Sprintf("cycle detected in Host_Alias %s", cyc))
	}
	if cyc := findCommandCycle(ast.CommandAliases); cyc != "" {
		addDiag(ast, strict, fmt.Sprintf("cycle detected in Cmnd_Alias %s", cyc))
	}
	return nil
}

func addDiag(ast *AST, strict bool, msg string) {
	sev := SeverityWarning
	_ = strict // severity is always Warning; Parse() elevates to fatal when strict is set
	ast.Diagnostics = append(ast.Diagnostics, Diagnostic{Severity: sev, Message: msg})
}

// findCycle walks every alias's definition, expanding alias references
// iteratively with a visited set; if expansion revisits a name already on
// the current expansion path, the alias whose expansion was started is
// returned.
func findCycle(table AliasTable) string {
	for name := range table {
		visiting := map[string]bool{name: true}
		if expandCycle(table, name, visiting) {
			return name
		}
	}
	return ""
}

func expandCycle(table AliasTable, name string, visiting map[string]bool) bool {
	for _, m := range table[name] {
		if m.Alias == "" {
			continue
		}
		if visiting[m.Alias] {
			return true
		}
		visiting[m.Alias] = true
		if expandCycle(table, m.Alias, visiting) {
			return true
		}
		delete(visiting, m.Alias)
	}
	return false
}

func findCommandCycle(table map[string][]CommandMatcher) string {
	for name := range table {
		visiting := map[string]bool{name: true}
		if expandCommandCycle(table, name, visiting) {
			return name
		}
	}
	return ""
}

func expandCommandCycle(table map[string][]CommandMatcher, name string, visiting map[string]bool) bool {
	for _, m := range table[name] {
		if m.Alias == "" {
			continue
		}
		if visiting[m.Alias] {
			return true
		}
		visiting[m.Alias] = true
		if expandCommandCycle(table, m.Alias, visiting) {
			return true
		}
		delete(visiting, m.Alias)
	}
	return false
}
