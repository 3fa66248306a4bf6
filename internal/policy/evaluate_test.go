package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/settings"
)

type fakeUser struct {
	name   string
	uid    uint32
	gid    uint32
	groups []string
	gids   []uint32
}

func (f fakeUser) HasName(name string) bool       { return f.name == name }
func (f fakeUser) HasUID(uid uint32) bool         { return f.uid == uid }
func (f fakeUser) IsRoot() bool                   { return f.uid == 0 }
func (f fakeUser) InGroupByName(name string) bool {
	for _, g := range f.groups {
		if g == name {
			return true
		}
	}
	return false
}
func (f fakeUser) InGroupByGID(gid uint32) bool {
	for _, g := range f.gids {
		if g == gid {
			return true
		}
	}
	return false
}
func (f fakeUser) Name() string    { return f.name }
func (f fakeUser) UID() uint32     { return f.uid }
func (f fakeUser) GID() uint32     { return f.gid }
func (f fakeUser) GIDs() []uint32  { return f.gids }

func mustParse(t *testing.T, src string) *AST {
	t.Helper()
	ast, err := Parse(src, "test", ParseOptions{})
	require.NoError(t, err)
	return ast
}

func TestEvaluateAllowedNeedsAuthByDefault(t *testing.T) {
	ast := mustParse(t, "alice ALL=(root) /bin/ls\n")
	reg := settings.NewRegistry()
	who := fakeUser{name: "alice", uid: 1000}
	j := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "anyhost", Command: "/bin/ls"})
	assert.Equal(t, DecisionNeedsAuth, j.Decision)
}

func TestEvaluateNopasswdAllowsWithoutAuth(t *testing.T) {
	ast := mustParse(t, "alice ALL=(root) NOPASSWD: /bin/ls\n")
	reg := settings.NewRegistry()
	who := fakeUser{name: "alice", uid: 1000}
	j := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "anyhost", Command: "/bin/ls"})
	assert.Equal(t, DecisionAllowed, j.Decision)
}

func TestEvaluateForbidsUnlistedCommand(t *testing.T) {
	ast := mustParse(t, "alice ALL=(root) /bin/ls\n")
	reg := settings.NewRegistry()
	who := fakeUser{name: "alice", uid: 1000}
	j := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "anyhost", Command: "/bin/cat"})
	assert.Equal(t, DecisionForbidden, j.Decision)
}

func TestEvaluateForbidsUnlistedUser(t *testing.T) {
	ast := mustParse(t, "alice ALL=(root) /bin/ls\n")
	reg := settings.NewRegistry()
	who := fakeUser{name: "mallory", uid: 1001}
	j := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "anyhost", Command: "/bin/ls"})
	assert.Equal(t, DecisionForbidden, j.Decision)
}

// TestEvaluateLastMatchWins exercises the "last match wins" rule across
// two user-specification lines targeting the same user and host: the
// second, more specific grant should be the one that decides the
// outcome, not the first broader one.
func TestEvaluateLastMatchWins(t *testing.T) {
	src := "alice ALL=(root) ALL\n" +
		"alice ALL=(root) NOPASSWD: /bin/ls\n"
	ast := mustParse(t, src)
	reg := settings.NewRegistry()
	who := fakeUser{name: "alice", uid: 1000}
	j := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "anyhost", Command: "/bin/ls"})
	assert.Equal(t, DecisionAllowed, j.Decision)
}

// TestEvaluateNegationReincluded exercises a command list that excludes
// an alias member, then explicitly re-includes one command from it.
func TestEvaluateNegationReincluded(t *testing.T) {
	src := "Cmnd_Alias SHELLS = /bin/sh, /bin/bash\n" +
		"alice ALL=(root) !SHELLS, /bin/bash\n"
	ast := mustParse(t, src)
	reg := settings.NewRegistry()
	who := fakeUser{name: "alice", uid: 1000}

	jBash := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "h", Command: "/bin/bash"})
	assert.True(t, jBash.Allowed())

	jSh := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "h", Command: "/bin/sh"})
	assert.Equal(t, DecisionForbidden, jSh.Decision)
}

func TestEvaluateGroupMembership(t *testing.T) {
	ast := mustParse(t, "%wheel ALL=(root) NOPASSWD: /bin/ls\n")
	reg := settings.NewRegistry()
	member := fakeUser{name: "alice", uid: 1000, groups: []string{"wheel"}}
	nonmember := fakeUser{name: "bob", uid: 1001}

	j := Evaluate(ast, reg, Request{InvokingUser: member, TargetUser: "root", Host: "h", Command: "/bin/ls"})
	assert.Equal(t, DecisionAllowed, j.Decision)

	j2 := Evaluate(ast, reg, Request{InvokingUser: nonmember, TargetUser: "root", Host: "h", Command: "/bin/ls"})
	assert.Equal(t, DecisionForbidden, j2.Decision)
}

func TestEvaluateRunAsRestriction(t *testing.T) {
	ast := mustParse(t, "alice ALL=(www-data) /bin/ls\n")
	reg := settings.NewRegistry()
	who := fakeUser{name: "alice", uid: 1000}

	j := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "www-data", Host: "h", Command: "/bin/ls"})
	assert.True(t, j.Allowed())

	j2 := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "h", Command: "/bin/ls"})
	assert.Equal(t, DecisionForbidden, j2.Decision)
}

func TestEvaluateDirectoryCommand(t *testing.T) {
	ast := mustParse(t, "alice ALL=(root) NOPASSWD: /usr/local/bin/\n")
	reg := settings.NewRegistry()
	who := fakeUser{name: "alice", uid: 1000}

	j := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "h", Command: "/usr/local/bin/restart-app"})
	assert.Equal(t, DecisionAllowed, j.Decision)

	j2 := Evaluate(ast, reg, Request{InvokingUser: who, TargetUser: "root", Host: "h", Command: "/usr/local/sbin/restart-app"})
	assert.Equal(t, DecisionForbidden, j2.Decision)
}

func TestDecisionDiscriminantsAreWidelySpaced(t *testing.T) {
	values := []Decision{DecisionForbidden, DecisionNeedsAuth, DecisionAllowed}
	for i := range values {
		for j := range values {
			if i == j {
				continue
			}
			dist := hammingDistance32(uint32(values[i]), uint32(values[j]))
			assert.GreaterOrEqual(t, dist, 8, "decision discriminants must differ by a wide Hamming distance")
		}
	}
}

func hammingDistance32(a, b uint32) int {
	x := a ^ b
	n := 0
	for x != 0 {
		n++
		x &= x - 1
	}
	return n
}
