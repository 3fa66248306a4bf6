package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleUserSpec(t *testing.T) {
	ast, err := Parse("alice ALL=(root) /bin/ls\n", "test", ParseOptions{})
	require.NoError(t, err)
	require.Len(t, ast.UserSpecs, 1)

	spec := ast.UserSpecs[0]
	require.Len(t, spec.Users, 1)
	assert.Equal(t, "alice", spec.Users[0].Literal)

	require.Len(t, spec.Hosts, 1)
	assert.True(t, spec.Hosts[0].Host.All)

	require.Len(t, spec.Hosts[0].Commands, 1)
	cs := spec.Hosts[0].Commands[0]
	require.Len(t, cs.RunAs.Users, 1)
	assert.Equal(t, "root", cs.RunAs.Users[0].Literal)
	assert.Equal(t, "/bin/ls", cs.Command.Literal)
}

func TestParseNopasswdTag(t *testing.T) {
	ast, err := Parse("alice ALL=(root) NOPASSWD: /bin/ls\n", "test", ParseOptions{})
	require.NoError(t, err)
	cs := ast.UserSpecs[0].Hosts[0].Commands[0]
	require.NotNil(t, cs.Tag.Authenticate)
	assert.False(t, *cs.Tag.Authenticate)
}

func TestParseUserAliasAndReference(t *testing.T) {
	src := "User_Alias ADMINS = alice, bob\n" +
		"ADMINS ALL=(root) /bin/ls\n"
	ast, err := Parse(src, "test", ParseOptions{})
	require.NoError(t, err)
	require.Contains(t, ast.UserAliases, "ADMINS")
	assert.Len(t, ast.UserAliases["ADMINS"], 2)

	spec := ast.UserSpecs[0]
	require.Len(t, spec.Users, 1)
	assert.Equal(t, "ADMINS", spec.Users[0].Alias)
}

func TestParseCommandArgGlob(t *testing.T) {
	ast, err := Parse("alice ALL=(root) /bin/systemctl restart *\n", "test", ParseOptions{})
	require.NoError(t, err)
	cs := ast.UserSpecs[0].Hosts[0].Commands[0]
	assert.Equal(t, "/bin/systemctl", cs.Command.Literal)
	assert.Equal(t, "restart *", cs.Command.ArgGlob)
}

func TestParseDirectoryCommand(t *testing.T) {
	ast, err := Parse("alice ALL=(root) /usr/local/bin/\n", "test", ParseOptions{})
	require.NoError(t, err)
	cs := ast.UserSpecs[0].Hosts[0].Commands[0]
	assert.True(t, cs.Command.Directory)
}

func TestParseDefaultsScoped(t *testing.T) {
	src := "Defaults env_reset\n" +
		"Defaults:alice !authenticate\n" +
		"Defaults umask=0027\n" +
		"alice ALL=(root) /bin/ls\n"
	ast, err := Parse(src, "test", ParseOptions{})
	require.NoError(t, err)
	require.Len(t, ast.Defaults, 3)
	assert.Equal(t, byte(':'), ast.Defaults[1].ScopeKind)
	assert.Equal(t, "alice", ast.Defaults[1].ScopeName)
	assert.Equal(t, byte('!'), ast.Defaults[1].Op)
}

func TestParseAliasCycleProducesDiagnostic(t *testing.T) {
	src := "User_Alias A = B\n" +
		"User_Alias B = A\n" +
		"A ALL=(root) /bin/ls\n"
	ast, err := Parse(src, "test", ParseOptions{})
	require.NoError(t, err)
	found := false
	for _, d := range ast.Diagnostics {
		if d.Severity == SeverityWarning {
			found = true
		}
	}
	assert.True(t, found, "expected a cycle diagnostic")
}

func TestParseStrictElevatesWarnings(t *testing.T) {
	src := "User_Alias A = A\n" +
		"A ALL=(root) /bin/ls\n"
	_, err := Parse(src, "test", ParseOptions{Strict: true})
	assert.Error(t, err)
}

type fakeIncludeResolver struct {
	files map[string]string
	dirs  map[string][]string
}

func (f fakeIncludeResolver) ReadFile(path string) (string, error) {
	return f.files[path], nil
}

func (f fakeIncludeResolver) ReadDir(dir string) ([]string, error) {
	return f.dirs[dir], nil
}

func TestParseIncludeExpandsNestedFile(t *testing.T) {
	res := fakeIncludeResolver{files: map[string]string{
		"/etc/gosu.d/extra": "bob ALL=(root) /bin/cat\n",
	}}
	src := "@include /etc/gosu.d/extra\nalice ALL=(root) /bin/ls\n"
	ast, err := Parse(src, "test", ParseOptions{IncludeRes: res})
	require.NoError(t, err)
	require.Len(t, ast.UserSpecs, 2)
	assert.Equal(t, "bob", ast.UserSpecs[0].Users[0].Literal)
	assert.Equal(t, "alice", ast.UserSpecs[1].Users[0].Literal)
}
