// Package principal models "a user" and "a group" as small capability
// interfaces rather than concrete structs, so the policy evaluator
// (internal/policy) is generic over them and tests can substitute fakes.
package principal

// User is the read-only capability set the evaluator needs from an
// invoking or target identity.
type User interface {
	HasName(name string) bool
	HasUID(uid uint32) bool
	IsRoot() bool
	InGroupByName(name string) bool
	InGroupByGID(gid uint32) bool
	Name() string
	UID() uint32
	GID() uint32
	GIDs() []uint32
}

// Group is the read-only capability set for a runas-group or group-alias
// member.
type Group interface {
	AsGID() uint32
	TryAsName() (string, bool)
}

// Real is the concrete principal.User backed by an actual host account,
// built from an os/user.User plus its supplementary group list.
type Real struct {
	name     string
	uid      uint32
	gid      uint32
	gids     []uint32
	resolver GroupNameResolver
}

func NewReal(name string, uid, gid uint32, gids []uint32) *Real {
	return &Real{name: name, uid: uid, gid: gid, gids: gids}
}

func (r *Real) Name() string { return r.name }
func (r *Real) UID() uint32  { return r.uid }
func (r *Real) GID() uint32  { return r.gid }
func (r *Real) GIDs() []uint32 {
	out := make([]uint32, len(r.gids))
	copy(out, r.gids)
	return out
}
func (r *Real) HasName(name string) bool { return r.name == name }
func (r *Real) HasUID(uid uint32) bool   { return r.uid == uid }
func (r *Real) IsRoot() bool             { return r.uid == 0 }
func (r *Real) InGroupByGID(gid uint32) bool {
	if r.gid == gid {
		return true
	}
	for _, g := range r.gids {
		if g == gid {
			return true
		}
	}
	return false
}

// GroupNameResolver looks up a group's gid by name; implemented against
// os/user on real hosts and by a fake in tests.
type GroupNameResolver interface {
	GIDByName(name string) (uint32, bool)
}

// InGroupByName requires a resolver because /etc/group lookups are a host
// concern, not something principal.Real can do on its own; callers that
// don't have one (tests, matchers operating purely on names) should use
// WithResolver to bind one once at construction.
func (r *Real) InGroupByName(name string) bool {
	if r.resolver == nil {
		return false
	}
	gid, ok := r.resolver.GIDByName(name)
	return ok && r.InGroupByGID(gid)
}

// WithResolver attaches the group-name resolver used by InGroupByName.
func (r *Real) WithResolver(res GroupNameResolver) *Real {
	r.resolver = res
	return r
}

// RealGroup is the concrete principal.Group for a runas-group or
// group-alias member resolved against the host.
type RealGroup struct {
	name string
	gid  uint32
}

func NewRealGroup(name string, gid uint32) RealGroup { return RealGroup{name: name, gid: gid} }
func (g RealGroup) AsGID() uint32                    { return g.gid }
func (g RealGroup) TryAsName() (string, bool)        { return g.name, g.name != "" }
