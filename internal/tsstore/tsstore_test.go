package tsstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedBoot(id byte) BootIDProvider {
	return func() ([bootIDSize]byte, error) {
		var b [bootIDSize]byte
		b[0] = id
		return b, nil
	}
}

func ttyScope(pid int32) Scope {
	return Scope{Tag: ScopeTTY, Dev: 42, Pid: pid, StartTime: 1000}
}

func TestTouchNotFoundOnEmptyStore(t *testing.T) {
	s := Open(t.TempDir(), 1000, 15*time.Minute, fixedBoot(1))
	res, err := s.Touch(ttyScope(1), 0)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)
}

func TestCreateThenTouchFindsFreshRecord(t *testing.T) {
	s := Open(t.TempDir(), 1000, 15*time.Minute, fixedBoot(1))
	scope := ttyScope(1)
	require.NoError(t, s.CreateOrUpdate(scope, 0))

	res, err := s.Touch(scope, 0)
	require.NoError(t, err)
	assert.Equal(t, Found, res)
}

func TestTouchOutdatedPastWindow(t *testing.T) {
	// S2/S4 boundary: a record older than timestamp_timeout must not
	// short-circuit authentication.
	s := Open(t.TempDir(), 1000, 0, fixedBoot(1))
	scope := ttyScope(1)
	require.NoError(t, s.CreateOrUpdate(scope, 0))

	res, err := s.Touch(scope, 0)
	require.NoError(t, err)
	assert.Equal(t, Outdated, res)
}

func TestTouchRemovedOnBootIDMismatch(t *testing.T) {
	// A reboot invalidates every record regardless of its age.
	dir := t.TempDir()
	s := Open(dir, 1000, 15*time.Minute, fixedBoot(1))
	scope := ttyScope(1)
	require.NoError(t, s.CreateOrUpdate(scope, 0))

	rebooted := Open(dir, 1000, 15*time.Minute, fixedBoot(2))
	res, err := rebooted.Touch(scope, 0)
	require.NoError(t, err)
	assert.Equal(t, Removed, res)

	// the stale record must actually be gone, not just reported stale
	res2, err := rebooted.Touch(scope, 0)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res2)
}

func TestTouchDoesNotMatchAcrossScopes(t *testing.T) {
	s := Open(t.TempDir(), 1000, 15*time.Minute, fixedBoot(1))
	require.NoError(t, s.CreateOrUpdate(ttyScope(1), 0))

	res, err := s.Touch(ttyScope(2), 0)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)
}

func TestTouchDoesNotMatchAcrossTargetUID(t *testing.T) {
	s := Open(t.TempDir(), 1000, 15*time.Minute, fixedBoot(1))
	scope := ttyScope(1)
	require.NoError(t, s.CreateOrUpdate(scope, 0))

	res, err := s.Touch(scope, 500)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)
}

func TestResetRemovesOnlyMatchingScopeTag(t *testing.T) {
	s := Open(t.TempDir(), 1000, 15*time.Minute, fixedBoot(1))
	tty := ttyScope(1)
	global := Scope{Tag: ScopeGlobal}
	require.NoError(t, s.CreateOrUpdate(tty, 0))
	require.NoError(t, s.CreateOrUpdate(global, 0))

	require.NoError(t, s.Reset(ScopeTTY))

	res, err := s.Touch(tty, 0)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)

	res, err = s.Touch(global, 0)
	require.NoError(t, err)
	assert.Equal(t, Found, res)
}

func TestRemoveAllDeletesStoreFileAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, 1000, 15*time.Minute, fixedBoot(1))
	require.NoError(t, s.CreateOrUpdate(ttyScope(1), 0))
	require.FileExists(t, filepath.Join(dir, "1000"))

	require.NoError(t, s.RemoveAll())
	assert.NoFileExists(t, filepath.Join(dir, "1000"))

	// removing an already-absent store is not an error
	require.NoError(t, s.RemoveAll())
}

func TestCreateOrUpdateReplacesExistingRecordForSameScope(t *testing.T) {
	s := Open(t.TempDir(), 1000, 15*time.Minute, fixedBoot(1))
	scope := ttyScope(1)
	require.NoError(t, s.CreateOrUpdate(scope, 0))
	require.NoError(t, s.CreateOrUpdate(scope, 0))

	recs, err := s.readAll()
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
