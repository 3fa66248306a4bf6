package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/errs"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/tsstore"
)

type fakeConversation struct {
	authenticateErrs []error // one per call, last one repeats once exhausted
	calls            int
	validateErr      error
	closed           bool
}

func (f *fakeConversation) Authenticate() error {
	if len(f.authenticateErrs) == 0 {
		f.calls++
		return nil
	}
	i := f.calls
	if i >= len(f.authenticateErrs) {
		i = len(f.authenticateErrs) - 1
	}
	f.calls++
	return f.authenticateErrs[i]
}

func (f *fakeConversation) ValidateAccount() error { return f.validateErr }
func (f *fakeConversation) Close() error           { f.closed = true; return nil }

func openerFor(conv *fakeConversation) Opener {
	return func(service, invokingUser string) (Conversation, error) {
		return conv, nil
	}
}

func fixedBoot() tsstore.BootIDProvider {
	return func() ([16]byte, error) { return [16]byte{}, nil }
}

func TestAuthenticateSucceedsOnFirstAttempt(t *testing.T) {
	conv := &fakeConversation{}
	err := Authenticate(openerFor(conv), Options{MaxAttempts: 3})
	require.NoError(t, err)
	assert.True(t, conv.closed)
}

func TestAuthenticateRetriesThenSucceeds(t *testing.T) {
	conv := &fakeConversation{authenticateErrs: []error{errors.New("bad"), errors.New("bad"), nil}}
	err := Authenticate(openerFor(conv), Options{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, conv.calls)
}

func TestAuthenticateFailsAfterMaxAttempts(t *testing.T) {
	conv := &fakeConversation{authenticateErrs: []error{errors.New("bad")}}
	err := Authenticate(openerFor(conv), Options{MaxAttempts: 3})
	require.Error(t, err)
	var maxErr *errs.MaxAuthAttempts
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 3, maxErr.N)
	assert.Equal(t, 3, conv.calls)
}

func TestAuthenticatePasswdTriesOneBoundary(t *testing.T) {
	// S6: passwd_tries=1 means a single wrong attempt is fatal immediately.
	conv := &fakeConversation{authenticateErrs: []error{errors.New("bad")}}
	err := Authenticate(openerFor(conv), Options{MaxAttempts: 1})
	require.Error(t, err)
	assert.Equal(t, 1, conv.calls)
}

func TestAuthenticateDefaultsMaxAttemptsToThreeWhenUnset(t *testing.T) {
	conv := &fakeConversation{authenticateErrs: []error{errors.New("bad"), errors.New("bad"), errors.New("bad")}}
	err := Authenticate(openerFor(conv), Options{})
	require.Error(t, err)
	assert.Equal(t, 3, conv.calls)
}

func TestAuthenticateAccountValidationFailureIsFatal(t *testing.T) {
	conv := &fakeConversation{validateErr: errors.New("account expired")}
	err := Authenticate(openerFor(conv), Options{MaxAttempts: 3})
	require.Error(t, err)
	var authErr *errs.Authentication
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 1, conv.calls)
}

func TestAuthenticateSkipsPromptOnValidTimestamp(t *testing.T) {
	dir := t.TempDir()
	store := tsstore.Open(dir, 1000, 15*time.Minute, fixedBoot())
	scope := tsstore.Scope{Tag: tsstore.ScopeGlobal}
	require.NoError(t, store.CreateOrUpdate(scope, 0))

	conv := &fakeConversation{authenticateErrs: []error{errors.New("must not be called")}}
	err := Authenticate(openerFor(conv), Options{MaxAttempts: 3, Store: store, Scope: scope, TargetUID: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, conv.calls, "Authenticate must not be invoked when the timestamp is valid")
}

func TestAuthenticatePromptsWhenTimestampOutdated(t *testing.T) {
	// S2/S4: timestamp_timeout=0 means every call re-authenticates.
	dir := t.TempDir()
	store := tsstore.Open(dir, 1000, 0, fixedBoot())
	scope := tsstore.Scope{Tag: tsstore.ScopeGlobal}
	require.NoError(t, store.CreateOrUpdate(scope, 0))

	conv := &fakeConversation{}
	err := Authenticate(openerFor(conv), Options{MaxAttempts: 3, Store: store, Scope: scope, TargetUID: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, conv.calls)
}

func TestAuthenticateSuccessWritesFreshTimestamp(t *testing.T) {
	dir := t.TempDir()
	store := tsstore.Open(dir, 1000, 15*time.Minute, fixedBoot())
	scope := tsstore.Scope{Tag: tsstore.ScopeGlobal}

	conv := &fakeConversation{}
	err := Authenticate(openerFor(conv), Options{MaxAttempts: 3, Store: store, Scope: scope, TargetUID: 7})
	require.NoError(t, err)

	res, terr := store.Touch(scope, 7)
	require.NoError(t, terr)
	assert.Equal(t, tsstore.Found, res)
}
