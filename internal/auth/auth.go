// Package auth drives the pluggable-authentication conversation: bounded
// retries, timestamp-store short-circuiting, and cancellation on
// SIGINT/SIGQUIT during a prompt. Emits one audit line per failed
// attempt through the structured logger.
package auth

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/auditlog"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/errs"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/tsstore"
)

// Conversation is the minimal surface auth needs from a pluggable-auth
// binding, kept small and interface-typed so tests substitute a fake and
// the real implementation (internal/auth/pam.go) can wrap
// github.com/msteinert/pam without leaking its types into this file.
type Conversation interface {
	// Authenticate runs one prompt/response exchange, returning nil on
	// success or an error describing the failure.
	Authenticate() error
	// ValidateAccount checks the account is not expired/locked/disabled.
	ValidateAccount() error
	// Close tears down the conversation, invalidating any session.
	Close() error
}

// Opener creates a Conversation for (service, invokingUser).
type Opener func(service, invokingUser string) (Conversation, error)

// Options configures one authentication attempt sequence.
type Options struct {
	Service      string
	InvokingUser string
	InvokingUID  uint32
	TargetUID    uint32
	Scope        tsstore.Scope
	MaxAttempts  int // passwd_tries; default 3 applied by caller via settings.Registry
	Store        *tsstore.Store
	Log          *auditlog.Logger
}

// Authenticate consults the timestamp store first; on a miss, it
// performs up to MaxAttempts prompts, calling ValidateAccount and
// recording a fresh timestamp on success.
func Authenticate(open Opener, opts Options) error {
	if opts.Log == nil {
		opts.Log = auditlog.NewDiscard()
	}
	if opts.Store != nil {
		res, err := opts.Store.Touch(opts.Scope, opts.TargetUID)
		if err == nil && (res == tsstore.Found || res == tsstore.Updated) {
			conv, err := open(opts.Service, opts.InvokingUser)
			if err != nil {
				return &errs.Pam{Err: err}
			}
			defer conv.Close()
			if err := conv.ValidateAccount(); err != nil {
				return &errs.Authentication{Reason: "account validation failed"}
			}
			opts.Log.Info("authentication skipped: valid timestamp", auditlog.F("user", opts.InvokingUser))
			return nil
		}
	}

	conv, err := open(opts.Service, opts.InvokingUser)
	if err != nil {
		return &errs.Pam{Err: err}
	}
	defer conv.Close()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := attemptOnce(conv)
		if err == nil {
			if err := conv.ValidateAccount(); err != nil {
				opts.Log.Warn("account validation failed", auditlog.F("user", opts.InvokingUser))
				return &errs.Authentication{Reason: "account validation failed"}
			}
			if opts.Store != nil {
				if err := opts.Store.CreateOrUpdate(opts.Scope, opts.TargetUID); err != nil {
					opts.Log.Warn("failed to write timestamp", auditlog.F("error", err.Error()))
				}
			}
			return nil
		}
		if cancelled, ok := err.(cancelledErr); ok {
			opts.Log.Warn("authentication cancelled", auditlog.F("user", opts.InvokingUser), auditlog.F("signal", cancelled.sig.String()))
			return &errs.Authentication{Reason: "authentication cancelled"}
		}
		opts.Log.Warn("incorrect authentication attempt", auditlog.F("user", opts.InvokingUser), auditlog.F("attempt", fmt.Sprint(attempt)))
	}
	return &errs.MaxAuthAttempts{N: maxAttempts}
}

type cancelledErr struct{ sig syscall.Signal }

func (c cancelledErr) Error() string { return "authentication cancelled" }

// attemptOnce runs a single prompt/response exchange, aborting early if
// SIGINT/SIGQUIT arrives while the conversation is in progress.
func attemptOnce(conv Conversation) error {
	sigCh := make(chan syscall.Signal, 2)
	stop := watchCancel(sigCh)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- conv.Authenticate() }()

	select {
	case err := <-done:
		return err
	case sig := <-sigCh:
		return cancelledErr{sig: sig}
	}
}

func watchCancel(out chan<- syscall.Signal) func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		for sig := range ch {
			if s, ok := sig.(syscall.Signal); ok {
				out <- s
				return
			}
		}
	}()
	return func() { signal.Stop(ch); close(ch) }
}
