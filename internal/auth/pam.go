package auth

import (
	"github.com/msteinert/pam"
)

// pamConversation adapts github.com/msteinert/pam's Transaction to the
// Conversation interface. This is the one package in the tree with no
// grounding in the retrieval pack — no PAM binding exists anywhere in
// it — chosen because it is the de facto Go wrapper around libpam's C
// API and there is no alternative approach that avoids cgo entirely.
type pamConversation struct {
	tx *pam.Transaction
}

// ServiceName returns the PAM service name for a given login-shell mode:
// "gosu-i" for -i/login-shell invocations, "gosu" otherwise.
func ServiceName(loginShell bool) string {
	if loginShell {
		return "gosu-i"
	}
	return "gosu"
}

// OpenPAM returns the real Opener backing Authenticate in production.
// When passwordStdin is set (-S), the conversation reads the password
// from stdin unconditionally instead of prompting the controlling
// terminal.
func OpenPAM(passwordStdin bool) Opener {
	return func(service, invokingUser string) (Conversation, error) {
		tx, err := pam.StartFunc(service, invokingUser, func(style pam.Style, msg string) (string, error) {
			switch style {
			case pam.PromptEchoOff, pam.PromptEchoOn:
				if passwordStdin {
					return readSecretStdin(msg)
				}
				return readSecret(msg)
			case pam.ErrorMsg, pam.TextInfo:
				return "", nil
			}
			return "", nil
		})
		if err != nil {
			return nil, err
		}
		return &pamConversation{tx: tx}, nil
	}
}

func (c *pamConversation) Authenticate() error {
	return c.tx.Authenticate(0)
}

func (c *pamConversation) ValidateAccount() error {
	if err := c.tx.AcctMgmt(0); err != nil {
		return err
	}
	return c.tx.OpenSession(0)
}

func (c *pamConversation) Close() error {
	return c.tx.EndSession(0)
}
