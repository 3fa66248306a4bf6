package auth

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/term"
)

// readSecret prints msg to the controlling terminal and reads a line
// with echo disabled. When stdin is not a terminal (e.g. input piped in
// without -S), it falls back to a plain buffered read.
func readSecret(msg string) (string, error) {
	fmt.Fprint(os.Stderr, msg)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return trimNewline(line), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readSecretStdin reads one line from stdin unconditionally (the -S
// password-on-stdin mode), instead of switching on whether stdin is a
// terminal.
func readSecretStdin(msg string) (string, error) {
	fmt.Fprint(os.Stderr, msg)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
