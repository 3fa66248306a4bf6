// Command gosu is the privilege-elevation utility's top-level driver: it
// wires the policy evaluator, the authentication orchestrator, and the
// execution engine together. Grounded on the manager command's
// init()+flag.Parse()+main() shape (manager/main.go), generalized from a
// process-supervisor driver into a one-shot decide-then-exec driver.
package main

import (
	"fmt"
	"os"

	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/auditlog"
	"github.com/trifectatechfoundation/sudo-rs-sub003/internal/errs"
)

func main() {
	log := auditlog.New(os.Stderr)

	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "gosu:", err)
		os.Exit(errs.ExitAuthzOrAuth)
	}

	code, err := dispatch(opts, log)
	if err != nil {
		if ec, ok := err.(errs.ExitCoder); ok {
			if msg := ec.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, "gosu:", msg)
			}
			os.Exit(ec.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "gosu:", err)
		os.Exit(errs.ExitAuthzOrAuth)
	}
	os.Exit(code)
}
