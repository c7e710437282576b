package main

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// interactive reports whether stdout is a terminal that can render
// styled output: a real tty with a color profile beyond termenv.Ascii
// (CI runners and piped output report Ascii/NoTTY and fall back to
// plain log lines).
func interactive() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	return termenv.NewOutput(os.Stdout).Profile != termenv.Ascii
}
