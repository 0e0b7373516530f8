package printer

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	red  = color.New(color.FgRed, color.Bold)
	cyan = color.New(color.FgCyan)
)

// Printer writes user-facing progress to out and formatted errors to errOut.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	quiet  bool
}

// New creates a Printer. Nil writers default to stdout and stderr.
func New(out, errOut io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Printer{out: out, errOut: errOut}
}

// SetQuiet suppresses Info and Step output. Errors are always printed.
func (p *Printer) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// Info prints an informational message in the default color
func (p *Printer) Info(format string, a ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, format, a...)
}

// Step prints a step message with emphasis (used in multi-step operations)
func (p *Printer) Step(format string, a ...any) {
	if p.quiet {
		return
	}
	cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error block to errOut and returns a simple error
// carrying only the title, for Cobra.
func (p *Printer) Error(title string, explanation string, suggestions []string) error {
	return p.ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value context lines printed between the
// explanation and the suggestions. Context keys are printed in the order given.
func (p *Printer) ErrorWithContext(title string, explanation string, context [][2]string, suggestions []string) error {
	red.Fprintf(p.errOut, "❌ %s\n", title)

	if explanation != "" {
		fmt.Fprintf(p.errOut, "\n%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintf(p.errOut, "\n")
		for _, kv := range context {
			fmt.Fprintf(p.errOut, "  %s: %s\n", kv[0], kv[1])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(p.errOut, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(p.errOut, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(p.errOut, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(p.errOut, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Simple error for Cobra (not printed again due to SilenceErrors)
	return fmt.Errorf("%s", title)
}
