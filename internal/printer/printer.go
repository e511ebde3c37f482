// Package printer writes the collective CLI's coloured, human-facing output.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/collective/pkg/blackboard"
)

func init() {
	// Colour stays on off a TTY; NO_COLOR turns it off.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

// Out and Err are the destinations for normal and error output. Tests swap them.
var (
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a green message with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an uncoloured message.
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a yellow message with a warning prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Step prints a cyan progress line for multi-step operations.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Println prints a plain line.
func Println(a ...any) {
	fmt.Fprintln(Out, a...)
}

// Printf prints a plain formatted message.
func Printf(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Error prints a titled error with an explanation and suggestions to Err and
// returns a bare error for Cobra, which runs with SilenceErrors.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details, printed in key order.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(Err)
		for _, k := range keys {
			fmt.Fprintf(Err, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(Err, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// Status renders a node status in its traffic-light colour.
func Status(s blackboard.NodeStatus) string {
	switch s {
	case blackboard.NodeStatusActive:
		return green.Sprint(s)
	case blackboard.NodeStatusSynchronizing:
		return yellow.Sprint(s)
	case blackboard.NodeStatusError:
		return red.Sprint(s)
	}
	return faint.Sprint(s)
}

// Confidence renders a score with two decimals, coloured by strength.
// A nil score renders as a faint dash.
func Confidence(c *float64) string {
	if c == nil {
		return faint.Sprint("-")
	}
	s := fmt.Sprintf("%.2f", *c)
	switch {
	case *c >= 0.7:
		return green.Sprint(s)
	case *c >= 0.4:
		return yellow.Sprint(s)
	}
	return red.Sprint(s)
}
