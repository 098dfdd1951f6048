// Package framework describes the dashboard servers autodash knows how to
// launch and builds their command lines.
//
// Each Kind maps to a fixed command shape. Builders are pure: the same
// Invocation always yields the same argument list, with the port passed as
// a literal argument so the child binds exactly the allocated port.
package framework

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a dashboard framework.
type Kind string

const (
	Streamlit Kind = "streamlit"
	Solara    Kind = "solara"
	Dash      Kind = "dash"
)

// ErrUnsupported is returned by Parse for names outside the known kinds.
var ErrUnsupported = errors.New("unsupported dashboard type")

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{Streamlit, Solara, Dash}
}

// Parse converts a user supplied name into a Kind. Matching ignores case
// and surrounding whitespace.
func Parse(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	switch k {
	case Streamlit, Solara, Dash:
		return k, nil
	}
	return "", fmt.Errorf("%w %q (expected streamlit, solara, or dash)", ErrUnsupported, name)
}

// Invocation holds the inputs a command builder needs.
type Invocation struct {
	Interpreter string // python executable
	File        string // script path relative to the working directory
	Port        int
}

// Command returns the argument vector that launches file under kind.
// The first element is the executable.
func Command(kind Kind, inv Invocation) ([]string, error) {
	port := strconv.Itoa(inv.Port)
	switch kind {
	case Streamlit:
		return []string{
			inv.Interpreter, "-m", "streamlit", "run", inv.File,
			"--browser.gatherUsageStats=false",
			"--server.runOnSave=true",
			"--server.headless=true",
			"--server.port", port,
		}, nil
	case Solara:
		return []string{
			inv.Interpreter, "-m", "solara", "run", inv.File,
			"--port", port,
			"--production",
		}, nil
	case Dash:
		return []string{
			inv.Interpreter, inv.File,
			"--port", port,
			"--debug", "false",
		}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnsupported, string(kind))
}

// BannerLines is the number of leading output lines a framework prints
// before it announces its URL. Those lines are skipped before URL scanning.
//
// The counts come from observed startup output and are version dependent.
// Streamlit prints a blank line, "You can now view your Streamlit app in your
// browser." and another blank line. Solara and Dash announce the URL on
// their first lines, so nothing is skipped.
func BannerLines(kind Kind) int {
	switch kind {
	case Streamlit:
		return 3
	default:
		return 0
	}
}

// ReloadsOnSave reports whether the framework picks up source edits by
// itself with the flags Command passes.
func ReloadsOnSave(kind Kind) bool {
	return kind == Streamlit
}

// HealthPath is the HTTP path a running server of kind answers cheaply.
// Streamlit has a dedicated endpoint; the others serve their page at the
// root.
func HealthPath(kind Kind) string {
	if kind == Streamlit {
		return "/_stcore/health"
	}
	return "/"
}
