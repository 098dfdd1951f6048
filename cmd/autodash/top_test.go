package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/orangebricks/autodash/internal/driver"
	"github.com/orangebricks/autodash/internal/registry"
)

func TestTruncate(t *testing.T) {
	if got := truncate("short.py", 40); got != "short.py" {
		t.Errorf("got %q", got)
	}
	got := truncate("/very/long/path/to/notebooks/app.py", 10)
	if len([]rune(got)) != 10 || !strings.HasSuffix(got, "app.py") || !strings.HasPrefix(got, "…") {
		t.Errorf("got %q", got)
	}
}

func TestTopCursorStaysInRange(t *testing.T) {
	var m tea.Model = topModel{}
	m, _ = m.Update(entriesMsg{entries: []registry.Entry{
		{Path: "/a.py", Kind: "dash", State: driver.StateRunning},
		{Path: "/b.py", Kind: "solara", State: driver.StateFailed},
	}})

	for i := 0; i < 5; i++ {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	if c := m.(topModel).cursor; c != 1 {
		t.Errorf("cursor = %d, want 1", c)
	}

	m, _ = m.Update(entriesMsg{entries: []registry.Entry{{Path: "/a.py"}}})
	if c := m.(topModel).cursor; c != 0 {
		t.Errorf("cursor after shrink = %d, want 0", c)
	}

	view := m.View()
	if !strings.Contains(view, "/a.py") {
		t.Errorf("view missing entry: %s", view)
	}
}

func TestTopQuit(t *testing.T) {
	m := topModel{}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}
