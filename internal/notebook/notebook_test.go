package notebook

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const v4 = `{
 "cells": [
  {"cell_type": "markdown", "metadata": {}, "source": ["# Sales\n"]},
  {"cell_type": "code", "metadata": {}, "outputs": [], "source": ["import pandas as pd\n", "df = pd.read_csv('sales.csv')"]},
  {"cell_type": "code", "metadata": {}, "outputs": [], "source": "df.plot()\n"},
  {"cell_type": "code", "metadata": {}, "outputs": [], "source": []}
 ],
 "metadata": {},
 "nbformat": 4,
 "nbformat_minor": 5
}`

const v3 = `{
 "nbformat": 3,
 "worksheets": [
  {"cells": [
   {"cell_type": "code", "input": ["x = 1\n", "print(x)\n"]},
   {"cell_type": "heading", "source": "Title"}
  ]}
 ]
}`

func TestCodeCellsV4(t *testing.T) {
	cells, err := CodeCells([]byte(v4))
	if err != nil {
		t.Fatalf("CodeCells: %v", err)
	}
	if len(cells) != 2 {
		t.Fatalf("expected 2 code cells (markdown and empty skipped), got %d: %q", len(cells), cells)
	}
	if cells[0] != "import pandas as pd\ndf = pd.read_csv('sales.csv')" {
		t.Errorf("unexpected first cell %q", cells[0])
	}
	if cells[1] != "df.plot()\n" {
		t.Errorf("unexpected second cell %q", cells[1])
	}
}

func TestCodeCellsV3(t *testing.T) {
	cells, err := CodeCells([]byte(v3))
	if err != nil {
		t.Fatalf("CodeCells: %v", err)
	}
	if len(cells) != 1 || cells[0] != "x = 1\nprint(x)\n" {
		t.Errorf("unexpected cells %q", cells)
	}
}

func TestCodeCellsInvalid(t *testing.T) {
	for _, in := range []string{"not json", `{"metadata": {}}`, `{"cells": "nope"}`} {
		if _, err := CodeCells([]byte(in)); !errors.Is(err, ErrInvalid) {
			t.Errorf("CodeCells(%q): expected ErrInvalid, got %v", in, err)
		}
	}
}

func TestJoin(t *testing.T) {
	got := Join([]string{"a = 1\n", "b = 2"})
	if got != "a = 1\n\nb = 2\n" {
		t.Errorf("unexpected join %q", got)
	}
	if Join(nil) != "" {
		t.Error("expected empty join for no cells")
	}
}

func TestReadCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.ipynb")
	if err := os.WriteFile(path, []byte(v4), 0644); err != nil {
		t.Fatal(err)
	}

	code, err := ReadCode(path)
	if err != nil {
		t.Fatalf("ReadCode: %v", err)
	}
	want := "import pandas as pd\ndf = pd.read_csv('sales.csv')\n\ndf.plot()\n"
	if code != want {
		t.Errorf("ReadCode = %q, want %q", code, want)
	}
}

func TestReadCodeMissingFile(t *testing.T) {
	if _, err := ReadCode(filepath.Join(t.TempDir(), "missing.ipynb")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
