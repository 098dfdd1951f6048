// Package notebook extracts code from Jupyter notebooks.
package notebook

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalid is returned for files that are not notebook JSON.
var ErrInvalid = errors.New("not a notebook")

// ReadCode reads the notebook at path and returns its code cells joined
// in order.
func ReadCode(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading notebook: %w", err)
	}
	cells, err := CodeCells(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return Join(cells), nil
}

// CodeCells returns the source of every code cell. Both nbformat 4
// ("cells", "source") and nbformat 3 ("worksheets", "input") layouts are
// understood; a cell source may be a string or a list of lines.
func CodeCells(data []byte) ([]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalid)
	}
	doc := gjson.ParseBytes(data)

	cells := doc.Get("cells")
	sourceKey := "source"
	if !cells.Exists() {
		cells = doc.Get("worksheets.0.cells")
		sourceKey = "input"
	}
	if !cells.IsArray() {
		return nil, fmt.Errorf("%w: no cells array", ErrInvalid)
	}

	var out []string
	cells.ForEach(func(_, cell gjson.Result) bool {
		if cell.Get("cell_type").String() != "code" {
			return true
		}
		src := source(cell.Get(sourceKey))
		if strings.TrimSpace(src) != "" {
			out = append(out, src)
		}
		return true
	})
	return out, nil
}

func source(v gjson.Result) string {
	if !v.IsArray() {
		return v.String()
	}
	var b strings.Builder
	for _, line := range v.Array() {
		b.WriteString(line.String())
	}
	return b.String()
}

// Join concatenates cell sources, one blank line apart.
func Join(cells []string) string {
	trimmed := make([]string, len(cells))
	for i, c := range cells {
		trimmed[i] = strings.TrimRight(c, "\n")
	}
	if len(trimmed) == 0 {
		return ""
	}
	return strings.Join(trimmed, "\n\n") + "\n"
}
