package translate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/orangebricks/autodash/internal/framework"
)

const solaraExample = "For example, here is how sliders are created in Solara:\n" +
	"```python\n" +
	"import solara\n" +
	"\n" +
	"int_value = solara.reactive(42)\n" +
	"\n" +
	"\n" +
	"@solara.component\n" +
	"def Page():\n" +
	"    solara.SliderInt(\"Some integer\", value=int_value, min=-10, max=120)\n" +
	"    solara.Markdown(f\"**Int value**: {int_value.value}\")\n" +
	"    with solara.Row():\n" +
	"        solara.Button(\"Reset\", on_click=lambda: int_value.set(42))\n" +
	"```\n"

const dashExample = "For example, here is how a basic Dash app is created:\n" +
	"```python\n" +
	"from dash import Dash, html, dcc, callback, Input, Output\n" +
	"import plotly.express as px\n" +
	"import pandas as pd\n" +
	"\n" +
	"app = Dash(__name__)\n" +
	"\n" +
	"app.layout = html.Div([\n" +
	"    html.H1('Simple Dash App'),\n" +
	"    dcc.Graph(id='graph'),\n" +
	"    dcc.Slider(0, 20, 5, value=10, id='slider')\n" +
	"])\n" +
	"\n" +
	"@callback(\n" +
	"    Output('graph', 'figure'),\n" +
	"    Input('slider', 'value')\n" +
	")\n" +
	"def update_graph(value):\n" +
	"    df = pd.DataFrame({'x': range(10), 'y': [i**2 * value/10 for i in range(10)]})\n" +
	"    return px.line(df, x='x', y='y')\n" +
	"\n" +
	"if __name__ == '__main__':\n" +
	"    app.run_server(debug=True)\n" +
	"```\n"

// dashPortNote asks for a script that honours the --port and --debug flags
// the dash command line passes.
const dashPortNote = " Make sure to include code that allows the app to be run with the " +
	"command-line arguments: app.run_server(host='0.0.0.0', port=int(port), debug=False) " +
	"if port is passed as a command-line argument."

// Prompt builds the instruction that turns code into a dashboard of kind.
func Prompt(kind framework.Kind, code string) (string, error) {
	var title, example, suffix string
	switch kind {
	case framework.Streamlit:
		title = "Streamlit"
	case framework.Solara:
		title, example = "Solara", solaraExample
	case framework.Dash:
		title, example, suffix = "Plotly Dash", dashExample, dashPortNote
	default:
		return "", fmt.Errorf("%w %q", framework.ErrUnsupported, string(kind))
	}

	var b strings.Builder
	if kind == framework.Dash {
		fmt.Fprintf(&b, "Translate the following Python code to a %s dashboard:\n\n", title)
	} else {
		fmt.Fprintf(&b, "Translate the following Python code to %s dashboard:\n\n", title)
	}
	b.WriteString(example)
	b.WriteString("```python\n")
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n")
	fmt.Fprintf(&b, "Only output the %s code and no comments or explanations.", title)
	b.WriteString(suffix)
	return b.String(), nil
}

// StripFences returns the body of the first fenced code block in s, or s
// trimmed when it has none. Models often wrap code in Markdown fences
// despite being asked not to.
func StripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return strings.TrimSpace(s) + "\n"
	}
	rest := s[start+3:]
	// drop the info string ("python") up to the end of the fence line
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		rest = ""
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest) + "\n"
}

// OutputPath is where the translation of notebook for kind is written:
// the notebook's directory, named <stem>_<kind>.py.
func OutputPath(notebook string, kind framework.Kind) string {
	dir := filepath.Dir(notebook)
	stem := strings.TrimSuffix(filepath.Base(notebook), filepath.Ext(notebook))
	return filepath.Join(dir, fmt.Sprintf("%s_%s.py", stem, kind))
}
