package dashboard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/orangebricks/autodash/internal/framework"
	"github.com/orangebricks/autodash/internal/logbuf"
	"github.com/orangebricks/autodash/internal/port"
)

// fakeServer stands in for a Python interpreter. It reads the port from
// --port or --server.port, prints a three line banner, announces its URL and
// then stays up.
const fakeServer = `#!/bin/sh
port=""
while [ $# -gt 0 ]; do
  case "$1" in
    --port|--server.port) port="$2"; shift ;;
  esac
  shift
done
echo ""
echo "  You can now view your app in your browser."
echo ""
echo "  URL: http://localhost:$port"
exec sleep 60
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakepy")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeApp(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.py")
	if err := os.WriteFile(path, []byte("print('hi')\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	p, err := port.Ephemeral()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestExtractURL(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Server running at http://localhost:8080", "http://localhost:8080", true},
		{"Running on http://127.0.0.1:5000/", "http://127.0.0.1:5000/", true},
		{"No URL here", "", false},
		{"first http://a.example:1/x then https://b.example:2/y", "http://a.example:1/x", true},
		{"  Local URL: http://localhost:8501", "http://localhost:8501", true},
		{"Solara server is starting at https://0.0.0.0:8765/app?x=1", "https://0.0.0.0:8765/app?x=1", true},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractURL(tt.text)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ExtractURL(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("http://localhost:8501/app")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if addr.Host != "localhost" || addr.Scheme != "http" {
		t.Errorf("expected localhost/http, got %+v", addr)
	}
	if addr.URL != "http://localhost:8501/app" {
		t.Errorf("expected raw url kept, got %q", addr.URL)
	}

	if _, err := ParseAddress("localhost:8501"); err == nil {
		t.Error("expected error for url without scheme")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(writeApp(t), framework.Kind("bogus"), 8501, Options{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("error should name the kind, got %v", err)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("", framework.Streamlit, 8501, Options{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty path: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := New(writeApp(t), framework.Streamlit, 0, Options{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero port: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := New(writeApp(t), framework.Streamlit, 8501, Options{Runtime: "vm"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown runtime: expected ErrInvalidArgument, got %v", err)
	}
}

func TestDerivedFields(t *testing.T) {
	app := writeApp(t)
	d, err := New(app, framework.Dash, 8050, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Path() != app || d.Dir() != filepath.Dir(app) || d.Base() != "app.py" {
		t.Errorf("unexpected derived fields: %s %s %s", d.Path(), d.Dir(), d.Base())
	}
	if d.ProxyURL() != "/proxy/8050/" {
		t.Errorf("expected /proxy/8050/, got %s", d.ProxyURL())
	}
	if d.Alive() {
		t.Error("new dashboard must not be alive")
	}
	if _, ok := d.Address(); ok {
		t.Error("new dashboard must not have an address")
	}
}

func TestRunCommandDeterministic(t *testing.T) {
	for _, kind := range framework.Kinds() {
		d, err := New(writeApp(t), kind, 9123, Options{Interpreter: "/usr/bin/python3"})
		if err != nil {
			t.Fatal(err)
		}
		first := d.RunCommand()
		second := d.RunCommand()
		if strings.Join(first, " ") != strings.Join(second, " ") {
			t.Errorf("%s: command not deterministic: %v vs %v", kind, first, second)
		}
		if first[0] != "/usr/bin/python3" {
			t.Errorf("%s: expected interpreter first, got %v", kind, first)
		}
		found := false
		for _, a := range first {
			if a == "9123" {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: port missing from %v", kind, first)
		}
	}
}

func TestStartScrapesAddress(t *testing.T) {
	p := freePort(t)
	d, err := New(writeApp(t), framework.Streamlit, p, Options{
		Interpreter:   writeScript(t, fakeServer),
		LaunchTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Shutdown(context.Background(), 2*time.Second)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Alive() {
		t.Fatal("expected alive after start")
	}

	addr, ok := d.Address()
	if !ok {
		t.Fatal("expected an address")
	}
	if addr.Host != "localhost" || addr.Scheme != "http" {
		t.Errorf("unexpected address %+v", addr)
	}
	if addr.URL != "http://localhost:"+strconv.Itoa(p) {
		t.Errorf("expected url with allocated port, got %s", addr.URL)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	d, err := New(writeApp(t), framework.Dash, freePort(t), Options{
		Interpreter: writeScript(t, fakeServer),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Shutdown(context.Background(), 2*time.Second)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := d.Info().PID

	if err := d.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := d.Info().PID; got != pid {
		t.Errorf("second Start spawned a new child: pid %d -> %d", pid, got)
	}
}

func TestStartSkipsBanner(t *testing.T) {
	// The banner itself contains a URL which must be ignored.
	script := `#!/bin/sh
echo "Collecting usage statistics at http://banner.example/stats"
echo ""
echo ""
echo "  Local URL: http://localhost:8501"
exec sleep 60
`
	d, err := New(writeApp(t), framework.Streamlit, freePort(t), Options{
		Interpreter: writeScript(t, script),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Shutdown(context.Background(), 2*time.Second)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr, ok := d.Address()
	if !ok || addr.Host != "localhost" {
		t.Errorf("expected localhost after banner, got %+v (ok=%v)", addr, ok)
	}
}

func TestAwaitAddressAfterOverwrite(t *testing.T) {
	// A two line ring only keeps the last two of four lines, so the URL at
	// sequence 3 is past a three line banner even though it is the second
	// line read.
	out := logbuf.New(2)
	out.Write([]byte("http://banner.example/\n\n\n  URL: http://localhost:8501\n"))
	out.Close()

	addr, err := awaitAddress(context.Background(), out, 3, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if addr == nil || addr.URL != "http://localhost:8501" {
		t.Errorf("expected localhost:8501 after overwritten banner, got %+v", addr)
	}
}

func TestStartWithoutURL(t *testing.T) {
	script := "#!/bin/sh\necho starting\necho done\n"
	d, err := New(writeApp(t), framework.Solara, freePort(t), Options{
		Interpreter: writeScript(t, script),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("output without url should not fail, got %v", err)
	}
	if _, ok := d.Address(); ok {
		t.Error("expected no address")
	}
}

func TestStartTimeout(t *testing.T) {
	script := "#!/bin/sh\nexec sleep 60\n"
	d, err := New(writeApp(t), framework.Dash, freePort(t), Options{
		Interpreter:   writeScript(t, script),
		LaunchTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err = d.Start(context.Background())
	if !errors.Is(err, ErrLaunchTimeout) {
		t.Fatalf("expected ErrLaunchTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Start took %v, expected to honour the timeout", elapsed)
	}
	if d.Alive() {
		t.Error("timed out dashboard must not own a child")
	}
}

func TestStartCancelled(t *testing.T) {
	script := "#!/bin/sh\nexec sleep 60\n"
	d, err := New(writeApp(t), framework.Dash, freePort(t), Options{
		Interpreter:   writeScript(t, script),
		LaunchTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected error when the caller gives up")
	}
	if d.Alive() {
		t.Error("cancelled start must not leave a child")
	}
}

func TestStartMissingInterpreter(t *testing.T) {
	d, err := New(writeApp(t), framework.Streamlit, freePort(t), Options{
		Interpreter: "/nonexistent/python",
	})
	if err != nil {
		t.Fatal(err)
	}

	err = d.Start(context.Background())
	if !errors.Is(err, ErrLaunchFailure) {
		t.Fatalf("expected ErrLaunchFailure, got %v", err)
	}
	if d.Alive() {
		t.Error("failed spawn must not be recorded")
	}
}

func TestStopDoesNotBlock(t *testing.T) {
	d, err := New(writeApp(t), framework.Dash, freePort(t), Options{
		Interpreter: writeScript(t, fakeServer),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	d.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop blocked for %v", elapsed)
	}
	if d.Alive() {
		t.Error("expected not alive after stop")
	}

	// Stopping again is a no-op
	d.Stop()
}

func TestShutdownWaits(t *testing.T) {
	d, err := New(writeApp(t), framework.Dash, freePort(t), Options{
		Interpreter: writeScript(t, fakeServer),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := d.Shutdown(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if d.Alive() {
		t.Error("expected not alive after shutdown")
	}
	if err := d.Shutdown(context.Background(), time.Second); err != nil {
		t.Errorf("second Shutdown should be a no-op, got %v", err)
	}
}

func TestRespawnAfterExit(t *testing.T) {
	script := "#!/bin/sh\necho \"URL: http://localhost:1\"\n"
	d, err := New(writeApp(t), framework.Dash, freePort(t), Options{
		Interpreter: writeScript(t, script),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for d.Alive() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if d.Alive() {
		t.Fatal("child should have exited")
	}
	first := d.Info().PID

	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart after exit: %v", err)
	}
	if d.Info().PID == first {
		t.Error("expected a new child after the previous one exited")
	}
}

func TestLogs(t *testing.T) {
	d, err := New(writeApp(t), framework.Streamlit, freePort(t), Options{
		Interpreter: writeScript(t, fakeServer),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Shutdown(context.Background(), 2*time.Second)

	if got := d.Logs(10); len(got) != 0 {
		t.Errorf("expected no logs before start, got %v", got)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	logs := d.Logs(1)
	if len(logs) != 1 || !strings.Contains(logs[0], "URL:") {
		t.Errorf("expected last line to be the url announcement, got %v", logs)
	}
}

func TestContainerName(t *testing.T) {
	if got := containerName("My App.py", 8501); got != "my-app-8501" {
		t.Errorf("unexpected container name %q", got)
	}
}
