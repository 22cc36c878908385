package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/depotgrab/depotgrab/internal/resolver"
)

func TestExtractPercent(t *testing.T) {
	cases := []struct {
		line    string
		want    float64
		matched bool
	}{
		{`01.83% depots\440\chunk`, 1.83, true},
		{"100% done", 100, true},
		{" 45.5% something", 45.5, true},
		{"0.01%", 0.01, true},
		{"downloading manifest", 0, false},
		{"progress: 50%", 0, false}, // percentage must lead the line
		{"250% complete", 0, false}, // progress is bounded by 100
		{"999.99% done", 0, false},
		{"100.01%", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := ExtractPercent(c.line)
		if ok != c.matched || got != c.want {
			t.Errorf("ExtractPercent(%q) = %v, %v; want %v, %v", c.line, got, ok, c.want, c.matched)
		}
	}
}

func TestArgs(t *testing.T) {
	r := New("/opt/tool", []string{"-max-downloads", "8"})
	run := DepotRun{
		AppID: "440",
		Depot: resolver.DepotTask{
			DepotID:      "441",
			ManifestID:   "m441",
			ManifestPath: "/work/441_m441.manifest",
		},
		KeyFilePath: "/work/steam.keys",
		OutputDir:   "/downloads/440",
	}

	got := strings.Join(r.Args(run), " ")
	want := "-app 440 -depot 441 -manifest m441 -depotkeys /work/steam.keys -manifestfile /work/441_m441.manifest -dir /downloads/440 -max-downloads 8"
	if got != want {
		t.Errorf("Args = %q\nwant %q", got, want)
	}

	if cs := r.CommandString(run); !strings.HasPrefix(cs, "/opt/tool -app 440") {
		t.Errorf("CommandString = %q", cs)
	}
}

func TestArgsOmitsEmptyFields(t *testing.T) {
	r := New("/opt/tool", nil)
	run := DepotRun{
		AppID:     "440",
		Depot:     resolver.DepotTask{DepotID: "441"},
		OutputDir: "/downloads",
	}
	got := strings.Join(r.Args(run), " ")
	for _, flag := range []string{"-manifest ", "-depotkeys", "-manifestfile"} {
		if strings.Contains(got, flag) {
			t.Errorf("Args contains %q for empty field: %q", flag, got)
		}
	}
}

// writeScript creates an executable shell script acting as the tool.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures are unix-only")
	}
	path := filepath.Join(t.TempDir(), "fake-tool.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func collectOutput() (OutputFunc, func() []string) {
	var mu sync.Mutex
	var lines []string
	fn := func(stream, text string, percent float64, hasPercent bool) {
		mu.Lock()
		lines = append(lines, stream+": "+text)
		mu.Unlock()
	}
	get := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
	return fn, get
}

func TestRunSuccess(t *testing.T) {
	tool := writeScript(t, `echo "01.83% depots"
echo "100.00% depots"
echo "oops" >&2
exit 0`)

	r := New(tool, nil)
	onOutput, lines := collectOutput()
	err := r.Run(context.Background(), DepotRun{AppID: "440", Depot: resolver.DepotTask{DepotID: "441"}, OutputDir: t.TempDir()}, onOutput)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := lines()
	var stdout, stderr int
	for _, l := range got {
		if strings.HasPrefix(l, "stdout: ") {
			stdout++
		}
		if strings.HasPrefix(l, "stderr: ") {
			stderr++
		}
	}
	if stdout != 2 || stderr != 1 {
		t.Errorf("got %d stdout / %d stderr lines: %v", stdout, stderr, got)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	tool := writeScript(t, `echo "working"
exit 3`)

	r := New(tool, nil)
	err := r.Run(context.Background(), DepotRun{AppID: "440", Depot: resolver.DepotTask{DepotID: "441"}, OutputDir: t.TempDir()}, nil)
	if err == nil {
		t.Fatal("expected error for exit code 3")
	}
	if !strings.Contains(err.Error(), "exited with code 3") {
		t.Errorf("err = %v, want exit code in message", err)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	r := New("/nonexistent/tool", nil)
	err := r.Run(context.Background(), DepotRun{AppID: "440", Depot: resolver.DepotTask{DepotID: "441"}}, nil)
	if err == nil {
		t.Fatal("expected spawn failure")
	}
	if errors.Is(err, ErrCancelled) {
		t.Error("spawn failure must not be reported as cancellation")
	}
}

func TestRunCancellation(t *testing.T) {
	tool := writeScript(t, `echo "started"
sleep 60`)

	r := New(tool, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	onOutput := func(stream, text string, percent float64, hasPercent bool) {
		if text == "started" {
			cancel()
		}
	}
	go func() {
		done <- r.Run(ctx, DepotRun{AppID: "440", Depot: resolver.DepotTask{DepotID: "441"}, OutputDir: t.TempDir()}, onOutput)
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled process did not exit within grace period")
	}
}
