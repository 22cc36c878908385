// Package runner supervises the external downloader tool, one process per
// depot, streaming its output line by line.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/depotgrab/depotgrab/internal/resolver"
	"github.com/depotgrab/depotgrab/internal/utils"
)

// Stream names for output callbacks.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ErrCancelled is returned when the process was killed because the job's
// context was cancelled.
var ErrCancelled = errors.New("download cancelled")

// percentRe matches a leading percentage on a progress line, e.g.
// "01.83% depots\440\chunk".
var percentRe = regexp.MustCompile(`^\s*(\d{1,3}(?:\.\d{1,2})?)%`)

// ExtractPercent pulls a leading percentage off a progress line. The second
// return is false when the line carries no progress figure or one outside
// [0, 100].
func ExtractPercent(line string) (float64, bool) {
	m := percentRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v > 100 {
		return 0, false
	}
	return v, true
}

// OutputFunc receives one line of tool output. hasPercent is true when the
// line opened with a progress percentage.
type OutputFunc func(stream, text string, percent float64, hasPercent bool)

// DepotRun describes one invocation of the downloader tool.
type DepotRun struct {
	AppID       string
	Depot       resolver.DepotTask
	KeyFilePath string
	OutputDir   string
}

// Runner invokes the external downloader tool.
type Runner struct {
	ToolPath  string
	ExtraArgs []string
}

// New builds a runner for the given tool binary.
func New(toolPath string, extraArgs []string) *Runner {
	return &Runner{ToolPath: toolPath, ExtraArgs: extraArgs}
}

// Args builds the tool argument list for a depot.
func (r *Runner) Args(run DepotRun) []string {
	args := []string{
		"-app", run.AppID,
		"-depot", run.Depot.DepotID,
	}
	if run.Depot.ManifestID != "" {
		args = append(args, "-manifest", run.Depot.ManifestID)
	}
	if run.KeyFilePath != "" {
		args = append(args, "-depotkeys", run.KeyFilePath)
	}
	if run.Depot.ManifestPath != "" {
		args = append(args, "-manifestfile", run.Depot.ManifestPath)
	}
	args = append(args, "-dir", run.OutputDir)
	args = append(args, r.ExtraArgs...)
	return args
}

// CommandString renders the invocation for status display.
func (r *Runner) CommandString(run DepotRun) string {
	return r.ToolPath + " " + strings.Join(r.Args(run), " ")
}

// Run executes the tool for one depot and blocks until it exits. Output lines
// are delivered through onOutput in the order the process emits them per
// stream. Exit code 0 is success; a cancelled context kills the whole process
// group and returns ErrCancelled.
func (r *Runner) Run(ctx context.Context, run DepotRun, onOutput OutputFunc) error {
	cmd := exec.Command(r.ToolPath, r.Args(run)...)
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start downloader tool: %w", err)
	}
	utils.Debug("runner: started %s (pid %d) for depot %s", r.ToolPath, cmd.Process.Pid, run.Depot.DepotID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, StreamStdout, onOutput)
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, StreamStderr, onOutput)
	}()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Kill the whole group so the tool's children die with it.
			killProcGroup(cmd)
		case <-done:
		}
	}()

	wg.Wait()
	err = cmd.Wait()
	close(done)

	if ctx.Err() != nil {
		return ErrCancelled
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("downloader tool exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("downloader tool: %w", err)
	}
	return nil
}

func streamLines(r io.Reader, stream string, onOutput OutputFunc) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if onOutput == nil {
			continue
		}
		percent, ok := ExtractPercent(line)
		onOutput(stream, line, percent, ok)
	}
}
