// Package batch renders a job's depot downloads as a standalone shell or
// batch script, for users who want to run the tool themselves.
package batch

import (
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/depotgrab/depotgrab/internal/resolver"
	"github.com/depotgrab/depotgrab/internal/runner"
)

// Format selects the script dialect.
type Format string

const (
	FormatBash  Format = "sh"
	FormatBatch Format = "bat"
)

// Script renders one tool invocation per depot, in task order.
func Script(format Format, appID string, tasks []resolver.DepotTask, r *runner.Runner, keyFilePath, outputDir string) (string, error) {
	if len(tasks) == 0 {
		return "", fmt.Errorf("no depots to export")
	}

	var b strings.Builder
	switch format {
	case FormatBash:
		b.WriteString("#!/bin/sh\nset -e\n\n")
	case FormatBatch:
		b.WriteString("@echo off\n\n")
	default:
		return "", fmt.Errorf("unknown script format %q", format)
	}

	for _, t := range tasks {
		run := runner.DepotRun{
			AppID:       appID,
			Depot:       t,
			KeyFilePath: keyFilePath,
			OutputDir:   outputDir,
		}
		words := append([]string{r.ToolPath}, r.Args(run)...)

		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = quote(format, w)
		}
		b.WriteString(strings.Join(quoted, " "))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// WriteFile writes the script to disk, executable for the shell dialect.
func WriteFile(path, script string, format Format) error {
	mode := os.FileMode(0644)
	if format == FormatBash {
		mode = 0755
	}
	return os.WriteFile(path, []byte(script), mode)
}

// CopyToClipboard puts the script on the system clipboard.
func CopyToClipboard(script string) error {
	return clipboard.WriteAll(script)
}

func quote(format Format, word string) string {
	switch format {
	case FormatBatch:
		if !strings.ContainsAny(word, " \t&|<>^%\"") {
			return word
		}
		return `"` + strings.ReplaceAll(strings.ReplaceAll(word, "%", "%%"), `"`, `""`) + `"`
	default:
		if !strings.ContainsAny(word, " \t'\"\\$&|<>;*?()") {
			return word
		}
		return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
	}
}
