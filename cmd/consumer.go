package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/depotgrab/depotgrab/internal/core"
	"github.com/depotgrab/depotgrab/internal/events"
)

var (
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	cancelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	percentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// writeSSE renders one event in SSE wire format.
func writeSSE(w io.Writer, msg any) {
	kind := events.Kind(msg)
	if kind == "" {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
}

// startHeadlessConsumer logs job events to stdout while the daemon runs.
func startHeadlessConsumer(svc core.JobService) {
	ch, _, err := svc.StreamEvents(nil, "")
	if err != nil {
		return
	}
	go func() {
		for msg := range ch {
			printEvent(msg)
		}
	}()
}

// printEvent renders one event for terminal consumption. Raw tool output is
// skipped in daemon logs; progress lines would swamp everything else.
func printEvent(msg any) {
	switch m := msg.(type) {
	case events.StatusMsg:
		label := m.Step
		if m.DepotID != "" {
			label = fmt.Sprintf("%s depot %s", m.Step, m.DepotID)
		}
		if m.Total > 0 {
			label = fmt.Sprintf("%s (%d/%d)", label, m.Current, m.Total)
		}
		fmt.Printf("%s %s [%s]\n", stepStyle.Render("●"), label, shortID(m.JobID))
	case events.DepotCompleteMsg:
		fmt.Printf("%s depot %s done (%d/%d) [%s]\n",
			okStyle.Render("✓"), m.DepotID, m.Current, m.Total, shortID(m.JobID))
	case events.CompleteMsg:
		fmt.Printf("%s %s [%s]\n", okStyle.Render("Completed:"), m.Message, shortID(m.JobID))
	case events.ErrorMsg:
		if m.DepotID != "" {
			fmt.Printf("%s depot %s: %s [%s]\n", errStyle.Render("Error:"), m.DepotID, m.Message, shortID(m.JobID))
		} else {
			fmt.Printf("%s %s [%s]\n", errStyle.Render("Failed:"), m.Message, shortID(m.JobID))
		}
	case events.CancelledMsg:
		fmt.Printf("%s %s [%s]\n", cancelStyle.Render("Cancelled:"), m.Message, shortID(m.JobID))
	}
}

// printEventVerbose additionally renders raw tool output, used by the
// foreground 'get' command.
func printEventVerbose(msg any) {
	switch m := msg.(type) {
	case events.OutputMsg:
		if m.Percent > 0 {
			fmt.Printf("  %s %s\n", percentStyle.Render(fmt.Sprintf("%6.2f%%", m.Percent)), dimStyle.Render(m.Text))
		} else {
			fmt.Printf("  %s\n", dimStyle.Render(m.Text))
		}
	default:
		printEvent(msg)
	}
}
