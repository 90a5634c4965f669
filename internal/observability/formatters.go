// Package observability provides formatted output utilities for the status
// command.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/secflow/catalogd/internal/db"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

// Printer handles formatted status output.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRuns outputs recent pipeline runs, newest first.
func (p *Printer) PrintRuns(runs []db.RunRecord) {
	if len(runs) == 0 {
		p.printBox("RECENT RUNS", "No runs recorded yet.")
		return
	}

	var sb strings.Builder
	count := min(len(runs), maxItemsToShow)
	for i := 0; i < count; i++ {
		r := runs[i]
		sb.WriteString(fmt.Sprintf("%s  %-6s %-10s", r.StartedAt.Format("2006-01-02 15:04:05"), r.Stage, r.Status))
		if r.UpdatesAdded > 0 || r.UpdatesModified > 0 {
			sb.WriteString(fmt.Sprintf("  +%d/~%d", r.UpdatesAdded, r.UpdatesModified))
		}
		sb.WriteString("\n")
		if r.ErrorMessage != "" {
			msg := r.ErrorMessage
			if len(msg) > 60 {
				msg = msg[:57] + "..."
			}
			sb.WriteString(fmt.Sprintf("  ⚠ %s\n", msg))
		}
	}

	if len(runs) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more runs", len(runs)-maxItemsToShow))
	}

	p.printBox("RECENT RUNS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintPackagedArchives outputs the rebuilt archives on record.
func (p *Printer) PrintPackagedArchives(archives []db.PackagedArchive) {
	if len(archives) == 0 {
		p.printBox("PACKAGED ARCHIVES", "No packaged archives yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total: %d\n\n", len(archives)))

	count := min(len(archives), maxItemsToShow)
	for i := 0; i < count; i++ {
		a := archives[i]
		sb.WriteString(fmt.Sprintf("• %s\n", a.FileName))
		sb.WriteString(fmt.Sprintf("  %s=%s  %d update(s), %s\n",
			a.GroupStrategy, a.GroupValue, a.UpdateCount, formatSize(a.SizeBytes)))
	}

	if len(archives) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more archives", len(archives)-maxItemsToShow))
	}

	p.printBox("PACKAGED ARCHIVES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintLatestSource outputs the most recently fetched source archive, if any.
func (p *Printer) PrintLatestSource(arch *db.SourceArchive) {
	if arch == nil {
		p.printBox("LATEST SOURCE ARCHIVE", "No source archive fetched yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("File:        %s\n", arch.FileName))
	sb.WriteString(fmt.Sprintf("Size:        %s\n", formatSize(arch.SizeBytes)))
	sb.WriteString(fmt.Sprintf("Fetched:     %s\n", arch.DownloadedAt.Format(time.RFC3339)))
	if arch.Processed && arch.ProcessedAt != nil {
		sb.WriteString(fmt.Sprintf("Processed:   %s", arch.ProcessedAt.Format(time.RFC3339)))
	} else {
		sb.WriteString("Processed:   pending")
	}

	p.printBox("LATEST SOURCE ARCHIVE", sb.String())
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
