package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// StatusInfo describes one index.
type StatusInfo struct {
	Index       string         `json:"index"`
	Path        string         `json:"path,omitempty"`
	InMemory    bool           `json:"in_memory"`
	Documents   uint64         `json:"documents"`
	Generation  uint64         `json:"generation"`
	SizeBytes   int64          `json:"size_bytes"`
	Facets      []string       `json:"facets"`
	MultiValued []string       `json:"multi_valued,omitempty"`
	Lease       string         `json:"lease"`
	Commits     []CommitStatus `json:"commits,omitempty"`
}

// CommitStatus is one row of the commit history.
type CommitStatus struct {
	Generation uint64        `json:"generation"`
	Status     string        `json:"status"`
	Puts       int           `json:"puts"`
	Deletes    int           `json:"deletes"`
	Documents  uint64        `json:"documents"`
	FinishedAt time.Time     `json:"finished_at"`
	Took       time.Duration `json:"took_ns"`
	Error      string        `json:"error,omitempty"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor), now: time.Now}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	s := r.styles
	_, _ = fmt.Fprintf(r.out, "%s\n\n", s.Header.Render("Index: "+info.Index))

	location := info.Path
	if info.InMemory {
		location = "in memory"
	}
	r.row("Location", location)
	r.row("Documents", fmt.Sprintf("%d", info.Documents))
	r.row("Generation", fmt.Sprintf("%d", info.Generation))
	if !info.InMemory {
		r.row("Size", FormatBytes(info.SizeBytes))
	}
	r.row("Facets", joinOr(info.Facets, "none"))
	if len(info.MultiValued) > 0 {
		r.row("Multi-valued", joinOr(info.MultiValued, ""))
	}
	r.row("Lease", info.Lease)

	if len(info.Commits) == 0 {
		return nil
	}
	_, _ = fmt.Fprintf(r.out, "\n  %s\n", s.Label.Render("Recent commits:"))
	for _, c := range info.Commits {
		line := fmt.Sprintf("    g%-6d %-9s +%d -%d  %d docs  %s",
			c.Generation, r.renderStatus(c.Status), c.Puts, c.Deletes, c.Documents, r.formatTime(c.FinishedAt))
		if c.Error != "" {
			line += "  " + s.Error.Render(c.Error)
		}
		_, _ = fmt.Fprintln(r.out, line)
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) row(label, value string) {
	_, _ = fmt.Fprintf(r.out, "  %s %s\n", r.styles.Label.Render(fmt.Sprintf("%-13s", label+":")), value)
}

func (r *StatusRenderer) renderStatus(status string) string {
	padded := fmt.Sprintf("%-9s", status)
	switch status {
	case "committed":
		return r.styles.Success.Render(padded)
	case "pending":
		return r.styles.Warning.Render(padded)
	case "failed":
		return r.styles.Error.Render(padded)
	default:
		return padded
	}
}

func (r *StatusRenderer) formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := r.now().Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ", ")
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
