// Package render provides output formatting for terminal consumption.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/joss/prompter/internal/cache"
	"github.com/joss/prompter/internal/concurrency"
	"github.com/joss/prompter/internal/session"
	pstrings "github.com/joss/prompter/internal/strings"
)

// Renderer handles output formatting.
type Renderer struct {
	pretty bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// SessionList formats indexed session metadata, most recent first.
func (r *Renderer) SessionList(entries []*session.MetadataCache) string {
	if len(entries) == 0 {
		return "No sessions found"
	}

	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Sessions\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}

	for _, e := range entries {
		r.formatEntry(&sb, e)
	}

	return sb.String()
}

func (r *Renderer) formatEntry(sb *strings.Builder, e *session.MetadataCache) {
	timeStr := e.LastAccessed.Format("2006-01-02 15:04")

	status := color.GreenString("●")
	switch e.Status {
	case session.StatusCompleted:
		status = color.HiBlackString("●")
	case session.StatusArchived:
		status = color.YellowString("●")
	}

	if r.pretty {
		fmt.Fprintf(sb, "%s %s %s  %s (%d entries)\n",
			status, color.HiBlackString(timeStr), pstrings.ShortID(e.SessionID),
			e.ProjectName, e.ConversationCount)
		if e.Description != "" {
			fmt.Fprintf(sb, "    %s\n", color.HiBlackString(e.Description))
		}
	} else {
		fmt.Fprintf(sb, "[%s] %s %s %s entries=%d\n",
			timeStr, e.Status, e.SessionID, e.ProjectName, e.ConversationCount)
	}
}

// SessionDetail formats one session's metadata record in full.
func (r *Renderer) SessionDetail(e *session.MetadataCache) string {
	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString(e.ProjectName + "\n"))
		sb.WriteString(strings.Repeat("─", 40) + "\n")
		fmt.Fprintf(&sb, "  Session:  %s\n", e.SessionID)
		fmt.Fprintf(&sb, "  Status:   %s\n", e.Status)
		fmt.Fprintf(&sb, "  Created:  %s\n", e.CreatedDate.Format("2006-01-02 15:04"))
		fmt.Fprintf(&sb, "  Accessed: %s\n", e.LastAccessed.Format("2006-01-02 15:04"))
		fmt.Fprintf(&sb, "  Entries:  %d\n", e.ConversationCount)
		if e.Description != "" {
			fmt.Fprintf(&sb, "  About:    %s\n", e.Description)
		}
		if len(e.Tags) > 0 {
			fmt.Fprintf(&sb, "  Tags:     %s\n", strings.Join(e.Tags, ", "))
		}
		if len(e.Languages) > 0 {
			fmt.Fprintf(&sb, "  Languages: %s\n", strings.Join(e.Languages, ", "))
		}
		if len(e.Patterns) > 0 {
			fmt.Fprintf(&sb, "  Patterns:  %s\n", strings.Join(e.Patterns, ", "))
		}
		fmt.Fprintf(&sb, "  Size:     %d bytes\n", e.FileSize)
	} else {
		fmt.Fprintf(&sb, "session=%s project=%s status=%s entries=%d size=%d\n",
			e.SessionID, e.ProjectName, e.Status, e.ConversationCount, e.FileSize)
	}

	return sb.String()
}

// History formats conversation entries in chronological order.
func (r *Renderer) History(entries []session.ConversationEntry) string {
	if len(entries) == 0 {
		return "No history"
	}

	var sb strings.Builder
	for _, e := range entries {
		timeStr := e.Timestamp.Format("15:04:05")
		if r.pretty {
			fmt.Fprintf(&sb, "%s %s\n", color.HiBlackString(timeStr), color.YellowString("› "+e.Prompt))
			fmt.Fprintf(&sb, "  %s\n\n", e.Response)
		} else {
			fmt.Fprintf(&sb, "[%s] %s: %s\n", timeStr, e.Source, e.Prompt)
			fmt.Fprintf(&sb, "    %s\n", e.Response)
		}
	}
	return sb.String()
}

// ContentMatches formats full-text search results grouped by session.
func (r *Renderer) ContentMatches(results []session.ContentMatch) string {
	if len(results) == 0 {
		return "No matches found"
	}

	var sb strings.Builder
	for _, res := range results {
		if r.pretty {
			fmt.Fprintf(&sb, "%s %s\n", color.CyanString(res.Metadata.ProjectName), pstrings.ShortID(res.Metadata.SessionID))
		} else {
			fmt.Fprintf(&sb, "%s %s\n", res.Metadata.SessionID, res.Metadata.ProjectName)
		}
		for _, m := range res.Matches {
			text := m.Entry.Prompt
			if m.Type == "response" {
				text = m.Entry.Response
			}
			fmt.Fprintf(&sb, "  [%d] %s: %s\n", m.Index, m.Type, pstrings.FirstLine(text, 100))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RebuildSummary formats the outcome of an index rebuild.
func (r *Renderer) RebuildSummary(res *session.RebuildResult) string {
	if r.pretty {
		mark := color.GreenString("✓")
		if res.Failed > 0 {
			mark = color.YellowString("!")
		}
		return fmt.Sprintf("%s indexed %d sessions, %d failed in %s\n",
			mark, res.Indexed, res.Failed, FormatDuration(res.Duration))
	}
	return fmt.Sprintf("indexed=%d failed=%d duration=%s\n",
		res.Indexed, res.Failed, FormatDuration(res.Duration))
}

// CacheStats formats loader cache occupancy and processor throughput.
func (r *Renderer) CacheStats(cs cache.Stats, read, write concurrency.Stats) string {
	var sb strings.Builder

	if r.pretty {
		sb.WriteString(color.CyanString("Cache\n"))
		sb.WriteString(strings.Repeat("─", 40) + "\n")
		fmt.Fprintf(&sb, "  Entries:  %d / %d\n", cs.Size, cs.Capacity)
		fmt.Fprintf(&sb, "  Hit rate: %.1f%% (%d hits, %d misses)\n", cs.HitRate*100, cs.Hits, cs.Misses)
		fmt.Fprintf(&sb, "  Evicted:  %d\n", cs.Evictions)
		fmt.Fprintf(&sb, "  Reads:    %d completed, peak %d in flight\n", read.Completed, read.PeakInUse)
		fmt.Fprintf(&sb, "  Writes:   %d completed, peak %d in flight\n", write.Completed, write.PeakInUse)
	} else {
		fmt.Fprintf(&sb, "entries=%d/%d hit_rate=%.3f evictions=%d reads=%d writes=%d\n",
			cs.Size, cs.Capacity, cs.HitRate, cs.Evictions, read.Completed, write.Completed)
	}

	return sb.String()
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
