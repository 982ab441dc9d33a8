package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kuitang/tickr/internal/client"
)

// Colors adapt to light and dark terminals.
func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

var (
	colorMuted   = ac("240", "243")
	colorAccent  = ac("27", "62")
	colorWarning = ac("160", "203")
	colorNotice  = ac("130", "179")

	headingStyle = lipgloss.NewStyle().Bold(true)
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	doneStyle    = lipgloss.NewStyle().Foreground(colorMuted).Strikethrough(true)
	offlineStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWarning)
	noticeStyle  = lipgloss.NewStyle().Foreground(colorNotice)
)

func formatLists(lists []client.List, activeID int64) string {
	if len(lists) == 0 {
		return mutedStyle.Render("no lists") + "\n"
	}
	var b strings.Builder
	for _, l := range lists {
		marker, name := "  ", l.Name
		if l.ID == activeID {
			marker, name = "> ", activeStyle.Render(l.Name)
		}
		fmt.Fprintf(&b, "%s%s %s %s\n",
			marker,
			mutedStyle.Render(fmt.Sprintf("#%d", l.ID)),
			name,
			mutedStyle.Render(fmt.Sprintf("%d/%d", l.CompletedItems, l.TotalItems)),
		)
	}
	return b.String()
}

// formatItems numbers items from 1; watch commands refer to those numbers.
func formatItems(items []client.Item) string {
	if len(items) == 0 {
		return mutedStyle.Render("nothing to do") + "\n"
	}
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%2d. %s\n", i+1, formatItem(it))
	}
	return b.String()
}

func formatItem(it client.Item) string {
	box, text := "[ ]", it.Text
	if it.Completed {
		box, text = "[x]", doneStyle.Render(it.Text)
	}
	return fmt.Sprintf("%s %s %s", box, text, mutedStyle.Render(fmt.Sprintf("#%d", it.ID)))
}

func formatCounts(c client.Counts) string {
	return mutedStyle.Render(fmt.Sprintf("list #%d: %d/%d done", c.ListID, c.CompletedItems, c.TotalItems))
}

func formatHistory(entries []client.HistoryEntry) string {
	if len(entries) == 0 {
		return mutedStyle.Render("no history") + "\n"
	}
	var b strings.Builder
	for _, e := range entries {
		action := e.Action
		if e.Undo {
			action += " (undo)"
		}
		fmt.Fprintf(&b, "%s %-22s %s\n",
			mutedStyle.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")),
			action,
			e.ItemText,
		)
	}
	return b.String()
}

func offlineBanner(cachedAt time.Time) string {
	return offlineStyle.Render("offline") + mutedStyle.Render(fmt.Sprintf(" showing cached data from %s", cachedAt.Local().Format("2006-01-02 15:04:05")))
}
