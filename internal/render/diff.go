// Package render turns persisted display items back into styled terminal
// output. Rendering is a pure function of the item sequence; it can be
// replayed at any time without touching the store.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"aide/internal/history"
)

// DiffRenderer colors unified diff text for the terminal.
type DiffRenderer struct {
	addedStyle    lipgloss.Style
	removedStyle  lipgloss.Style
	hunkStyle     lipgloss.Style
	contextStyle  lipgloss.Style
	filePathStyle lipgloss.Style
}

func NewDiffRenderer() *DiffRenderer {
	return &DiffRenderer{
		addedStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorSuccess)),
		removedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)),
		hunkStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		contextStyle: lipgloss.NewStyle().Foreground(lipgloss.Color(colorFg)),
		filePathStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorAccent)).
			Bold(true),
	}
}

// RenderDiff renders a unified diff with per-line coloring.
func (d *DiffRenderer) RenderDiff(diff string) string {
	var result strings.Builder
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++"):
			result.WriteString(d.filePathStyle.Render(line))
		case strings.HasPrefix(line, "@@"):
			result.WriteString(d.hunkStyle.Render(line))
		case strings.HasPrefix(line, "+"):
			result.WriteString(d.addedStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			result.WriteString(d.removedStyle.Render(line))
		default:
			result.WriteString(d.contextStyle.Render(line))
		}
		result.WriteString("\n")
	}
	return strings.TrimRight(result.String(), "\n")
}

// ItemRenderer renders a full display sequence: prose as markdown, diffs with
// line coloring, warnings highlighted.
type ItemRenderer struct {
	markdown *MarkdownRenderer
	diff     *DiffRenderer
	warning  lipgloss.Style
	path     lipgloss.Style
	width    int
}

func NewItemRenderer(width int) *ItemRenderer {
	return &ItemRenderer{
		markdown: NewMarkdownRenderer(),
		diff:     NewDiffRenderer(),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorWarning)).
			Bold(true),
		path: lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorPurple)).
			Bold(true),
		width: width,
	}
}

// RenderItems renders the items in order, one styled section per item.
func (r *ItemRenderer) RenderItems(items []history.DisplayItem) string {
	var out []string
	for _, it := range items {
		switch it.Kind {
		case history.ItemText:
			if strings.TrimSpace(it.Content) == "" {
				continue
			}
			out = append(out, r.markdown.Render(it.Content, r.width))
		case history.ItemDiff:
			section := r.path.Render(fmt.Sprintf("File: %s", it.Path)) + "\n" +
				r.diff.RenderDiff(it.Content)
			out = append(out, section)
		case history.ItemWarning:
			out = append(out, r.warning.Render("Warning: "+it.Content))
		}
	}
	return strings.Join(out, "\n\n")
}
