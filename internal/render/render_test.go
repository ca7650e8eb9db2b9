package render

import (
	"strings"
	"testing"

	"aide/internal/history"
)

func TestRenderDiffKeepsEveryLine(t *testing.T) {
	diff := "--- a/a.py\n+++ b/a.py\n@@ -1 +1 @@\n-x = 1\n+x = 2\n"
	out := NewDiffRenderer().RenderDiff(diff)
	for _, want := range []string{"--- a/a.py", "@@ -1 +1 @@", "-x = 1", "+x = 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered diff lost %q:\n%s", want, out)
		}
	}
}

func TestRenderItemsOrdersSections(t *testing.T) {
	items := []history.DisplayItem{
		{Kind: history.ItemText, Content: "Applying the change now.\n"},
		{Kind: history.ItemDiff, Path: "a.py", Content: "--- a/a.py\n+++ b/a.py\n@@ -1 +1 @@\n-x\n+y\n"},
		{Kind: history.ItemWarning, Content: "patch skipped"},
	}
	out := NewItemRenderer(80).RenderItems(items)

	prose := strings.Index(out, "Applying the change now.")
	path := strings.Index(out, "File: a.py")
	warn := strings.Index(out, "Warning: patch skipped")
	if prose < 0 || path < 0 || warn < 0 || !(prose < path && path < warn) {
		t.Fatalf("sections missing or misordered (%d/%d/%d):\n%s", prose, path, warn, out)
	}
}

func TestRenderItemsSkipsBlankText(t *testing.T) {
	items := []history.DisplayItem{
		{Kind: history.ItemText, Content: "\n\n"},
		{Kind: history.ItemWarning, Content: "only this"},
	}
	out := NewItemRenderer(80).RenderItems(items)
	if !strings.HasPrefix(strings.TrimSpace(out), "Warning:") {
		t.Fatalf("blank text should be dropped:\n%q", out)
	}
}

func TestMarkdownRenderPlainParagraph(t *testing.T) {
	out := NewMarkdownRenderer().Render("just a sentence", 80)
	if !strings.Contains(out, "just a sentence") {
		t.Fatalf("plain prose lost: %q", out)
	}
}

func TestMarkdownRenderCodeBlock(t *testing.T) {
	out := NewMarkdownRenderer().Render("```python\nprint('hi')\n```\n", 80)
	if !strings.Contains(out, "print") {
		t.Fatalf("code block content lost: %q", out)
	}
}
