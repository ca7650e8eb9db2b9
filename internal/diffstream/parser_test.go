package diffstream

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"aide/internal/history"
)

func parseChunked(root string, baseline map[string]string, response string, size int) *Parser {
	p := NewParser(root, baseline)
	for len(response) > 0 {
		n := size
		if n > len(response) {
			n = len(response)
		}
		p.Feed(response[:n])
		response = response[n:]
	}
	p.Finish()
	return p
}

func TestParsePlainText(t *testing.T) {
	resp := "No code changes needed.\nJust run the tests again.\n"
	p := ParseResponse("", nil, resp)

	items := p.Items()
	if len(items) != 1 || items[0].Kind != history.ItemText {
		t.Fatalf("expected one text item, got %#v", items)
	}
	if items[0].Content != resp {
		t.Fatalf("content mismatch: %q", items[0].Content)
	}
}

func TestParseSingleBlockYieldsOnlyDiff(t *testing.T) {
	baseline := map[string]string{"a.py": "foo\n"}
	resp := "File: a.py\n<<<<<<< SEARCH\nfoo\n=======\nbar\n>>>>>>> REPLACE\n"
	p := ParseResponse("", baseline, resp)

	items := p.Items()
	if len(items) != 1 {
		t.Fatalf("expected exactly one item, got %d: %#v", len(items), items)
	}
	it := items[0]
	if it.Kind != history.ItemDiff || it.Path != "a.py" {
		t.Fatalf("expected diff for a.py, got %#v", it)
	}
	if !strings.Contains(it.Content, "-foo") || !strings.Contains(it.Content, "+bar") {
		t.Fatalf("diff content mismatch: %q", it.Content)
	}
	if it.Raw != resp {
		t.Fatalf("raw should cover the whole input:\n got: %q\nwant: %q", it.Raw, resp)
	}
	if got := p.Contents()["a.py"]; got != "bar\n" {
		t.Fatalf("patched content mismatch: %q", got)
	}
}

func TestParseChunkBoundaryInvariance(t *testing.T) {
	baseline := map[string]string{
		"a.py": "def foo():\n    return 1\n",
		"b.py": "x = 1\n",
		"c.py": "    x = 1\n",
	}
	responses := []string{
		"Here is the fix.\n\n" +
			"File: a.py\n" +
			"I will rename the function.\n" +
			"<<<<<<< SEARCH\ndef foo():\n    return 1\n=======\ndef bar():\n    return 2\n>>>>>>> REPLACE\n" +
			"\n" +
			"File: b.py\n" +
			"<<<<<<< SEARCH\nx = 1\n=======\nx = 2\n>>>>>>> REPLACE\n" +
			"All done.\n",
		// Indented markers: the opener's indent must be held back until the
		// marker behind it is disambiguated.
		"File: c.py\n  <<<<<<< SEARCH\n    x = 1\n  =======\n    x = 2\n  >>>>>>> REPLACE\n",
	}
	for _, resp := range responses {
		want := ParseResponse("", baseline, resp).Items()
		for _, size := range []int{1, 2, 3, 5, 7, 11, 64} {
			got := parseChunked("", baseline, resp, size).Items()
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("chunk size %d diverges for %q:\n got: %#v\nwant: %#v", size, resp, got, want)
			}
		}
	}
}

func TestParseReassemblesLosslessly(t *testing.T) {
	baseline := map[string]string{"a.py": "foo\n"}
	responses := []string{
		"plain prose only\n",
		"File: a.py\n<<<<<<< SEARCH\nfoo\n=======\nbar\n>>>>>>> REPLACE\n",
		"intro\nFile: a.py\nnote\n<<<<<<< SEARCH\nfoo\n=======\nbaz\n>>>>>>> REPLACE\ntrailer",
		// Block for an unknown file degrades to a warning but keeps its bytes.
		"File: nope.py\n<<<<<<< SEARCH\nmissing\n=======\nnew\n>>>>>>> REPLACE\n",
		// Truncated mid-block.
		"some prose\nFile: a.py\n<<<<<<< SEARCH\nfoo\n",
	}
	for _, resp := range responses {
		p := ParseResponse("", baseline, resp)
		if got := history.Reassemble(p.Items()); got != resp {
			t.Fatalf("lossy reassembly:\n got: %q\nwant: %q", got, resp)
		}
	}
}

func TestParseTruncatedBlockBecomesWarning(t *testing.T) {
	resp := "some prose\nFile: a.py\n<<<<<<< SEARCH\nfoo\n"
	p := ParseResponse("", map[string]string{"a.py": "foo\n"}, resp)

	items := p.Items()
	if len(items) != 2 {
		t.Fatalf("expected text + warning, got %#v", items)
	}
	if items[0].Kind != history.ItemText || items[0].Content != "some prose\n" {
		t.Fatalf("unexpected first item: %#v", items[0])
	}
	if items[1].Kind != history.ItemWarning {
		t.Fatalf("expected warning, got %#v", items[1])
	}
	if items[1].Raw != "File: a.py\n<<<<<<< SEARCH\nfoo\n" {
		t.Fatalf("warning should carry the raw fragment: %q", items[1].Raw)
	}
	if len(p.Warnings()) == 0 {
		t.Fatalf("expected a recorded warning")
	}
}

func TestParsePatchMissDoesNotAbortStream(t *testing.T) {
	baseline := map[string]string{"a.py": "alpha\n", "b.py": "x = 1\n"}
	resp := "File: a.py\n<<<<<<< SEARCH\nno such text\n=======\nnew\n>>>>>>> REPLACE\n" +
		"File: b.py\n<<<<<<< SEARCH\nx = 1\n=======\nx = 2\n>>>>>>> REPLACE\n"
	p := ParseResponse("", baseline, resp)

	var warnings, diffs int
	for _, it := range p.Items() {
		switch it.Kind {
		case history.ItemWarning:
			warnings++
		case history.ItemDiff:
			diffs++
		}
	}
	if warnings != 1 || diffs != 1 {
		t.Fatalf("expected 1 warning and 1 diff, got %d/%d: %#v", warnings, diffs, p.Items())
	}
	if got := p.Contents()["b.py"]; got != "x = 2\n" {
		t.Fatalf("second patch should still apply: %q", got)
	}
	if _, touched := p.Contents()["a.py"]; touched {
		t.Fatalf("failed patch must not touch a.py")
	}
}

func TestParseUnknownFileWarning(t *testing.T) {
	resp := "File: ghost.py\n<<<<<<< SEARCH\nsomething\n=======\nelse\n>>>>>>> REPLACE\n"
	p := ParseResponse("", map[string]string{}, resp)

	items := p.Items()
	if len(items) != 1 || items[0].Kind != history.ItemWarning {
		t.Fatalf("expected a single warning, got %#v", items)
	}
	if !strings.Contains(items[0].Content, "does not match any file") {
		t.Fatalf("unexpected warning text: %q", items[0].Content)
	}
}

func TestParseNewFileCreation(t *testing.T) {
	resp := "File: fresh.py\n<<<<<<< SEARCH\n=======\nprint('hi')\n>>>>>>> REPLACE\n"
	p := ParseResponse("", map[string]string{}, resp)

	items := p.Items()
	if len(items) != 1 || items[0].Kind != history.ItemDiff {
		t.Fatalf("expected a diff item, got %#v", items)
	}
	if !strings.Contains(items[0].Content, "--- /dev/null") {
		t.Fatalf("new file diff should come from /dev/null: %q", items[0].Content)
	}
	if got := p.Contents()["fresh.py"]; got != "print('hi')\n" {
		t.Fatalf("created content mismatch: %q", got)
	}
}

func TestParseDeletion(t *testing.T) {
	baseline := map[string]string{"old.py": "print('bye')\n"}
	resp := "File: old.py\n<<<<<<< SEARCH\nprint('bye')\n=======\n>>>>>>> REPLACE\n"
	p := ParseResponse("", baseline, resp)

	if got := p.Contents()["old.py"]; got != "" {
		t.Fatalf("expected emptied file, got %q", got)
	}
	items := p.Items()
	if len(items) != 1 || items[0].Kind != history.ItemDiff {
		t.Fatalf("expected a diff item, got %#v", items)
	}
}

func TestParseDiskFallback(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "util.py"), []byte("helper = 1\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	resp := "File: util.py\n<<<<<<< SEARCH\nhelper = 1\n=======\nhelper = 2\n>>>>>>> REPLACE\n"
	p := ParseResponse(root, map[string]string{}, resp)

	var sawAdvisory, sawDiff bool
	for _, it := range p.Items() {
		if it.Kind == history.ItemWarning && strings.Contains(it.Content, "found on disk") {
			sawAdvisory = true
		}
		if it.Kind == history.ItemDiff && it.Path == "util.py" {
			sawDiff = true
		}
	}
	if !sawAdvisory || !sawDiff {
		t.Fatalf("expected advisory + diff, got %#v", p.Items())
	}
	if got := p.Contents()["util.py"]; got != "helper = 2\n" {
		t.Fatalf("fallback patch mismatch: %q", got)
	}
}

func TestParseSequentialBlocksCompose(t *testing.T) {
	baseline := map[string]string{"a.py": "one\ntwo\n"}
	resp := "File: a.py\n" +
		"<<<<<<< SEARCH\none\n=======\nuno\n>>>>>>> REPLACE\n" +
		"<<<<<<< SEARCH\ntwo\n=======\ndos\n>>>>>>> REPLACE\n"
	p := ParseResponse("", baseline, resp)

	if got := p.Contents()["a.py"]; got != "uno\ndos\n" {
		t.Fatalf("sequential patches mismatch: %q", got)
	}
	final := p.FinalDiff()
	if !strings.Contains(final, "-one") || !strings.Contains(final, "+dos") {
		t.Fatalf("final diff should cover both edits: %q", final)
	}
}

func TestParseIndentedMarkers(t *testing.T) {
	baseline := map[string]string{"a.py": "    x = 1\n"}
	resp := "File: a.py\n  <<<<<<< SEARCH\n    x = 1\n  =======\n    x = 2\n  >>>>>>> REPLACE\n"
	p := ParseResponse("", baseline, resp)

	if got := p.Contents()["a.py"]; got != "    x = 2\n" {
		t.Fatalf("indented block mismatch: %q", got)
	}

	// The patch must land no matter how the stream is segmented.
	for _, size := range []int{1, 2, 3, 5, 11} {
		chunked := parseChunked("", baseline, resp, size)
		if got := chunked.Contents()["a.py"]; got != "    x = 2\n" {
			t.Fatalf("chunk size %d lost the indented block: %q", size, got)
		}
		if got := history.Reassemble(chunked.Items()); got != resp {
			t.Fatalf("chunk size %d lossy reassembly: %q", size, got)
		}
	}
}

func TestParseFinalDiffSortedAndCompound(t *testing.T) {
	baseline := map[string]string{"b.py": "x = 1\n", "a.py": "y = 1\n"}
	resp := "File: b.py\n<<<<<<< SEARCH\nx = 1\n=======\nx = 2\n>>>>>>> REPLACE\n" +
		"File: a.py\n<<<<<<< SEARCH\ny = 1\n=======\ny = 2\n>>>>>>> REPLACE\n"
	p := ParseResponse("", baseline, resp)

	final := p.FinalDiff()
	aIdx := strings.Index(final, "a/a.py")
	bIdx := strings.Index(final, "a/b.py")
	if aIdx < 0 || bIdx < 0 || aIdx > bIdx {
		t.Fatalf("final diff should list a.py before b.py: %q", final)
	}
}

func TestParseMarkerMidLineIsProse(t *testing.T) {
	resp := "the marker <<<<<<< SEARCH only counts at a line start\n"
	p := ParseResponse("", nil, resp)

	items := p.Items()
	if len(items) != 1 || items[0].Kind != history.ItemText || items[0].Content != resp {
		t.Fatalf("mid-line marker should stay prose: %#v", items)
	}
}
