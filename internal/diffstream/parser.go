package diffstream

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"aide/internal/history"
)

const (
	searchMarker  = "<<<<<<< SEARCH"
	sepMarker     = "======="
	replaceMarker = ">>>>>>> REPLACE"
)

var fileHeaderRE = regexp.MustCompile(`(?m)^[ \t]*File:[ \t]*(.*?)\r?\n`)

// Parser is a single-pass incremental scanner over a chunked model response.
// Chunks of any granularity may be fed in; completed display items come out
// in input order, and every input byte is attributed to exactly one item, so
// the final sequence reassembles the raw response losslessly.
//
// SEARCH/REPLACE blocks are applied against an overlay of the baseline file
// contents as they complete; failures degrade to warning items and never
// abort the stream.
type Parser struct {
	root string
	buf  string
	// atLineStart tracks whether the buffer currently begins at a line
	// start. Structural markers are only recognized at line starts, so text
	// in front of the next newline can always be emitted eagerly when it
	// does not.
	atLineStart bool

	currentFile   string
	inFile        bool
	pendingHeader string

	queue   []history.DisplayItem
	emitted []history.DisplayItem

	baseline   map[string]string
	overlay    map[string]string
	discovered map[string]string
	warnings   []string
	eof        bool
}

// NewParser builds a parser over the session baseline. root is the directory
// used for resolving files the model references outside the baseline; an
// empty root disables the disk fallback.
func NewParser(root string, baseline map[string]string) *Parser {
	if baseline == nil {
		baseline = map[string]string{}
	}
	return &Parser{
		root:        root,
		atLineStart: true,
		baseline:    baseline,
		overlay:     map[string]string{},
		discovered:  map[string]string{},
	}
}

// Feed appends a chunk and returns the display items completed by it.
func (p *Parser) Feed(chunk string) []history.DisplayItem {
	p.buf += chunk
	return p.drain()
}

// Finish flushes the parser at end of stream. An unterminated block is
// emitted as a warning item carrying the raw fragment; parsing stops cleanly.
func (p *Parser) Finish() []history.DisplayItem {
	if p.eof {
		return nil
	}
	p.eof = true

	items := p.drain()
	if p.buf != "" {
		if p.isIncomplete(p.buf, p.atLineStart) {
			frag := p.attachHeader(p.buf)
			msg := "Response ended with an unterminated SEARCH/REPLACE block."
			p.warnings = append(p.warnings, msg)
			items = append(items, p.emit(history.DisplayItem{Kind: history.ItemWarning, Content: msg, Raw: frag}))
		} else {
			items = append(items, p.emit(p.textItem(p.buf)))
		}
		p.buf = ""
	} else if p.pendingHeader != "" {
		items = append(items, p.emit(history.DisplayItem{Kind: history.ItemText, Content: p.pendingHeader}))
		p.pendingHeader = ""
	}
	return items
}

// Items returns the complete display sequence with adjacent text fragments
// coalesced. This is the persisted, re-renderable form.
func (p *Parser) Items() []history.DisplayItem {
	var out []history.DisplayItem
	for _, it := range p.emitted {
		if it.Kind == history.ItemText && len(out) > 0 && out[len(out)-1].Kind == history.ItemText {
			out[len(out)-1].Content += it.Content
			continue
		}
		out = append(out, it)
	}
	return out
}

// Warnings returns the warning messages collected so far.
func (p *Parser) Warnings() []string {
	return append([]string{}, p.warnings...)
}

// Contents returns the post-patch state of every file touched by the stream.
func (p *Parser) Contents() map[string]string {
	out := make(map[string]string, len(p.overlay))
	for path, content := range p.overlay {
		out[path] = content
	}
	return out
}

// FinalDiff builds one compound unified diff of all successful changes,
// sorted by path.
func (p *Parser) FinalDiff() string {
	paths := make([]string, 0, len(p.overlay))
	for path := range p.overlay {
		paths = append(paths, path)
	}
	sortStrings(paths)

	var out strings.Builder
	for _, path := range paths {
		var oldPtr *string
		if old, ok := p.discovered[path]; ok {
			oldPtr = &old
		} else if old, ok := p.baseline[path]; ok {
			oldPtr = &old
		}
		updated := p.overlay[path]
		if oldPtr != nil && *oldPtr == updated {
			continue
		}
		out.WriteString(UnifiedDiff(path, oldPtr, &updated))
	}
	return out.String()
}

// ParseResponse drives a parser over a full response in one call.
func ParseResponse(root string, baseline map[string]string, response string) *Parser {
	p := NewParser(root, baseline)
	p.Feed(response)
	p.Finish()
	return p
}

func (p *Parser) drain() []history.DisplayItem {
	var out []history.DisplayItem
	for {
		item, ok := p.next()
		if !ok {
			return out
		}
		out = append(out, p.emit(item))
	}
}

func (p *Parser) emit(item history.DisplayItem) history.DisplayItem {
	p.emitted = append(p.emitted, item)
	return item
}

func (p *Parser) next() (history.DisplayItem, bool) {
	for {
		if len(p.queue) > 0 {
			item := p.queue[0]
			p.queue = p.queue[1:]
			return item, true
		}
		if p.buf == "" {
			return history.DisplayItem{}, false
		}

		// Mid-line bytes are never structural: flush up to the next line
		// start before scanning for markers.
		if !p.atLineStart {
			if i := strings.IndexByte(p.buf, '\n'); i >= 0 {
				return p.textItem(p.drainBuf(i + 1)), true
			}
			return p.textItem(p.drainBuf(len(p.buf))), true
		}

		if p.inFile {
			next := len(p.buf)
			if loc := fileHeaderRE.FindStringIndex(p.buf); loc != nil {
				next = loc[0]
			}
			if next > 0 {
				items, consumed := p.processFileChunk(p.buf[:next])
				p.drainBuf(consumed)
				if len(items) > 0 {
					p.queue = append(p.queue, items...)
					continue
				}
				if consumed > 0 {
					continue
				}
				// Waiting for more data inside the file section.
				if next == len(p.buf) {
					return history.DisplayItem{}, false
				}
			}
			if next < len(p.buf) {
				p.inFile = false
				continue
			}
		}

		if m := fileHeaderRE.FindStringSubmatchIndex(p.buf); m != nil {
			if m[0] > 0 {
				return p.textItem(p.drainBuf(m[0])), true
			}
			if p.pendingHeader != "" {
				// A header immediately followed by another one was plain
				// prose after all.
				old := p.pendingHeader
				p.pendingHeader = ""
				p.queue = append(p.queue, history.DisplayItem{Kind: history.ItemText, Content: old})
			}
			headerRaw := p.buf[m[0]:m[1]]
			path := strings.TrimSpace(p.buf[m[2]:m[3]])
			path = strings.Trim(path, "*`")
			p.currentFile = path
			p.inFile = true
			p.pendingHeader = headerRaw
			p.drainBuf(m[1])
			continue
		}

		// Remaining buffer is text; hold back anything that may still grow
		// into a marker.
		stable := len(p.buf)
		if p.isIncomplete(p.buf, true) {
			if idx := strings.Index(p.buf, searchMarker); idx >= 0 {
				stable = strings.LastIndexByte(p.buf[:idx], '\n') + 1
			} else if ln := strings.LastIndexByte(p.buf, '\n'); ln >= 0 {
				stable = len(p.buf)
				if p.isIncomplete(p.buf[ln+1:], false) {
					stable = ln + 1
				}
			} else {
				stable = 0
			}
		}
		if stable > 0 {
			return p.textItem(p.drainBuf(stable)), true
		}
		return history.DisplayItem{}, false
	}
}

func (p *Parser) drainBuf(n int) string {
	s := p.buf[:n]
	p.buf = p.buf[n:]
	if n > 0 {
		p.atLineStart = s[n-1] == '\n'
	}
	return s
}

func (p *Parser) textItem(text string) history.DisplayItem {
	if p.pendingHeader != "" {
		text = p.pendingHeader + text
		p.pendingHeader = ""
	}
	return history.DisplayItem{Kind: history.ItemText, Content: text}
}

func (p *Parser) attachHeader(raw string) string {
	if p.pendingHeader != "" {
		raw = p.pendingHeader + raw
		p.pendingHeader = ""
	}
	return raw
}

// processFileChunk scans one file section for complete SEARCH/REPLACE blocks.
// It returns the items completed and the number of bytes consumed; bytes that
// may still grow into a block stay in the buffer.
func (p *Parser) processFileChunk(chunk string) ([]history.DisplayItem, int) {
	var items []history.DisplayItem
	cursor := 0

	for cursor < len(chunk) {
		rel := strings.Index(chunk[cursor:], searchMarker)
		if rel < 0 {
			break
		}
		searchIdx := cursor + rel

		lineStart := strings.LastIndexByte(chunk[:searchIdx], '\n') + 1
		indent := chunk[lineStart:searchIdx]
		if strings.TrimLeft(indent, " \t") != "" {
			// Not a marker at a line start; step past it and keep scanning.
			items = append(items, p.textItem(chunk[cursor:searchIdx+1]))
			cursor = searchIdx + 1
			continue
		}

		searchContentStart := searchIdx + len(searchMarker)
		searchContentStart += lineEndingLen(chunk[searchContentStart:])

		// When the block is still incomplete, hold from the opener's line
		// start so its indent is not flushed out from under the marker.
		sepLineStart, sepLineEnd, ok := findMarkerWithIndent(chunk, sepMarker, searchIdx+len(searchMarker), indent)
		if !ok {
			if lineStart > cursor {
				items = append(items, p.textItem(chunk[cursor:lineStart]))
			}
			return items, lineStart
		}
		replaceContentStart := sepLineEnd + lineEndingLen(chunk[sepLineEnd:])

		replLineStart, replLineEnd, ok := findMarkerWithIndent(chunk, replaceMarker, sepLineEnd, indent)
		if !ok {
			if lineStart > cursor {
				items = append(items, p.textItem(chunk[cursor:lineStart]))
			}
			return items, lineStart
		}
		// The line terminator after the closing marker belongs to the block;
		// wait for it unless the stream is over.
		if replLineEnd == len(chunk) && !p.eof {
			if lineStart > cursor {
				items = append(items, p.textItem(chunk[cursor:lineStart]))
			}
			return items, lineStart
		}

		if searchIdx > cursor {
			items = append(items, p.textItem(chunk[cursor:searchIdx]))
		}

		finalEnd := replLineEnd + lineEndingLen(chunk[replLineEnd:])
		searchContent := chunk[searchContentStart:sepLineStart]
		replaceContent := chunk[replaceContentStart:replLineStart]
		raw := chunk[searchIdx:finalEnd]

		items = append(items, p.resolvePatch(searchContent, replaceContent, raw)...)
		cursor = finalEnd
	}

	if cursor < len(chunk) {
		tail := chunk[cursor:]
		atStart := cursor == 0 || chunk[cursor-1] == '\n'
		if !p.isIncomplete(tail, atStart) {
			items = append(items, p.textItem(tail))
			cursor = len(chunk)
		}
	}
	return items, cursor
}

// resolvePatch applies one completed block against the overlay and converts
// it into display items. Failures become warnings carrying the raw block.
func (p *Parser) resolvePatch(search, replace, raw string) []history.DisplayItem {
	var items []history.DisplayItem

	path, fallback, advisory, ok := p.resolveFilePath(p.currentFile, search)
	if advisory != "" {
		p.warnings = append(p.warnings, advisory)
		items = append(items, history.DisplayItem{Kind: history.ItemWarning, Content: advisory})
	}
	if !ok {
		msg := fmt.Sprintf("File '%s' from the model does not match any file in context. Patch skipped.", p.currentFile)
		p.warnings = append(p.warnings, msg)
		items = append(items, history.DisplayItem{Kind: history.ItemWarning, Content: msg, Raw: p.attachHeader(raw)})
		return items
	}

	if fallback != nil {
		if _, in := p.overlay[path]; !in {
			p.overlay[path] = *fallback
		}
		if _, in := p.discovered[path]; !in {
			p.discovered[path] = *fallback
		}
	}

	_, inBaseline := p.baseline[path]
	_, inDiscovered := p.discovered[path]
	isNew := !inBaseline && !inDiscovered

	before := ""
	if c, in := p.overlay[path]; in {
		before = c
	} else if c, in := p.baseline[path]; in {
		before = c
	}

	updated, applied := CreatePatchedContent(before, search, replace)
	if !applied {
		msg := fmt.Sprintf("The SEARCH block from the model could not be found in '%s'. Patch skipped.", path)
		p.warnings = append(p.warnings, msg)
		items = append(items, history.DisplayItem{Kind: history.ItemWarning, Content: msg, Raw: p.attachHeader(raw)})
		return items
	}

	var oldPtr *string
	if !isNew {
		oldPtr = &before
	}
	diff := UnifiedDiff(path, oldPtr, &updated)
	p.overlay[path] = updated

	items = append(items, history.DisplayItem{
		Kind:    history.ItemDiff,
		Path:    path,
		Content: diff,
		Raw:     p.attachHeader(raw),
	})
	return items
}

// resolveFilePath decides which file a block targets: an exact match in the
// working set, a new-file intent (empty search), or a disk fallback confined
// to the session root.
func (p *Parser) resolveFilePath(llmPath, search string) (path string, fallback *string, advisory string, ok bool) {
	if _, in := p.overlay[llmPath]; in {
		return llmPath, nil, "", true
	}
	if _, in := p.baseline[llmPath]; in {
		return llmPath, nil, "", true
	}
	if strings.TrimSpace(search) == "" {
		return llmPath, nil, "", true
	}

	if p.root != "" {
		rootAbs, err := filepath.Abs(p.root)
		if err == nil {
			full := filepath.Join(rootAbs, llmPath)
			if strings.HasPrefix(full, rootAbs+string(filepath.Separator)) {
				if b, err := os.ReadFile(full); err == nil {
					content := string(b)
					advisory = fmt.Sprintf("File '%s' was not in the session context but was found on disk. Consider adding it to the session.", llmPath)
					return llmPath, &content, advisory, true
				}
			}
		}
	}
	return "", nil, "", false
}

// isIncomplete reports whether text may still grow into structural markup:
// an unclosed SEARCH block, or a partial marker on the final line.
func (p *Parser) isIncomplete(text string, atStart bool) bool {
	if idx := strings.Index(text, searchMarker); idx >= 0 {
		lineStart := strings.LastIndexByte(text[:idx], '\n') + 1
		indent := text[lineStart:idx]
		lineAnchored := lineStart > 0 || atStart
		if lineAnchored && strings.TrimLeft(indent, " \t") == "" && !strings.Contains(text, replaceMarker) {
			return true
		}
	}

	lastLine := text
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		lastLine = text[i+1:]
	}
	trimmed := strings.TrimLeft(lastLine, " \t")
	if trimmed == "" {
		// A whitespace-only trailing line may be the indent of a marker
		// still in flight; hold it until more bytes disambiguate.
		return lastLine != "" && !p.eof
	}
	if strings.HasPrefix("File:", trimmed) && len(trimmed) < len("File:") {
		return true
	}
	if strings.HasPrefix(trimmed, "File:") && !strings.HasSuffix(text, "\n") {
		return true
	}
	for _, marker := range []string{searchMarker, sepMarker, replaceMarker} {
		if strings.HasPrefix(marker, trimmed) && len(marker) > len(trimmed) {
			return true
		}
	}
	return false
}

func lineEndingLen(s string) int {
	if strings.HasPrefix(s, "\r\n") {
		return 2
	}
	if strings.HasPrefix(s, "\n") {
		return 1
	}
	return 0
}

// findMarkerWithIndent locates the next occurrence of marker sitting on its
// own line with exactly the expected indent, allowing trailing whitespace.
// It returns the line start and the end of the line content.
func findMarkerWithIndent(chunk, marker string, from int, indent string) (int, int, bool) {
	pos := from
	for {
		rel := strings.Index(chunk[pos:], marker)
		if rel < 0 {
			return 0, 0, false
		}
		found := pos + rel
		lineStart := strings.LastIndexByte(chunk[:found], '\n') + 1
		if chunk[lineStart:found] == indent {
			lineEnd := len(chunk)
			if i := strings.IndexByte(chunk[found+len(marker):], '\n'); i >= 0 {
				lineEnd = found + len(marker) + i
			}
			trailing := chunk[found+len(marker) : lineEnd]
			if strings.TrimRight(trailing, " \t\r") == "" {
				return lineStart, lineEnd, true
			}
		}
		pos = found + len(marker)
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
