// Package diffstream parses model responses carrying SEARCH/REPLACE blocks
// into ordered display items and applies the blocks to in-memory file
// contents. Parsing is incremental and tolerant: malformed markup degrades to
// warnings, never to errors.
package diffstream

import "strings"

// CreatePatchedContent applies one SEARCH/REPLACE block to content. It
// returns the patched content and true on success, or false when the search
// text cannot be located. An empty search block creates a new file; a search
// block matching the entire content with an empty replacement deletes it.
func CreatePatchedContent(original, search, replace string) (string, bool) {
	if out, ok := tryExactPatch(original, search, replace); ok {
		return out, true
	}
	return tryWhitespaceFlexiblePatch(original, search, replace)
}

func tryExactPatch(original, search, replace string) (string, bool) {
	// File creation.
	if search == "" && original == "" {
		return replace, true
	}
	// File deletion.
	if replace == "" && search == original {
		return "", true
	}
	// A whitespace-only search block is only meaningful for the whole-file
	// operations above; as a partial patch it is ambiguous.
	if strings.TrimSpace(search) == "" {
		return "", false
	}
	if !strings.Contains(original, search) {
		return "", false
	}
	return strings.Replace(original, search, replace, 1), true
}

// tryWhitespaceFlexiblePatch relocates the search block ignoring per-line
// indentation, then re-indents the replacement to the anchor found in the
// original.
func tryWhitespaceFlexiblePatch(original, search, replace string) (string, bool) {
	originalLines := splitKeepEnds(original)
	searchLines := splitKeepEnds(search)
	replaceLines := splitKeepEnds(replace)

	if len(searchLines) == 0 {
		return "", false
	}
	stripped := make([]string, len(searchLines))
	allBlank := true
	for i, line := range searchLines {
		stripped[i] = strings.TrimSpace(line)
		if stripped[i] != "" {
			allBlank = false
		}
	}
	if allBlank {
		return "", false
	}

	matchStart := -1
	for i := 0; i+len(searchLines) <= len(originalLines); i++ {
		ok := true
		for j := range searchLines {
			if strings.TrimSpace(originalLines[i+j]) != stripped[j] {
				ok = false
				break
			}
		}
		if ok {
			matchStart = i
			break
		}
	}
	if matchStart < 0 {
		return "", false
	}

	anchorIndent := consistentIndent(originalLines[matchStart : matchStart+len(searchLines)])
	replaceIndent := consistentIndent(replaceLines)

	indented := make([]string, 0, len(replaceLines))
	for _, line := range replaceLines {
		if strings.TrimSpace(line) == "" {
			indented = append(indented, line)
			continue
		}
		relative := strings.TrimPrefix(line, replaceIndent)
		indented = append(indented, anchorIndent+relative)
	}

	var out strings.Builder
	for _, line := range originalLines[:matchStart] {
		out.WriteString(line)
	}
	for _, line := range indented {
		out.WriteString(line)
	}
	for _, line := range originalLines[matchStart+len(searchLines):] {
		out.WriteString(line)
	}
	return out.String(), true
}

// consistentIndent returns the leading whitespace of the first non-blank line.
func consistentIndent(lines []string) string {
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	}
	return ""
}

// splitKeepEnds splits into lines preserving line terminators, so joining the
// result reproduces the input exactly.
func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			return lines
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
		if s == "" {
			return lines
		}
	}
}
