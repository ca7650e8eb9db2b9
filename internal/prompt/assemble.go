// Package prompt builds the outgoing model request from the active history
// window and the session's context files. File contents are placed on the
// conversation timeline in two tiers: a static baseline block ahead of the
// history, and a floating update block spliced in at the point in conversation
// time the files actually changed. The acknowledgment turns emitted alongside
// the blocks are request-shaping only and never reach the store.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"aide/internal/history"
)

// Mode selects the behavioral framing of the request.
type Mode int

const (
	ModeConversation Mode = iota
	ModeDiff
)

const roleSystem = history.Role("system")

// ContextFile is one file in the session context, read by the caller. A file
// that cannot be read must abort assembly before this package is reached; no
// partial prompts are sent.
type ContextFile struct {
	Path    string
	Content string
	MTime   time.Time
}

// Message is one turn of the outgoing request.
type Message struct {
	Role    history.Role
	Content string
}

// Request carries everything Assemble needs. Turns must already be filtered
// to the active window with exclusions applied.
type Request struct {
	SystemPrompt string
	Mode         Mode
	Files        []ContextFile
	Turns        []history.Turn
	UserPrompt   string
}

// Assemble produces the chronological message sequence for one interaction.
func Assemble(req Request) ([]Message, error) {
	system := req.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	if req.Mode == ModeDiff {
		system += DiffModeInstructions
	}
	messages := []Message{{Role: roleSystem, Content: system}}

	records := make([]history.Record, 0, len(req.Turns)*2)
	for _, turn := range req.Turns {
		records = append(records, turn.User, turn.Assistant)
	}

	static, floating, latestFloating, err := partitionFiles(req.Files, records)
	if err != nil {
		return nil, err
	}

	spliceIdx, err := spliceIndex(records, floating, latestFloating)
	if err != nil {
		return nil, err
	}

	messages = append(messages, fileBlock(static, staticContextIntro, staticContextAnchor)...)
	for _, rec := range records[:spliceIdx] {
		messages = append(messages, Message{Role: rec.Role, Content: rec.Content})
	}
	messages = append(messages, fileBlock(floating, floatingContextIntro, floatingContextAnchor)...)
	for _, rec := range records[spliceIdx:] {
		messages = append(messages, Message{Role: rec.Role, Content: rec.Content})
	}

	alignUser, alignAssistant := alignmentConversationUser, alignmentConversationAssistant
	if req.Mode == ModeDiff {
		alignUser, alignAssistant = alignmentDiffUser, alignmentDiffAssistant
	}
	messages = append(messages,
		Message{Role: history.RoleUser, Content: alignUser},
		Message{Role: history.RoleAssistant, Content: alignAssistant},
		Message{Role: history.RoleUser, Content: req.UserPrompt},
	)

	return alignTurns(messages), nil
}

// partitionFiles splits the context files into the static baseline (modified
// before the first in-window record) and the floating update set.
func partitionFiles(files []ContextFile, records []history.Record) (static, floating []ContextFile, latest time.Time, err error) {
	horizon := time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
	if len(records) > 0 {
		horizon, err = records[0].Time()
		if err != nil {
			return nil, nil, time.Time{}, err
		}
	}

	for _, f := range files {
		mtime := ceilSecond(f.MTime)
		if mtime.Before(horizon) {
			static = append(static, f)
			continue
		}
		if mtime.After(latest) {
			latest = mtime
		}
		floating = append(floating, f)
	}
	return static, floating, latest, nil
}

// spliceIndex finds where in the record sequence the floating block belongs:
// directly after the last record preceding the newest floating modification.
func spliceIndex(records []history.Record, floating []ContextFile, latest time.Time) (int, error) {
	if len(floating) == 0 {
		return len(records), nil
	}
	for i, rec := range records {
		t, err := rec.Time()
		if err != nil {
			return 0, err
		}
		if t.After(latest) {
			return i, nil
		}
	}
	return len(records), nil
}

// fileBlock renders a context block plus its synthetic acknowledgment turn.
func fileBlock(files []ContextFile, intro, anchor string) []Message {
	if len(files) == 0 {
		return nil
	}
	sorted := append([]ContextFile{}, files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var block strings.Builder
	block.WriteString("<context>\n")
	for _, f := range sorted {
		fmt.Fprintf(&block, "  <file path=%q>\n", f.Path)
		block.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			block.WriteString("\n")
		}
		block.WriteString("  </file>\n")
	}
	block.WriteString("</context>")

	return []Message{
		{Role: history.RoleUser, Content: intro + "\n\n" + block.String()},
		{Role: history.RoleAssistant, Content: anchor},
	}
}

// alignTurns drops empty messages and merges consecutive same-role ones, so
// the request always alternates cleanly.
func alignTurns(messages []Message) []Message {
	var aligned []Message
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if len(aligned) > 0 && aligned[len(aligned)-1].Role == msg.Role {
			aligned[len(aligned)-1].Content += "\n\n" + content
			continue
		}
		aligned = append(aligned, Message{Role: msg.Role, Content: content})
	}
	return aligned
}

// ceilSecond rounds a modification time up to whole seconds, matching the
// second-granularity timestamps stored on records.
func ceilSecond(t time.Time) time.Time {
	truncated := t.Truncate(time.Second)
	if truncated.Before(t) {
		truncated = truncated.Add(time.Second)
	}
	return truncated.UTC()
}
