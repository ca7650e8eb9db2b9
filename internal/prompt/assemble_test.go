package prompt

import (
	"strings"
	"testing"
	"time"

	"aide/internal/history"
)

func mkTurn(idx int, userContent, userTS, assistantContent, assistantTS string) history.Turn {
	return history.Turn{
		Index:     idx,
		User:      history.Record{Role: history.RoleUser, Content: userContent, Timestamp: userTS},
		Assistant: history.Record{Role: history.RoleAssistant, Content: assistantContent, Timestamp: assistantTS},
	}
}

func findContent(t *testing.T, msgs []Message, substr string) int {
	t.Helper()
	for i, m := range msgs {
		if strings.Contains(m.Content, substr) {
			return i
		}
	}
	t.Fatalf("no message contains %q", substr)
	return -1
}

func TestAssembleEmptyHistoryAllFilesStatic(t *testing.T) {
	msgs, err := Assemble(Request{
		Files: []ContextFile{
			{Path: "a.py", Content: "print('a')\n", MTime: time.Now()},
		},
		UserPrompt: "What does a.py do?",
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if msgs[0].Role != roleSystem {
		t.Fatalf("first message must be system, got %v", msgs[0].Role)
	}
	intro := findContent(t, msgs, "baseline contents")
	if msgs[intro].Role != history.RoleUser {
		t.Fatalf("static intro must be a user turn")
	}
	if msgs[intro+1].Role != history.RoleAssistant || !strings.Contains(msgs[intro+1].Content, "I accept this baseline context") {
		t.Fatalf("static block must be followed by its acknowledgment: %#v", msgs[intro+1])
	}
	if !strings.Contains(msgs[intro].Content, `<file path="a.py">`) {
		t.Fatalf("file content missing from context block: %q", msgs[intro].Content)
	}
	if msgs[len(msgs)-1].Content != "What does a.py do?" {
		t.Fatalf("final message must be the user prompt, got %q", msgs[len(msgs)-1].Content)
	}
}

func TestAssembleFloatingSplicedByModificationTime(t *testing.T) {
	turns := []history.Turn{
		mkTurn(0, "first question", "2026-01-01T10:00:00Z", "first answer", "2026-01-01T10:00:05Z"),
		mkTurn(1, "second question", "2026-01-01T12:00:00Z", "second answer", "2026-01-01T12:00:05Z"),
	}
	files := []ContextFile{
		{Path: "a.py", Content: "x = 1\n", MTime: time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)},
	}

	msgs, err := Assemble(Request{Files: files, Turns: turns, UserPrompt: "go on"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	firstAnswer := findContent(t, msgs, "first answer")
	update := findContent(t, msgs, "UPDATED CONTEXT")
	second := findContent(t, msgs, "second question")
	if !(firstAnswer < update && update < second) {
		t.Fatalf("floating block misplaced: answer=%d update=%d second=%d", firstAnswer, update, second)
	}
	if msgs[update+1].Role != history.RoleAssistant || !strings.Contains(msgs[update+1].Content, "updated") {
		t.Fatalf("floating block needs its acknowledgment: %#v", msgs[update+1])
	}
}

func TestAssembleFileOlderThanWindowIsStatic(t *testing.T) {
	turns := []history.Turn{
		mkTurn(0, "opening question", "2026-01-01T10:00:00Z", "opening answer", "2026-01-01T10:00:05Z"),
	}
	files := []ContextFile{
		{Path: "old.py", Content: "pass\n", MTime: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
	}

	msgs, err := Assemble(Request{Files: files, Turns: turns, UserPrompt: "next"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	static := findContent(t, msgs, "baseline contents")
	question := findContent(t, msgs, "opening question")
	if static > question {
		t.Fatalf("static block must precede history: static=%d question=%d", static, question)
	}
	for _, m := range msgs {
		if strings.Contains(m.Content, "UPDATED CONTEXT") {
			t.Fatalf("no floating block expected")
		}
	}
}

func TestAssembleModificationTimeCeiledToSeconds(t *testing.T) {
	turns := []history.Turn{
		mkTurn(0, "q", "2026-01-01T10:00:00Z", "a", "2026-01-01T10:00:05Z"),
	}
	// 09:59:59.5 rounds up to 10:00:00, which is not before the horizon.
	files := []ContextFile{
		{Path: "f.py", Content: "x\n", MTime: time.Date(2026, 1, 1, 9, 59, 59, 500_000_000, time.UTC)},
	}

	msgs, err := Assemble(Request{Files: files, Turns: turns, UserPrompt: "next"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	findContent(t, msgs, "UPDATED CONTEXT")
}

func TestAssembleMergesAdjacentSameRoleTurns(t *testing.T) {
	// The floating update lands between the user turn and its answer, so the
	// update block merges into the preceding user message.
	turns := []history.Turn{
		mkTurn(0, "the question", "2026-01-01T10:00:00Z", "the answer", "2026-01-01T10:00:10Z"),
	}
	files := []ContextFile{
		{Path: "f.py", Content: "x\n", MTime: time.Date(2026, 1, 1, 10, 0, 5, 0, time.UTC)},
	}

	msgs, err := Assemble(Request{Files: files, Turns: turns, UserPrompt: "next"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	idx := findContent(t, msgs, "the question")
	if !strings.Contains(msgs[idx].Content, "UPDATED CONTEXT") {
		t.Fatalf("expected update merged into the user turn: %#v", msgs[idx])
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == msgs[i-1].Role {
			t.Fatalf("adjacent same-role messages at %d: %#v", i, msgs[i-1:i+1])
		}
	}
}

func TestAssembleDiffModeFraming(t *testing.T) {
	msgs, err := Assemble(Request{Mode: ModeDiff, UserPrompt: "rename foo to bar"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !strings.Contains(msgs[0].Content, "SEARCH/REPLACE") {
		t.Fatalf("diff mode must extend the system prompt: %q", msgs[0].Content)
	}
	findContent(t, msgs, "'gen' mode")
}

func TestAssembleSortsFilesWithinBlock(t *testing.T) {
	files := []ContextFile{
		{Path: "z.py", Content: "z\n", MTime: time.Now()},
		{Path: "a.py", Content: "a\n", MTime: time.Now()},
	}
	msgs, err := Assemble(Request{Files: files, UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	block := msgs[findContent(t, msgs, "<context>")].Content
	if strings.Index(block, `path="a.py"`) > strings.Index(block, `path="z.py"`) {
		t.Fatalf("files must be ordered by path: %q", block)
	}
}
