package history

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies which side of a conversation turn a record belongs to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ItemKind tags a DisplayItem variant.
type ItemKind string

const (
	ItemText    ItemKind = "text"
	ItemDiff    ItemKind = "diff"
	ItemWarning ItemKind = "warning"
)

// DisplayItem is one typed fragment of a parsed assistant response. Items are
// produced once, at response completion, and persisted on the assistant
// record; they are never regenerated from the raw content.
type DisplayItem struct {
	Kind ItemKind `json:"kind"`
	// Content is the text of a text item, the unified diff of a diff item,
	// or the human-readable message of a warning.
	Content string `json:"content,omitempty"`
	// Path is set for diff items.
	Path string `json:"path,omitempty"`
	// Raw holds the literal input bytes the item was parsed from: the raw
	// SEARCH/REPLACE block (with its File: header line when it directly
	// precedes the block) for diff items, the unterminated fragment for
	// warnings. Advisory warnings that consumed no input carry an empty Raw.
	Raw string `json:"raw,omitempty"`
}

// RawText returns the literal input text this item was parsed from. Text
// items are stored verbatim in Content; diff and warning items keep their
// consumed input in Raw.
func (it DisplayItem) RawText() string {
	if it.Kind == ItemText {
		return it.Content
	}
	return it.Raw
}

// Reassemble concatenates the literal text of all items, recovering the
// original raw response.
func Reassemble(items []DisplayItem) string {
	var out string
	for _, it := range items {
		out += it.RawText()
	}
	return out
}

// Record is the immutable unit stored in the Store. Corrections never mutate
// a record; they append a new one carrying EditOf lineage.
type Record struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	// Model names the model that produced an assistant record.
	Model string `json:"model,omitempty"`
	// Items is the parsed display sequence, meaningful for assistant records.
	Items []DisplayItem `json:"items,omitempty"`
	// UnifiedDiff is the compound diff derived from Items at parse time.
	UnifiedDiff string `json:"unified_diff,omitempty"`
	// EditOf holds the global ID of the record this one supersedes.
	EditOf *int `json:"edit_of,omitempty"`
}

// Now returns a store timestamp for the current instant.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Time parses the record timestamp.
func (r Record) Time() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("record timestamp %q: %w", r.Timestamp, err)
	}
	return t, nil
}

// NewUserRecord builds a user record stamped with the current time.
func NewUserRecord(content string) Record {
	return Record{Role: RoleUser, Content: content, Timestamp: Now()}
}

// NewAssistantRecord builds an assistant record stamped with the current time.
func NewAssistantRecord(content, model string, items []DisplayItem, unifiedDiff string) Record {
	return Record{
		Role:        RoleAssistant,
		Content:     content,
		Timestamp:   Now(),
		Model:       model,
		Items:       items,
		UnifiedDiff: unifiedDiff,
	}
}

func marshalRecord(rec Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

func unmarshalRecord(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
