package app

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// PromptHistory records past user prompts for recall and editing. It lives in
// a sqlite database next to the session state, separate from the conversation
// store, which stays plain append-only shard files.
type PromptHistory struct {
	db *sql.DB
}

func OpenPromptHistory(root string) (*PromptHistory, error) {
	dir := SessionDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "prompts.db"))
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
	_, _ = db.Exec("PRAGMA journal_mode = WAL;")

	schema := `CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		view TEXT NOT NULL,
		mode TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at_ns INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prompts_created ON prompts(created_at_ns);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init prompt history: %w", err)
	}
	return &PromptHistory{db: db}, nil
}

// Add stores one issued prompt.
func (h *PromptHistory) Add(view, mode, text string) error {
	_, err := h.db.Exec(
		"INSERT INTO prompts (id, view, mode, text, created_at_ns) VALUES (?, ?, ?, ?, ?)",
		uuid.NewString(), view, mode, text, time.Now().UnixNano(),
	)
	return err
}

// Recent returns up to limit prompt texts, newest first.
func (h *PromptHistory) Recent(limit int) ([]string, error) {
	rows, err := h.db.Query(
		"SELECT text FROM prompts ORDER BY created_at_ns DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

func (h *PromptHistory) Close() error {
	return h.db.Close()
}
