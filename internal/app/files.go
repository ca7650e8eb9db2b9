package app

import (
	"fmt"
	"os"
	"path/filepath"

	"aide/internal/prompt"
)

// ReadContextFiles snapshots the view's context files from disk. A missing or
// unreadable file is a hard error: prompts are never assembled from a partial
// context set.
func ReadContextFiles(root string, paths []string) ([]prompt.ContextFile, error) {
	files := make([]prompt.ContextFile, 0, len(paths))
	for _, rel := range paths {
		abs := filepath.Join(root, rel)
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("context file %s: %w", rel, err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("context file %s: %w", rel, err)
		}
		files = append(files, prompt.ContextFile{
			Path:    rel,
			Content: string(data),
			MTime:   info.ModTime(),
		})
	}
	return files, nil
}

// BaselineContents converts a context snapshot into the path-to-content map
// the stream parser patches against.
func BaselineContents(files []prompt.ContextFile) map[string]string {
	baseline := make(map[string]string, len(files))
	for _, f := range files {
		baseline[f.Path] = f.Content
	}
	return baseline
}

// WriteFileChanges applies post-patch contents to disk. An empty content
// string removes the file, mirroring the whole-file-deletion block form.
func WriteFileChanges(root string, changes map[string]string) error {
	for rel, content := range changes {
		abs := filepath.Join(root, rel)
		if content == "" {
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete %s: %w", rel, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}
