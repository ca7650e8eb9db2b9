package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"aide/internal/history"
	"aide/internal/prompt"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	root := t.TempDir()
	a, err := InitProject(root, DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("init project: %v", err)
	}
	return a
}

func TestInitAndOpenProject(t *testing.T) {
	a := newTestApp(t)

	reopened, err := Open(a.Root(), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reopened.Engine().View().Name != history.DefaultViewName {
		t.Fatalf("expected default view, got %q", reopened.Engine().View().Name)
	}
}

func TestCompleteTurnPersistsPair(t *testing.T) {
	a := newTestApp(t)
	if err := os.WriteFile(filepath.Join(a.Root(), "a.py"), []byte("foo\n"), 0o644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := a.Engine().SetContextFiles([]string{"a.py"}); err != nil {
		t.Fatalf("set context: %v", err)
	}

	resp := "Renaming now.\nFile: a.py\n<<<<<<< SEARCH\nfoo\n=======\nbar\n>>>>>>> REPLACE\n"
	var live int
	result, err := a.CompleteTurn("rename foo", strings.NewReader(resp), TurnOptions{
		OnItem: func(history.DisplayItem) { live++ },
	})
	if err != nil {
		t.Fatalf("complete turn: %v", err)
	}

	if !result.Persisted || result.PairIndex != 0 {
		t.Fatalf("expected persisted pair 0: %+v", result)
	}
	if result.Content != resp {
		t.Fatalf("content must reassemble the raw response: %q", result.Content)
	}
	if live == 0 {
		t.Fatalf("live callback never fired")
	}
	if result.FileChanges["a.py"] != "bar\n" {
		t.Fatalf("file change missing: %#v", result.FileChanges)
	}

	turn, err := a.Engine().GetPair(0)
	if err != nil {
		t.Fatalf("get pair: %v", err)
	}
	if turn.User.Content != "rename foo" || turn.Assistant.Content != resp {
		t.Fatalf("persisted pair mismatch: %+v", turn)
	}
	// Patches are not applied to disk without opting in.
	data, _ := os.ReadFile(filepath.Join(a.Root(), "a.py"))
	if string(data) != "foo\n" {
		t.Fatalf("disk must be untouched without Apply: %q", data)
	}
}

type brokenReader struct {
	data   string
	served bool
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if !r.served {
		r.served = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestCompleteTurnDiscardsOnInterrupt(t *testing.T) {
	a := newTestApp(t)

	_, err := a.CompleteTurn("q", &brokenReader{data: "partial answer"}, TurnOptions{})
	if err == nil {
		t.Fatalf("interrupt must surface as an error")
	}
	if len(a.Engine().View().Pairs) != 0 {
		t.Fatalf("no pair may be persisted after an interrupt")
	}
}

func TestCompleteTurnKeepsPartialWhenConfigured(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.KeepPartialOnInterrupt = true
	a, err := InitProject(root, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	result, err := a.CompleteTurn("q", &brokenReader{data: "partial answer"}, TurnOptions{})
	if err != nil {
		t.Fatalf("expected partial persist: %v", err)
	}
	if !result.Persisted || result.Content != "partial answer" {
		t.Fatalf("partial content mismatch: %+v", result)
	}
}

func TestCompleteTurnApplyWritesChanges(t *testing.T) {
	a := newTestApp(t)
	if err := os.WriteFile(filepath.Join(a.Root(), "a.py"), []byte("foo\n"), 0o644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := a.Engine().SetContextFiles([]string{"a.py"}); err != nil {
		t.Fatalf("set context: %v", err)
	}

	resp := "File: a.py\n<<<<<<< SEARCH\nfoo\n=======\nbar\n>>>>>>> REPLACE\n"
	if _, err := a.CompleteTurn("rename", strings.NewReader(resp), TurnOptions{Apply: true}); err != nil {
		t.Fatalf("complete turn: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(a.Root(), "a.py"))
	if err != nil || string(data) != "bar\n" {
		t.Fatalf("apply should write bar: %q err=%v", data, err)
	}
}

func TestConfiguredShardSizeReachesStore(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.ShardSize = 2
	a, err := InitProject(root, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, q := range []string{"q1", "q2"} {
		if _, err := a.CompleteTurn(q, strings.NewReader("ok"), TurnOptions{}); err != nil {
			t.Fatalf("turn %s: %v", q, err)
		}
	}

	// Records 2-3 must roll over into a second shard file.
	shard := filepath.Join(SessionDir(root), "store", "2.jsonl")
	if _, err := os.Stat(shard); err != nil {
		t.Fatalf("expected shard %s: %v", shard, err)
	}

	reopened, err := Open(root, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	turn, err := reopened.Engine().GetPair(1)
	if err != nil {
		t.Fatalf("get pair: %v", err)
	}
	if turn.User.Content != "q2" {
		t.Fatalf("cross-shard read mismatch: %+v", turn)
	}
}

func TestBuildPromptMissingContextFileFails(t *testing.T) {
	a := newTestApp(t)
	if err := a.Engine().SetContextFiles([]string{"gone.py"}); err != nil {
		t.Fatalf("set context: %v", err)
	}
	if _, err := a.BuildPrompt("hello", prompt.ModeConversation); err == nil {
		t.Fatalf("missing context file must abort prompt assembly")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	cfg.ShardSize = 50
	if err := SaveConfig(cfg, ConfigPath(root)); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := LoadConfig(ConfigPath(root))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Model != "test-model" || loaded.ShardSize != 50 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model == "" || cfg.ShardSize <= 0 {
		t.Fatalf("defaults expected: %+v", cfg)
	}
}

func TestWriteFileChangesDeletesEmptied(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "dead.py")
	if err := os.WriteFile(target, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	if err := WriteFileChanges(root, map[string]string{"dead.py": "", "new/born.py": "y\n"}); err != nil {
		t.Fatalf("write changes: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("emptied file should be removed")
	}
	data, err := os.ReadFile(filepath.Join(root, "new", "born.py"))
	if err != nil || string(data) != "y\n" {
		t.Fatalf("nested create failed: %q err=%v", data, err)
	}
}
