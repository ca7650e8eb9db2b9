// Package app wires the session history engine, stream parser, prompt
// assembler and renderers into the operations the command layer exposes.
package app

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"aide/internal/diffstream"
	"aide/internal/history"
	"aide/internal/prompt"
)

// App is one loaded project session.
type App struct {
	root   string
	cfg    Config
	log    *zap.Logger
	engine *history.Engine
}

// InitProject creates the session state for a project root and persists the
// initial config. It fails if a session already exists.
func InitProject(root string, cfg Config, log *zap.Logger) (*App, error) {
	if err := SaveConfig(cfg, ConfigPath(root)); err != nil {
		return nil, err
	}
	engine, err := history.InitWithShardSize(SessionDir(root), cfg.Model, cfg.ShardSize)
	if err != nil {
		return nil, err
	}
	log.Info("session initialized", zap.String("root", root), zap.String("model", cfg.Model))
	return &App{root: root, cfg: cfg, log: log, engine: engine}, nil
}

// Open loads an existing project session.
func Open(root string, log *zap.Logger) (*App, error) {
	cfg, err := LoadConfig(ConfigPath(root))
	if err != nil {
		return nil, err
	}
	engine, err := history.LoadWithShardSize(SessionDir(root), cfg.ShardSize)
	if err != nil {
		return nil, err
	}
	return &App{root: root, cfg: cfg, log: log, engine: engine}, nil
}

func (a *App) Engine() *history.Engine { return a.engine }
func (a *App) Config() Config          { return a.cfg }
func (a *App) Root() string            { return a.root }

// TurnOptions tunes one interaction.
type TurnOptions struct {
	Mode prompt.Mode
	// Apply writes successful patches back to disk after the turn persists.
	Apply bool
	// OnItem receives display items as they complete, for live rendering.
	OnItem func(history.DisplayItem)
}

// TurnResult is the outcome of one completed interaction.
type TurnResult struct {
	PairIndex   int
	Items       []history.DisplayItem
	Content     string
	UnifiedDiff string
	Warnings    []string
	FileChanges map[string]string
	Persisted   bool
}

// BuildPrompt assembles the outgoing request for a user instruction against
// the current view.
func (a *App) BuildPrompt(userPrompt string, mode prompt.Mode) ([]prompt.Message, error) {
	view := a.engine.View()
	files, err := ReadContextFiles(a.root, view.ContextFiles)
	if err != nil {
		return nil, err
	}
	turns, err := a.engine.ActiveTurns()
	if err != nil {
		return nil, err
	}
	return prompt.Assemble(prompt.Request{
		Mode:       mode,
		Files:      files,
		Turns:      turns,
		UserPrompt: userPrompt,
	})
}

// CompleteTurn drives a raw response stream through the parser and, once the
// stream ends cleanly, persists the resulting pair. An interrupted stream
// persists nothing unless the config opts into keeping partial responses.
func (a *App) CompleteTurn(userPrompt string, response io.Reader, opts TurnOptions) (*TurnResult, error) {
	view := a.engine.View()
	files, err := ReadContextFiles(a.root, view.ContextFiles)
	if err != nil {
		return nil, err
	}

	parser := diffstream.NewParser(a.root, BaselineContents(files))
	interrupted := false

	buf := make([]byte, 4096)
	for {
		n, readErr := response.Read(buf)
		if n > 0 {
			for _, item := range parser.Feed(string(buf[:n])) {
				if opts.OnItem != nil {
					opts.OnItem(item)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			interrupted = true
			a.log.Warn("response stream interrupted", zap.Error(readErr))
			if !a.cfg.KeepPartialOnInterrupt {
				return nil, fmt.Errorf("stream interrupted, discarding partial response: %w", readErr)
			}
			break
		}
	}

	for _, item := range parser.Finish() {
		if opts.OnItem != nil {
			opts.OnItem(item)
		}
	}

	items := parser.Items()
	content := history.Reassemble(items)
	if interrupted && content == "" {
		return nil, errors.New("stream interrupted before any content arrived")
	}

	result := &TurnResult{
		Items:       items,
		Content:     content,
		UnifiedDiff: parser.FinalDiff(),
		Warnings:    parser.Warnings(),
		FileChanges: parser.Contents(),
	}

	user := history.NewUserRecord(userPrompt)
	assistant := history.NewAssistantRecord(content, view.Model, items, result.UnifiedDiff)
	pairIndex, err := a.engine.AppendPair(user, assistant)
	if err != nil {
		return nil, err
	}
	result.PairIndex = pairIndex
	result.Persisted = true
	a.log.Debug("pair persisted",
		zap.Int("pair", pairIndex),
		zap.Int("items", len(items)),
		zap.Int("warnings", len(result.Warnings)))

	if opts.Apply && len(result.FileChanges) > 0 {
		if err := WriteFileChanges(a.root, result.FileChanges); err != nil {
			return result, err
		}
		a.log.Info("applied file changes", zap.Int("files", len(result.FileChanges)))
	}
	return result, nil
}
