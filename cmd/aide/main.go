package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aide/internal/app"
	"aide/internal/diffstream"
	"aide/internal/history"
	"aide/internal/prompt"
	"aide/internal/render"
)

const version = "0.3.0"

const renderWidth = 100

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(app.SessionDir(dir)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("no session found in this directory or any parent; run 'aide init' first")
		}
		dir = parent
	}
}

func loadApp(log *zap.Logger) (*app.App, error) {
	root, err := findProjectRoot()
	if err != nil {
		return nil, err
	}
	return app.Open(root, log)
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return i, nil
}

// parseIndexSpecs flattens index arguments: single indices (negative counts
// from the end) and inclusive ranges like "2..5" or "-3..-1".
func parseIndexSpecs(args []string) ([]int, error) {
	var out []int
	for _, arg := range args {
		lo, hi, isRange := strings.Cut(arg, "..")
		if !isRange {
			i, err := parseIndex(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, i)
			continue
		}
		from, err := parseIndex(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q", arg)
		}
		to, err := parseIndex(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid range %q", arg)
		}
		if from > to {
			return nil, fmt.Errorf("invalid range %q: start after end", arg)
		}
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
	}
	return out, nil
}

func firstLine(s string) string {
	line := s
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		line = s[:i]
	}
	if len(line) > 72 {
		line = line[:72] + "..."
	}
	return line
}

func renderAssistant(r *render.ItemRenderer, rec history.Record) string {
	if len(rec.Items) > 0 {
		return r.RenderItems(rec.Items)
	}
	return render.NewMarkdownRenderer().Render(rec.Content, renderWidth)
}

func main() {
	log, err := app.NewLogger(os.Getenv("AIDE_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	rootCmd := &cobra.Command{
		Use:           "aide",
		Short:         "aide - session history engine for AI pair programming",
		Long:          "aide keeps a branching, append-only conversation history next to your code,\nparses model SEARCH/REPLACE output into reviewable diffs, and assembles\nchronologically consistent prompts from your files and history.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new session in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg := app.DefaultConfig()
			if model, _ := cmd.Flags().GetString("model"); model != "" {
				cfg.Model = model
			}
			if _, err := app.InitProject(cwd, cfg, log); err != nil {
				return err
			}
			fmt.Printf("Initialized session in %s (model: %s)\n", app.SessionDir(cwd), cfg.Model)
			return nil
		},
	}
	initCmd.Flags().String("model", "", "model identifier for this session")

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "List the pairs in the active window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			view := a.Engine().View()
			fmt.Printf("View %q  model=%s  pairs=%d  window_start=%d  excluded=%v\n",
				view.Name, view.Model, len(view.Pairs), view.WindowStart, view.Excluded)

			turns, err := a.Engine().ActiveTurns()
			if err != nil {
				return err
			}
			for _, turn := range turns {
				fmt.Printf("[%d] %s  %s\n", turn.Index, turn.User.Timestamp, firstLine(turn.User.Content))
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <index>",
		Short: "Show one pair (negative indices count from the end)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			turn, err := a.Engine().GetPair(i)
			if err != nil {
				return err
			}
			fmt.Printf("[%d] user @ %s\n%s\n\n", turn.Index, turn.User.Timestamp, turn.User.Content)
			fmt.Printf("assistant @ %s\n%s\n", turn.Assistant.Timestamp,
				renderAssistant(render.NewItemRenderer(renderWidth), turn.Assistant))
			return nil
		},
	}

	lastCmd := &cobra.Command{
		Use:   "last",
		Short: "Show the most recent assistant response",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			turn, err := a.Engine().GetPair(-1)
			if err != nil {
				return err
			}
			if verbatim, _ := cmd.Flags().GetBool("verbatim"); verbatim {
				fmt.Print(turn.Assistant.Content)
				return nil
			}
			if diff, _ := cmd.Flags().GetBool("diff"); diff {
				fmt.Print(turn.Assistant.UnifiedDiff)
				return nil
			}
			fmt.Println(renderAssistant(render.NewItemRenderer(renderWidth), turn.Assistant))
			return nil
		},
	}
	lastCmd.Flags().Bool("verbatim", false, "print the raw response text")
	lastCmd.Flags().Bool("diff", false, "print the compound unified diff")

	editCmd := &cobra.Command{
		Use:   "edit <index> <content>",
		Short: "Replace one side of a pair, keeping the original record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			role := history.RoleAssistant
			if r, _ := cmd.Flags().GetString("role"); r == "user" {
				role = history.RoleUser
			}
			newID, err := a.Engine().Edit(i, args[1], role)
			if err != nil {
				return err
			}
			fmt.Printf("Edited pair %d (%s side); new record id %d\n", i, role, newID)
			return nil
		},
	}
	editCmd.Flags().String("role", "assistant", "which side to edit: user|assistant")

	undoCmd := &cobra.Command{
		Use:   "undo [index|range ...]",
		Short: "Exclude pairs from the prompt context (newest active by default)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				indices, err := parseIndexSpecs(args)
				if err != nil {
					return err
				}
				if err := a.Engine().Exclude(indices...); err != nil {
					return err
				}
				fmt.Printf("Excluded pairs %v\n", indices)
				return nil
			}
			view := a.Engine().View()
			for i := len(view.Pairs) - 1; i >= 0; i-- {
				if !view.IsExcluded(i) {
					if err := a.Engine().Exclude(i); err != nil {
						return err
					}
					fmt.Printf("Excluded pair %d\n", i)
					return nil
				}
			}
			return errors.New("nothing to undo")
		},
	}

	redoCmd := &cobra.Command{
		Use:   "redo [index|range ...]",
		Short: "Re-include excluded pairs (newest excluded by default)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				indices, err := parseIndexSpecs(args)
				if err != nil {
					return err
				}
				if err := a.Engine().Include(indices...); err != nil {
					return err
				}
				fmt.Printf("Re-included pairs %v\n", indices)
				return nil
			}
			view := a.Engine().View()
			if len(view.Excluded) == 0 {
				return errors.New("nothing to redo")
			}
			i := view.Excluded[len(view.Excluded)-1]
			if err := a.Engine().Include(i); err != nil {
				return err
			}
			fmt.Printf("Re-included pair %d\n", i)
			return nil
		},
	}

	setHistoryCmd := &cobra.Command{
		Use:   "set-history <index|clear>",
		Short: "Move the window start (0 restores full history)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			if args[0] == "clear" {
				if err := a.Engine().ClearWindow(); err != nil {
					return err
				}
				fmt.Println("Window cleared; history hidden from prompts")
				return nil
			}
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			if err := a.Engine().SetWindowStart(i); err != nil {
				return err
			}
			fmt.Printf("Window start set to %d\n", a.Engine().View().WindowStart)
			return nil
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Add files to the session context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			present := map[string]bool{}
			paths := a.Engine().View().ContextFiles
			for _, p := range paths {
				present[p] = true
			}
			for _, p := range args {
				rel := filepath.ToSlash(filepath.Clean(p))
				if _, err := os.Stat(filepath.Join(a.Root(), rel)); err != nil {
					return fmt.Errorf("cannot add %s: %w", rel, err)
				}
				if !present[rel] {
					present[rel] = true
					paths = append(paths, rel)
				}
			}
			if err := a.Engine().SetContextFiles(paths); err != nil {
				return err
			}
			fmt.Printf("Context: %s\n", strings.Join(paths, " "))
			return nil
		},
	}

	dropCmd := &cobra.Command{
		Use:   "drop <path>...",
		Short: "Remove files from the session context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			remove := map[string]bool{}
			for _, p := range args {
				remove[filepath.ToSlash(filepath.Clean(p))] = true
			}
			var kept []string
			for _, p := range a.Engine().View().ContextFiles {
				if !remove[p] {
					kept = append(kept, p)
				}
			}
			if err := a.Engine().SetContextFiles(kept); err != nil {
				return err
			}
			fmt.Printf("Context: %s\n", strings.Join(kept, " "))
			return nil
		},
	}

	forkCmd := &cobra.Command{
		Use:   "fork <name>",
		Short: "Branch the current view under a new name and switch to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			if err := a.Engine().Fork(args[0]); err != nil {
				return err
			}
			fmt.Printf("Forked to view %q\n", args[0])
			return nil
		},
	}

	switchCmd := &cobra.Command{
		Use:   "switch <name>",
		Short: "Switch to another view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			if err := a.Engine().Switch(args[0]); err != nil {
				return err
			}
			fmt.Printf("Switched to view %q\n", args[0])
			return nil
		},
	}

	branchCmd := &cobra.Command{
		Use:   "branch <name>",
		Short: "Start an empty view and switch to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			if err := a.Engine().New(args[0]); err != nil {
				return err
			}
			fmt.Printf("Created empty view %q\n", args[0])
			return nil
		},
	}

	branchesCmd := &cobra.Command{
		Use:   "branches",
		Short: "List all views",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			names, err := a.Engine().ListViews()
			if err != nil {
				return err
			}
			active := a.Engine().View().Name
			for _, name := range names {
				marker := "  "
				if name == active {
					marker = "* "
				}
				fmt.Println(marker + name)
			}
			return nil
		},
	}

	spliceCmd := &cobra.Command{
		Use:   "splice <user-id> <assistant-id> <at>",
		Short: "Insert an existing record pair at a position in this view",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			userID, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			assistantID, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			at, err := parseIndex(args[2])
			if err != nil {
				return err
			}
			if err := a.Engine().Splice(userID, assistantID, at); err != nil {
				return err
			}
			fmt.Printf("Spliced records %d/%d at pair index %d\n", userID, assistantID, at)
			return nil
		},
	}

	parseCmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a raw model response from a file or stdin",
		Long:  "Parse a raw response through the same incremental pipeline used for live\nstreams. Without --persist the result is rendered and thrown away; with\n--persist (requires --prompt) the parsed pair is appended to the view.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}

			var input io.Reader = os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				input = f
			}

			persist, _ := cmd.Flags().GetBool("persist")
			apply, _ := cmd.Flags().GetBool("apply")
			diffOnly, _ := cmd.Flags().GetBool("diff-only")
			userPrompt, _ := cmd.Flags().GetString("prompt")

			if persist {
				if userPrompt == "" {
					return errors.New("--persist requires --prompt")
				}
				ph, err := app.OpenPromptHistory(a.Root())
				if err == nil {
					defer ph.Close()
					_ = ph.Add(a.Engine().View().Name, "gen", userPrompt)
				}
				result, err := a.CompleteTurn(userPrompt, input, app.TurnOptions{Apply: apply})
				if err != nil {
					return err
				}
				if diffOnly {
					fmt.Print(result.UnifiedDiff)
				} else {
					fmt.Println(render.NewItemRenderer(renderWidth).RenderItems(result.Items))
				}
				for _, w := range result.Warnings {
					fmt.Fprintln(os.Stderr, "Warning:", w)
				}
				fmt.Printf("\nPersisted pair %d\n", result.PairIndex)
				return nil
			}

			files, err := app.ReadContextFiles(a.Root(), a.Engine().View().ContextFiles)
			if err != nil {
				return err
			}
			raw, err := io.ReadAll(input)
			if err != nil {
				return err
			}
			p := diffstream.ParseResponse(a.Root(), app.BaselineContents(files), string(raw))
			if diffOnly {
				fmt.Print(p.FinalDiff())
			} else {
				fmt.Println(render.NewItemRenderer(renderWidth).RenderItems(p.Items()))
			}
			for _, w := range p.Warnings() {
				fmt.Fprintln(os.Stderr, "Warning:", w)
			}
			if apply {
				if err := app.WriteFileChanges(a.Root(), p.Contents()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	parseCmd.Flags().Bool("persist", false, "append the parsed pair to the active view")
	parseCmd.Flags().Bool("apply", false, "write successful patches to disk")
	parseCmd.Flags().Bool("diff-only", false, "print only the compound unified diff")
	parseCmd.Flags().String("prompt", "", "user prompt to persist alongside the response")

	promptCmd := &cobra.Command{
		Use:   "prompt <text>",
		Short: "Print the assembled request for an instruction without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(log)
			if err != nil {
				return err
			}
			mode := prompt.ModeConversation
			if m, _ := cmd.Flags().GetString("mode"); m == "gen" {
				mode = prompt.ModeDiff
			}
			messages, err := a.BuildPrompt(args[0], mode)
			if err != nil {
				return err
			}
			for _, msg := range messages {
				fmt.Printf("--- %s ---\n%s\n\n", msg.Role, msg.Content)
			}
			return nil
		},
	}
	promptCmd.Flags().String("mode", "ask", "request framing: ask|gen")

	rootCmd.AddCommand(
		initCmd, logCmd, showCmd, lastCmd, editCmd,
		undoCmd, redoCmd, setHistoryCmd, addCmd, dropCmd,
		forkCmd, switchCmd, branchCmd, branchesCmd,
		spliceCmd, parseCmd, promptCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
