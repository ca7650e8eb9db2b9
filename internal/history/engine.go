package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultViewName is the branch created by Init.
const DefaultViewName = "main"

// Turn is a resolved conversational pair: the view-local index plus both
// records read from the store.
type Turn struct {
	Index     int
	User      Record
	Assistant Record
}

// Engine composes the store and the active view. Every mutation persists the
// updated view atomically before returning; records themselves are
// append-only and never rewritten.
type Engine struct {
	root  string
	store *Store
	view  *View
}

func storeDir(root string) string { return filepath.Join(root, "store") }
func viewsDir(root string) string { return filepath.Join(root, "views") }
func pointerPath(root string) string {
	return filepath.Join(root, "pointer.json")
}
func viewPath(root, name string) string {
	return filepath.Join(viewsDir(root), name+".json")
}

// Init creates a fresh engine root: an empty store, a "main" view and the
// pointer. It fails if a pointer already exists.
func Init(root, model string) (*Engine, error) {
	return InitWithShardSize(root, model, DefaultShardSize)
}

// InitWithShardSize is Init with an explicit store shard capacity.
func InitWithShardSize(root, model string, shardSize int) (*Engine, error) {
	if _, err := os.Stat(pointerPath(root)); err == nil {
		return nil, fmt.Errorf("already initialized at %s", root)
	}
	store, err := OpenStoreWithShardSize(storeDir(root), shardSize)
	if err != nil {
		return nil, err
	}
	view := NewView(DefaultViewName, model)
	if err := view.Save(viewPath(root, view.Name)); err != nil {
		return nil, err
	}
	if err := SavePointer(pointerPath(root), view.Name); err != nil {
		return nil, err
	}
	return &Engine{root: root, store: store, view: view}, nil
}

// Load opens an initialized engine root, following the pointer to the active
// view.
func Load(root string) (*Engine, error) {
	return LoadWithShardSize(root, DefaultShardSize)
}

// LoadWithShardSize is Load with an explicit store shard capacity. It must
// match the capacity the store was written with.
func LoadWithShardSize(root string, shardSize int) (*Engine, error) {
	name, err := LoadPointer(pointerPath(root))
	if err != nil {
		return nil, err
	}
	view, err := LoadView(viewPath(root, name))
	if err != nil {
		return nil, err
	}
	view.Name = name
	store, err := OpenStoreWithShardSize(storeDir(root), shardSize)
	if err != nil {
		return nil, err
	}
	return &Engine{root: root, store: store, view: view}, nil
}

// View returns the active view.
func (e *Engine) View() *View { return e.view }

// Store returns the underlying record store.
func (e *Engine) Store() *Store { return e.store }

// Root returns the engine root directory.
func (e *Engine) Root() string { return e.root }

func (e *Engine) saveView() error {
	return e.view.Save(viewPath(e.root, e.view.Name))
}

// AppendPair writes a user/assistant pair through the store, extends the
// active view and returns the new pair index.
func (e *Engine) AppendPair(user, assistant Record) (int, error) {
	uid, aid, err := e.store.AppendPair(user, assistant)
	if err != nil {
		return 0, err
	}
	e.view.Pairs = append(e.view.Pairs, PairRef{User: uid, Assistant: aid})
	if err := e.saveView(); err != nil {
		return 0, err
	}
	return len(e.view.Pairs) - 1, nil
}

// ResolveIndex resolves a possibly negative index against the full pair list.
func (e *Engine) ResolveIndex(i int) (int, error) {
	return e.view.ResolveIndex(i, false)
}

// GetPair fetches both records of the pair at index i (negative indices count
// from the end).
func (e *Engine) GetPair(i int) (Turn, error) {
	idx, err := e.ResolveIndex(i)
	if err != nil {
		return Turn{}, err
	}
	ref := e.view.Pairs[idx]
	recs, err := e.store.GetMany([]int{ref.User, ref.Assistant})
	if err != nil {
		return Turn{}, err
	}
	return Turn{Index: idx, User: recs[0], Assistant: recs[1]}, nil
}

// Exclude soft-deletes the given pair indices from prompt construction.
// Indices may be negative; excluding an excluded pair is a no-op.
func (e *Engine) Exclude(indices ...int) error {
	resolved, err := e.resolveAll(indices)
	if err != nil {
		return err
	}
	e.view.Exclude(resolved...)
	return e.saveView()
}

// Include re-admits the given pair indices into prompt construction.
func (e *Engine) Include(indices ...int) error {
	resolved, err := e.resolveAll(indices)
	if err != nil {
		return err
	}
	e.view.Include(resolved...)
	return e.saveView()
}

func (e *Engine) resolveAll(indices []int) ([]int, error) {
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		idx, err := e.ResolveIndex(i)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// SetWindowStart moves the active window boundary. Index len(Pairs) is
// accepted and yields an empty window; the exclusion set is untouched.
func (e *Engine) SetWindowStart(i int) error {
	idx, err := e.view.ResolveIndex(i, true)
	if err != nil {
		return err
	}
	e.view.WindowStart = idx
	return e.saveView()
}

// ClearWindow empties the active window without deleting anything.
func (e *Engine) ClearWindow() error {
	e.view.WindowStart = len(e.view.Pairs)
	return e.saveView()
}

// Edit appends a new record carrying the replacement content and repoints the
// pair reference at index i. The superseded record stays in the store and
// remains fetchable by its old ID.
func (e *Engine) Edit(i int, newContent string, role Role) (int, error) {
	idx, err := e.ResolveIndex(i)
	if err != nil {
		return 0, err
	}
	ref := e.view.Pairs[idx]
	oldID := ref.User
	if role == RoleAssistant {
		oldID = ref.Assistant
	}
	original, err := e.store.Get(oldID)
	if err != nil {
		return 0, err
	}

	replacement := original
	replacement.Content = newContent
	replacement.Timestamp = original.Timestamp
	replacement.EditOf = &oldID

	newID, err := e.store.Append(replacement)
	if err != nil {
		return 0, err
	}
	if role == RoleAssistant {
		e.view.Pairs[idx].Assistant = newID
	} else {
		e.view.Pairs[idx].User = newID
	}
	if err := e.saveView(); err != nil {
		return 0, err
	}
	return newID, nil
}

// Splice inserts an existing record pair at pair index at, shifting the
// window start and exclusion indices that sit at or after it.
func (e *Engine) Splice(userID, assistantID, at int) error {
	if at < 0 || at > len(e.view.Pairs) {
		return fmt.Errorf("splice at %d with %d pairs: %w", at, len(e.view.Pairs), ErrIndexOutOfRange)
	}
	recs, err := e.store.GetMany([]int{userID, assistantID})
	if err != nil {
		return err
	}
	if recs[0].Role != RoleUser {
		return fmt.Errorf("record %d is not role %q", userID, RoleUser)
	}
	if recs[1].Role != RoleAssistant {
		return fmt.Errorf("record %d is not role %q", assistantID, RoleAssistant)
	}

	e.view.Pairs = append(e.view.Pairs, PairRef{})
	copy(e.view.Pairs[at+1:], e.view.Pairs[at:])
	e.view.Pairs[at] = PairRef{User: userID, Assistant: assistantID}

	if e.view.WindowStart >= at {
		e.view.WindowStart++
	}
	for i, p := range e.view.Excluded {
		if p >= at {
			e.view.Excluded[i] = p + 1
		}
	}
	return e.saveView()
}

// Fork value-copies the active view under a new name and switches the
// pointer to it.
func (e *Engine) Fork(name string) error {
	if err := validateViewName(name); err != nil {
		return err
	}
	if _, err := os.Stat(viewPath(e.root, name)); err == nil {
		return fmt.Errorf("view %q already exists", name)
	}
	fork := e.view.Clone(name)
	if err := fork.Save(viewPath(e.root, name)); err != nil {
		return err
	}
	if err := SavePointer(pointerPath(e.root), name); err != nil {
		return err
	}
	e.view = fork
	return nil
}

// Switch points the pointer at an existing view.
func (e *Engine) Switch(name string) error {
	view, err := LoadView(viewPath(e.root, name))
	if err != nil {
		return err
	}
	view.Name = name
	if err := SavePointer(pointerPath(e.root), name); err != nil {
		return err
	}
	e.view = view
	return nil
}

// New creates a freshly empty view carrying over the model identifier and
// switches the pointer to it.
func (e *Engine) New(name string) error {
	if err := validateViewName(name); err != nil {
		return err
	}
	if _, err := os.Stat(viewPath(e.root, name)); err == nil {
		return fmt.Errorf("view %q already exists", name)
	}
	view := NewView(name, e.view.Model)
	if err := view.Save(viewPath(e.root, name)); err != nil {
		return err
	}
	if err := SavePointer(pointerPath(e.root), name); err != nil {
		return err
	}
	e.view = view
	return nil
}

// ListViews returns all branch names, sorted, with the active one first
// resolvable via View().Name.
func (e *Engine) ListViews() ([]string, error) {
	entries, err := os.ReadDir(viewsDir(e.root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list views: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// ActiveTurns resolves the active window (window start applied, exclusions
// filtered) into fully read record pairs, in order.
func (e *Engine) ActiveTurns() ([]Turn, error) {
	indices := e.view.ActivePairIndices()
	if len(indices) == 0 {
		return nil, nil
	}
	ids := make([]int, 0, len(indices)*2)
	for _, i := range indices {
		ids = append(ids, e.view.Pairs[i].User, e.view.Pairs[i].Assistant)
	}
	recs, err := e.store.GetMany(ids)
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, len(indices))
	for n, i := range indices {
		turns[n] = Turn{Index: i, User: recs[n*2], Assistant: recs[n*2+1]}
	}
	return turns, nil
}

// SetContextFiles replaces the view's context file list.
func (e *Engine) SetContextFiles(paths []string) error {
	e.view.ContextFiles = append([]string{}, paths...)
	return e.saveView()
}

// SetModel changes the view's model identifier.
func (e *Engine) SetModel(model string) error {
	e.view.Model = model
	return e.saveView()
}

func validateViewName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("view name must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || name != filepath.Base(name) {
		return fmt.Errorf("invalid view name %q", name)
	}
	return nil
}
