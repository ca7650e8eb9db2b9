package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PairRef references one conversational turn as a (user, assistant) tuple of
// global record IDs. Serialized as a two-element array so the view file stays
// a flat list of equal-length tuples.
type PairRef struct {
	User      int
	Assistant int
}

func (p PairRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.User, p.Assistant})
}

func (p *PairRef) UnmarshalJSON(data []byte) error {
	var tuple [2]int
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("pair reference: %w", err)
	}
	p.User, p.Assistant = tuple[0], tuple[1]
	return nil
}

// View is a named branch: an ordered list of pair references into the store
// plus branch-local metadata. Pairs are value-copied integer tuples, so two
// views can reference the same records without coordination.
type View struct {
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	ContextFiles []string  `json:"context_files"`
	Pairs        []PairRef `json:"pairs"`
	// WindowStart is the first pair index inside the active window; 0 means
	// full history, len(Pairs) means an empty window.
	WindowStart int `json:"window_start"`
	// Excluded holds pair indices soft-deleted from prompt construction.
	// Indices are positions in Pairs, independent of the window.
	Excluded  []int  `json:"excluded_pairs"`
	CreatedAt string `json:"created_at"`
}

// NewView builds an empty view.
func NewView(name, model string) *View {
	return &View{
		Name:         name,
		Model:        model,
		ContextFiles: []string{},
		Pairs:        []PairRef{},
		Excluded:     []int{},
		CreatedAt:    Now(),
	}
}

// Clone value-copies the view under a new name. Mutating the clone never
// affects the source.
func (v *View) Clone(name string) *View {
	return &View{
		Name:         name,
		Model:        v.Model,
		ContextFiles: append([]string{}, v.ContextFiles...),
		Pairs:        append([]PairRef{}, v.Pairs...),
		WindowStart:  v.WindowStart,
		Excluded:     append([]int{}, v.Excluded...),
		CreatedAt:    Now(),
	}
}

// ResolveIndex resolves a possibly negative pair index against the full pair
// list. When allowEnd is true, len(Pairs) is additionally accepted (the
// "clear" position).
func (v *View) ResolveIndex(i int, allowEnd bool) (int, error) {
	n := len(v.Pairs)
	if i < 0 {
		i += n
	}
	if i >= 0 && i < n {
		return i, nil
	}
	if allowEnd && i == n {
		return i, nil
	}
	return 0, fmt.Errorf("pair index %d with %d pairs: %w", i, n, ErrIndexOutOfRange)
}

// IsExcluded reports whether the pair index is in the exclusion set.
func (v *View) IsExcluded(i int) bool {
	for _, e := range v.Excluded {
		if e == i {
			return true
		}
	}
	return false
}

// Exclude adds pair indices to the exclusion set. Already-excluded indices
// are a no-op.
func (v *View) Exclude(indices ...int) {
	set := make(map[int]struct{}, len(v.Excluded)+len(indices))
	for _, e := range v.Excluded {
		set[e] = struct{}{}
	}
	for _, i := range indices {
		set[i] = struct{}{}
	}
	v.Excluded = sortedSet(set)
}

// Include removes pair indices from the exclusion set. Indices that are not
// excluded are a no-op.
func (v *View) Include(indices ...int) {
	set := make(map[int]struct{}, len(v.Excluded))
	for _, e := range v.Excluded {
		set[e] = struct{}{}
	}
	for _, i := range indices {
		delete(set, i)
	}
	v.Excluded = sortedSet(set)
}

// ActivePairIndices returns, in order, the pair indices that are inside the
// active window and not excluded. This is the single source of truth for
// prompt construction.
func (v *View) ActivePairIndices() []int {
	out := make([]int, 0, len(v.Pairs))
	for i := range v.Pairs {
		if i < v.WindowStart {
			continue
		}
		if v.IsExcluded(i) {
			continue
		}
		out = append(out, i)
	}
	return out
}

func sortedSet(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// LoadView reads a view file.
func LoadView(path string) (*View, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("view %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read view: %w", err)
	}
	var v View
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode view %s: %w", path, err)
	}
	if v.ContextFiles == nil {
		v.ContextFiles = []string{}
	}
	if v.Excluded == nil {
		v.Excluded = []int{}
	}
	if v.Pairs == nil {
		v.Pairs = []PairRef{}
	}
	return &v, nil
}

// Save writes the view atomically: the JSON is written to a temporary file in
// the same directory and renamed over the target, so a crash mid-write leaves
// either the old or the new state.
func (v *View) Save(path string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}
	return atomicWriteFile(path, b)
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
