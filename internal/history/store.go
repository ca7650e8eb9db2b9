package history

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// DefaultShardSize is the number of records per shard file.
const DefaultShardSize = 10_000

var (
	// ErrNotFound is returned when a record, view or pointer does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIndexOutOfRange is returned for pair indices outside the view.
	ErrIndexOutOfRange = errors.New("index out of range")
)

var shardNameRE = regexp.MustCompile(`^(\d+)\.jsonl$`)

// Store is an append-only, sharded JSONL log of immutable records addressed
// by global zero-based IDs. Shards are named <base>.jsonl where base is the
// ID of their first record; state is derived from the filesystem, there is
// no meta file. Records are never edited or removed in place.
type Store struct {
	root      string
	shardSize int

	// Cache of the last shard to avoid recounting on consecutive appends.
	lastBase  int
	lastCount int
	hasCache  bool
}

// OpenStore opens (creating if needed) a store rooted at dir.
func OpenStore(dir string) (*Store, error) {
	return OpenStoreWithShardSize(dir, DefaultShardSize)
}

// OpenStoreWithShardSize opens a store with an explicit shard capacity.
func OpenStoreWithShardSize(dir string, shardSize int) (*Store, error) {
	if shardSize <= 0 {
		shardSize = DefaultShardSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{root: dir, shardSize: shardSize}, nil
}

// NextID returns the global ID the next append will be assigned.
func (s *Store) NextID() (int, error) {
	base, count, ok, err := s.resolveLastShard()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return base + count, nil
}

// Append writes a record durably and returns its assigned global ID.
func (s *Store) Append(rec Record) (int, error) {
	base, count, ok, err := s.resolveLastShard()
	if err != nil {
		return 0, err
	}
	if !ok {
		base, count = 0, 0
	}
	if count >= s.shardSize {
		base += s.shardSize
		count = 0
	}

	id := base + count
	line, err := marshalRecord(rec)
	if err != nil {
		return 0, err
	}
	if err := s.appendLine(s.shardPath(base), line); err != nil {
		return 0, err
	}

	s.lastBase = base
	s.lastCount = count + 1
	s.hasCache = true
	return id, nil
}

// AppendPair appends a user/assistant pair back-to-back and returns both IDs.
func (s *Store) AppendPair(user, assistant Record) (int, int, error) {
	uid, err := s.Append(user)
	if err != nil {
		return 0, 0, err
	}
	aid, err := s.Append(assistant)
	if err != nil {
		return 0, 0, err
	}
	return uid, aid, nil
}

// Get reads a single record by global ID.
func (s *Store) Get(id int) (Record, error) {
	if id < 0 {
		return Record{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	base := (id / s.shardSize) * s.shardSize
	offset := id % s.shardSize

	f, err := os.Open(s.shardPath(base))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
		}
		return Record{}, fmt.Errorf("open shard for record %d: %w", id, err)
	}
	defer f.Close()

	sc := newShardScanner(f)
	for i := 0; sc.Scan(); i++ {
		if i == offset {
			return unmarshalRecord(sc.Bytes())
		}
	}
	if err := sc.Err(); err != nil {
		return Record{}, fmt.Errorf("read shard %d: %w", base, err)
	}
	return Record{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
}

// GetMany reads multiple records, grouping work per shard. Results keep the
// order of the input IDs.
func (s *Store) GetMany(ids []int) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	type slot struct {
		pos    int
		offset int
	}
	byShard := make(map[int][]slot)
	for pos, id := range ids {
		if id < 0 {
			return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
		}
		base := (id / s.shardSize) * s.shardSize
		byShard[base] = append(byShard[base], slot{pos: pos, offset: id % s.shardSize})
	}

	results := make([]Record, len(ids))
	filled := make([]bool, len(ids))

	bases := make([]int, 0, len(byShard))
	for base := range byShard {
		bases = append(bases, base)
	}
	sort.Ints(bases)

	for _, base := range bases {
		slots := byShard[base]
		needed := make(map[int][]int, len(slots))
		remaining := 0
		for _, sl := range slots {
			if len(needed[sl.offset]) == 0 {
				remaining++
			}
			needed[sl.offset] = append(needed[sl.offset], sl.pos)
		}

		f, err := os.Open(s.shardPath(base))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("shard %d: %w", base, ErrNotFound)
			}
			return nil, fmt.Errorf("open shard %d: %w", base, err)
		}

		sc := newShardScanner(f)
		for i := 0; sc.Scan() && remaining > 0; i++ {
			positions, ok := needed[i]
			if !ok {
				continue
			}
			rec, err := unmarshalRecord(sc.Bytes())
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("shard %d offset %d: %w", base, i, err)
			}
			for _, pos := range positions {
				results[pos] = rec
				filled[pos] = true
			}
			remaining--
		}
		scanErr := sc.Err()
		f.Close()
		if scanErr != nil {
			return nil, fmt.Errorf("read shard %d: %w", base, scanErr)
		}
	}

	for pos, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("record %d: %w", ids[pos], ErrNotFound)
		}
	}
	return results, nil
}

func (s *Store) shardPath(base int) string {
	return filepath.Join(s.root, strconv.Itoa(base)+".jsonl")
}

func (s *Store) appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open shard for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync shard: %w", err)
	}
	return nil
}

// resolveLastShard reports the base and current line count of the last shard
// file, or ok=false when the store is empty.
func (s *Store) resolveLastShard() (base, count int, ok bool, err error) {
	shards, err := s.listShards()
	if err != nil {
		return 0, 0, false, err
	}
	if len(shards) == 0 {
		s.hasCache = false
		return 0, 0, false, nil
	}

	last := shards[len(shards)-1]
	if s.hasCache && s.lastBase == last && s.lastCount > 0 {
		return last, s.lastCount, true, nil
	}

	n, err := countLines(s.shardPath(last))
	if err != nil {
		return 0, 0, false, err
	}
	s.lastBase = last
	s.lastCount = n
	s.hasCache = true
	return last, n, true, nil
}

func (s *Store) listShards() ([]int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list shards: %w", err)
	}
	var bases []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := shardNameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		base, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		bases = append(bases, base)
	}
	sort.Ints(bases)
	return bases, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("count shard lines: %w", err)
	}
	defer f.Close()

	count := 0
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		count += bytes.Count(buf[:n], []byte{'\n'})
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("count shard lines: %w", err)
		}
	}
}

// newShardScanner builds a line scanner sized for large single-line records.
func newShardScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return sc
}
