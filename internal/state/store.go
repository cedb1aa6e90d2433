// Package state persists the set of appointment IDs that have already been
// reminded. The file format is plain text, one ID per line.
package state

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Set is the notified-ID ledger. IDs are only ever added.
type Set map[int]struct{}

func NewSet(ids ...int) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Contains(id int) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Add(id int) {
	s[id] = struct{}{}
}

func (s Set) Len() int {
	return len(s)
}

func (s Set) Clone() Set {
	c := make(Set, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// IDs returns the members in ascending order.
func (s Set) IDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CorruptError reports a state file line that is not an appointment ID.
type CorruptError struct {
	Path    string
	Line    int
	Content string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: line %d: %q is not an appointment id", e.Path, e.Line, e.Content)
}

// WriteError wraps any failure while replacing the state file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write state file %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Store binds a Set to a file on disk.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() (Set, error) {
	return Load(s.path)
}

func (s *Store) Save(set Set) error {
	return Save(s.path, set)
}

// Load reads the state file. A missing file yields an empty set.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewSet(), nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	set := NewSet()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, err := strconv.Atoi(line)
		if err != nil || id < 0 {
			return nil, &CorruptError{Path: path, Line: lineNo, Content: line}
		}
		set.Add(id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan state file: %w", err)
	}

	return set, nil
}

// Save replaces the state file with the given set using a temp file and
// rename in the same directory, so readers never see a partial file.
func Save(path string, set Set) error {
	if path == "" {
		return &WriteError{Path: path, Err: errors.New("state path is empty")}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	var buf bytes.Buffer
	for _, id := range set.IDs() {
		buf.WriteString(strconv.Itoa(id))
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(dir, ".reminders-state-*.tmp")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return &WriteError{Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &WriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	return nil
}
