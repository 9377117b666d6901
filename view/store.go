package view

import (
	"sort"

	"github.com/go-pluto/gallery/oplog"
)

// Structs

// Entry is one file visible in the view.
type Entry struct {
	Filename  string
	Ref       string
	Size      int
	Writer    oplog.WriterID
	Seq       uint64
	Timestamp int64
}

// Store is the materialized view: filename to blob
// reference, in the order the files were applied, plus
// the set of writers authorized so far. It is only ever
// mutated by Apply.
type Store struct {
	files   map[string]int
	entries []Entry
	writers map[oplog.WriterID]struct{}
}

// Functions

// NewStore returns the empty view of a space whose
// chain of trust starts at root.
func NewStore(root oplog.WriterID) *Store {

	return &Store{
		files:   make(map[string]int),
		writers: map[oplog.WriterID]struct{}{root: {}},
	}
}

// Get returns the entry stored under filename.
func (s *Store) Get(filename string) (Entry, bool) {

	i, ok := s.files[filename]
	if !ok {
		return Entry{}, false
	}

	return s.entries[i], true
}

// Has reports whether filename is taken.
func (s *Store) Has(filename string) bool {
	_, ok := s.files[filename]
	return ok
}

// Len returns the number of files.
func (s *Store) Len() int {
	return len(s.entries)
}

// List returns all files in application order.
func (s *Store) List() []Entry {
	return append([]Entry(nil), s.entries...)
}

// IsWriter reports whether id was authorized.
func (s *Store) IsWriter(id oplog.WriterID) bool {
	_, ok := s.writers[id]
	return ok
}

// Writers returns all authorized writers, sorted.
func (s *Store) Writers() []oplog.WriterID {

	ids := make([]oplog.WriterID, 0, len(s.writers))
	for id := range s.writers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Equal reports whether s and o hold the same
// files in the same order and the same writers.
func (s *Store) Equal(o *Store) bool {

	if len(s.entries) != len(o.entries) || len(s.writers) != len(o.writers) {
		return false
	}

	for i := range s.entries {
		if s.entries[i] != o.entries[i] {
			return false
		}
	}

	for id := range s.writers {
		if _, ok := o.writers[id]; !ok {
			return false
		}
	}

	return true
}

func (s *Store) put(e Entry) {
	s.files[e.Filename] = len(s.entries)
	s.entries = append(s.entries, e)
}

func (s *Store) clone() *Store {

	c := &Store{
		files:   make(map[string]int, len(s.files)),
		entries: append([]Entry(nil), s.entries...),
		writers: make(map[oplog.WriterID]struct{}, len(s.writers)),
	}

	for name, i := range s.files {
		c.files[name] = i
	}

	for id := range s.writers {
		c.writers[id] = struct{}{}
	}

	return c
}
