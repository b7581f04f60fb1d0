// Package cursor implements the lazy document stream layer: a replayable
// cursor over (id, document) entries with an after-read processor chain,
// plus the derived streams the collection API builds on — projection,
// join, unique-id dedup, and blocking sort.
package cursor

import (
	"github.com/kartikbazzad/bundoc/value"
)

// Processor mutates or replaces a document after it is read from storage
// and before the caller sees it (decryption, projection helpers). A
// processor must not return nil without an error.
type Processor interface {
	ProcessAfterRead(doc *value.Document) (*value.Document, error)
}

// Entry is one (id, document) pair flowing through a stream.
type Entry struct {
	ID  string
	Doc *value.Document
}

// Source yields entries lazily. Reset rewinds to the first entry; every
// source in this package is restartable because joins re-iterate their
// foreign side once per local document.
type Source interface {
	Next() (Entry, bool, error)
	Reset() error
}

// Cursor is the public iterator over a processed document stream. Entries
// already produced are cached, so Reset replays them without re-running
// processors or re-reading storage.
type Cursor struct {
	source Source
	procs  []Processor

	cache      []Entry
	pos        int // index into cache of the *next* entry to hand out
	sourceDone bool
	err        error

	cur Entry
}

// New wraps source with the given processor chain.
func New(source Source, procs ...Processor) *Cursor {
	return &Cursor{source: source, procs: procs}
}

// FromEntries builds a cursor over a fixed entry list.
func FromEntries(entries []Entry, procs ...Processor) *Cursor {
	return New(&sliceSource{entries: entries}, procs...)
}

// Next advances to the next document, returning false at the end of the
// stream or on error (check Err).
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	if c.pos < len(c.cache) {
		c.cur = c.cache[c.pos]
		c.pos++
		return true
	}
	if c.sourceDone {
		return false
	}
	e, ok, err := c.source.Next()
	if err != nil {
		c.err = err
		return false
	}
	if !ok {
		c.sourceDone = true
		return false
	}
	doc := e.Doc
	for _, p := range c.procs {
		doc, err = p.ProcessAfterRead(doc)
		if err != nil {
			c.err = err
			return false
		}
	}
	e.Doc = doc
	c.cache = append(c.cache, e)
	c.pos = len(c.cache)
	c.cur = e
	return true
}

// ID returns the current document's id.
func (c *Cursor) ID() string { return c.cur.ID }

// Document returns the current document.
func (c *Cursor) Document() *value.Document { return c.cur.Doc }

// Err returns the first error the stream hit, if any.
func (c *Cursor) Err() error { return c.err }

// Reset rewinds the cursor to the beginning. Entries already produced
// replay from the cache; the underlying source continues where it left
// off once the cache is exhausted.
func (c *Cursor) Reset() error {
	if c.err != nil {
		return c.err
	}
	c.pos = 0
	c.cur = Entry{}
	return nil
}

// drain pulls every remaining entry into the cache.
func (c *Cursor) drain() error {
	for c.Next() {
	}
	return c.err
}

// ToSlice drains the cursor and returns every document in stream order.
func (c *Cursor) ToSlice() ([]*value.Document, error) {
	if err := c.Reset(); err != nil {
		return nil, err
	}
	var out []*value.Document
	for c.Next() {
		out = append(out, c.Document())
	}
	return out, c.err
}

// Count drains the cursor and returns the number of documents.
func (c *Cursor) Count() (int, error) {
	if err := c.Reset(); err != nil {
		return 0, err
	}
	if err := c.drain(); err != nil {
		return 0, err
	}
	return len(c.cache), nil
}

// First returns the first document, or nil if the stream is empty.
func (c *Cursor) First() (*value.Document, error) {
	if err := c.Reset(); err != nil {
		return nil, err
	}
	if !c.Next() {
		return nil, c.err
	}
	return c.Document(), nil
}

// IDs drains the cursor and returns every id in stream order.
func (c *Cursor) IDs() ([]string, error) {
	if err := c.Reset(); err != nil {
		return nil, err
	}
	var out []string
	for c.Next() {
		out = append(out, c.ID())
	}
	return out, c.err
}

// --- Cursor as a Source, so derived cursors can stack ---

// sourceNext backs cursorSource.Next: the cursor replays its cache first,
// then pulls fresh entries.
func (c *Cursor) sourceNext() (Entry, bool, error) {
	if !c.Next() {
		return Entry{}, false, c.err
	}
	return c.cur, true, nil
}

type cursorSource struct{ c *Cursor }

func (s cursorSource) Next() (Entry, bool, error) { return s.c.sourceNext() }
func (s cursorSource) Reset() error               { return s.c.Reset() }

// AsSource adapts the cursor for use as another stream's input.
func (c *Cursor) AsSource() Source { return cursorSource{c} }

// --- Basic sources ---

type sliceSource struct {
	entries []Entry
	pos     int
}

func (s *sliceSource) Next() (Entry, bool, error) {
	if s.pos >= len(s.entries) {
		return Entry{}, false, nil
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true, nil
}

func (s *sliceSource) Reset() error {
	s.pos = 0
	return nil
}

// FuncSource adapts a pull function into a restartable Source: reset is
// performed by asking for a fresh pull function.
type FuncSource struct {
	Open func() (func() (Entry, bool, error), error)
	next func() (Entry, bool, error)
}

func (s *FuncSource) Next() (Entry, bool, error) {
	if s.next == nil {
		next, err := s.Open()
		if err != nil {
			return Entry{}, false, err
		}
		s.next = next
	}
	return s.next()
}

func (s *FuncSource) Reset() error {
	s.next = nil
	return nil
}
