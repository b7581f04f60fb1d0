package cursor

import (
	"sort"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/value"
)

// --- Projection ---

type projector struct {
	fields []string
}

// Projected returns a cursor restricting each document to the given
// dotted paths (plus its _id). Missing paths are simply absent from the
// output document.
func Projected(c *Cursor, fields []string) *Cursor {
	return New(c.AsSource(), projector{fields: fields})
}

func (p projector) ProcessAfterRead(doc *value.Document) (*value.Document, error) {
	out := value.NewDocument()
	if id, ok := doc.ID(); ok {
		out.SetID(id)
	}
	for _, f := range p.fields {
		if v, ok := doc.GetPath(f); ok {
			out.PutPath(f, v)
		}
	}
	return out, nil
}

// --- Join ---

// JoinOptions names the local/foreign equality fields and the target
// field the matching foreign documents are written under.
type JoinOptions struct {
	LocalField   string
	ForeignField string
	TargetField  string
}

type joinSource struct {
	local   Source
	foreign *Cursor
	opts    JoinOptions
}

// Joined augments each document of local with the foreign documents whose
// ForeignField equals the local document's LocalField, collected under
// TargetField. The foreign cursor is reset once per local document, so it
// must be restartable (every cursor in this package is).
func Joined(local *Cursor, foreign *Cursor, opts JoinOptions) *Cursor {
	return New(&joinSource{local: local.AsSource(), foreign: foreign, opts: opts})
}

func (j *joinSource) Next() (Entry, bool, error) {
	e, ok, err := j.local.Next()
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	localVal, hasLocal := e.Doc.GetPath(j.opts.LocalField)
	if !hasLocal {
		return e, true, nil
	}
	if err := j.foreign.Reset(); err != nil {
		return Entry{}, false, err
	}
	var matches []value.Value
	for j.foreign.Next() {
		fdoc := j.foreign.Document()
		if fv, ok := fdoc.GetPath(j.opts.ForeignField); ok && value.Equal(fv, localVal) {
			matches = append(matches, value.FromDocument(fdoc))
		}
	}
	if err := j.foreign.Err(); err != nil {
		return Entry{}, false, err
	}
	out := e.Doc.Clone()
	if len(matches) > 0 {
		out.Put(j.opts.TargetField, value.Array(matches))
	}
	return Entry{ID: e.ID, Doc: out}, true, nil
}

func (j *joinSource) Reset() error { return j.local.Reset() }

// --- Unique ---

type uniqueSource struct {
	inner Source
	seen  map[string]struct{}
}

// Unique dedups a stream by document id, preserving first-seen order.
// Errors from the underlying stream propagate unchanged.
func Unique(c *Cursor) *Cursor {
	return New(&uniqueSource{inner: c.AsSource(), seen: make(map[string]struct{})})
}

func (u *uniqueSource) Next() (Entry, bool, error) {
	for {
		e, ok, err := u.inner.Next()
		if err != nil || !ok {
			return Entry{}, ok, err
		}
		if _, dup := u.seen[e.ID]; dup {
			continue
		}
		u.seen[e.ID] = struct{}{}
		return e, true, nil
	}
}

func (u *uniqueSource) Reset() error {
	u.seen = make(map[string]struct{})
	return u.inner.Reset()
}

// --- Sort ---

// SortKey orders one field of a blocking sort.
type SortKey struct {
	Field      string
	Descending bool
}

type sortedSource struct {
	inner    Source
	keys     []SortKey
	buffered []Entry
	loaded   bool
	pos      int
}

// Sorted returns a cursor that buffers the whole stream and emits it
// ordered by keys. A document missing a sort field orders before any
// document that has it. The first underlying error fails the whole
// stream (fail-fast).
func Sorted(c *Cursor, keys []SortKey) *Cursor {
	return New(&sortedSource{inner: c.AsSource(), keys: keys})
}

func (s *sortedSource) load() error {
	var entries []Entry
	for {
		e, ok, err := s.inner.Next()
		if err != nil {
			return dberr.New(dberr.Filter, "sort: underlying stream failed", err)
		}
		if !ok {
			break
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return s.less(entries[i].Doc, entries[j].Doc)
	})
	s.buffered = entries
	s.loaded = true
	return nil
}

func (s *sortedSource) less(a, b *value.Document) bool {
	for _, k := range s.keys {
		av, aok := a.GetPath(k.Field)
		bv, bok := b.GetPath(k.Field)
		var c int
		switch {
		case !aok && !bok:
			c = 0
		case !aok:
			c = -1
		case !bok:
			c = 1
		default:
			c = value.Compare(av, bv)
		}
		if k.Descending {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func (s *sortedSource) Next() (Entry, bool, error) {
	if !s.loaded {
		if err := s.load(); err != nil {
			return Entry{}, false, err
		}
	}
	if s.pos >= len(s.buffered) {
		return Entry{}, false, nil
	}
	e := s.buffered[s.pos]
	s.pos++
	return e, true, nil
}

func (s *sortedSource) Reset() error {
	s.pos = 0
	return nil
}

// --- Skip / limit ---

type windowSource struct {
	inner   Source
	skip    int
	limit   int
	skipped int
	emitted int
}

// Window applies skip and limit to a stream. A limit of zero or less
// means unlimited.
func Window(c *Cursor, skip, limit int) *Cursor {
	return New(&windowSource{inner: c.AsSource(), skip: skip, limit: limit})
}

func (w *windowSource) Next() (Entry, bool, error) {
	if w.limit > 0 && w.emitted >= w.limit {
		return Entry{}, false, nil
	}
	for {
		e, ok, err := w.inner.Next()
		if err != nil || !ok {
			return Entry{}, ok, err
		}
		if w.skipped < w.skip {
			w.skipped++
			continue
		}
		w.emitted++
		return e, true, nil
	}
}

func (w *windowSource) Reset() error {
	w.skipped, w.emitted = 0, 0
	return w.inner.Reset()
}
