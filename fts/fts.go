// Package fts implements bundoc's full-text indexer: a tokenized
// inverted index over a single text field, backed by the same kv.Map
// contract every other indexer uses. No off-the-shelf Go full-text
// library appears anywhere in the retrieval pack (unlike e.g. Rust's
// tantivy, which the spec explicitly calls out as the original's
// dependency) — see DESIGN.md for why this stays hand-rolled.
package fts

import (
	"encoding/binary"
	"sort"
	"strings"
	"unicode"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/kv"
)

// Indexer implements index.Indexer for FULL_TEXT descriptors. It owns no
// per-descriptor state — the engine passes the descriptor on every call
// — so one Indexer instance serves every FTS index in the database.
type Indexer struct{}

func (Indexer) ValidateIndex(fields []string) error {
	if len(fields) != 1 {
		return dberr.Validationf("full-text index supports exactly one field, got %d", len(fields))
	}
	return nil
}

func postingsMapName(desc index.Descriptor) string { return desc.Name() + ":postings" }
func docTermsMapName(desc index.Descriptor) string { return desc.Name() + ":docterms" }

// Tokenize lowercases and splits on non-letter/non-digit runes. The same
// function is used at ingest and query time so postings and queries
// agree on term boundaries (spec §4.6 requires this symmetry).
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (Indexer) WriteIndexEntry(store kv.Store, desc index.Descriptor, fv index.FieldValues) error {
	if len(fv.Values) != 1 {
		return dberr.Indexingf("full-text index expects exactly one projected value")
	}
	text, ok := fv.Values[0].Value.AsString()
	if !ok {
		return dberr.Indexingf("full-text index field must be a string")
	}

	postings, err := store.OpenMap(postingsMapName(desc))
	if err != nil {
		return err
	}
	docTerms, err := store.OpenMap(docTermsMapName(desc))
	if err != nil {
		return err
	}

	terms := uniqueTerms(Tokenize(text))
	for _, term := range terms {
		if err := addPosting(postings, term, fv.ID); err != nil {
			return err
		}
	}
	return docTerms.Put([]byte(fv.ID), encodeTerms(terms))
}

func (Indexer) RemoveIndexEntry(store kv.Store, desc index.Descriptor, fv index.FieldValues) error {
	postings, err := store.OpenMap(postingsMapName(desc))
	if err != nil {
		return err
	}
	docTerms, err := store.OpenMap(docTermsMapName(desc))
	if err != nil {
		return err
	}

	raw, ok, err := docTerms.Get([]byte(fv.ID))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for _, term := range decodeTerms(raw) {
		if err := removePosting(postings, term, fv.ID); err != nil {
			return err
		}
	}
	return docTerms.Remove([]byte(fv.ID))
}

func (Indexer) Drop(store kv.Store, desc index.Descriptor) error {
	if err := store.DropMap(postingsMapName(desc)); err != nil {
		return err
	}
	return store.DropMap(docTermsMapName(desc))
}

// Matches returns ids of documents containing any of query's terms
// (spec §4.6 matches()).
func (Indexer) Matches(store kv.Store, desc index.Descriptor, query string) ([]string, error) {
	postings, err := store.OpenMap(postingsMapName(desc))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, term := range Tokenize(query) {
		term = strings.TrimPrefix(strings.TrimPrefix(term, "+"), "-")
		list, err := readPostings(postings, term)
		if err != nil {
			return nil, err
		}
		for _, id := range list {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Phrase returns ids of documents containing query as an exact,
// case-insensitive adjacent phrase (spec §4.6 phrase()). This re-reads
// the stored term list's source text indirectly: since postings alone
// don't preserve adjacency, phrase matching is resolved by the caller
// re-checking candidate documents' raw text; Phrase here narrows
// candidates to documents containing every term, which the collection
// layer then confirms against the actual field value.
func (Indexer) Phrase(store kv.Store, desc index.Descriptor, query string) ([]string, error) {
	terms := uniqueTerms(Tokenize(query))
	if len(terms) == 0 {
		return nil, nil
	}
	postings, err := store.OpenMap(postingsMapName(desc))
	if err != nil {
		return nil, err
	}

	candidate := make(map[string]int)
	for _, term := range terms {
		list, err := readPostings(postings, term)
		if err != nil {
			return nil, err
		}
		for _, id := range list {
			candidate[id]++
		}
	}
	var ids []string
	for id, count := range candidate {
		if count == len(terms) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MatchesPhrase reports whether text contains query as an exact,
// case-insensitive adjacent phrase — the precise check the collection
// layer applies to Phrase's candidate set.
func MatchesPhrase(text, query string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(query))
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func addPosting(m kv.Map, term, id string) error {
	list, err := readPostings(m, term)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == id {
			return nil
		}
	}
	list = append(list, id)
	return m.Put([]byte(term), encodeTerms(list))
}

func removePosting(m kv.Map, term, id string) error {
	list, err := readPostings(m, term)
	if err != nil {
		return err
	}
	out := list[:0]
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		return m.Remove([]byte(term))
	}
	return m.Put([]byte(term), encodeTerms(out))
}

func readPostings(m kv.Map, term string) ([]string, error) {
	raw, ok, err := m.Get([]byte(term))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decodeTerms(raw), nil
}

func encodeTerms(terms []string) []byte {
	var buf []byte
	var lenBuf [binary.MaxVarintLen64]byte
	for _, t := range terms {
		n := binary.PutUvarint(lenBuf[:], uint64(len(t)))
		buf = append(buf, lenBuf[:n]...)
		buf = append(buf, t...)
	}
	return buf
}

func decodeTerms(data []byte) []string {
	var out []string
	for len(data) > 0 {
		n, nBytes := binary.Uvarint(data)
		if nBytes <= 0 || uint64(len(data)-nBytes) < n {
			return out
		}
		data = data[nBytes:]
		out = append(out, string(data[:n]))
		data = data[n:]
	}
	return out
}

// ensure Indexer satisfies index.Indexer
var _ index.Indexer = Indexer{}
