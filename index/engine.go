package index

import (
	"errors"
	"strings"
	"sync"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/kv"
	"github.com/kartikbazzad/bundoc/value"
)

// Engine is the per-collection index registry: it tracks which indexes
// exist, fans document writes/removes out to each registered indexer,
// and schedules rebuilds. One Engine instance is owned by each
// collection.
type Engine struct {
	mu         sync.RWMutex
	store      kv.Store
	indexers   map[Type]Indexer
	metas      map[string]*Meta // keyed by Descriptor.Name()
	rebuilding map[string]bool
}

// NewEngine constructs an Engine with the default unique/non-unique
// indexers registered. Callers add fts/spatial indexers with Register.
func NewEngine(store kv.Store) *Engine {
	e := &Engine{
		store:      store,
		indexers:   make(map[Type]Indexer),
		metas:      make(map[string]*Meta),
		rebuilding: make(map[string]bool),
	}
	e.Register(Unique, &BTreeIndexer{Unique: true})
	e.Register(NonUnique, &BTreeIndexer{Unique: false})
	return e
}

// Register installs (or replaces) the indexer implementation for a type.
func (e *Engine) Register(t Type, idx Indexer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexers[t] = idx
}

// RestoreMeta re-registers a descriptor loaded from the catalog on
// reopen, without touching the backing map.
func (e *Engine) RestoreMeta(m Meta) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metas[m.Descriptor.Name()] = &m
}

// CreateIndex registers a new index. If docs is non-nil, the index is
// synchronously rebuilt over the provided documents (the collection's
// current primary-map contents) before CreateIndex returns.
func (e *Engine) CreateIndex(desc Descriptor, docs func(yield func(id string, doc *value.Document) bool) error) error {
	e.mu.Lock()
	name := desc.Name()
	if _, exists := e.metas[name]; exists {
		e.mu.Unlock()
		return dberr.Validationf("index already exists on fields %v", desc.Fields)
	}
	idx, ok := e.indexers[desc.IndexType]
	if !ok {
		e.mu.Unlock()
		return dberr.Indexingf("no indexer registered for type %s", desc.IndexType)
	}
	if err := idx.ValidateIndex(desc.Fields); err != nil {
		e.mu.Unlock()
		return err
	}
	meta := &Meta{Descriptor: desc, Dirty: true}
	e.metas[name] = meta
	e.mu.Unlock()

	if docs != nil {
		if err := e.rebuildLocked(desc, docs); err != nil {
			return err
		}
	} else {
		e.mu.Lock()
		meta.Dirty = false
		e.mu.Unlock()
	}
	return nil
}

// DropIndex removes an index's metadata and backing storage.
func (e *Engine) DropIndex(desc Descriptor) error {
	e.mu.Lock()
	name := desc.Name()
	meta, ok := e.metas[name]
	if !ok {
		e.mu.Unlock()
		return dberr.Indexingf("index not found on fields %v", desc.Fields)
	}
	idx := e.indexers[meta.Descriptor.IndexType]
	delete(e.metas, name)
	e.mu.Unlock()
	return idx.Drop(e.store, desc)
}

// DropAll removes every registered index.
func (e *Engine) DropAll() error {
	e.mu.Lock()
	metas := make([]*Meta, 0, len(e.metas))
	for _, m := range e.metas {
		metas = append(metas, m)
	}
	e.metas = make(map[string]*Meta)
	e.mu.Unlock()

	for _, m := range metas {
		idx := e.indexers[m.Descriptor.IndexType]
		if err := idx.Drop(e.store, m.Descriptor); err != nil {
			return err
		}
	}
	return nil
}

// List returns every registered index's metadata.
func (e *Engine) List() []Meta {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Meta, 0, len(e.metas))
	for _, m := range e.metas {
		out = append(out, *m)
	}
	return out
}

// Has reports whether an index covers exactly these fields.
func (e *Engine) Has(fields []string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, m := range e.metas {
		if len(m.Descriptor.Fields) != len(fields) {
			continue
		}
		match := true
		for i := range fields {
			if m.Descriptor.Fields[i] != fields[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// IsIndexing reports whether any index is mid-rebuild.
func (e *Engine) IsIndexing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, m := range e.metas {
		if m.Dirty {
			return true
		}
	}
	return false
}

// Descriptors returns the descriptors of every registered index, used by
// the query planner to enumerate candidates.
func (e *Engine) Descriptors() []Descriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Descriptor, 0, len(e.metas))
	for _, m := range e.metas {
		out = append(out, m.Descriptor)
	}
	return out
}

// Indexer returns the registered implementation for a type.
func (e *Engine) Indexer(t Type) (Indexer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.indexers[t]
	return idx, ok
}

// OnWrite fans a newly written or updated document out to every
// registered index, skipping indexes whose fields are entirely absent
// from updatedFields (nil updatedFields means "apply unconditionally",
// used on insert).
func (e *Engine) OnWrite(id string, doc *value.Document, updatedFields map[string]bool) error {
	e.mu.RLock()
	metas := e.snapshotMetas()
	e.mu.RUnlock()

	for _, m := range metas {
		if updatedFields != nil && !isAffectedByUpdate(m.Descriptor.Fields, updatedFields) {
			continue
		}
		if m.Dirty {
			continue // rebuild will pick this document up
		}
		fv, ok := Project(doc, id, m.Descriptor.Fields)
		if !ok {
			continue // indexer's fields not present on this document
		}
		idx := e.indexers[m.Descriptor.IndexType]
		if err := idx.WriteIndexEntry(e.store, m.Descriptor, fv); err != nil {
			e.markDirtyUnlessRejected(m.Descriptor, err)
			return err
		}
	}
	return nil
}

// markDirtyUnlessRejected schedules a rebuild after an indexer fault. A
// validation rejection (unique-constraint violation) is not a fault —
// the index correctly refused the entry and stays clean.
func (e *Engine) markDirtyUnlessRejected(desc Descriptor, err error) {
	if errors.Is(err, dberr.ErrValidation) {
		return
	}
	e.markDirty(desc)
}

// OnUpdate fans a document update out to every registered index: the old
// projection is removed and the new one written, but only for indexes
// whose fields intersect updatedFields (nil means "all fields touched").
func (e *Engine) OnUpdate(id string, oldDoc, newDoc *value.Document, updatedFields map[string]bool) error {
	e.mu.RLock()
	metas := e.snapshotMetas()
	e.mu.RUnlock()

	for _, m := range metas {
		if updatedFields != nil && !isAffectedByUpdate(m.Descriptor.Fields, updatedFields) {
			continue
		}
		if m.Dirty {
			continue
		}
		idx := e.indexers[m.Descriptor.IndexType]
		if oldFV, ok := Project(oldDoc, id, m.Descriptor.Fields); ok {
			if err := idx.RemoveIndexEntry(e.store, m.Descriptor, oldFV); err != nil {
				e.markDirtyUnlessRejected(m.Descriptor, err)
				return err
			}
		}
		if newFV, ok := Project(newDoc, id, m.Descriptor.Fields); ok {
			if err := idx.WriteIndexEntry(e.store, m.Descriptor, newFV); err != nil {
				e.markDirtyUnlessRejected(m.Descriptor, err)
				return err
			}
		}
	}
	return nil
}

// OnRemove fans a document removal out to every registered index.
func (e *Engine) OnRemove(id string, doc *value.Document) error {
	e.mu.RLock()
	metas := e.snapshotMetas()
	e.mu.RUnlock()

	for _, m := range metas {
		if m.Dirty {
			continue
		}
		fv, ok := Project(doc, id, m.Descriptor.Fields)
		if !ok {
			continue
		}
		idx := e.indexers[m.Descriptor.IndexType]
		if err := idx.RemoveIndexEntry(e.store, m.Descriptor, fv); err != nil {
			e.markDirty(m.Descriptor)
			return err
		}
	}
	return nil
}

func (e *Engine) snapshotMetas() []*Meta {
	out := make([]*Meta, 0, len(e.metas))
	for _, m := range e.metas {
		out = append(out, m)
	}
	return out
}

func (e *Engine) markDirty(desc Descriptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.metas[desc.Name()]; ok {
		m.Dirty = true
	}
}

// Rebuild drops and recreates an index's backing storage from scratch,
// projecting every document docs yields. It is idempotent: callers may
// call it on an index that is already marked dirty.
func (e *Engine) Rebuild(desc Descriptor, docs func(yield func(id string, doc *value.Document) bool) error) error {
	e.mu.Lock()
	meta, ok := e.metas[desc.Name()]
	if !ok {
		e.mu.Unlock()
		return dberr.Indexingf("index not found on fields %v", desc.Fields)
	}
	meta.Dirty = true
	e.mu.Unlock()

	return e.rebuildLocked(desc, docs)
}

func (e *Engine) rebuildLocked(desc Descriptor, docs func(yield func(id string, doc *value.Document) bool) error) error {
	idx, ok := e.indexers[desc.IndexType]
	if !ok {
		return dberr.Indexingf("no indexer registered for type %s", desc.IndexType)
	}
	if err := idx.Drop(e.store, desc); err != nil {
		return err
	}

	var fanErr error
	err := docs(func(id string, doc *value.Document) bool {
		fv, ok := Project(doc, id, desc.Fields)
		if !ok {
			return true
		}
		if err := idx.WriteIndexEntry(e.store, desc, fv); err != nil {
			fanErr = err
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if fanErr != nil {
		return fanErr
	}

	e.mu.Lock()
	if meta, ok := e.metas[desc.Name()]; ok {
		meta.Dirty = false
	}
	e.mu.Unlock()
	return nil
}

// isAffectedByUpdate reports whether any updated field touches an index
// field, including ancestor/descendant dotted paths: updating "address"
// affects an index on "address.city" and vice versa.
func isAffectedByUpdate(indexFields []string, updatedFields map[string]bool) bool {
	for _, f := range indexFields {
		if updatedFields[f] {
			return true
		}
		for uf := range updatedFields {
			if strings.HasPrefix(f, uf+".") || strings.HasPrefix(uf, f+".") {
				return true
			}
		}
	}
	return false
}
