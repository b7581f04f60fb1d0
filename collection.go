package bundoc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/internal/transaction"
	"github.com/kartikbazzad/bundoc/kv"
	"github.com/kartikbazzad/bundoc/mvcc"
	"github.com/kartikbazzad/bundoc/value"
)

// Processor mutates a document before it is written: derived fields,
// field-level encryption, normalization. Processors run in registration
// order under the collection's write lock.
type Processor interface {
	ProcessBeforeWrite(doc *value.Document) (*value.Document, error)
}

// UpdateOptions controls filtered updates.
type UpdateOptions struct {
	// JustOnce stops after the first matched document.
	JustOnce bool
	// Upsert inserts the patch as a fresh document when nothing matches.
	Upsert bool
}

// Collection is a named set of schemaless documents addressed by
// generated ids, with secondary indexes kept consistent with every
// write. All methods are safe for concurrent use; mutations serialize on
// the collection's write lock, reads share its read lock.
type Collection struct {
	name    string
	db      *Database
	store   kv.Store
	primary kv.Map
	engine  *index.Engine

	// lock comes from the database's lock registry, keyed by collection
	// name, so a dropped-and-recreated collection still serializes with
	// stragglers holding its previous incarnation.
	lock *sync.RWMutex

	versions *mvcc.Store
	bus      *eventBus

	procMu     sync.RWMutex
	processors []Processor

	stateMu sync.Mutex
	closed  bool
	dropped bool
}

const primaryMapPrefix = "coll:"

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) ensureOpen() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.dropped {
		return dberr.InvalidOperationf("collection %q is dropped", c.name)
	}
	if c.closed {
		return dberr.InvalidOperationf("collection %q is closed", c.name)
	}
	return nil
}

// RegisterProcessor appends a before-write processor.
func (c *Collection) RegisterProcessor(p Processor) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.procMu.Lock()
	defer c.procMu.Unlock()
	c.processors = append(c.processors, p)
	return nil
}

func (c *Collection) runProcessors(doc *value.Document) (*value.Document, error) {
	c.procMu.RLock()
	procs := make([]Processor, len(c.processors))
	copy(procs, c.processors)
	c.procMu.RUnlock()
	var err error
	for _, p := range procs {
		doc, err = p.ProcessBeforeWrite(doc)
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// --- Write path ---

// Insert writes one document and returns its id. A document without an
// _id gets a fresh one; a duplicate id is a validation error.
func (c *Collection) Insert(doc *value.Document) (string, error) {
	if err := c.ensureOpen(); err != nil {
		return "", err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.insertLocked(doc)
}

// BulkWriteError aggregates the per-item failures of a bulk operation.
type BulkWriteError struct {
	Errs map[int]error
}

func (e *BulkWriteError) Error() string {
	return fmt.Sprintf("%d of the batch's documents failed", len(e.Errs))
}

// InsertMany writes each document independently. The returned ids cover
// the documents that succeeded; when any fail, the error is a
// *BulkWriteError mapping batch positions to their failures.
func (c *Collection) InsertMany(docs []*value.Document) ([]string, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	var ids []string
	errs := make(map[int]error)
	for i, doc := range docs {
		id, err := c.insertLocked(doc)
		if err != nil {
			errs[i] = err
			continue
		}
		ids = append(ids, id)
	}
	if len(errs) > 0 {
		return ids, &BulkWriteError{Errs: errs}
	}
	return ids, nil
}

func (c *Collection) insertLocked(doc *value.Document) (string, error) {
	doc, err := c.runProcessors(doc)
	if err != nil {
		return "", err
	}

	id, ok := doc.ID()
	if !ok {
		id = value.NewNitriteID()
		doc.SetID(id)
	}
	if _, exists, err := c.primary.Get([]byte(id)); err != nil {
		return "", err
	} else if exists {
		return "", dberr.Validationf("document with id %s already exists in %q", id, c.name)
	}

	data, err := doc.Serialize()
	if err != nil {
		return "", err
	}
	if err := c.log(transaction.Op{Collection: c.name, ID: id, Doc: data, Kind: transaction.OpPut}); err != nil {
		return "", err
	}
	if err := c.primary.Put([]byte(id), data); err != nil {
		return "", err
	}
	if err := c.engine.OnWrite(id, doc, nil); err != nil {
		if errors.Is(err, dberr.ErrValidation) {
			// A unique-constraint rejection aborts the whole write: take
			// the document back out of the primary map and reverse
			// whatever index entries the partial fan-out already applied.
			_ = c.log(transaction.Op{Collection: c.name, ID: id, Kind: transaction.OpRemove})
			_ = c.primary.Remove([]byte(id))
			_ = c.engine.OnRemove(id, doc)
			return "", err
		}
		// On an indexer fault the primary map keeps the document; the
		// failing index is marked dirty and repairs on the next rebuild.
		return "", err
	}
	c.versions.Record(id, nil, data)
	c.bus.publish(Event{Kind: EventInsert, Collection: c.name, Doc: doc})
	return id, nil
}

func (c *Collection) log(op transaction.Op) error {
	if c.db.coordinator == nil {
		return nil
	}
	_, err := c.db.coordinator.Log(op)
	return err
}

// Update merges patch into every document matching f and reports how
// many were touched.
func (c *Collection) Update(f filter.Filter, patch *value.Document) (int, error) {
	return c.UpdateWithOptions(f, patch, UpdateOptions{})
}

// UpdateWithOptions merges patch into matching documents per opts. When
// opts.Upsert is set and nothing matches, the patch becomes a new
// document (published as an Insert event).
func (c *Collection) UpdateWithOptions(f filter.Filter, patch *value.Document, opts UpdateOptions) (int, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	ids, err := c.matchLocked(f, opts.JustOnce)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		if !opts.Upsert {
			return 0, nil
		}
		fresh := patch.Clone()
		if _, err := c.insertLocked(fresh); err != nil {
			return 0, err
		}
		return 1, nil
	}

	count := 0
	for _, id := range ids {
		if err := c.updateOneLocked(id, patch, true); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// UpdateOne replaces the stored document keyed by doc's id. A document
// without an id cannot be routed and fails; an unknown id updates
// nothing.
func (c *Collection) UpdateOne(doc *value.Document) (int, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, err
	}
	id, ok := doc.ID()
	if !ok {
		return 0, dberr.InvalidOperationf("update requires a document with an _id")
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, exists, err := c.primary.Get([]byte(id)); err != nil {
		return 0, err
	} else if !exists {
		return 0, nil
	}
	if err := c.updateOneLocked(id, doc, false); err != nil {
		return 0, err
	}
	return 1, nil
}

// updateOneLocked applies patch to the stored document id. merge=true
// folds patch fields into the existing document; merge=false replaces it
// wholesale.
func (c *Collection) updateOneLocked(id string, patch *value.Document, merge bool) error {
	oldData, exists, err := c.primary.Get([]byte(id))
	if err != nil {
		return err
	}
	if !exists {
		return dberr.InvalidOperationf("document %s vanished mid-update", id)
	}
	oldDoc, err := value.DeserializeDocument(oldData)
	if err != nil {
		return err
	}

	var newDoc *value.Document
	var updatedFields map[string]bool
	if merge {
		newDoc = oldDoc.Clone()
		updatedFields = make(map[string]bool)
		patch.Range(func(name string, v value.Value) bool {
			if name == "_id" {
				return true
			}
			newDoc.Put(name, v)
			updatedFields[name] = true
			return true
		})
	} else {
		newDoc = patch.Clone()
		newDoc.SetID(id)
	}

	newDoc, err = c.runProcessors(newDoc)
	if err != nil {
		return err
	}
	newData, err := newDoc.Serialize()
	if err != nil {
		return err
	}
	if err := c.log(transaction.Op{Collection: c.name, ID: id, Doc: newData, Kind: transaction.OpPut}); err != nil {
		return err
	}
	if err := c.primary.Put([]byte(id), newData); err != nil {
		return err
	}
	if err := c.engine.OnUpdate(id, oldDoc, newDoc, updatedFields); err != nil {
		if errors.Is(err, dberr.ErrValidation) {
			// Roll the document back and reverse whatever index entries
			// the partial fan-out already applied.
			_ = c.log(transaction.Op{Collection: c.name, ID: id, Doc: oldData, Kind: transaction.OpPut})
			_ = c.primary.Put([]byte(id), oldData)
			_ = c.engine.OnUpdate(id, newDoc, oldDoc, updatedFields)
		}
		return err
	}
	c.versions.Record(id, oldData, newData)
	c.bus.publish(Event{Kind: EventUpdate, Collection: c.name, Doc: newDoc})
	return nil
}

// Remove deletes every document matching f and reports how many went.
func (c *Collection) Remove(f filter.Filter) (int, error) {
	return c.remove(f, false)
}

// RemoveOne deletes the first document matching f.
func (c *Collection) RemoveOne(f filter.Filter) (int, error) {
	return c.remove(f, true)
}

func (c *Collection) remove(f filter.Filter, justOne bool) (int, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	ids, err := c.matchLocked(f, justOne)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		oldData, exists, err := c.primary.Get([]byte(id))
		if err != nil {
			return count, err
		}
		if !exists {
			continue
		}
		oldDoc, err := value.DeserializeDocument(oldData)
		if err != nil {
			return count, err
		}
		if err := c.log(transaction.Op{Collection: c.name, ID: id, Kind: transaction.OpRemove}); err != nil {
			return count, err
		}
		if err := c.primary.Remove([]byte(id)); err != nil {
			return count, err
		}
		if err := c.engine.OnRemove(id, oldDoc); err != nil {
			return count, err
		}
		c.versions.Record(id, oldData, nil)
		c.bus.publish(Event{Kind: EventRemove, Collection: c.name, Doc: oldDoc})
		count++
	}
	return count, nil
}

// Clear removes every document, leaving indexes registered but empty.
func (c *Collection) Clear() error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.primary.Clear(); err != nil {
		return err
	}
	for _, meta := range c.engine.List() {
		if err := c.engine.Rebuild(meta.Descriptor, c.iterateAll); err != nil {
			return err
		}
	}
	c.versions.Collect()
	return c.persistIndexMetas()
}

// --- Read path ---

// Size returns the number of documents.
func (c *Collection) Size() (int, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, err
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.primary.Size()
}

// FindByID returns the document with the given id, or an Indexing error
// when absent.
func (c *Collection) FindByID(id string) (*value.Document, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	c.lock.RLock()
	defer c.lock.RUnlock()

	data, exists, err := c.primary.Get([]byte(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, dberr.Indexingf("no document with id %s", id)
	}
	return value.DeserializeDocument(data)
}

// iterateAll feeds every stored document to yield in id (= insertion)
// order. Used by index rebuilds.
func (c *Collection) iterateAll(yield func(id string, doc *value.Document) bool) error {
	return c.primary.Range(nil, nil, func(e kv.Entry) (bool, error) {
		doc, err := value.DeserializeDocument(e.Value)
		if err != nil {
			return false, err
		}
		return yield(string(e.Key), doc), nil
	})
}

// --- Index management ---

// CreateIndex builds an index of the given type over fields, indexing
// any documents already stored.
func (c *Collection) CreateIndex(indexType index.Type, fields ...string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	desc := index.NewDescriptor(indexType, fields, c.name)
	c.bus.publish(Event{Kind: EventIndexStart, Collection: c.name, Fields: desc.Fields})

	size, err := c.primary.Size()
	if err != nil {
		return err
	}
	var docs func(func(string, *value.Document) bool) error
	if size > 0 {
		docs = c.iterateAll
	}
	if err := c.engine.CreateIndex(desc, docs); err != nil {
		return err
	}
	if err := c.persistIndexMetas(); err != nil {
		return err
	}
	c.bus.publish(Event{Kind: EventIndexEnd, Collection: c.name, Fields: desc.Fields})
	return nil
}

// descriptorFor finds the registered descriptor covering exactly fields.
func (c *Collection) descriptorFor(fields []string) (index.Descriptor, bool) {
	for _, meta := range c.engine.List() {
		d := meta.Descriptor
		if len(d.Fields) != len(fields) {
			continue
		}
		match := true
		for i := range fields {
			if d.Fields[i] != fields[i] {
				match = false
				break
			}
		}
		if match {
			return d, true
		}
	}
	return index.Descriptor{}, false
}

// DropIndex removes the index on exactly fields.
func (c *Collection) DropIndex(fields ...string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	desc, ok := c.descriptorFor(fields)
	if !ok {
		return dberr.Indexingf("no index on fields %v", fields)
	}
	if err := c.engine.DropIndex(desc); err != nil {
		return err
	}
	return c.persistIndexMetas()
}

// DropAllIndexes removes every index.
func (c *Collection) DropAllIndexes() error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.engine.DropAll(); err != nil {
		return err
	}
	return c.persistIndexMetas()
}

// RebuildIndex drops and re-derives the index on fields from the primary
// map. Idempotent.
func (c *Collection) RebuildIndex(fields ...string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	desc, ok := c.descriptorFor(fields)
	if !ok {
		return dberr.Indexingf("no index on fields %v", fields)
	}
	c.bus.publish(Event{Kind: EventIndexStart, Collection: c.name, Fields: desc.Fields})
	if err := c.engine.Rebuild(desc, c.iterateAll); err != nil {
		return err
	}
	if err := c.persistIndexMetas(); err != nil {
		return err
	}
	c.bus.publish(Event{Kind: EventIndexEnd, Collection: c.name, Fields: desc.Fields})
	return nil
}

// ListIndexes returns metadata for every index.
func (c *Collection) ListIndexes() ([]index.Meta, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.engine.List(), nil
}

// HasIndex reports whether an index covers exactly fields.
func (c *Collection) HasIndex(fields ...string) (bool, error) {
	if err := c.ensureOpen(); err != nil {
		return false, err
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.engine.Has(fields), nil
}

// IsIndexing reports whether any index rebuild is in flight.
func (c *Collection) IsIndexing() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.engine.IsIndexing()
}

func (c *Collection) persistIndexMetas() error {
	if err := c.db.catalog.saveIndexMetas(c.name, c.engine.List()); err != nil {
		return err
	}
	// Index metadata must be authoritative on reopen even after a crash,
	// so catalog changes flush immediately (they are rare).
	return c.store.Commit()
}

// --- Events ---

// Subscribe registers a handler for this collection's events and returns
// a subscription id for Unsubscribe.
func (c *Collection) Subscribe(h EventHandler) (int, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, err
	}
	return c.bus.subscribe(h), nil
}

// Unsubscribe removes a subscription.
func (c *Collection) Unsubscribe(id int) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.bus.unsubscribe(id)
	return nil
}

// --- Lifecycle ---

// Close marks the collection closed. Further operations fail with an
// InvalidOperation error; the backing maps stay on disk. Idempotent.
func (c *Collection) Close() error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	c.stateMu.Unlock()

	c.bus.close()
	c.versions.Collect()
	c.db.forgetCollection(c.name)
	return nil
}

// Drop deletes the collection: its documents, its indexes, and its
// catalog entry. The name becomes reusable.
func (c *Collection) Drop() error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	c.stateMu.Lock()
	c.dropped = true
	c.closed = true
	c.stateMu.Unlock()

	c.bus.close()
	if err := c.engine.DropAll(); err != nil {
		return err
	}
	if err := c.store.DropMap(primaryMapPrefix + c.name); err != nil {
		return err
	}
	if err := c.db.catalog.unregisterCollection(c.name); err != nil {
		return err
	}
	c.db.forgetCollection(c.name)
	return nil
}

// IsOpen reports whether operations are currently allowed.
func (c *Collection) IsOpen() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return !c.closed && !c.dropped
}

// IsDropped reports whether the collection has been dropped.
func (c *Collection) IsDropped() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.dropped
}
