// Package bundoc is an embedded, single-process document database:
// schemaless documents in named collections, secondary indexes (unique,
// non-unique, full-text, spatial), a query planner choosing between id
// lookup, index scan, and full scan, and a pluggable ordered key-value
// engine underneath. Applications link it as a library and open a
// database either in-memory or backed by local files.
package bundoc

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/fts"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/internal/lockregistry"
	"github.com/kartikbazzad/bundoc/internal/obslog"
	"github.com/kartikbazzad/bundoc/internal/transaction"
	"github.com/kartikbazzad/bundoc/kv"
	"github.com/kartikbazzad/bundoc/mvcc"
	"github.com/kartikbazzad/bundoc/security"
	"github.com/kartikbazzad/bundoc/spatial"
)

// StoreEventKind enumerates store lifecycle events.
type StoreEventKind int

const (
	StoreOpened StoreEventKind = iota
	StoreCommit
	StoreClosing
	StoreClosed
)

// StoreEvent is delivered to store-level listeners.
type StoreEvent struct {
	Kind StoreEventKind
}

// Database is the root handle. A process may open many independent
// databases; handles to the same path share one core, so closing is
// reference-counted.
type Database struct {
	opts    *Options
	dir     string // resolved data directory
	tempDir bool   // dir is ours to delete on final close

	store          kv.Store
	catalog        *catalog
	coordinator    *transaction.Manager
	spatialIndexer *spatial.Indexer
	locks          *lockregistry.Registry
	audit          *security.AuditLogger

	mu             sync.Mutex
	collections    map[string]*Collection
	storeListeners map[int]func(StoreEvent)
	nextListener   int
	refs           int
	closed         bool
}

// openDatabases shares one core per canonical path, so pooled handles to
// the same files never race two storage engines over one pager.
var openDatabases = struct {
	mu  sync.Mutex
	dbs map[string]*Database
}{dbs: make(map[string]*Database)}

// Open opens (or creates) a database described by opts. Opening the same
// path twice returns the same handle with its reference count bumped;
// each Open is balanced by one Close.
func Open(opts *Options) (*Database, error) {
	if opts == nil {
		return nil, dberr.Validationf("options must not be nil")
	}
	opts.fillDefaults()

	if !opts.InMemory {
		if opts.Path == "" {
			return nil, dberr.Validationf("disk database requires a path")
		}
		abs, err := filepath.Abs(opts.Path)
		if err != nil {
			return nil, dberr.IOErrorf(err, "resolve database path")
		}
		openDatabases.mu.Lock()
		defer openDatabases.mu.Unlock()
		if db, ok := openDatabases.dbs[abs]; ok {
			if err := db.authenticate(opts); err != nil {
				return nil, err
			}
			db.mu.Lock()
			db.refs++
			db.mu.Unlock()
			return db, nil
		}
		db, err := openCore(opts, abs, false)
		if err != nil {
			return nil, err
		}
		openDatabases.dbs[abs] = db
		return db, nil
	}

	dir, err := os.MkdirTemp("", "bundoc-*")
	if err != nil {
		return nil, dberr.IOErrorf(err, "create in-memory workspace")
	}
	return openCore(opts, dir, true)
}

func openCore(opts *Options, dir string, tempDir bool) (*Database, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dberr.IOErrorf(err, "create database directory")
	}

	var store kv.Store
	var err error
	switch opts.Engine {
	case EngineBTree:
		store, err = kv.OpenMemStore(filepath.Join(dir, "bundoc.db"), opts.CacheSize, opts.EncryptionKey)
	case EngineBBolt:
		store, err = kv.OpenBoltStore(filepath.Join(dir, "bundoc.bolt"))
	default:
		err = dberr.New(dberr.Plugin, "unknown storage engine "+string(opts.Engine), nil)
	}
	if err != nil {
		return nil, err
	}

	cat, err := newCatalog(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	db := &Database{
		opts:           opts,
		dir:            dir,
		tempDir:        tempDir,
		store:          store,
		catalog:        cat,
		spatialIndexer: spatial.NewIndexer(spatialDir(dir, tempDir), opts.SpatialCacheSize),
		locks:          lockregistry.New(),
		collections:    make(map[string]*Collection),
		storeListeners: make(map[int]func(StoreEvent)),
		audit:          security.DiscardLogger(),
		refs:           1,
	}

	if opts.AuditLog && !tempDir {
		audit, err := security.NewAuditLogger(filepath.Join(dir, "audit.log"))
		if err != nil {
			store.Close()
			return nil, err
		}
		db.audit = audit
	}

	if err := db.checkSchemaVersion(); err != nil {
		db.teardown()
		return nil, err
	}
	if err := db.authenticate(opts); err != nil {
		db.teardown()
		return nil, err
	}

	if !tempDir && !opts.DisableWAL {
		coordinator, err := transaction.NewManager(filepath.Join(dir, "wal"))
		if err != nil {
			db.teardown()
			return nil, err
		}
		db.coordinator = coordinator
		if err := db.replayLog(); err != nil {
			db.teardown()
			return nil, err
		}
	}

	obslog.Get().Info("database opened", "dir", dir, "engine", string(opts.Engine))
	db.publishStoreEvent(StoreEvent{Kind: StoreOpened})
	return db, nil
}

// spatialDir returns where R-tree files live: alongside the database on
// disk, or "" for in-memory mode so the indexer uses nitrite_*.rtree
// temp files.
func spatialDir(dir string, tempDir bool) string {
	if tempDir {
		return ""
	}
	return filepath.Join(dir, "spatial")
}

func (db *Database) checkSchemaVersion() error {
	persisted, err := db.catalog.schemaVersion()
	if err != nil {
		return err
	}
	if persisted == 0 {
		return db.catalog.setSchemaVersion(db.opts.SchemaVersion)
	}
	if persisted != db.opts.SchemaVersion {
		return dberr.Validationf("schema version mismatch: database has %d, options request %d", persisted, db.opts.SchemaVersion)
	}
	return nil
}

func (db *Database) authenticate(opts *Options) error {
	if opts.Username == "" {
		return nil
	}
	um := security.NewUserManager(db.catalog)
	if err := um.EnsureUser(opts.Username, opts.Password); err != nil {
		db.audit.Log(security.EventOpenFailure, opts.Username, nil)
		return dberr.New(dberr.Validation, "authentication failed", err)
	}
	db.audit.Log(security.EventOpenSuccess, opts.Username, nil)
	return nil
}

// replayLog applies committed WAL operations to the primary maps, then
// checkpoints so the work is not replayed again.
func (db *Database) replayLog() error {
	err := db.coordinator.Recover(func(collection, id string, doc []byte, remove bool) error {
		m, err := db.store.OpenMap(primaryMapPrefix + collection)
		if err != nil {
			return err
		}
		if remove {
			return m.Remove([]byte(id))
		}
		return m.Put([]byte(id), doc)
	})
	if err != nil {
		return err
	}
	if err := db.store.Commit(); err != nil {
		return err
	}
	return db.coordinator.Checkpoint()
}

func (db *Database) ensureOpen() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return dberr.InvalidOperationf("database is closed")
	}
	return nil
}

// Collection returns the named collection, creating it lazily on first
// use and reconstructing it from the catalog on reopen.
func (db *Database) Collection(name string) (*Collection, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, dberr.Validationf("collection name must not be empty")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	// Repository-backed collections are cached in db.collections too, so
	// the repository-name check runs before the cached-handle lookup.
	repos, err := db.catalog.repositories()
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		if r == name {
			return nil, dberr.Validationf("name %q already names a repository", name)
		}
	}

	if c, ok := db.collections[name]; ok && c.IsOpen() {
		return c, nil
	}

	c, err := db.buildCollection(name)
	if err != nil {
		return nil, err
	}
	if err := db.catalog.registerCollection(name); err != nil {
		return nil, err
	}
	if err := db.store.Commit(); err != nil {
		return nil, err
	}
	db.collections[name] = c
	return c, nil
}

// buildCollection wires a collection's storage, index engine, and
// catalog-registered indexes. Callers hold db.mu.
func (db *Database) buildCollection(name string) (*Collection, error) {
	primary, err := db.store.OpenMap(primaryMapPrefix + name)
	if err != nil {
		return nil, err
	}
	engine := index.NewEngine(db.store)
	engine.Register(index.FullText, fts.Indexer{})
	engine.Register(index.Spatial, db.spatialIndexer)

	c := &Collection{
		name:     name,
		db:       db,
		store:    db.store,
		primary:  primary,
		engine:   engine,
		lock:     db.locks.Get(name),
		versions: mvcc.NewStore(),
		bus:      newEventBus(),
	}

	metas, err := db.catalog.indexMetas(name)
	if err != nil {
		return nil, err
	}
	for _, meta := range metas {
		engine.RestoreMeta(meta)
		if meta.Dirty {
			// A crash mid-build left this index half-written; rebuild it
			// from the primary map before anything queries it.
			if err := engine.Rebuild(meta.Descriptor, c.iterateAll); err != nil {
				return nil, err
			}
		}
	}
	if len(metas) > 0 {
		if err := c.persistIndexMetas(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// forgetCollection drops the cached handle after a close or drop.
func (db *Database) forgetCollection(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.collections, name)
}

// ListCollectionNames returns every collection name in the catalog.
func (db *Database) ListCollectionNames() ([]string, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	return db.catalog.collections()
}

// HasCollection reports whether the catalog names collection name.
func (db *Database) HasCollection(name string) (bool, error) {
	names, err := db.ListCollectionNames()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// SubscribeStoreEvents registers a listener for store lifecycle events
// and returns its id.
func (db *Database) SubscribeStoreEvents(fn func(StoreEvent)) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextListener++
	db.storeListeners[db.nextListener] = fn
	return db.nextListener
}

// UnsubscribeStoreEvents removes a store event listener.
func (db *Database) UnsubscribeStoreEvents(id int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.storeListeners, id)
}

func (db *Database) publishStoreEvent(e StoreEvent) {
	db.mu.Lock()
	listeners := make([]func(StoreEvent), 0, len(db.storeListeners))
	for _, fn := range db.storeListeners {
		listeners = append(listeners, fn)
	}
	db.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

// Commit flushes buffered writes to durable storage and checkpoints the
// write-ahead log behind them.
func (db *Database) Commit() error {
	if err := db.ensureOpen(); err != nil {
		return err
	}
	if err := db.store.Commit(); err != nil {
		return err
	}
	if db.coordinator != nil {
		if err := db.coordinator.Checkpoint(); err != nil {
			return err
		}
	}
	db.publishStoreEvent(StoreEvent{Kind: StoreCommit})
	return nil
}

// IsClosed reports whether the handle has been fully closed.
func (db *Database) IsClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

// Close releases one reference to the database; the final Close flushes
// everything and closes the files. Idempotent once fully closed.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.refs--
	if db.refs > 0 {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if !db.tempDir {
		openDatabases.mu.Lock()
		for path, open := range openDatabases.dbs {
			if open == db {
				delete(openDatabases.dbs, path)
			}
		}
		openDatabases.mu.Unlock()
	}

	db.publishStoreEvent(StoreEvent{Kind: StoreClosing})

	db.mu.Lock()
	collections := make([]*Collection, 0, len(db.collections))
	for _, c := range db.collections {
		collections = append(collections, c)
	}
	db.mu.Unlock()
	for _, c := range collections {
		if err := c.Close(); err != nil {
			obslog.Get().Warn("closing collection failed", "collection", c.Name(), "error", err)
		}
	}

	err := db.teardown()
	db.publishStoreEvent(StoreEvent{Kind: StoreClosed})
	obslog.Get().Info("database closed", "dir", db.dir)
	return err
}

// teardown closes every owned resource, keeping the first error.
func (db *Database) teardown() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if db.spatialIndexer != nil {
		keep(db.spatialIndexer.Close())
	}
	if db.store != nil {
		keep(db.store.Commit())
	}
	if db.coordinator != nil {
		keep(db.coordinator.Checkpoint())
		keep(db.coordinator.Close())
	}
	if db.store != nil {
		keep(db.store.Close())
	}
	keep(db.audit.Close())
	if db.tempDir {
		keep(os.RemoveAll(db.dir))
	}
	return firstErr
}
