package kv

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/storage"
)

// superblockPage is always the first page allocated in a fresh file; it
// exists purely to hold the catalog tree's current root page id, since
// that id moves every time the catalog root splits.
const superblockPage storage.PageID = 0

// memStore is the in-process engine: one storage.BPlusTree per named map,
// all sharing a single Pager/BufferPool pair, generalizing the teacher's
// document B+Tree triplet into an engine that can host arbitrary named
// keyspaces (collections, indexes, the catalog itself).
type memStore struct {
	mu      sync.Mutex
	pager   *storage.Pager
	bp      *storage.BufferPool
	trees   map[string]*storage.BPlusTree
	catalog *storage.BPlusTree
	dirty   bool
}

// OpenMemStore opens (or creates) a file-backed in-process store at path,
// optionally encrypting pages at rest with key (pass nil to disable).
func OpenMemStore(path string, bufferPoolCapacity int, key []byte) (Store, error) {
	pager, err := storage.NewPager(path, key)
	if err != nil {
		return nil, dberr.IOErrorf(err, "open pager at %s", path)
	}
	bp := storage.NewBufferPool(bufferPoolCapacity, pager)

	ms := &memStore{
		pager: pager,
		bp:    bp,
		trees: make(map[string]*storage.BPlusTree),
	}

	if err := ms.bootstrapCatalog(); err != nil {
		pager.Close()
		return nil, err
	}

	return ms, nil
}

func (ms *memStore) bootstrapCatalog() error {
	if ms.pager.GetNextPageID() == 0 {
		sb, err := ms.bp.NewPage(storage.PageTypeMeta)
		if err != nil {
			return dberr.IOErrorf(err, "allocate superblock page")
		}
		if sb.ID != superblockPage {
			return dberr.Corruptionf("expected superblock at page 0, got %d", sb.ID)
		}

		tree, err := storage.NewBPlusTree(ms.bp)
		if err != nil {
			ms.bp.UnpinPage(sb.ID, true)
			return dberr.IOErrorf(err, "create catalog tree")
		}
		ms.writeSuperblockRoot(sb, tree.GetRootID())
		ms.bp.UnpinPage(sb.ID, true)

		tree.SetOnRootChange(ms.onCatalogRootChange)
		ms.catalog = tree
		return nil
	}

	sb, err := ms.bp.FetchPage(superblockPage)
	if err != nil {
		return dberr.IOErrorf(err, "fetch superblock page")
	}
	rootID := ms.readSuperblockRoot(sb)
	ms.bp.UnpinPage(sb.ID, false)

	tree, err := storage.LoadBPlusTree(ms.bp, rootID)
	if err != nil {
		return dberr.IOErrorf(err, "load catalog tree at root %d", rootID)
	}
	tree.SetOnRootChange(ms.onCatalogRootChange)
	ms.catalog = tree
	return nil
}

func (ms *memStore) onCatalogRootChange(newRoot storage.PageID) {
	sb, err := ms.bp.FetchPage(superblockPage)
	if err != nil {
		return
	}
	ms.writeSuperblockRoot(sb, newRoot)
	ms.bp.UnpinPage(sb.ID, true)
}

func (ms *memStore) writeSuperblockRoot(sb *storage.Page, root storage.PageID) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(root))
	sb.WriteAt(storage.PageHeaderSize, buf[:])
}

func (ms *memStore) readSuperblockRoot(sb *storage.Page) storage.PageID {
	buf := sb.ReadAt(storage.PageHeaderSize, 8)
	return storage.PageID(binary.LittleEndian.Uint64(buf))
}

const catalogRootKeyPrefix = "root:"

func (ms *memStore) OpenMap(name string) (Map, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if t, ok := ms.trees[name]; ok {
		return &memMap{store: ms, name: name, tree: t}, nil
	}

	key := []byte(catalogRootKeyPrefix + name)
	if raw, err := ms.catalog.Search(key); err == nil {
		rootID := storage.PageID(binary.LittleEndian.Uint64(raw))
		tree, err := storage.LoadBPlusTree(ms.bp, rootID)
		if err != nil {
			return nil, dberr.IOErrorf(err, "load map %q", name)
		}
		tree.SetOnRootChange(func(newRoot storage.PageID) { ms.updateMapRoot(name, newRoot) })
		ms.trees[name] = tree
		return &memMap{store: ms, name: name, tree: tree}, nil
	}

	tree, err := storage.NewBPlusTree(ms.bp)
	if err != nil {
		return nil, dberr.IOErrorf(err, "create map %q", name)
	}
	tree.SetOnRootChange(func(newRoot storage.PageID) { ms.updateMapRoot(name, newRoot) })
	ms.trees[name] = tree
	ms.putCatalogRoot(name, tree.GetRootID())
	ms.dirty = true
	return &memMap{store: ms, name: name, tree: tree}, nil
}

func (ms *memStore) updateMapRoot(name string, root storage.PageID) {
	ms.putCatalogRoot(name, root)
	ms.dirty = true
}

func (ms *memStore) putCatalogRoot(name string, root storage.PageID) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(root))
	_ = ms.catalog.Insert([]byte(catalogRootKeyPrefix+name), buf[:])
}

func (ms *memStore) DropMap(name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.trees, name)
	_ = ms.catalog.Delete([]byte(catalogRootKeyPrefix + name))
	ms.dirty = true
	// Pages belonging to the dropped tree are leaked until the next
	// Compact; acceptable for an embedded store with infrequent drops.
	return nil
}

func (ms *memStore) HasMap(name string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.trees[name]; ok {
		return true, nil
	}
	_, err := ms.catalog.Search([]byte(catalogRootKeyPrefix + name))
	return err == nil, nil
}

func (ms *memStore) MapNames() ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entries, err := ms.catalog.RangeScan([]byte(catalogRootKeyPrefix), []byte(catalogRootKeyPrefix+"\xff"))
	if err != nil {
		return nil, dberr.IOErrorf(err, "scan catalog")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, string(e.Key[len(catalogRootKeyPrefix):]))
	}
	return names, nil
}

func (ms *memStore) Catalog() (Map, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return &memMap{store: ms, name: "__catalog__", tree: ms.catalog}, nil
}

func (ms *memStore) Commit() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.bp.FlushAllPages(); err != nil {
		return dberr.IOErrorf(err, "flush buffer pool")
	}
	ms.dirty = false
	return nil
}

func (ms *memStore) HasUnsavedChanges() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.dirty
}

func (ms *memStore) Compact() error {
	// The underlying B+Tree uses lazy deletion (storage.BPlusTree.Delete
	// does not merge underflowed pages); a real compaction would rewrite
	// live pages into a fresh file. Left as a no-op until that rewrite
	// path exists.
	return nil
}

func (ms *memStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.bp.FlushAllPages(); err != nil {
		return dberr.IOErrorf(err, "flush on close")
	}
	return ms.pager.Close()
}

// memMap is a single named keyspace backed by one storage.BPlusTree.
type memMap struct {
	store *memStore
	name  string
	tree  *storage.BPlusTree
}

func (m *memMap) Get(key []byte) ([]byte, bool, error) {
	val, err := m.tree.Search(key)
	if err != nil {
		return nil, false, nil
	}
	return val, true, nil
}

func (m *memMap) Put(key, value []byte) error {
	if err := m.tree.Insert(key, value); err != nil {
		return dberr.IOErrorf(err, "put key in map %q", m.name)
	}
	m.store.mu.Lock()
	m.store.dirty = true
	m.store.mu.Unlock()
	return nil
}

func (m *memMap) Remove(key []byte) error {
	if err := m.tree.Delete(key); err != nil {
		return nil
	}
	m.store.mu.Lock()
	m.store.dirty = true
	m.store.mu.Unlock()
	return nil
}

func (m *memMap) Range(start, end []byte, fn func(Entry) (bool, error)) error {
	lo, hi := start, end
	if lo == nil {
		lo = []byte{}
	}
	if hi == nil {
		hi = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}
	entries, err := m.tree.RangeScan(lo, hi)
	if err != nil {
		return dberr.IOErrorf(err, "range scan map %q", m.name)
	}
	for _, e := range entries {
		cont, err := fn(Entry{Key: e.Key, Value: e.Value})
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (m *memMap) Size() (int, error) {
	n := 0
	err := m.Range(nil, nil, func(Entry) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

func (m *memMap) Clear() error {
	var keys [][]byte
	err := m.Range(nil, nil, func(e Entry) (bool, error) {
		keys = append(keys, append([]byte(nil), e.Key...))
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.tree.Delete(k); err != nil {
			return fmt.Errorf("clear map %q: %w", m.name, err)
		}
	}
	return nil
}
