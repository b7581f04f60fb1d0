package spatial

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/kv"
)

// treeHandle pairs an open R-tree with the file path backing it, so Drop
// can remove the right file without recomputing a fresh temp name.
type treeHandle struct {
	tree *RTree
	path string
}

// Indexer implements index.Indexer for SPATIAL descriptors. Unlike the
// B-tree and full-text indexers, a spatial index cannot live inside a
// kv.Map — an R-tree needs its own page-addressed file — so Indexer
// manages one *RTree per descriptor, opened lazily on first use. When
// dir is empty (in-memory databases, §5), each index gets an ephemeral
// "nitrite_*.rtree" file under os.TempDir, mirroring how the in-memory
// storage engine still needs real backing files for anything
// disk-structured.
type Indexer struct {
	mu            sync.Mutex
	dir           string
	cacheCapacity int
	trees         map[string]*treeHandle
}

// NewIndexer creates a spatial indexer persisting index files under dir,
// or under the OS temp directory if dir is empty.
func NewIndexer(dir string, cacheCapacity int) *Indexer {
	return &Indexer{dir: dir, cacheCapacity: cacheCapacity, trees: make(map[string]*treeHandle)}
}

func (ix *Indexer) ValidateIndex(fields []string) error {
	if len(fields) != 1 {
		return dberr.Validationf("spatial index supports exactly one field, got %d", len(fields))
	}
	return nil
}

func (ix *Indexer) handleFor(desc index.Descriptor) (*treeHandle, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if h, ok := ix.trees[desc.Name()]; ok {
		return h, nil
	}
	path, err := ix.newPath(desc)
	if err != nil {
		return nil, err
	}
	tree, err := OpenRTree(path, ix.cacheCapacity)
	if err != nil {
		return nil, err
	}
	h := &treeHandle{tree: tree, path: path}
	ix.trees[desc.Name()] = h
	return h, nil
}

func (ix *Indexer) newPath(desc index.Descriptor) (string, error) {
	if ix.dir != "" {
		if err := os.MkdirAll(ix.dir, 0o755); err != nil {
			return "", dberr.IOErrorf(err, "spatial: create index directory")
		}
		return filepath.Join(ix.dir, sanitizeName(desc.Name())+".rtree"), nil
	}
	f, err := os.CreateTemp("", "nitrite_*.rtree")
	if err != nil {
		return "", dberr.IOErrorf(err, "spatial: create temp index file")
	}
	path := f.Name()
	f.Close()
	return path, nil
}

func sanitizeName(name string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(name)
}

func (ix *Indexer) WriteIndexEntry(store kv.Store, desc index.Descriptor, fv index.FieldValues) error {
	if len(fv.Values) != 1 {
		return dberr.Indexingf("spatial index expects exactly one projected value")
	}
	geom, err := ValueToGeometry(fv.Values[0].Value)
	if err != nil {
		return err
	}
	h, err := ix.handleFor(desc)
	if err != nil {
		return err
	}
	return h.tree.Insert(fv.ID, geom.BBox())
}

func (ix *Indexer) RemoveIndexEntry(store kv.Store, desc index.Descriptor, fv index.FieldValues) error {
	if len(fv.Values) != 1 {
		return dberr.Indexingf("spatial index expects exactly one projected value")
	}
	geom, err := ValueToGeometry(fv.Values[0].Value)
	if err != nil {
		return err
	}
	h, err := ix.handleFor(desc)
	if err != nil {
		return err
	}
	if err := h.tree.Remove(fv.ID, geom.BBox()); err != nil {
		if errors.Is(err, dberr.ErrIndexing) {
			return nil
		}
		return err
	}
	return nil
}

func (ix *Indexer) Drop(store kv.Store, desc index.Descriptor) error {
	ix.mu.Lock()
	h, ok := ix.trees[desc.Name()]
	delete(ix.trees, desc.Name())
	ix.mu.Unlock()
	if !ok {
		return nil
	}
	if err := h.tree.Close(); err != nil {
		return err
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return dberr.IOErrorf(err, "spatial: remove index file")
	}
	return nil
}

// Close flushes and closes every open spatial index file, e.g. on
// database shutdown. Ephemeral temp-dir files (in-memory mode) are
// deleted; files under a configured directory stay for reopen.
func (ix *Indexer) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var firstErr error
	for _, h := range ix.trees {
		if err := h.tree.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if ix.dir == "" {
			if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = dberr.IOErrorf(err, "spatial: remove temp index file")
			}
		}
	}
	ix.trees = make(map[string]*treeHandle)
	return firstErr
}

// --- Query surface consumed by the planner / spatial filter ---

// Intersects returns ids whose indexed geometry intersects query.
func (ix *Indexer) Intersects(desc index.Descriptor, query BBox) ([]string, error) {
	h, err := ix.handleFor(desc)
	if err != nil {
		return nil, err
	}
	return h.tree.Intersects(query)
}

// Within returns ids whose indexed geometry lies entirely inside query.
func (ix *Indexer) Within(desc index.Descriptor, query BBox) ([]string, error) {
	h, err := ix.handleFor(desc)
	if err != nil {
		return nil, err
	}
	return h.tree.Within(query)
}

// Near returns ids whose indexed geometry intersects the envelope of a
// circle of the given radius centered at center.
func (ix *Indexer) Near(desc index.Descriptor, center Point, radius float64) ([]string, error) {
	h, err := ix.handleFor(desc)
	if err != nil {
		return nil, err
	}
	return h.tree.Near(center, radius)
}

// KNearest returns up to k ids ordered by increasing distance from center.
func (ix *Indexer) KNearest(desc index.Descriptor, center Point, k int) ([]string, error) {
	h, err := ix.handleFor(desc)
	if err != nil {
		return nil, err
	}
	return h.tree.KNearest(center, k)
}

var _ index.Indexer = (*Indexer)(nil)
