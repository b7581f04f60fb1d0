package storage

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/kartikbazzad/bundoc/internal/util"
)

// maxCellsPerNode bounds a node's fan-out; nodes also split early when
// their packed cells approach the page size.
const maxCellsPerNode = 64

// splitSlack keeps a few spare bytes in every page so header updates and
// sibling links never race the cell area.
const splitSlack = 64

// BPlusTree is a disk-backed B+Tree over a BufferPool: leaves hold the
// cells and are sibling-linked for range scans, index nodes hold
// separators. Deletion is lazy (no merging) — emptied pages stay
// allocated, which keeps crash states trivial at the cost of space after
// heavy deletes.
type BPlusTree struct {
	mu           sync.RWMutex
	bp           *BufferPool
	rootID       PageID
	onRootChange func(PageID)
}

// NewBPlusTree creates an empty tree whose root starts as a leaf.
func NewBPlusTree(bp *BufferPool) (*BPlusTree, error) {
	root, err := bp.NewPage(PageTypeLeaf)
	if err != nil {
		return nil, err
	}
	t := &BPlusTree{bp: bp, rootID: root.ID}
	bp.UnpinPage(root.ID, true)
	return t, nil
}

// LoadBPlusTree reattaches to a tree persisted at a known root, as
// recorded in the store's catalog.
func LoadBPlusTree(bp *BufferPool, rootID PageID) (*BPlusTree, error) {
	page, err := bp.FetchPage(rootID)
	if err != nil {
		return nil, err
	}
	pageType := page.GetPageType()
	bp.UnpinPage(rootID, false)
	if pageType != PageTypeLeaf && pageType != PageTypeIndex {
		return nil, fmt.Errorf("page %d is not a tree root (type %d)", rootID, pageType)
	}
	return &BPlusTree{bp: bp, rootID: rootID}, nil
}

// SetOnRootChange registers a callback fired whenever a root split moves
// the root — the store's catalog must track the current root to reattach
// after reopen.
func (t *BPlusTree) SetOnRootChange(fn func(PageID)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRootChange = fn
}

// GetRootID returns the current root page id.
func (t *BPlusTree) GetRootID() PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

// descendToLeaf walks from the root to the leaf owning key, returning
// the pinned leaf and the ids of the index nodes along the way (root
// first). Index pages are unpinned as soon as their routing decision is
// read.
func (t *BPlusTree) descendToLeaf(key []byte) (*Page, []PageID, error) {
	var path []PageID
	cur := t.rootID
	for {
		page, err := t.bp.FetchPage(cur)
		if err != nil {
			return nil, nil, err
		}
		if page.GetPageType() != PageTypeIndex {
			return page, path, nil
		}
		child := childFor(page, key)
		t.bp.UnpinPage(cur, false)
		path = append(path, cur)
		cur = child
	}
}

// overflowing reports whether a node holding entries must split.
func overflowing(pageType byte, entries []Entry) bool {
	if len(entries) > maxCellsPerNode {
		return true
	}
	return cellStart(pageType)+cellBytes(entries) > PageSize-splitSlack
}

// Insert adds key → value, overwriting an existing value for the same
// key. Overflowing nodes split bottom-up along the descent path; a root
// split grows the tree by one level and fires the root-change callback.
func (t *BPlusTree) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf, path, err := t.descendToLeaf(key)
	if err != nil {
		return err
	}

	entries, _ := insertSorted(readCells(leaf), Entry{Key: key, Value: value})
	if !overflowing(PageTypeLeaf, entries) {
		err := writeCells(leaf, entries)
		t.bp.UnpinPage(leaf.ID, true)
		return err
	}

	sep, newChild, err := t.splitLeaf(leaf, entries)
	t.bp.UnpinPage(leaf.ID, true)
	if err != nil {
		return err
	}

	// Bubble the separator up the recorded path, splitting index nodes
	// that overflow in turn.
	for i := len(path) - 1; i >= 0; i-- {
		parent, err := t.bp.FetchPage(path[i])
		if err != nil {
			return err
		}
		entries, _ := insertSorted(readCells(parent), Entry{Key: sep, Value: encodeChild(newChild)})
		if !overflowing(PageTypeIndex, entries) {
			err := writeCells(parent, entries)
			t.bp.UnpinPage(parent.ID, true)
			return err
		}
		sep, newChild, err = t.splitIndex(parent, entries)
		t.bp.UnpinPage(parent.ID, true)
		if err != nil {
			return err
		}
	}

	return t.growRoot(sep, newChild)
}

// splitLeaf moves the upper half of entries to a fresh sibling leaf,
// maintaining the doubly-linked leaf chain, and returns the separator to
// promote (copy-up of the new leaf's first key).
func (t *BPlusTree) splitLeaf(leaf *Page, entries []Entry) ([]byte, PageID, error) {
	mid := len(entries) / 2
	lower, upper := entries[:mid], entries[mid:]

	sibling, err := t.bp.NewPage(PageTypeLeaf)
	if err != nil {
		return nil, 0, err
	}

	oldNext := leaf.GetNextPage()
	leaf.SetNextPage(sibling.ID)
	sibling.SetPrevPage(leaf.ID)
	sibling.SetNextPage(oldNext)
	if oldNext != 0 {
		if after, err := t.bp.FetchPage(oldNext); err == nil {
			after.SetPrevPage(sibling.ID)
			t.bp.UnpinPage(oldNext, true)
		}
	}

	if err := writeCells(leaf, lower); err != nil {
		t.bp.UnpinPage(sibling.ID, true)
		return nil, 0, err
	}
	if err := writeCells(sibling, upper); err != nil {
		t.bp.UnpinPage(sibling.ID, true)
		return nil, 0, err
	}
	t.bp.UnpinPage(sibling.ID, true)
	return upper[0].Key, sibling.ID, nil
}

// splitIndex pushes the middle separator up: lower cells stay, upper
// cells move to a fresh index node whose leftmost child is the promoted
// cell's child.
func (t *BPlusTree) splitIndex(node *Page, entries []Entry) ([]byte, PageID, error) {
	mid := len(entries) / 2
	promoted := entries[mid]
	lower, upper := entries[:mid], entries[mid+1:]

	sibling, err := t.bp.NewPage(PageTypeIndex)
	if err != nil {
		return nil, 0, err
	}
	setLeftmostChild(sibling, childOf(promoted))

	if err := writeCells(node, lower); err != nil {
		t.bp.UnpinPage(sibling.ID, true)
		return nil, 0, err
	}
	if err := writeCells(sibling, upper); err != nil {
		t.bp.UnpinPage(sibling.ID, true)
		return nil, 0, err
	}
	t.bp.UnpinPage(sibling.ID, true)
	return promoted.Key, sibling.ID, nil
}

// growRoot installs a new index root over the old root and the split-off
// sibling.
func (t *BPlusTree) growRoot(sep []byte, newChild PageID) error {
	newRoot, err := t.bp.NewPage(PageTypeIndex)
	if err != nil {
		return err
	}
	setLeftmostChild(newRoot, t.rootID)
	if err := writeCells(newRoot, []Entry{{Key: sep, Value: encodeChild(newChild)}}); err != nil {
		t.bp.UnpinPage(newRoot.ID, true)
		return err
	}
	t.rootID = newRoot.ID
	if t.onRootChange != nil {
		t.onRootChange(t.rootID)
	}
	return t.bp.UnpinPage(newRoot.ID, true)
}

// Delete removes key, returning util.ErrDocumentNotFound when absent.
// Underflowing leaves are not merged; separators above a drained leaf
// keep routing correctly because lookups always land on a leaf.
func (t *BPlusTree) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf, _, err := t.descendToLeaf(key)
	if err != nil {
		return err
	}

	entries := readCells(leaf)
	kept := entries[:0]
	found := false
	for _, e := range entries {
		if bytes.Equal(e.Key, key) {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		t.bp.UnpinPage(leaf.ID, false)
		return util.ErrDocumentNotFound
	}
	err = writeCells(leaf, kept)
	t.bp.UnpinPage(leaf.ID, true)
	return err
}

// Search returns the value stored at key, or util.ErrDocumentNotFound.
func (t *BPlusTree) Search(key []byte) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf, _, err := t.descendToLeaf(key)
	if err != nil {
		return nil, err
	}
	defer t.bp.UnpinPage(leaf.ID, false)

	entries := readCells(leaf)
	lo, hi := 0, len(entries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch cmp := bytes.Compare(key, entries[mid].Key); {
		case cmp == 0:
			return entries[mid].Value, nil
		case cmp < 0:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return nil, util.ErrDocumentNotFound
}

// RangeScan returns every entry with key in [startKey, endKey], in key
// order, by walking the leaf chain from startKey's leaf.
func (t *BPlusTree) RangeScan(startKey, endKey []byte) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf, _, err := t.descendToLeaf(startKey)
	if err != nil {
		return nil, err
	}

	var results []Entry
	for {
		for _, e := range readCells(leaf) {
			if bytes.Compare(e.Key, endKey) > 0 {
				t.bp.UnpinPage(leaf.ID, false)
				return results, nil
			}
			if bytes.Compare(e.Key, startKey) >= 0 {
				results = append(results, e)
			}
		}
		next := leaf.GetNextPage()
		t.bp.UnpinPage(leaf.ID, false)
		if next == 0 {
			return results, nil
		}
		leaf, err = t.bp.FetchPage(next)
		if err != nil {
			return results, nil
		}
	}
}
