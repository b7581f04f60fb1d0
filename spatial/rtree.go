package spatial

import (
	"container/heap"
	"math"
	"sort"
	"sync"

	"github.com/kartikbazzad/bundoc/dberr"
)

// DefaultMaxEntries bounds how many entries a leaf or internal node may
// hold before it splits (Guttman's M). MinEntries is half of it, the
// usual balance point for quadratic split.
const DefaultMaxEntries = 64

// RTree is a disk-backed R-tree: every node lives in a PageSize page
// reached through a dirty-aware LRU cache, with a pager-managed free
// list recycling removed pages (§4.7).
type RTree struct {
	mu         sync.RWMutex
	pager      *Pager
	cache      *Cache
	maxEntries int
	minEntries int
}

// OpenRTree opens (or creates) the R-tree file at path, bootstrapping an
// empty root leaf on first use.
func OpenRTree(path string, cacheCapacity int) (*RTree, error) {
	pager, err := OpenPager(path)
	if err != nil {
		return nil, err
	}
	t := &RTree{
		pager:      pager,
		cache:      NewCache(cacheCapacity),
		maxEntries: DefaultMaxEntries,
		minEntries: DefaultMaxEntries / 2,
	}
	if pager.Header().RootPage == freeListNone {
		id, err := pager.Allocate()
		if err != nil {
			pager.Close()
			return nil, err
		}
		if err := pager.WritePage(id, Node{Kind: pageKindLeaf}); err != nil {
			pager.Close()
			return nil, err
		}
		if err := pager.SetRoot(id, 1); err != nil {
			pager.Close()
			return nil, err
		}
	}
	return t, nil
}

// Close flushes dirty pages and closes the backing file.
func (t *RTree) Close() error {
	if err := t.Flush(); err != nil {
		t.pager.Close()
		return err
	}
	return t.pager.Close()
}

// Flush writes every dirty cached page back to the pager and syncs it.
func (t *RTree) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.cache.GetDirtyPages() {
		node, ok := t.cache.Get(id)
		if !ok {
			continue
		}
		if err := t.pager.WritePage(id, node); err != nil {
			return err
		}
		t.cache.MarkClean(id)
	}
	return t.pager.Sync()
}

// Count returns the number of entries currently stored.
func (t *RTree) Count() uint64 {
	return t.pager.Header().EntryCount
}

func (n Node) EntryCount() int {
	if n.IsLeaf() {
		return len(n.Leaves)
	}
	return len(n.Internals)
}

func (t *RTree) getNode(id uint64) (Node, error) {
	if node, ok := t.cache.Get(id); ok {
		return node, nil
	}
	node, err := t.pager.ReadPage(id)
	if err != nil {
		return Node{}, err
	}
	t.cache.Insert(id, node, false)
	if err := t.evictIfNeeded(); err != nil {
		return Node{}, err
	}
	return node, nil
}

func (t *RTree) putNode(id uint64, node Node) error {
	t.cache.Insert(id, node, true)
	return t.evictIfNeeded()
}

func (t *RTree) evictIfNeeded() error {
	for t.cache.NeedsEviction() {
		id, node, dirty, ok := t.cache.EvictOldest()
		if !ok {
			break
		}
		if dirty {
			if err := t.pager.WritePage(id, node); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- Insert ---

// Insert adds a new (id, box) entry, splitting nodes and growing the
// tree's height as needed (§4.7.4).
func (t *RTree) Insert(id string, box BBox) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.pager.Header().RootPage
	path, err := t.chooseLeaf(root, box)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1]
	leaf, err := t.getNode(leafID)
	if err != nil {
		return err
	}
	leaf.Leaves = append(leaf.Leaves, LeafEntry{Box: box, ID: id})

	if err := t.insertAdjust(path, leafID, leaf); err != nil {
		return err
	}
	return t.pager.SetEntryCount(t.pager.Header().EntryCount + 1)
}

// chooseLeaf descends from root to a leaf, picking at each level the
// child needing least enlargement to contain box (ties broken by
// smallest area) — the R* subtree-choice heuristic.
func (t *RTree) chooseLeaf(rootID uint64, box BBox) ([]uint64, error) {
	path := []uint64{rootID}
	cur := rootID
	for {
		node, err := t.getNode(cur)
		if err != nil {
			return nil, err
		}
		if node.IsLeaf() {
			return path, nil
		}
		best := -1
		var bestEnl, bestArea float64
		for i, e := range node.Internals {
			enl := e.Box.Enlargement(box)
			area := e.Box.Area()
			if best == -1 || enl < bestEnl || (enl == bestEnl && area < bestArea) {
				best, bestEnl, bestArea = i, enl, area
			}
		}
		cur = node.Internals[best].Child
		path = append(path, cur)
	}
}

// insertAdjust writes the (possibly overflowing) leaf back, splitting it
// and every overflowing ancestor on the way up to the root, growing the
// tree's height by one if the root itself splits.
func (t *RTree) insertAdjust(path []uint64, leafID uint64, leaf Node) error {
	curID := leafID
	curNode := leaf
	hasSplit := false
	var splitID uint64
	var splitNode Node

	for level := len(path) - 1; ; level-- {
		if curNode.EntryCount() > t.maxEntries {
			g1, g2 := quadraticSplit(toSplitEntries(curNode), t.minEntries)
			n1 := nodeFromEntries(curNode.Level, curNode.IsLeaf(), g1)
			n2 := nodeFromEntries(curNode.Level, curNode.IsLeaf(), g2)
			if err := t.putNode(curID, n1); err != nil {
				return err
			}
			newID, err := t.pager.Allocate()
			if err != nil {
				return err
			}
			if err := t.putNode(newID, n2); err != nil {
				return err
			}
			curNode = n1
			hasSplit, splitID, splitNode = true, newID, n2
		} else {
			if err := t.putNode(curID, curNode); err != nil {
				return err
			}
			hasSplit = false
		}

		if level == 0 {
			if !hasSplit {
				return nil
			}
			newRootID, err := t.pager.Allocate()
			if err != nil {
				return err
			}
			newRoot := Node{
				Kind:  pageKindInternal,
				Level: curNode.Level + 1,
				Internals: []InternalEntry{
					{Box: curNode.BBox(), Child: curID},
					{Box: splitNode.BBox(), Child: splitID},
				},
			}
			if err := t.putNode(newRootID, newRoot); err != nil {
				return err
			}
			return t.pager.SetRoot(newRootID, t.pager.Header().Height+1)
		}

		parentID := path[level-1]
		parent, err := t.getNode(parentID)
		if err != nil {
			return err
		}
		for i := range parent.Internals {
			if parent.Internals[i].Child == curID {
				parent.Internals[i].Box = curNode.BBox()
				break
			}
		}
		if hasSplit {
			parent.Internals = append(parent.Internals, InternalEntry{Box: splitNode.BBox(), Child: splitID})
		}
		curID, curNode = parentID, parent
	}
}

type splitEntry struct {
	box   BBox
	id    string
	child uint64
}

func toSplitEntries(n Node) []splitEntry {
	if n.IsLeaf() {
		out := make([]splitEntry, len(n.Leaves))
		for i, e := range n.Leaves {
			out[i] = splitEntry{box: e.Box, id: e.ID}
		}
		return out
	}
	out := make([]splitEntry, len(n.Internals))
	for i, e := range n.Internals {
		out[i] = splitEntry{box: e.Box, child: e.Child}
	}
	return out
}

func nodeFromEntries(level uint32, isLeaf bool, entries []splitEntry) Node {
	if isLeaf {
		leaves := make([]LeafEntry, len(entries))
		for i, e := range entries {
			leaves[i] = LeafEntry{Box: e.box, ID: e.id}
		}
		return Node{Kind: pageKindLeaf, Leaves: leaves}
	}
	internals := make([]InternalEntry, len(entries))
	for i, e := range entries {
		internals[i] = InternalEntry{Box: e.box, Child: e.child}
	}
	return Node{Kind: pageKindInternal, Level: level, Internals: internals}
}

// quadraticSplit is Guttman's quadratic-cost split: pick the pair of
// entries that would waste the most area if combined as seeds, then
// repeatedly assign the entry with the strongest group preference,
// forcing the rest into whichever group needs them once the other
// reaches minGroup.
func quadraticSplit(entries []splitEntry, minGroup int) ([]splitEntry, []splitEntry) {
	s1, s2 := pickSeeds(entries)
	g1 := []splitEntry{entries[s1]}
	g2 := []splitEntry{entries[s2]}
	b1, b2 := entries[s1].box, entries[s2].box

	remaining := make([]splitEntry, 0, len(entries)-2)
	for i, e := range entries {
		if i != s1 && i != s2 {
			remaining = append(remaining, e)
		}
	}

	for len(remaining) > 0 {
		if len(g1)+len(remaining) == minGroup {
			g1 = append(g1, remaining...)
			break
		}
		if len(g2)+len(remaining) == minGroup {
			g2 = append(g2, remaining...)
			break
		}
		bestIdx := 0
		bestDiff := -1.0
		var bestD1, bestD2 float64
		for i, e := range remaining {
			d1 := b1.Enlargement(e.box)
			d2 := b2.Enlargement(e.box)
			diff := math.Abs(d1 - d2)
			if diff > bestDiff {
				bestIdx, bestDiff, bestD1, bestD2 = i, diff, d1, d2
			}
		}
		e := remaining[bestIdx]
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		switch {
		case bestD1 < bestD2:
			g1 = append(g1, e)
			b1 = b1.Union(e.box)
		case bestD2 < bestD1:
			g2 = append(g2, e)
			b2 = b2.Union(e.box)
		case b1.Area() <= b2.Area():
			g1 = append(g1, e)
			b1 = b1.Union(e.box)
		default:
			g2 = append(g2, e)
			b2 = b2.Union(e.box)
		}
	}
	return g1, g2
}

func pickSeeds(entries []splitEntry) (int, int) {
	bestWaste := -1.0
	bi, bj := 0, 1
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			combined := entries[i].box.Union(entries[j].box)
			waste := combined.Area() - entries[i].box.Area() - entries[j].box.Area()
			if waste > bestWaste {
				bestWaste, bi, bj = waste, i, j
			}
		}
	}
	return bi, bj
}

// --- Remove ---

// Remove deletes the entry with the given id and box. box must match
// (or cover) the entry's stored box closely enough to prune the search;
// callers should pass the box they originally inserted.
func (t *RTree) Remove(id string, box BBox) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.pager.Header().RootPage
	path, leafID, found, err := t.findLeaf(root, box, id)
	if err != nil {
		return err
	}
	if !found {
		return dberr.Indexingf("spatial: id %q not found at given location", id)
	}
	leaf, err := t.getNode(leafID)
	if err != nil {
		return err
	}
	out := leaf.Leaves[:0]
	for _, e := range leaf.Leaves {
		if e.ID != id {
			out = append(out, e)
		}
	}
	leaf.Leaves = out
	if err := t.putNode(leafID, leaf); err != nil {
		return err
	}
	if err := t.condense(path, leafID, leaf); err != nil {
		return err
	}
	// A root drained of every child collapses back to an empty leaf so
	// the next insert has somewhere to descend.
	rootID := t.pager.Header().RootPage
	rootNode, err := t.getNode(rootID)
	if err != nil {
		return err
	}
	if !rootNode.IsLeaf() && len(rootNode.Internals) == 0 {
		if err := t.putNode(rootID, Node{Kind: pageKindLeaf}); err != nil {
			return err
		}
		if err := t.pager.SetRoot(rootID, 1); err != nil {
			return err
		}
	}
	if h := t.pager.Header(); h.EntryCount > 0 {
		return t.pager.SetEntryCount(h.EntryCount - 1)
	}
	return nil
}

func (t *RTree) findLeaf(nodeID uint64, box BBox, id string) ([]uint64, uint64, bool, error) {
	node, err := t.getNode(nodeID)
	if err != nil {
		return nil, 0, false, err
	}
	if node.IsLeaf() {
		for _, e := range node.Leaves {
			if e.ID == id {
				return []uint64{nodeID}, nodeID, true, nil
			}
		}
		return nil, 0, false, nil
	}
	for _, e := range node.Internals {
		if !e.Box.Intersects(box) {
			continue
		}
		path, leafID, found, err := t.findLeaf(e.Child, box, id)
		if err != nil {
			return nil, 0, false, err
		}
		if found {
			return append([]uint64{nodeID}, path...), leafID, true, nil
		}
	}
	return nil, 0, false, nil
}

// condense walks from the removed entry's leaf back to the root,
// shrinking ancestor bounding boxes and pruning any node left empty.
// It does not rebalance underflowing-but-nonempty nodes by reinsertion
// (classic Guttman CondenseTree) — a deliberate simplification that
// keeps query correctness (bboxes always stay tight) at the cost of
// slightly looser fan-out after heavy deletion.
func (t *RTree) condense(path []uint64, leafID uint64, leafNode Node) error {
	curID, curNode := leafID, leafNode
	for level := len(path) - 2; level >= 0; level-- {
		parentID := path[level]
		parent, err := t.getNode(parentID)
		if err != nil {
			return err
		}
		if curNode.EntryCount() == 0 {
			out := parent.Internals[:0]
			for _, e := range parent.Internals {
				if e.Child != curID {
					out = append(out, e)
				}
			}
			parent.Internals = out
			t.cache.Remove(curID)
			if err := t.pager.Free(curID); err != nil {
				return err
			}
		} else {
			for i := range parent.Internals {
				if parent.Internals[i].Child == curID {
					parent.Internals[i].Box = curNode.BBox()
					break
				}
			}
		}
		if err := t.putNode(parentID, parent); err != nil {
			return err
		}
		curID, curNode = parentID, parent
	}
	return nil
}

// --- Queries ---

func (t *RTree) search(nodeID uint64, prune BBox, match func(BBox) bool, out *[]string) error {
	node, err := t.getNode(nodeID)
	if err != nil {
		return err
	}
	if node.IsLeaf() {
		for _, e := range node.Leaves {
			if match(e.Box) {
				*out = append(*out, e.ID)
			}
		}
		return nil
	}
	for _, e := range node.Internals {
		if !e.Box.Intersects(prune) {
			continue
		}
		if err := t.search(e.Child, prune, match, out); err != nil {
			return err
		}
	}
	return nil
}

// Intersects returns ids of every entry whose box intersects query.
func (t *RTree) Intersects(query BBox) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	err := t.search(t.pager.Header().RootPage, query, func(b BBox) bool { return b.Intersects(query) }, &out)
	return out, err
}

// Within returns ids of every entry whose box lies entirely inside query.
func (t *RTree) Within(query BBox) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	err := t.search(t.pager.Header().RootPage, query, func(b BBox) bool { return query.Contains(b) }, &out)
	return out, err
}

// Near returns ids whose box intersects the envelope of a circle of
// radius r centered at c — Near degrades to an Intersects query over
// that envelope (§4.7.5).
func (t *RTree) Near(center Point, radius float64) ([]string, error) {
	return t.Intersects(EnvelopeOf(center, radius).BBox())
}

type pqItem struct {
	dist   float64
	leaf   bool
	id     string
	pageID uint64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// KNearest returns up to k ids ordered by increasing distance from
// center, using a best-first priority-queue search over MinDistSq
// (§4.7.5) — Roussopoulos' incremental nearest-neighbor algorithm.
func (t *RTree) KNearest(center Point, k int) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if k <= 0 {
		return nil, nil
	}
	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, pqItem{pageID: t.pager.Header().RootPage})

	var result []string
	for pq.Len() > 0 && len(result) < k {
		item := heap.Pop(pq).(pqItem)
		if item.leaf {
			result = append(result, item.id)
			continue
		}
		node, err := t.getNode(item.pageID)
		if err != nil {
			return nil, err
		}
		if node.IsLeaf() {
			for _, e := range node.Leaves {
				heap.Push(pq, pqItem{dist: e.Box.MinDistSq(center), leaf: true, id: e.ID})
			}
			continue
		}
		for _, e := range node.Internals {
			heap.Push(pq, pqItem{dist: e.Box.MinDistSq(center), pageID: e.Child})
		}
	}
	return result, nil
}

// --- Bulk load ---

// Item is one (id, box) pair to bulk load.
type Item struct {
	ID  string
	Box BBox
}

// BulkLoad replaces the tree's contents with items, built bottom-up via
// Sort-Tile-Recursive (STR) partitioning — vastly tighter fan-out than
// repeated Insert for a known, static data set (§4.7.4).
func (t *RTree) BulkLoad(items []Item) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(items) == 0 {
		return nil
	}

	// The old tree is replaced wholesale; its pages go to the free list
	// so nothing is left both unreachable and unallocatable.
	if oldRoot := t.pager.Header().RootPage; oldRoot != freeListNone {
		if err := t.freeSubtree(oldRoot); err != nil {
			return err
		}
	}

	type built struct {
		id  uint64
		box BBox
	}

	groups := strPartition(items, func(it Item) BBox { return it.Box }, t.maxEntries)
	level := make([]built, 0, len(groups))
	for _, group := range groups {
		entries := make([]LeafEntry, len(group))
		var box BBox
		for i, it := range group {
			entries[i] = LeafEntry{Box: it.Box, ID: it.ID}
			box = box.Union(it.Box)
		}
		id, err := t.pager.Allocate()
		if err != nil {
			return err
		}
		if err := t.putNode(id, Node{Kind: pageKindLeaf, Leaves: entries}); err != nil {
			return err
		}
		level = append(level, built{id: id, box: box})
	}

	height := uint32(1)
	for len(level) > 1 {
		parentGroups := strPartition(level, func(b built) BBox { return b.box }, t.maxEntries)
		next := make([]built, 0, len(parentGroups))
		for _, group := range parentGroups {
			entries := make([]InternalEntry, len(group))
			var box BBox
			for i, b := range group {
				entries[i] = InternalEntry{Box: b.box, Child: b.id}
				box = box.Union(b.box)
			}
			id, err := t.pager.Allocate()
			if err != nil {
				return err
			}
			if err := t.putNode(id, Node{Kind: pageKindInternal, Level: height, Internals: entries}); err != nil {
				return err
			}
			next = append(next, built{id: id, box: box})
		}
		level = next
		height++
	}

	if err := t.pager.SetRoot(level[0].id, height); err != nil {
		return err
	}
	return t.pager.SetEntryCount(uint64(len(items)))
}

// freeSubtree returns every page of the subtree rooted at id to the
// free list.
func (t *RTree) freeSubtree(id uint64) error {
	node, err := t.getNode(id)
	if err != nil {
		return err
	}
	if !node.IsLeaf() {
		for _, e := range node.Internals {
			if err := t.freeSubtree(e.Child); err != nil {
				return err
			}
		}
	}
	t.cache.Remove(id)
	return t.pager.Free(id)
}

// hilbertOrder fixes the Hilbert grid resolution STR sorts on: 16 bits
// per axis comfortably exceeds the ≥8 the caller guidance asks for with
// geographic data, and the resulting 32-bit curve index still fits a
// uint64 with room to spare.
const hilbertOrder = 16

// strPartition groups items into STR tiles: every item's centroid is
// mapped onto a 2^hilbertOrder grid spanning the batch's bounding box,
// items are sorted by the Hilbert curve distance of that cell — the
// locality-preserving 1D index — and the sorted run is chunked into
// groupSize-sized tiles. Neighbors on the curve are neighbors in the
// plane, so consecutive chunks become tight, low-overlap nodes.
func strPartition[T any](items []T, boxOf func(T) BBox, groupSize int) [][]T {
	n := len(items)
	if n == 0 {
		return nil
	}

	// The whole batch's extent scales centroids into grid cells.
	extent := boxOf(items[0])
	for _, it := range items[1:] {
		extent = extent.Union(boxOf(it))
	}
	side := float64(uint32(1)<<hilbertOrder - 1)
	spanX := extent.MaxX - extent.MinX
	spanY := extent.MaxY - extent.MinY

	cell := func(v, min, span float64) uint32 {
		if span <= 0 {
			return 0
		}
		c := (v - min) / span * side
		if c < 0 {
			return 0
		}
		if c > side {
			return uint32(side)
		}
		return uint32(c)
	}

	type keyed struct {
		item T
		key  uint64
	}
	sorted := make([]keyed, n)
	for i, it := range items {
		center := boxOf(it).Center()
		sorted[i] = keyed{
			item: it,
			key: HilbertIndex(
				cell(center.X, extent.MinX, spanX),
				cell(center.Y, extent.MinY, spanY),
				hilbertOrder,
			),
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].key < sorted[j].key })

	var groups [][]T
	for i := 0; i < n; i += groupSize {
		end := i + groupSize
		if end > n {
			end = n
		}
		group := make([]T, 0, end-i)
		for _, k := range sorted[i:end] {
			group = append(group, k.item)
		}
		groups = append(groups, group)
	}
	return groups
}

// HilbertIndex computes the Hilbert curve distance of (x, y) on a
// 2^order x 2^order grid — the 1D sort key strPartition orders entries
// by during bulk loads.
func HilbertIndex(x, y uint32, order uint) uint64 {
	var rx, ry uint32
	var d uint64
	for s := uint32(1) << (order - 1); s > 0; s >>= 1 {
		if x&s > 0 {
			rx = 1
		} else {
			rx = 0
		}
		if y&s > 0 {
			ry = 1
		} else {
			ry = 0
		}
		d += uint64(s) * uint64(s) * uint64((3*rx)^ry)
		if ry == 0 {
			if rx == 1 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
	}
	return d
}
