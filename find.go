package bundoc

import (
	"sync"

	"github.com/kartikbazzad/bundoc/cursor"
	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/fts"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/kv"
	"github.com/kartikbazzad/bundoc/mvcc"
	"github.com/kartikbazzad/bundoc/query"
	"github.com/kartikbazzad/bundoc/spatial"
	"github.com/kartikbazzad/bundoc/value"
)

// DocumentCursor is the public result of Find: a replayable cursor over
// matching documents. It pins a read snapshot of the collection, so the
// documents it yields stay stable while writers proceed; call Close when
// done to let the snapshot's versions be collected.
type DocumentCursor struct {
	*cursor.Cursor
	release func()
	once    sync.Once
}

// Close releases the cursor's read snapshot. Safe to call more than
// once; iterating after Close is still valid for already-produced
// (cached) entries.
func (dc *DocumentCursor) Close() {
	dc.once.Do(func() {
		if dc.release != nil {
			dc.release()
		}
	})
}

// Project returns a derived cursor restricting each document to the
// given dotted paths (plus _id). The derived cursor shares this cursor's
// snapshot; Close either one.
func (dc *DocumentCursor) Project(fields ...string) *DocumentCursor {
	return &DocumentCursor{
		Cursor:  cursor.Projected(dc.Cursor, fields),
		release: dc.release,
	}
}

// Join returns a derived cursor augmenting each document with the
// foreign documents whose ForeignField equals its LocalField, collected
// under TargetField. The foreign cursor is re-iterated per local
// document and stays owned by the caller.
func (dc *DocumentCursor) Join(foreign *DocumentCursor, opts cursor.JoinOptions) *DocumentCursor {
	return &DocumentCursor{
		Cursor:  cursor.Joined(dc.Cursor, foreign.Cursor, opts),
		release: dc.release,
	}
}

// Find returns a cursor over documents matching f, shaped by opts. With
// no options, every match returns in insertion order.
func (c *Collection) Find(f filter.Filter, opts ...query.FindOptions) (*DocumentCursor, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	opt := query.DefaultFindOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	if f == nil {
		f = filter.All()
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	plan := query.Optimizer{}.Plan(f, opt, c.engine.Descriptors())

	snap := c.versions.Begin()
	entries, err := c.executePlan(plan, snap)
	if err != nil {
		c.versions.Release(snap)
		return nil, err
	}

	cur := cursor.New(&snapshotSource{c: c, snap: snap, ids: entries})
	if plan.Distinct {
		cur = cursor.Unique(cur)
	}
	if len(plan.BlockingSortOrder) > 0 {
		keys := make([]cursor.SortKey, len(plan.BlockingSortOrder))
		for i, s := range plan.BlockingSortOrder {
			keys[i] = cursor.SortKey{Field: s.Field, Descending: s.Direction == query.Descending}
		}
		cur = cursor.Sorted(cur, keys)
	}
	if plan.Skip > 0 || plan.Limit > 0 {
		cur = cursor.Window(cur, plan.Skip, plan.Limit)
	}

	return &DocumentCursor{
		Cursor:  cur,
		release: func() { c.versions.Release(snap) },
	}, nil
}

// snapshotSource lazily resolves candidate ids to documents under the
// cursor's snapshot, dropping ids whose document is gone (or invisible)
// at the snapshot's timestamp.
type snapshotSource struct {
	c    *Collection
	snap *mvcc.Snapshot
	ids  []candidate
	pos  int
}

// candidate pairs an id with an optional residual filter from the plan
// (per-branch leftovers of a disjunction).
type candidate struct {
	id       string
	residual filter.Filter
}

func (s *snapshotSource) Next() (cursor.Entry, bool, error) {
	for s.pos < len(s.ids) {
		cand := s.ids[s.pos]
		s.pos++
		doc, ok, err := s.c.resolve(cand.id, s.snap)
		if err != nil {
			return cursor.Entry{}, false, err
		}
		if !ok {
			continue
		}
		if cand.residual != nil && !cand.residual.Apply(doc) {
			continue
		}
		return cursor.Entry{ID: cand.id, Doc: doc}, true, nil
	}
	return cursor.Entry{}, false, nil
}

func (s *snapshotSource) Reset() error {
	s.pos = 0
	return nil
}

// resolve reads id under snap: version chains first, primary map for
// documents unchanged since the snapshot opened.
func (c *Collection) resolve(id string, snap *mvcc.Snapshot) (*value.Document, bool, error) {
	if data, tracked := c.versions.VisibleDoc(id, snap); tracked {
		if data == nil {
			return nil, false, nil
		}
		doc, err := value.DeserializeDocument(data)
		return doc, err == nil, err
	}
	data, exists, err := c.primary.Get([]byte(id))
	if err != nil || !exists {
		return nil, false, err
	}
	doc, err := value.DeserializeDocument(data)
	return doc, err == nil, err
}

// executePlan turns a plan into the candidate id list.
func (c *Collection) executePlan(plan *query.FindPlan, snap *mvcc.Snapshot) ([]candidate, error) {
	switch {
	case plan.HasByID:
		idStr, ok := plan.ByID.AsString()
		if !ok {
			return nil, dberr.Filterf("_id filter value must be a string id")
		}
		return []candidate{{id: idStr, residual: plan.FullScanFilter}}, nil

	case len(plan.SubPlans) > 0:
		seen := make(map[string]struct{})
		var out []candidate
		for _, sub := range plan.SubPlans {
			subCands, err := c.executePlan(sub, snap)
			if err != nil {
				return nil, err
			}
			for _, cand := range subCands {
				if _, dup := seen[cand.id]; dup {
					continue
				}
				seen[cand.id] = struct{}{}
				out = append(out, cand)
			}
		}
		return out, nil

	case plan.IndexDescriptor != nil:
		ids, err := c.indexScan(*plan.IndexDescriptor, plan.IndexScanFilters)
		if err != nil {
			return nil, err
		}
		out := make([]candidate, len(ids))
		for i, id := range ids {
			out[i] = candidate{id: id, residual: plan.FullScanFilter}
		}
		return out, nil

	default:
		var out []candidate
		err := c.primary.Range(nil, nil, func(e kv.Entry) (bool, error) {
			out = append(out, candidate{id: string(e.Key), residual: plan.FullScanFilter})
			return true, nil
		})
		return out, err
	}
}

// matchLocked evaluates f and returns matching ids, stopping at one when
// justOne is set. Runs under the caller's write lock, reading current
// state directly (no snapshot).
func (c *Collection) matchLocked(f filter.Filter, justOne bool) ([]string, error) {
	if f == nil {
		f = filter.All()
	}
	plan := query.Optimizer{}.Plan(f, query.DefaultFindOptions(), c.engine.Descriptors())
	snap := c.versions.Begin()
	defer c.versions.Release(snap)

	cands, err := c.executePlan(plan, snap)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, cand := range cands {
		doc, ok, err := c.resolve(cand.id, snap)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if cand.residual != nil && !cand.residual.Apply(doc) {
			continue
		}
		ids = append(ids, cand.id)
		if justOne {
			break
		}
	}
	return ids, nil
}

// indexScan routes the index access path to the concrete indexer.
func (c *Collection) indexScan(desc index.Descriptor, used []filter.Filter) ([]string, error) {
	switch desc.IndexType {
	case index.Unique, index.NonUnique:
		return c.btreeScan(desc, used)
	case index.FullText:
		return c.ftsScan(desc, used)
	case index.Spatial:
		return c.spatialScan(desc, used)
	default:
		return nil, dberr.Indexingf("no scan strategy for index type %s", desc.IndexType)
	}
}

func (c *Collection) btreeScan(desc index.Descriptor, used []filter.Filter) ([]string, error) {
	idx, ok := c.engine.Indexer(desc.IndexType)
	if !ok {
		return nil, dberr.Indexingf("no indexer registered for type %s", desc.IndexType)
	}
	btree, ok := idx.(*index.BTreeIndexer)
	if !ok {
		return nil, dberr.Indexingf("index type %s is not a B-tree index", desc.IndexType)
	}

	// All-equality coverage turns into a point lookup (full or prefix).
	eqValues, allEq := equalityValues(desc, used)
	var cur index.Cursor
	var err error
	switch {
	case allEq && len(eqValues) == len(desc.Fields):
		if len(eqValues) == 1 {
			cur, err = btree.Eq(c.store, desc, eqValues[0])
		} else {
			cur, err = btree.EqComposite(c.store, desc, eqValues)
		}
	case allEq && len(eqValues) > 0:
		cur, err = btree.EqPrefix(c.store, desc, eqValues)
	case len(used) == 1:
		cur, err = c.btreeSingle(btree, desc, used[0])
	default:
		return nil, dberr.Filterf("unsupported index scan shape on %v", desc.Fields)
	}
	if err != nil {
		return nil, err
	}
	return drainIndexCursor(cur)
}

// equalityValues extracts per-field eq values in descriptor field order,
// stopping at the first field without an eq conjunct.
func equalityValues(desc index.Descriptor, used []filter.Filter) ([]value.Value, bool) {
	var out []value.Value
	for _, fieldName := range desc.Fields {
		found := false
		for _, u := range used {
			f, kind, v, ok := filter.CmpOf(u)
			if !ok || f != fieldName {
				continue
			}
			if kind != filter.CmpEq {
				return out, false
			}
			out = append(out, v)
			found = true
			break
		}
		if !found {
			break
		}
	}
	// allEq holds when every used conjunct is an eq we consumed.
	return out, len(out) == len(used)
}

func (c *Collection) btreeSingle(btree *index.BTreeIndexer, desc index.Descriptor, f filter.Filter) (index.Cursor, error) {
	if _, kind, v, ok := filter.CmpOf(f); ok {
		switch kind {
		case filter.CmpEq:
			return btree.Eq(c.store, desc, v)
		case filter.CmpNe:
			return btree.Ne(c.store, desc, v)
		case filter.CmpGt:
			return btree.Range(c.store, desc, v, value.Null(), false, false)
		case filter.CmpGte:
			return btree.Range(c.store, desc, v, value.Null(), true, false)
		case filter.CmpLt:
			return btree.Range(c.store, desc, value.Null(), v, false, false)
		case filter.CmpLte:
			return btree.Range(c.store, desc, value.Null(), v, false, true)
		}
	}
	if _, lo, hi, inclLo, inclHi, ok := filter.BetweenOf(f); ok {
		return btree.Range(c.store, desc, lo, hi, inclLo, inclHi)
	}
	if _, values, ok := filter.InOf(f); ok {
		return btree.In(c.store, desc, values)
	}
	return nil, dberr.Filterf("filter %s cannot drive a B-tree index scan", f.String())
}

func (c *Collection) ftsScan(desc index.Descriptor, used []filter.Filter) ([]string, error) {
	if len(used) != 1 {
		return nil, dberr.Filterf("full-text scan expects exactly one text filter")
	}
	_, q, phrase, ok := filter.TextOf(used[0])
	if !ok {
		return nil, dberr.Filterf("filter %s cannot drive a full-text index", used[0].String())
	}
	var ftsIdx fts.Indexer
	if phrase {
		ids, err := ftsIdx.Phrase(c.store, desc, q)
		if err != nil {
			return nil, err
		}
		// Postings narrow to documents containing every term; adjacency
		// is confirmed against the stored field value.
		return c.confirmPhrase(desc.Fields[0], q, ids)
	}
	return ftsIdx.Matches(c.store, desc, q)
}

func (c *Collection) confirmPhrase(field, q string, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		data, exists, err := c.primary.Get([]byte(id))
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		doc, err := value.DeserializeDocument(data)
		if err != nil {
			return nil, err
		}
		v, ok := doc.GetPath(field)
		if !ok {
			continue
		}
		text, ok := v.AsString()
		if !ok {
			continue
		}
		if fts.MatchesPhrase(text, q) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (c *Collection) spatialScan(desc index.Descriptor, used []filter.Filter) ([]string, error) {
	if len(used) != 1 {
		return nil, dberr.Filterf("spatial scan expects exactly one spatial filter")
	}
	sf, ok := filter.SpatialOf(used[0])
	if !ok {
		return nil, dberr.Filterf("filter %s cannot drive a spatial index", used[0].String())
	}
	ix := c.db.spatialIndexer
	switch sf.Mode() {
	case filter.SpatialWithin:
		return ix.Within(desc, sf.Geometry().BBox())
	case filter.SpatialIntersects:
		return ix.Intersects(desc, sf.Geometry().BBox())
	case filter.SpatialNear:
		center, radius, _ := sf.NearParams()
		ids, err := ix.Near(desc, center, radius)
		if err != nil {
			return nil, err
		}
		// Near's index pass is the envelope; exact distance refines it.
		return c.refineByDistance(desc.Fields[0], center, radius, ids)
	case filter.SpatialKNearest:
		center, _, k := sf.NearParams()
		return ix.KNearest(desc, center, k)
	default:
		return nil, dberr.Filterf("unknown spatial query mode")
	}
}

func (c *Collection) refineByDistance(field string, center spatial.Point, radius float64, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		data, exists, err := c.primary.Get([]byte(id))
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		doc, err := value.DeserializeDocument(data)
		if err != nil {
			return nil, err
		}
		v, ok := doc.GetPath(field)
		if !ok {
			continue
		}
		g, err := spatial.ValueToGeometry(v)
		if err != nil {
			continue
		}
		if spatial.Distance(g.BBox().Center(), center) <= radius {
			out = append(out, id)
		}
	}
	return out, nil
}

func drainIndexCursor(cur index.Cursor) ([]string, error) {
	var ids []string
	for {
		id, ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return ids, nil
		}
		ids = append(ids, id)
	}
}
