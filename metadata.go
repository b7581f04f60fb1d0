package bundoc

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/kv"
	"github.com/kartikbazzad/bundoc/security"
)

// Catalog key layout inside the store's reserved map. Everything is
// JSON-encoded: the catalog is tiny and read once per open, so
// readability beats compactness.
const (
	catalogKeyCollections  = "names:collections"
	catalogKeyRepositories = "names:repositories"
	catalogKeyKeyedPrefix  = "names:keyed:"
	catalogKeyIndexPrefix  = "indexes:"
	catalogKeyUserPrefix   = "user:"
	catalogKeySchema       = "schema_version"
)

// catalog is the persisted registry of collection/repository names,
// per-collection index metadata, and credential records. It is
// authoritative on reopen: collections and indexes are reconstructed
// from it, and backing maps it does not reference are never touched.
type catalog struct {
	mu sync.Mutex
	m  kv.Map
}

func newCatalog(store kv.Store) (*catalog, error) {
	m, err := store.Catalog()
	if err != nil {
		return nil, err
	}
	return &catalog{m: m}, nil
}

func (c *catalog) readSet(key string) ([]string, error) {
	raw, ok, err := c.m.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, dberr.Corruptionf("malformed catalog entry %q", key)
	}
	return names, nil
}

func (c *catalog) writeSet(key string, names []string) error {
	sort.Strings(names)
	raw, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return c.m.Put([]byte(key), raw)
}

func addName(names []string, name string) ([]string, bool) {
	for _, n := range names {
		if n == name {
			return names, false
		}
	}
	return append(names, name), true
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// registerCollection records name in the collections set. Cross-set
// collision checks (collection vs repository names) happen at the
// database layer, which sees both registries.
func (c *catalog) registerCollection(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	names, err := c.readSet(catalogKeyCollections)
	if err != nil {
		return err
	}
	names, added := addName(names, name)
	if !added {
		return nil // already registered; reopen path
	}
	return c.writeSet(catalogKeyCollections, names)
}

func (c *catalog) unregisterCollection(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	names, err := c.readSet(catalogKeyCollections)
	if err != nil {
		return err
	}
	if err := c.writeSet(catalogKeyCollections, removeName(names, name)); err != nil {
		return err
	}
	return c.m.Remove([]byte(catalogKeyIndexPrefix + name))
}

func (c *catalog) collections() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readSet(catalogKeyCollections)
}

// registerRepository records a repository name. Every repository —
// keyed or not — lands in the repositories set (that set backs the
// cross-registry name-uniqueness check); keyed ones are additionally
// recorded under their key's own set.
func (c *catalog) registerRepository(name, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	names, err := c.readSet(catalogKeyRepositories)
	if err != nil {
		return err
	}
	if names, added := addName(names, name); added {
		if err := c.writeSet(catalogKeyRepositories, names); err != nil {
			return err
		}
	}
	if key == "" {
		return nil
	}
	keyed, err := c.readSet(catalogKeyKeyedPrefix + key)
	if err != nil {
		return err
	}
	if keyed, added := addName(keyed, name); added {
		return c.writeSet(catalogKeyKeyedPrefix+key, keyed)
	}
	return nil
}

func (c *catalog) repositories() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readSet(catalogKeyRepositories)
}

// indexMetas loads the persisted index metadata for a collection.
func (c *catalog) indexMetas(collection string) ([]index.Meta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok, err := c.m.Get([]byte(catalogKeyIndexPrefix + collection))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var metas []index.Meta
	if err := json.Unmarshal(raw, &metas); err != nil {
		return nil, dberr.Corruptionf("malformed index metadata for collection %q", collection)
	}
	return metas, nil
}

// saveIndexMetas persists the full index metadata list for a collection.
// Writing the whole list on every change keeps crash states simple: the
// catalog either names an index or it does not.
func (c *catalog) saveIndexMetas(collection string, metas []index.Meta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(metas)
	if err != nil {
		return err
	}
	return c.m.Put([]byte(catalogKeyIndexPrefix+collection), raw)
}

// schemaVersion returns the persisted schema version, or 0 when the
// database is fresh.
func (c *catalog) schemaVersion() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok, err := c.m.Get([]byte(catalogKeySchema))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var v uint32
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, dberr.Corruptionf("malformed schema version")
	}
	return v, nil
}

func (c *catalog) setSchemaVersion(v uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.m.Put([]byte(catalogKeySchema), raw)
}

// --- security.UserStore over the catalog ---

// GetUser implements security.UserStore.
func (c *catalog) GetUser(username string) (*security.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok, err := c.m.Get([]byte(catalogKeyUserPrefix + username))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dberr.Validationf("no such user %q", username)
	}
	var u security.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, dberr.Corruptionf("malformed user record %q", username)
	}
	return &u, nil
}

// SaveUser implements security.UserStore.
func (c *catalog) SaveUser(u *security.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.m.Put([]byte(catalogKeyUserPrefix+u.Username), raw)
}
