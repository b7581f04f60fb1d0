package bundoc

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/query"
	"github.com/kartikbazzad/bundoc/value"
)

// Repository is a typed view over a collection: entities of type T map
// to documents through their JSON shape. One repository name (type name
// plus optional key) maps to exactly one collection.
type Repository[T any] struct {
	name string
	coll *Collection
}

// GetRepository opens the repository for T, optionally scoped by a key
// ("users of tenant X"). The backing collection is created lazily and
// registered in the catalog under the derived name.
func GetRepository[T any](db *Database, key ...string) (*Repository[T], error) {
	var zero T
	t := reflect.TypeOf(zero)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return nil, dberr.New(dberr.ObjectMapping, "repository type must be a named struct", nil)
	}
	name := t.Name()
	k := ""
	if len(key) > 0 && key[0] != "" {
		k = key[0]
		name = name + ":" + k
	}

	// Repository names must not collide with collection names.
	existing, err := db.catalog.collections()
	if err != nil {
		return nil, err
	}
	for _, c := range existing {
		if c == name {
			return nil, dberr.Validationf("name %q already names a collection", name)
		}
	}

	coll, err := db.repositoryCollection(name)
	if err != nil {
		return nil, err
	}
	if err := db.catalog.registerRepository(name, k); err != nil {
		return nil, err
	}
	if err := db.store.Commit(); err != nil {
		return nil, err
	}
	return &Repository[T]{name: name, coll: coll}, nil
}

// repositoryCollection builds the backing collection without registering
// it in the collections name set — the name belongs to the repositories
// set instead.
func (db *Database) repositoryCollection(name string) (*Collection, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.collections[name]; ok && c.IsOpen() {
		return c, nil
	}
	c, err := db.buildCollection(name)
	if err != nil {
		return nil, err
	}
	db.collections[name] = c
	return c, nil
}

// Name returns the derived repository name.
func (r *Repository[T]) Name() string { return r.name }

// Collection exposes the backing collection for index management and
// subscriptions.
func (r *Repository[T]) Collection() *Collection { return r.coll }

func (r *Repository[T]) toDocument(entity T) (*value.Document, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, dberr.New(dberr.ObjectMapping, "marshal entity", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		return nil, dberr.New(dberr.ObjectMapping, "entity must map to an object", nil)
	}
	doc := value.NewDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, dberr.New(dberr.ObjectMapping, "project entity to document", err)
	}
	return doc, nil
}

func (r *Repository[T]) fromDocument(doc *value.Document) (T, error) {
	var out T
	raw, err := doc.Serialize()
	if err != nil {
		return out, dberr.New(dberr.ObjectMapping, "serialize document", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, dberr.New(dberr.ObjectMapping, "project document to entity", err)
	}
	return out, nil
}

// Insert stores entity and returns its generated id.
func (r *Repository[T]) Insert(entity T) (string, error) {
	doc, err := r.toDocument(entity)
	if err != nil {
		return "", err
	}
	return r.coll.Insert(doc)
}

// Find returns every entity matching f.
func (r *Repository[T]) Find(f filter.Filter, opts ...query.FindOptions) ([]T, error) {
	cur, err := r.coll.Find(f, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	docs, err := cur.ToSlice()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		entity, err := r.fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// FindByID returns the entity stored under id.
func (r *Repository[T]) FindByID(id string) (T, error) {
	doc, err := r.coll.FindByID(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.fromDocument(doc)
}

// Update merges the entity's fields into every match of f.
func (r *Repository[T]) Update(f filter.Filter, entity T) (int, error) {
	doc, err := r.toDocument(entity)
	if err != nil {
		return 0, err
	}
	return r.coll.Update(f, doc)
}

// Remove deletes every entity matching f.
func (r *Repository[T]) Remove(f filter.Filter) (int, error) {
	return r.coll.Remove(f)
}

// Size returns the number of stored entities.
func (r *Repository[T]) Size() (int, error) {
	return r.coll.Size()
}
