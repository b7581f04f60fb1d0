package kv

import (
	"bytes"

	"github.com/kartikbazzad/bundoc/dberr"
	bolt "go.etcd.io/bbolt"
)

const catalogBucket = "__bundoc_catalog__"

// boltStore adapts go.etcd.io/bbolt to the Store contract: every named
// Map is a top-level bbolt bucket. bbolt already gives us durable,
// crash-safe ordered byte-string storage, so this engine exists purely
// as a thin translation layer for callers that want an external,
// well-tested LSM-free backend instead of the in-process memkv engine.
type boltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) a bbolt-backed store at path.
func OpenBoltStore(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, dberr.IOErrorf(err, "open bbolt store at %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(catalogBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, dberr.IOErrorf(err, "create catalog bucket")
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) OpenMap(name string) (Map, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, dberr.IOErrorf(err, "open bucket %q", name)
	}
	return &boltMap{db: s.db, bucket: name}, nil
}

func (s *boltStore) DropMap(name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket([]byte(name))
	})
	if err != nil && err != bolt.ErrBucketNotFound {
		return dberr.IOErrorf(err, "drop bucket %q", name)
	}
	return nil
}

func (s *boltStore) HasMap(name string) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return exists, err
}

func (s *boltStore) MapNames() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if string(name) != catalogBucket {
				names = append(names, string(name))
			}
			return nil
		})
	})
	return names, err
}

func (s *boltStore) Catalog() (Map, error) {
	return &boltMap{db: s.db, bucket: catalogBucket}, nil
}

func (s *boltStore) Commit() error {
	// bbolt commits each Update transaction synchronously; there is no
	// separate batched-commit step to trigger here.
	return nil
}

func (s *boltStore) HasUnsavedChanges() bool { return false }

func (s *boltStore) Compact() error {
	// Caller-driven compaction would require copying into a fresh file
	// via bolt's own backup API; not exercised by bundoc's write path.
	return nil
}

func (s *boltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return dberr.IOErrorf(err, "close bbolt store")
	}
	return nil
}

type boltMap struct {
	db     *bolt.DB
	bucket string
}

func (m *boltMap) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.bucket))
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	return val, val != nil, err
}

func (m *boltMap) Put(key, value []byte) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(m.bucket))
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
	if err != nil {
		return dberr.IOErrorf(err, "put into bucket %q", m.bucket)
	}
	return nil
}

func (m *boltMap) Remove(key []byte) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.bucket))
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
	if err != nil {
		return dberr.IOErrorf(err, "remove from bucket %q", m.bucket)
	}
	return nil
}

func (m *boltMap) Range(start, end []byte, fn func(Entry) (bool, error)) error {
	return m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var k, v []byte
		if start == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(start)
		}
		for ; k != nil; k, v = c.Next() {
			if end != nil && bytes.Compare(k, end) > 0 {
				break
			}
			cont, err := fn(Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

func (m *boltMap) Size() (int, error) {
	n := 0
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.bucket))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

func (m *boltMap) Clear() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(m.bucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(m.bucket))
		return err
	})
}
