// Package kv defines the pluggable ordered key-value engine contract that
// backs collections and indexes, plus two concrete engines: an in-process
// B+Tree engine (memkv) and an adapter over go.etcd.io/bbolt for
// durable external storage. Collections and indexes never touch a
// concrete engine directly, only this interface, so a fresh engine can
// be added without touching the rest of the database.
package kv

import "io"

// Entry is one key/value pair yielded by a range scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Map is a single named ordered byte-string keyspace, the storage
// counterpart of a collection's primary store or one of its indexes.
type Map interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Remove(key []byte) error
	// Range iterates entries with key in [start, end] (both inclusive;
	// a nil start/end bound means unbounded in that direction), calling
	// fn for each until it returns false or an error occurs.
	Range(start, end []byte, fn func(Entry) (bool, error)) error
	Size() (int, error)
	Clear() error
}

// Store is an engine capable of hosting any number of named Maps plus a
// catalog map used to persist collection/index metadata. Implementations
// must be safe for concurrent use by multiple goroutines.
type Store interface {
	io.Closer

	// OpenMap returns the named map, creating it if it does not exist.
	OpenMap(name string) (Map, error)
	// DropMap permanently deletes a named map and its contents.
	DropMap(name string) error
	// HasMap reports whether a map with the given name exists.
	HasMap(name string) (bool, error)
	// MapNames lists every map currently open in the store.
	MapNames() ([]string, error)

	// Catalog is the single reserved map used by the database to persist
	// its collection/index metadata across restarts.
	Catalog() (Map, error)

	// Commit flushes any buffered writes to durable storage.
	Commit() error
	// HasUnsavedChanges reports whether Commit would have any effect.
	HasUnsavedChanges() bool
	// Compact reclaims space from deleted/overwritten entries.
	Compact() error
}

// EventKind enumerates store lifecycle events. The Store interface has no
// subscription method; these kinds are declarations only.
type EventKind int

const (
	EventOpened EventKind = iota
	EventCommit
	EventClosing
	EventClosed
)

// Event describes one store lifecycle event.
type Event struct {
	Kind EventKind
}
