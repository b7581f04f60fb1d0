package bundoc

// Engine selects the backing key-value store.
type Engine string

const (
	// EngineBTree is the built-in pager-backed B+Tree store.
	EngineBTree Engine = "btree"
	// EngineBBolt stores maps as buckets in a bbolt file.
	EngineBBolt Engine = "bbolt"
)

// Options configures a database before Open. The zero value is not
// usable; start from DefaultOptions or InMemoryOptions.
type Options struct {
	// Path is the directory holding the database files. Ignored when
	// InMemory is set.
	Path string
	// InMemory places all files in a private temp directory removed on
	// close.
	InMemory bool

	// FieldSeparator splits nested field paths in filters and
	// projections. Must be non-empty.
	FieldSeparator string
	// SchemaVersion is persisted on first open and must match on
	// subsequent opens.
	SchemaVersion uint32

	// Username/Password guard the database when set: credentials are
	// derived and stored on first open, verified on every open after.
	Username string
	Password string
	// EncryptionKey enables AES-GCM page encryption in the B+Tree
	// engine. Must be 32 bytes when set.
	EncryptionKey []byte

	// Engine picks the storage backend.
	Engine Engine
	// CacheSize is the storage buffer pool capacity, in pages.
	CacheSize int
	// SpatialCacheSize is the R-tree page cache capacity, in pages.
	SpatialCacheSize int
	// DisableWAL turns off write-ahead logging (always off in-memory).
	DisableWAL bool
	// AuditLog enables the append-only security audit trail next to the
	// database files.
	AuditLog bool
}

// DefaultOptions returns the standard configuration for a disk database
// rooted at path.
func DefaultOptions(path string) *Options {
	return &Options{
		Path:             path,
		FieldSeparator:   ".",
		SchemaVersion:    1,
		Engine:           EngineBTree,
		CacheSize:        256,
		SpatialCacheSize: 64,
	}
}

// InMemoryOptions returns the configuration for an ephemeral database.
func InMemoryOptions() *Options {
	o := DefaultOptions("")
	o.InMemory = true
	return o
}

func (o *Options) fillDefaults() {
	if o.FieldSeparator == "" {
		o.FieldSeparator = "."
	}
	if o.SchemaVersion == 0 {
		o.SchemaVersion = 1
	}
	if o.Engine == "" {
		o.Engine = EngineBTree
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 256
	}
	if o.SpatialCacheSize <= 0 {
		o.SpatialCacheSize = 64
	}
}
