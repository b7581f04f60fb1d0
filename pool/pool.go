// Package pool hands out pooled handles to a bundoc database. Opening
// the same path returns refcounted handles onto one shared engine core,
// so a pooled "connection" is cheap — the pool's job is bounding the
// number of outstanding handles, reaping idle ones, and replacing
// handles whose database has been closed underneath them.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/kartikbazzad/bundoc"
)

// Handle is one pooled database reference.
type Handle struct {
	db *bundoc.Database
	id uint64

	mu       sync.Mutex
	inUse    bool
	lastUsed time.Time
}

// DB returns the underlying database.
func (h *Handle) DB() *bundoc.Database { return h.db }

// ID returns the handle's pool-local id.
func (h *Handle) ID() uint64 { return h.id }

// InUse reports whether the handle is currently acquired.
func (h *Handle) InUse() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

func (h *Handle) setInUse(v bool) {
	h.mu.Lock()
	h.inUse = v
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

func (h *Handle) idleSince() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// Options bounds the pool.
type Options struct {
	// MinIdle handles are opened up front and kept alive by the reaper.
	MinIdle int
	// MaxOpen caps the total number of handles; Acquire fails beyond it.
	MaxOpen int
	// IdleTimeout is how long an unused handle above MinIdle may linger.
	IdleTimeout time.Duration
	// ReapInterval is how often the reaper looks for idle/dead handles.
	ReapInterval time.Duration
}

// DefaultOptions returns the standard pool bounds.
func DefaultOptions() *Options {
	return &Options{
		MinIdle:      5,
		MaxOpen:      100,
		IdleTimeout:  5 * time.Minute,
		ReapInterval: 30 * time.Second,
	}
}

// Pool owns a bounded set of handles to one database path.
type Pool struct {
	dbOpts *bundoc.Options
	opts   Options

	mu      sync.Mutex
	handles []*Handle
	nextID  uint64
	closed  bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewPool opens a pool for the database at path. dbOpts nil means
// bundoc.DefaultOptions(path); poolOpts nil means DefaultOptions.
func NewPool(path string, dbOpts *bundoc.Options, poolOpts *Options) (*Pool, error) {
	if dbOpts == nil {
		dbOpts = bundoc.DefaultOptions(path)
	}
	if poolOpts == nil {
		poolOpts = DefaultOptions()
	}

	p := &Pool{
		dbOpts: dbOpts,
		opts:   *poolOpts,
		quit:   make(chan struct{}),
	}
	for i := 0; i < p.opts.MinIdle; i++ {
		h, err := p.open()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pool: open initial handle: %w", err)
		}
		p.handles = append(p.handles, h)
	}

	p.wg.Add(1)
	go p.reaper()
	return p, nil
}

// open creates one fresh handle. Callers hold p.mu or are in NewPool.
func (p *Pool) open() (*Handle, error) {
	db, err := bundoc.Open(p.dbOpts)
	if err != nil {
		return nil, err
	}
	p.nextID++
	return &Handle{db: db, id: p.nextID, lastUsed: time.Now()}, nil
}

// Acquire returns a free handle, growing the pool up to MaxOpen.
func (p *Pool) Acquire() (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("pool: closed")
	}
	for _, h := range p.handles {
		if !h.InUse() && !h.db.IsClosed() {
			h.setInUse(true)
			return h, nil
		}
	}
	if len(p.handles) >= p.opts.MaxOpen {
		return nil, fmt.Errorf("pool: exhausted (%d handles open)", p.opts.MaxOpen)
	}
	h, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("pool: open handle: %w", err)
	}
	h.setInUse(true)
	p.handles = append(p.handles, h)
	return h, nil
}

// Release returns a handle to the pool.
func (p *Pool) Release(h *Handle) error {
	if h == nil {
		return fmt.Errorf("pool: cannot release nil handle")
	}
	h.setInUse(false)
	return nil
}

// reaper closes idle handles above MinIdle and replaces dead ones.
func (p *Pool) reaper() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reap()
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) reap() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	kept := p.handles[:0]
	for _, h := range p.handles {
		switch {
		case h.InUse():
			kept = append(kept, h)
		case h.db.IsClosed():
			// The database went away underneath the handle; drop it.
		case now.Sub(h.idleSince()) > p.opts.IdleTimeout && len(kept) >= p.opts.MinIdle:
			h.db.Close()
		default:
			kept = append(kept, h)
		}
	}
	p.handles = kept

	for len(p.handles) < p.opts.MinIdle {
		h, err := p.open()
		if err != nil {
			return
		}
		p.handles = append(p.handles, h)
	}
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Total   int
	Active  int
	Idle    int
	MinIdle int
	MaxOpen int
}

// GetStats snapshots the pool's counters.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.handles), MinIdle: p.opts.MinIdle, MaxOpen: p.opts.MaxOpen}
	for _, h := range p.handles {
		if h.InUse() {
			s.Active++
		} else {
			s.Idle++
		}
	}
	return s
}

// Close stops the reaper and closes every handle. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	close(p.quit)
	p.wg.Wait()

	var firstErr error
	for _, h := range handles {
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
