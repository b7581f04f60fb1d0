// Package storage implements the built-in key-value engine behind
// kv.OpenMemStore: a single data file split into fixed-size pages
// (Pager), an SLRU page cache (BufferPool), and a disk-backed B+Tree
// over both. Pages are optionally AES-GCM encrypted at rest.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/bundoc/internal/util"
	"github.com/kartikbazzad/bundoc/security"
)

// Pager owns the backing file: raw page-aligned reads and writes, page
// allocation, and (when a key is configured) transparent page
// encryption. Each encrypted page grows by security.Overhead bytes on
// disk, so the disk stride differs from PageSize.
type Pager struct {
	mu         sync.RWMutex
	file       *os.File
	nextPageID PageID
	encryptor  *security.Encryptor
	stride     int64 // bytes per page on disk
}

// NewPager opens (or creates) the data file at filename. A non-empty key
// enables AES-256-GCM page encryption; the same key must be supplied on
// every subsequent open.
func NewPager(filename string, key []byte) (*Pager, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}

	p := &Pager{file: file, stride: PageSize}
	if len(key) > 0 {
		enc, err := security.NewEncryptor(key)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to init encryptor: %w", err)
		}
		p.encryptor = enc
		p.stride += int64(security.Overhead)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", util.ErrDiskReadFailed, err)
	}
	p.nextPageID = PageID(info.Size() / p.stride)
	return p, nil
}

// AllocatePage reserves the next PageID and extends the file to cover
// it.
func (p *Pager) AllocatePage() (PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextPageID
	p.nextPageID++
	if err := p.file.Truncate(int64(p.nextPageID) * p.stride); err != nil {
		return 0, fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	return id, nil
}

// ReadPage loads a page from disk, decrypting it when encryption is on.
func (p *Pager) ReadPage(id PageID) (*Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if id >= p.nextPageID {
		return nil, util.ErrInvalidPageID
	}

	raw := make([]byte, p.stride)
	n, err := p.file.ReadAt(raw, int64(id)*p.stride)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("%w: %v", util.ErrDiskReadFailed, err)
	}

	page := &Page{ID: id}
	if p.encryptor == nil {
		copy(page.Data[:], raw)
		return page, nil
	}
	plaintext, err := p.encryptor.DecryptBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("decryption failed for page %d: %w", id, err)
	}
	if len(plaintext) != PageSize {
		return nil, fmt.Errorf("corrupt page size after decrypt: %d", len(plaintext))
	}
	copy(page.Data[:], plaintext)
	return page, nil
}

// WritePage stores a page to disk, encrypting it when encryption is on,
// and clears its dirty flag.
func (p *Pager) WritePage(page *Page) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if page.ID >= p.nextPageID {
		return util.ErrInvalidPageID
	}

	out := page.Data[:]
	if p.encryptor != nil {
		sealed, err := p.encryptor.EncryptBlock(page.Data[:])
		if err != nil {
			return fmt.Errorf("encryption failed: %w", err)
		}
		out = sealed
	}
	if _, err := p.file.WriteAt(out, int64(page.ID)*p.stride); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}

	page.mu.Lock()
	page.IsDirty = false
	page.mu.Unlock()
	return nil
}

// Sync flushes the file to stable storage.
func (p *Pager) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	return nil
}

// Close syncs and closes the file. Safe to call on an already-closed
// pager only once.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// GetNextPageID returns the id the next allocation will take; zero means
// a fresh, empty file.
func (p *Pager) GetNextPageID() PageID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nextPageID
}
