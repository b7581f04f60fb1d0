package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptedPagesUnreadableOnDisk(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	dir := t.TempDir()
	encPath := filepath.Join(dir, "enc.db")
	plainPath := filepath.Join(dir, "plain.db")
	marker := []byte("super-secret-document-contents")

	writeOne := func(path string, key []byte) {
		p, err := NewPager(path, key)
		require.NoError(t, err)
		id, err := p.AllocatePage()
		require.NoError(t, err)
		page := NewPage(id, PageTypeLeaf)
		page.WriteAt(PageHeaderSize, marker)
		require.NoError(t, p.WritePage(page))
		require.NoError(t, p.Close())
	}
	writeOne(encPath, key)
	writeOne(plainPath, nil)

	encRaw, err := os.ReadFile(encPath)
	require.NoError(t, err)
	plainRaw, err := os.ReadFile(plainPath)
	require.NoError(t, err)

	assert.True(t, bytes.Contains(plainRaw, marker), "plaintext file must carry the marker")
	assert.False(t, bytes.Contains(encRaw, marker), "ciphertext file must not leak the marker")

	// The right key round-trips.
	p, err := NewPager(encPath, key)
	require.NoError(t, err)
	got, err := p.ReadPage(0)
	require.NoError(t, err)
	assert.Equal(t, marker, got.ReadAt(PageHeaderSize, len(marker)))
	require.NoError(t, p.Close())

	// A wrong key fails authentication instead of returning garbage.
	wrong, err := NewPager(encPath, []byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	defer wrong.Close()
	_, err = wrong.ReadPage(0)
	assert.Error(t, err)
}
