package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/internal/config"
	"pagedb/internal/core"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.CachePages = 16
	return cfg
}

func TestMemStoreAllocateReadUpdate(t *testing.T) {
	s := NewMemStore(testConfig())
	id, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	buf, err := s.Read(id)
	require.NoError(t, err)
	require.Len(t, buf, s.PageSize())

	buf[0] = byte(PageDataLeaf)
	require.NoError(t, s.Update(id, buf))
	again, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, byte(PageDataLeaf), again[0])
}

func TestReadRejectsBadIDs(t *testing.T) {
	s := NewMemStore(testConfig())
	_, err := s.Read(0)
	assert.Equal(t, core.FileCorrupted1, core.CodeOf(err))
	_, err = s.Read(99)
	assert.Error(t, err)

	id, _ := s.Allocate()
	require.NoError(t, s.Free(id))
	_, err = s.Read(id)
	assert.Error(t, err)
}

func TestUndoRollbackRestoresPreImages(t *testing.T) {
	s := NewMemStore(testConfig())
	id, _ := s.Allocate()
	buf, _ := s.Read(id)
	buf[10] = 1
	require.NoError(t, s.Update(id, buf))
	require.NoError(t, s.Commit())

	// Modify under undo protection, then abort.
	require.NoError(t, s.LogUndo(id))
	buf, _ = s.Read(id)
	buf[10] = 2
	require.NoError(t, s.Update(id, buf))
	id2, _ := s.Allocate()
	require.NoError(t, s.Rollback())

	buf, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, byte(1), buf[10])
	_, err = s.Read(id2)
	assert.Error(t, err, "page allocated in the aborted transaction is gone")
	assert.Equal(t, 1, s.LivePages())
}

func TestFreeAndReuse(t *testing.T) {
	s := NewMemStore(testConfig())
	a, _ := s.Allocate()
	b, _ := s.Allocate()
	require.NoError(t, s.Commit())
	require.NoError(t, s.Free(a))
	require.NoError(t, s.Commit())
	assert.Equal(t, 1, s.LivePages())

	c, err := s.Allocate()
	require.NoError(t, err)
	assert.Equal(t, a, c, "lowest free page is reused")
	assert.NotEqual(t, b, c)
	assert.Equal(t, 2, s.LivePages())
}

func TestDoubleFree(t *testing.T) {
	s := NewMemStore(testConfig())
	id, _ := s.Allocate()
	require.NoError(t, s.Commit())
	require.NoError(t, s.Free(id))
	err := s.Free(id)
	assert.Equal(t, core.FileCorrupted1, core.CodeOf(err))
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	s := NewMemStore(testConfig())
	id, _ := s.Allocate()
	s.SetReadOnly()
	_, err := s.Allocate()
	assert.Error(t, err)
	assert.Error(t, s.Update(id, make([]byte, s.PageSize())))
	assert.Error(t, s.Free(id))
}

func TestFileStorePersistsAcrossClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pagedb")
	s, err := Open(path, testConfig())
	require.NoError(t, err)
	id, err := s.Allocate()
	require.NoError(t, err)
	buf, _ := s.Read(id)
	buf[0] = byte(PageDataLeaf)
	copy(buf[100:], "payload")
	require.NoError(t, s.Update(id, buf))
	require.NoError(t, s.Commit())
	require.NoError(t, s.Close())

	s2, err := Open(path, testConfig())
	require.NoError(t, err)
	defer s2.Close()
	assert.True(t, s2.CleanShutdown())
	got, err := s2.Read(id)
	require.NoError(t, err)
	assert.Equal(t, byte(PageDataLeaf), got[0])
	assert.Equal(t, "payload", string(got[100:107]))
}

func TestFileStoreDetectsUncleanShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.pagedb")
	s, err := Open(path, testConfig())
	require.NoError(t, err)
	_, err = s.Allocate()
	require.NoError(t, err)
	// Commit writes pages and invalidates the footer; skipping Close
	// models a crash before the clean-shutdown footer is written.
	require.NoError(t, s.Commit())

	s2, err := Open(path, testConfig())
	require.NoError(t, err)
	defer s2.Close()
	assert.False(t, s2.CleanShutdown())
}

func TestFileStoreFreeListSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "free.pagedb")
	s, err := Open(path, testConfig())
	require.NoError(t, err)
	a, _ := s.Allocate()
	_, _ = s.Allocate()
	require.NoError(t, s.Commit())
	require.NoError(t, s.Free(a))
	require.NoError(t, s.Close())

	s2, err := Open(path, testConfig())
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 2, s2.PageCount())
	assert.Equal(t, 1, s2.LivePages())
	id, err := s2.Allocate()
	require.NoError(t, err)
	assert.Equal(t, a, id)
}

func TestPinnedPagesAreNotEvicted(t *testing.T) {
	cfg := testConfig()
	s := NewMemStore(cfg)
	first, _ := s.Allocate()
	s.Pin(first)
	for i := 0; i < cfg.CachePages+8; i++ {
		_, err := s.Allocate()
		require.NoError(t, err)
	}
	buf, err := s.Read(first)
	require.NoError(t, err)
	assert.Len(t, buf, s.PageSize())
	s.Unpin(first)
}
