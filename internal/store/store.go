package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"pagedb/internal/config"
	"pagedb/internal/core"
)

// PageType is the first byte of every page.
type PageType byte

const (
	PageEmpty            PageType = 0
	PageDataLeaf         PageType = 1
	PageDataNode         PageType = 2
	PageBTreeLeaf        PageType = 3
	PageBTreeNode        PageType = 4
	PageDataOverflow     PageType = 5
	PageDataOverflowLast PageType = 6
	PageFreeList         PageType = 7
	PageLog              PageType = 8
)

// FlagLast marks the last page of a chain.
const FlagLast byte = 0x10

// Root is the parent page id of a root page; page id 0 is never
// allocated, so a zero child pointer is always corruption.
const Root = 0

// Store is the page store contract the access paths are written
// against. Callers are serialised by the database lock; the store does
// no locking of its own.
type Store interface {
	// PageSize returns the fixed page size in bytes.
	PageSize() int
	// Allocate returns a fresh zeroed page.
	Allocate() (int, error)
	// Read returns the cached buffer of a page. The buffer is shared;
	// mutate it only between LogUndo and Update.
	Read(id int) ([]byte, error)
	// LogUndo records the pre-image of a page once per transaction.
	// It must be called before every in-place modification.
	LogUndo(id int) error
	// Update marks a page dirty after an in-place modification.
	Update(id int, data []byte) error
	// Free returns a page to the free list.
	Free(id int) error
	// Pin prevents eviction while a cursor references the page.
	Pin(id int)
	// Unpin releases a Pin.
	Unpin(id int)
	// Commit makes all updates since the last commit durable and
	// truncates the undo log.
	Commit() error
	// Rollback replays the undo log in reverse, restoring every
	// modified page and undoing allocations and frees.
	Rollback() error
	// CleanShutdown reports whether the file was closed cleanly the
	// last time; when false, persistent indexes need a rebuild.
	CleanShutdown() bool
	// AllowEmptyPages reports the compatibility toggle: when false,
	// an empty non-root tree page is treated as corruption.
	AllowEmptyPages() bool
	// PageCount returns the number of allocated pages, free included.
	PageCount() int
	// LivePages returns the number of allocated, non-free pages.
	LivePages() int
	ReadOnly() bool
	// SetReadOnly flips the store read-only after a detected
	// corruption; every later mutation fails.
	SetReadOnly()
	Close() error
}

type undoRecord struct {
	id       int
	preImage []byte // nil for pages allocated in this transaction
	freed    bool
}

// fileStore backs Store with a single-chunk page file. A nil file
// makes it a pure in-memory store for tests and temporary tables.
type fileStore struct {
	cfg      *config.Config
	file     *os.File
	cache    *pageCache
	pages    map[int][]byte // authoritative copies not yet evicted to disk
	freeList map[int]bool
	nextPage int
	version  int64
	undo     []undoRecord
	undoSeen map[int]bool
	dirty    map[int]bool
	clean    bool
	readOnly bool
}

// Open opens or creates the page file at path.
func Open(path string, cfg *config.Config) (Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	s := &fileStore{
		cfg:      cfg,
		file:     f,
		cache:    newPageCache(cfg.CachePages),
		pages:    make(map[int][]byte),
		freeList: make(map[int]bool),
		nextPage: 1,
		undoSeen: make(map[int]bool),
		dirty:    make(map[int]bool),
		clean:    true,
		readOnly: cfg.ReadOnly,
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat %q: %w", path, err)
	}
	if st.Size() == 0 {
		if err := s.writeHeaderAndFooter(true); err != nil {
			f.Close()
			return nil, err
		}
		return s, nil
	}
	if err := s.load(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// NewMemStore returns an in-memory store with the given page size.
func NewMemStore(cfg *config.Config) Store {
	if cfg == nil {
		cfg = config.Default()
	}
	return &fileStore{
		cfg:      cfg,
		cache:    newPageCache(cfg.CachePages),
		pages:    make(map[int][]byte),
		freeList: make(map[int]bool),
		nextPage: 1,
		undoSeen: make(map[int]bool),
		dirty:    make(map[int]bool),
		clean:    true,
	}
}

func (s *fileStore) PageSize() int         { return s.cfg.PageSize }
func (s *fileStore) CleanShutdown() bool   { return s.clean }
func (s *fileStore) AllowEmptyPages() bool { return s.cfg.AllowEmptyPages }
func (s *fileStore) ReadOnly() bool        { return s.readOnly }
func (s *fileStore) SetReadOnly()          { s.readOnly = true }

func (s *fileStore) PageCount() int { return s.nextPage - 1 }

func (s *fileStore) LivePages() int { return s.nextPage - 1 - len(s.freeList) }

func (s *fileStore) Allocate() (int, error) {
	if s.readOnly {
		return 0, fmt.Errorf("store: allocate: store is read-only")
	}
	var id int
	if len(s.freeList) > 0 {
		// Prefer the lowest free page to keep the file compact.
		id = -1
		for f := range s.freeList {
			if id < 0 || f < id {
				id = f
			}
		}
		delete(s.freeList, id)
	} else {
		id = s.nextPage
		s.nextPage++
	}
	buf := make([]byte, s.cfg.PageSize)
	s.pages[id] = buf
	s.cache.put(id, buf)
	s.dirty[id] = true
	s.undo = append(s.undo, undoRecord{id: id, preImage: nil})
	return id, nil
}

func (s *fileStore) Read(id int) ([]byte, error) {
	if id <= 0 || id >= s.nextPage {
		return nil, core.NewFileCorrupted(id, "page id out of range")
	}
	if s.freeList[id] {
		return nil, core.NewFileCorrupted(id, "read of freed page")
	}
	if e := s.cache.get(id); e != nil {
		return e.data, nil
	}
	buf, ok := s.pages[id]
	if !ok {
		var err error
		buf, err = s.readFromFile(id)
		if err != nil {
			return nil, err
		}
		s.pages[id] = buf
	}
	_, evicted := s.cache.put(id, buf)
	s.evict(evicted)
	return buf, nil
}

// evict drops clean evicted entries from the in-memory page map so the
// cache bound is honoured; dirty or undo-protected pages stay resident
// until commit.
func (s *fileStore) evict(entries []*cacheEntry) {
	for _, e := range entries {
		if s.file == nil || s.dirty[e.id] || s.undoSeen[e.id] {
			continue
		}
		delete(s.pages, e.id)
	}
}

func (s *fileStore) LogUndo(id int) error {
	if s.undoSeen[id] {
		return nil
	}
	buf, err := s.Read(id)
	if err != nil {
		return err
	}
	pre := make([]byte, len(buf))
	copy(pre, buf)
	s.undo = append(s.undo, undoRecord{id: id, preImage: pre})
	s.undoSeen[id] = true
	return nil
}

func (s *fileStore) Update(id int, data []byte) error {
	if s.readOnly {
		return fmt.Errorf("store: update page %d: store is read-only", id)
	}
	if len(data) != s.cfg.PageSize {
		return fmt.Errorf("store: update page %d: buffer size %d != page size %d", id, len(data), s.cfg.PageSize)
	}
	s.pages[id] = data
	s.cache.put(id, data)
	s.dirty[id] = true
	return nil
}

func (s *fileStore) Free(id int) error {
	if s.readOnly {
		return fmt.Errorf("store: free page %d: store is read-only", id)
	}
	if id <= 0 || id >= s.nextPage || s.freeList[id] {
		return core.NewFileCorrupted(id, "double free")
	}
	if err := s.LogUndo(id); err != nil {
		return err
	}
	s.undo = append(s.undo, undoRecord{id: id, freed: true})
	s.freeList[id] = true
	s.cache.drop(id)
	return nil
}

func (s *fileStore) Pin(id int)   { s.cache.pin(id) }
func (s *fileStore) Unpin(id int) { s.cache.unpin(id) }

func (s *fileStore) Commit() error {
	if s.file != nil {
		ids := make([]int, 0, len(s.dirty))
		for id := range s.dirty {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			if s.freeList[id] {
				continue
			}
			buf, ok := s.pages[id]
			if !ok {
				continue
			}
			if _, err := s.file.WriteAt(buf, s.pageOffset(id)); err != nil {
				return fmt.Errorf("store: write page %d: %w", id, err)
			}
		}
		s.version++
		if err := s.writeHeaderAndFooter(false); err != nil {
			return err
		}
	}
	s.undo = nil
	s.undoSeen = make(map[int]bool)
	s.dirty = make(map[int]bool)
	return nil
}

func (s *fileStore) Rollback() error {
	for i := len(s.undo) - 1; i >= 0; i-- {
		rec := s.undo[i]
		switch {
		case rec.freed:
			delete(s.freeList, rec.id)
		case rec.preImage == nil:
			// Page allocated inside the aborted transaction.
			delete(s.pages, rec.id)
			s.cache.drop(rec.id)
			delete(s.dirty, rec.id)
			if rec.id == s.nextPage-1 {
				s.nextPage--
			} else {
				s.freeList[rec.id] = true
			}
		default:
			buf := make([]byte, len(rec.preImage))
			copy(buf, rec.preImage)
			s.pages[rec.id] = buf
			s.cache.put(rec.id, buf)
			s.dirty[rec.id] = true
		}
	}
	s.undo = nil
	s.undoSeen = make(map[int]bool)
	return nil
}

func (s *fileStore) Close() error {
	if s.file == nil {
		return nil
	}
	if !s.readOnly {
		if err := s.Commit(); err != nil {
			return err
		}
		// A footer matching the header version marks a clean close.
		if err := s.writeHeaderAndFooter(true); err != nil {
			return err
		}
	}
	return s.file.Close()
}

func (s *fileStore) pageOffset(id int) int64 {
	return int64(BlockSize) + int64(id-1)*int64(s.cfg.PageSize)
}

func (s *fileStore) readFromFile(id int) ([]byte, error) {
	if s.file == nil {
		return nil, core.NewFileCorrupted(id, "page missing from memory store")
	}
	buf := make([]byte, s.cfg.PageSize)
	if _, err := s.file.ReadAt(buf, s.pageOffset(id)); err != nil {
		return nil, core.NewFileCorrupted(id, "read: "+err.Error())
	}
	return buf, nil
}

// writeHeaderAndFooter persists the chunk header; withFooter also
// writes the matching footer, which marks the file consistent.
func (s *fileStore) writeHeaderAndFooter(withFooter bool) error {
	h := newChunkHeader()
	h.Chunk = 0
	h.Block = 0
	h.Pages = int64(s.nextPage - 1)
	h.LivePages = int64(s.LivePages())
	h.Map = int64(s.cfg.PageSize)
	h.Max = int64(s.nextPage - 1)
	h.Root = 0
	h.Time = time.Now().UnixMilli()
	h.Version = s.version
	h.Len = (int64(s.nextPage-1)*int64(s.cfg.PageSize) + BlockSize + FooterLen + BlockSize - 1) / BlockSize
	if total := s.nextPage - 1; total > 0 {
		h.Occupancy = int64(s.LivePages()) * 1000 / int64(total)
	}
	raw, err := h.Encode()
	if err != nil {
		return err
	}
	freeRaw := s.encodeFreeList()
	block := make([]byte, BlockSize)
	copy(block, raw)
	copy(block[HeaderMaxLen:], freeRaw)
	if _, err := s.file.WriteAt(block, 0); err != nil {
		return fmt.Errorf("store: write chunk header: %w", err)
	}
	end := s.pageOffset(s.nextPage)
	if withFooter {
		ft := ChunkFooter{Chunk: 0, Block: 0, Version: s.version}
		if _, err := s.file.WriteAt(ft.Encode(), end); err != nil {
			return fmt.Errorf("store: write chunk footer: %w", err)
		}
	} else {
		// Invalidate any stale footer so a crash is detectable.
		blank := make([]byte, FooterLen)
		if _, err := s.file.WriteAt(blank, end); err != nil {
			return fmt.Errorf("store: clear chunk footer: %w", err)
		}
	}
	return s.file.Sync()
}

// encodeFreeList serialises the free page ids into the spare space of
// the header block: page type, count, then 32-bit ids.
func (s *fileStore) encodeFreeList() []byte {
	ids := make([]int, 0, len(s.freeList))
	for id := range s.freeList {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	buf := make([]byte, 0, 8+4*len(ids))
	buf = append(buf, byte(PageFreeList)|FlagLast)
	buf = binary.BigEndian.AppendUint32(buf, uint32(s.nextPage-1))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ids)))
	for _, id := range ids {
		buf = binary.BigEndian.AppendUint32(buf, uint32(id))
	}
	return buf
}

func (s *fileStore) load() error {
	head := make([]byte, BlockSize)
	if _, err := s.file.ReadAt(head, 0); err != nil && err != io.EOF {
		return fmt.Errorf("store: read chunk header: %w", err)
	}
	h, err := ParseChunkHeader(head[:HeaderMaxLen])
	if err != nil {
		return err
	}
	if h.Map > 0 && int(h.Map) != s.cfg.PageSize {
		return fmt.Errorf("store: file page size %d != configured %d", h.Map, s.cfg.PageSize)
	}
	s.version = h.Version
	s.nextPage = int(h.Pages) + 1
	free := head[HeaderMaxLen:]
	if PageType(free[0]&^FlagLast) == PageFreeList {
		cnt := int(binary.BigEndian.Uint32(free[5:9]))
		for i := 0; i < cnt; i++ {
			id := int(binary.BigEndian.Uint32(free[9+4*i : 13+4*i]))
			s.freeList[id] = true
		}
	}
	// A valid footer with the header's version means the last close
	// was clean; anything else is an unclean shutdown.
	s.clean = false
	foot := make([]byte, FooterLen)
	if _, err := s.file.ReadAt(foot, s.pageOffset(s.nextPage)); err == nil {
		if ft, err := ParseChunkFooter(foot); err == nil && ft.Version == h.Version {
			s.clean = true
		}
	}
	return nil
}
