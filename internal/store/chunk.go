// Package store implements the page store: a block-addressed file of
// fixed-size pages grouped into chunks, with an LRU page cache, a free
// list, and an undo log for in-place modifications.
package store

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BlockSize is the allocation unit of the page file. Pages are
// multiples of it and the chunk header occupies exactly one block's
// first kilobyte.
const BlockSize = 4096

// MaxChunkID bounds chunk ids to 26 bits.
const MaxChunkID = 1<<26 - 1

// HeaderMaxLen is the chunk header budget: ISO-8859-1 text, newline
// terminated, space padded.
const HeaderMaxLen = 1024

// FooterLen is the fixed chunk footer size.
const FooterLen = 128

// ChunkHeader is the small-map at the start of a chunk. Optional
// fields stay at -1 when absent.
type ChunkHeader struct {
	Chunk           int64
	Block           int64
	Len             int64
	Pages           int64
	LivePages       int64
	Map             int64
	Max             int64
	LiveMax         int64
	Root            int64
	Time            int64
	Unused          int64
	UnusedAtVersion int64
	Version         int64
	Next            int64
	PinCount        int64
	Toc             int64
	Occupancy       int64
}

func newChunkHeader() *ChunkHeader {
	return &ChunkHeader{
		LivePages: -1, LiveMax: -1, Unused: -1, UnusedAtVersion: -1,
		Next: -1, PinCount: -1, Toc: -1, Occupancy: -1,
	}
}

// fieldOrder fixes the serialization order of the small-map keys.
var fieldOrder = []string{
	"chunk", "block", "len", "pages", "livePages", "map", "max",
	"liveMax", "root", "time", "unused", "unusedAtVersion", "version",
	"next", "pinCount", "toc", "occupancy",
}

func (h *ChunkHeader) fields() map[string]*int64 {
	return map[string]*int64{
		"chunk": &h.Chunk, "block": &h.Block, "len": &h.Len,
		"pages": &h.Pages, "livePages": &h.LivePages, "map": &h.Map,
		"max": &h.Max, "liveMax": &h.LiveMax, "root": &h.Root,
		"time": &h.Time, "unused": &h.Unused,
		"unusedAtVersion": &h.UnusedAtVersion, "version": &h.Version,
		"next": &h.Next, "pinCount": &h.PinCount, "toc": &h.Toc,
		"occupancy": &h.Occupancy,
	}
}

// Encode renders the header as its padded text block.
func (h *ChunkHeader) Encode() ([]byte, error) {
	if h.Chunk < 0 || h.Chunk > MaxChunkID {
		return nil, fmt.Errorf("store: chunk id %d out of range", h.Chunk)
	}
	var b strings.Builder
	f := h.fields()
	for _, k := range fieldOrder {
		v := *f[k]
		if v < 0 && k != "chunk" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte('\n')
	if b.Len() > HeaderMaxLen {
		return nil, fmt.Errorf("store: chunk header exceeds %d bytes", HeaderMaxLen)
	}
	out := make([]byte, HeaderMaxLen)
	for i := range out {
		out[i] = ' '
	}
	copy(out, b.String())
	return out, nil
}

// ParseChunkHeader reads the small-map back. Unknown keys are an
// error: they signal a newer file format.
func ParseChunkHeader(raw []byte) (*ChunkHeader, error) {
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("store: chunk header: missing newline terminator")
	}
	h := newChunkHeader()
	f := h.fields()
	text := strings.TrimSpace(string(raw[:nl]))
	if text == "" {
		return nil, fmt.Errorf("store: chunk header: empty")
	}
	for _, part := range strings.Split(text, ",") {
		k, vs, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("store: chunk header: malformed entry %q", part)
		}
		dst, known := f[k]
		if !known {
			return nil, fmt.Errorf("store: chunk header: unknown key %q", k)
		}
		v, err := strconv.ParseInt(vs, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("store: chunk header: key %q: %w", k, err)
		}
		*dst = v
	}
	return h, nil
}

// ChunkFooter is the 128-byte trailer protecting the header fields that
// matter for recovery.
type ChunkFooter struct {
	Chunk   int64
	Block   int64
	Version int64
}

// Encode renders the footer with its Fletcher-32 checksum over the
// text that precedes it.
func (ft *ChunkFooter) Encode() []byte {
	body := fmt.Sprintf("chunk:%d,block:%d,version:%d", ft.Chunk, ft.Block, ft.Version)
	sum := Fletcher32([]byte(body))
	text := body + fmt.Sprintf(",fletcher:%d\n", sum)
	out := make([]byte, FooterLen)
	for i := range out {
		out[i] = ' '
	}
	copy(out, text)
	return out
}

// ParseChunkFooter validates the checksum and reads the footer back.
func ParseChunkFooter(raw []byte) (*ChunkFooter, error) {
	if len(raw) < FooterLen {
		return nil, fmt.Errorf("store: chunk footer: short read")
	}
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("store: chunk footer: missing newline terminator")
	}
	text := strings.TrimSpace(string(raw[:nl]))
	vals := map[string]int64{}
	keys := []string{}
	for _, part := range strings.Split(text, ",") {
		k, vs, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("store: chunk footer: malformed entry %q", part)
		}
		v, err := strconv.ParseInt(vs, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("store: chunk footer: key %q: %w", k, err)
		}
		vals[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{"block", "chunk", "fletcher", "version"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		return nil, fmt.Errorf("store: chunk footer: fields %v", keys)
	}
	body := fmt.Sprintf("chunk:%d,block:%d,version:%d", vals["chunk"], vals["block"], vals["version"])
	if Fletcher32([]byte(body)) != uint32(vals["fletcher"]) {
		return nil, fmt.Errorf("store: chunk footer: checksum mismatch")
	}
	return &ChunkFooter{Chunk: vals["chunk"], Block: vals["block"], Version: vals["version"]}, nil
}

// Fletcher32 computes the Fletcher-32 checksum of data. Odd-length
// input is zero padded.
func Fletcher32(data []byte) uint32 {
	var s1, s2 uint32
	n := len(data)
	for i := 0; i < n; i += 2 {
		w := uint32(data[i]) << 8
		if i+1 < n {
			w |= uint32(data[i+1])
		}
		s1 = (s1 + w) % 0xffff
		s2 = (s2 + s1) % 0xffff
	}
	return s2<<16 | s1
}
