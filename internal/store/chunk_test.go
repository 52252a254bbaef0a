package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkHeaderRoundTrip(t *testing.T) {
	h := newChunkHeader()
	h.Chunk = 3
	h.Block = 12
	h.Len = 100
	h.Pages = 40
	h.LivePages = 38
	h.Map = 4096
	h.Max = 40
	h.Root = 1
	h.Time = 1234567890
	h.Version = 9
	h.Occupancy = 950

	raw, err := h.Encode()
	require.NoError(t, err)
	assert.Len(t, raw, HeaderMaxLen)
	// Text, newline terminated, space padded.
	assert.Contains(t, string(raw), "chunk:3")
	assert.Contains(t, string(raw), "livePages:38")
	assert.Equal(t, byte(' '), raw[HeaderMaxLen-1])

	got, err := ParseChunkHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Chunk)
	assert.Equal(t, int64(38), got.LivePages)
	assert.Equal(t, int64(9), got.Version)
	// Optional fields not written stay absent.
	assert.Equal(t, int64(-1), got.Next)
}

func TestChunkHeaderRejectsUnknownKey(t *testing.T) {
	raw := make([]byte, HeaderMaxLen)
	copy(raw, "chunk:0,vibes:1\n")
	_, err := ParseChunkHeader(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestChunkHeaderRange(t *testing.T) {
	h := newChunkHeader()
	h.Chunk = MaxChunkID + 1
	_, err := h.Encode()
	assert.Error(t, err)
}

func TestChunkFooterChecksum(t *testing.T) {
	ft := &ChunkFooter{Chunk: 1, Block: 8, Version: 5}
	raw := ft.Encode()
	assert.Len(t, raw, FooterLen)

	got, err := ParseChunkFooter(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Chunk)
	assert.Equal(t, int64(5), got.Version)

	// Any flipped digit must fail the Fletcher check.
	raw[6] = '9'
	_, err = ParseChunkFooter(raw)
	assert.Error(t, err)
}

func TestFletcher32(t *testing.T) {
	assert.Equal(t, uint32(0), Fletcher32(nil))
	a := Fletcher32([]byte("abcdef"))
	b := Fletcher32([]byte("abcdeg"))
	assert.NotEqual(t, a, b)
	// Odd input is zero padded, not truncated.
	assert.NotEqual(t, Fletcher32([]byte("abc")), Fletcher32([]byte("ab")))
}
