package processor

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packshare/pkg/types"
)

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestChunkCount(t *testing.T) {
	cases := []struct {
		size  uint64
		chunk int
		want  int
	}{
		{0, 16384, 1},
		{1, 16384, 1},
		{16384, 16384, 1},
		{16385, 16384, 2},
		{100 * 1024, 16384, 7},
		{10, 0, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ChunkCount(tc.size, tc.chunk), "size=%d chunk=%d", tc.size, tc.chunk)
	}
}

func TestReadChunksReassemble(t *testing.T) {
	dir := t.TempDir()

	for _, size := range []int{0, 1, 1000, 4096, 4097, 10000} {
		data := randomBytes(t, size)
		path := writeTemp(t, dir, "f.bin", data)

		const chunkSize = 4096
		total := ChunkCount(uint64(size), chunkSize)
		asm := NewAssembler("f.bin", total)
		for i := 0; i < total; i++ {
			chunk, err := ReadChunk(path, i, chunkSize)
			require.NoError(t, err)
			require.NoError(t, asm.Add(i, chunk))
		}

		require.True(t, asm.Complete())
		out, err := asm.Bytes()
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, out), "size %d", size)
	}
}

func TestReadChunkEmptyFile(t *testing.T) {
	path := writeTemp(t, t.TempDir(), "empty", nil)
	chunk, err := ReadChunk(path, 0, 16)
	require.NoError(t, err)
	assert.Empty(t, chunk)

	_, err = ReadChunk(path, 1, 16)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestReadChunkMissingFile(t *testing.T) {
	_, err := ReadChunk(filepath.Join(t.TempDir(), "nope"), 0, 16)
	assert.ErrorIs(t, err, types.ErrIO)
}

func TestAssemblerMissingChunk(t *testing.T) {
	asm := NewAssembler("x", 3)
	require.NoError(t, asm.Add(0, []byte("a")))
	require.NoError(t, asm.Add(2, []byte("c")))
	assert.False(t, asm.Complete())
	_, err := asm.Bytes()
	assert.Error(t, err)
	assert.ErrorIs(t, asm.Add(3, nil), types.ErrValidation)

	asm.Reset()
	assert.Equal(t, 0, asm.Received())
}

func TestBuildManifest(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.pak", []byte("hello"))
	b := writeTemp(t, dir, "b.utoc", nil)

	fs := NewFileService(true)
	manifest, sources, err := fs.BuildManifest("My Pack", "desc", "me", []string{a, b})
	require.NoError(t, err)

	require.Len(t, manifest.Files, 2)
	assert.Equal(t, "a.pak", manifest.Files[0].Filename)
	assert.Equal(t, uint64(5), manifest.Files[0].Size)
	assert.Equal(t, Checksum([]byte("hello")), manifest.Files[0].Hash)
	assert.Equal(t, Checksum(nil), manifest.Files[1].Hash)
	assert.Equal(t, a, sources["a.pak"])
	assert.Equal(t, uint64(5), manifest.TotalBytes())
}

func TestBuildManifestErrors(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.pak", []byte("x"))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	dup := writeTemp(t, sub, "a.pak", []byte("y"))

	fs := NewFileService(false)

	_, _, err := fs.BuildManifest("", "", "", []string{a})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, _, err = fs.BuildManifest("p", "", "", nil)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, _, err = fs.BuildManifest("p", "", "", []string{a, dup})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, _, err = fs.BuildManifest("p", "", "", []string{sub})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, _, err = fs.BuildManifest("p", "", "", []string{filepath.Join(dir, "missing")})
	assert.ErrorIs(t, err, types.ErrIO)
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("packshare "), 1000)
	compressed, err := Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	empty, err := Compress(nil)
	require.NoError(t, err)
	out, err = Decompress(empty)
	require.NoError(t, err)
	assert.Empty(t, out)
}
