package segment

import (
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indices", "docs.index")
	ids := []string{"kk-1", "kk-2"}
	data := []float32{0.1, -0.2, 0.3, 1, 0, -1}

	require.NoError(t, Write(path, ids, 3, data))
	assert.True(t, Exists(path))
	assert.NoFileExists(t, path+".tmp")

	pair, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, ids, pair.IDs)
	assert.Equal(t, 3, pair.Dim)
	assert.Equal(t, data, pair.Data)
}

func TestReadMissingPair(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "none.index"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, apperrors.ErrCorruptIndex)
}

func TestReadDetectsMismatchedIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	require.NoError(t, Write(path, []string{"a", "b"}, 2, []float32{1, 0, 0, 1}))
	require.NoError(t, os.WriteFile(IDsPath(path), []byte(`["a","b","c"]`), 0o644))

	_, err := Read(path)
	assert.ErrorIs(t, err, apperrors.ErrCorruptIndex)
}

func TestReadDetectsMissingHalf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	require.NoError(t, Write(path, []string{"a"}, 2, []float32{1, 0}))
	require.NoError(t, os.Remove(IDsPath(path)))

	_, err := Read(path)
	assert.ErrorIs(t, err, apperrors.ErrCorruptIndex)
	assert.False(t, Exists(path))
}

func TestReadDetectsTruncatedBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	require.NoError(t, Write(path, []string{"a"}, 2, []float32{1, 0}))
	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, blob[:len(blob)-1], 0o644))

	_, err = Read(path)
	assert.ErrorIs(t, err, apperrors.ErrCorruptIndex)
}

func TestWriteRejectsShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.index")
	assert.Error(t, Write(path, []string{"a", "b"}, 2, []float32{1, 0}))
	assert.Error(t, Write(path, nil, 0, nil))
}

// writeRawPair stores a blob with the given count and dimension whose
// checksums are all valid, so only the shape itself is wrong.
func writeRawPair(t *testing.T, path string, count, dim uint32, ids []byte, raw []byte) {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	payload := enc.EncodeAll(raw, nil)
	require.NoError(t, enc.Close())

	blob := make([]byte, HeaderSize, HeaderSize+len(payload))
	encodeHeader(blob, Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		Count:      count,
		Dim:        dim,
		IDsCRC:     crc32.ChecksumIEEE(ids),
		PayloadCRC: crc32.ChecksumIEEE(payload),
		PayloadLen: uint64(len(payload)),
	})
	blob = append(blob, payload...)
	require.NoError(t, os.WriteFile(IDsPath(path), ids, 0o644))
	require.NoError(t, os.WriteFile(path, blob, 0o644))
}

func TestReadRejectsZeroDimension(t *testing.T) {
	tests := []struct {
		name  string
		count uint32
		ids   string
	}{
		{"one id no vectors", 1, `["d1"]`},
		{"several ids", 3, `["d1","d2","d3"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "docs.index")
			writeRawPair(t, path, tt.count, 0, []byte(tt.ids), nil)

			pair, err := Read(path)
			assert.ErrorIs(t, err, apperrors.ErrCorruptIndex)
			assert.Nil(t, pair)
		})
	}
}

func TestWriteCleansUpTempFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.index")
	// A non-empty directory at the target path makes the final rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(path, "occupied"), 0o755))

	err := Write(path, []string{"a"}, 2, []float32{1, 0})
	require.Error(t, err)
	assert.NoFileExists(t, path+".tmp")
	assert.DirExists(t, path)
}
