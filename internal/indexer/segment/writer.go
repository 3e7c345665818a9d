// Package segment persists a vector index as a pair of files: a binary
// index blob and a JSON id array stored next to it with an ".ids" suffix.
// The blob header records the id file checksum so a torn pair is detected
// on load.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// MagicBytes identifies a vector index blob ("CLVX").
const (
	MagicBytes    uint32 = 0x434C5658
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	IDsSuffix            = ".ids"
)

// Header is the fixed-size header written at the start of every index blob.
type Header struct {
	Magic      uint32
	Version    uint32
	Count      uint32
	Dim        uint32
	IDsCRC     uint32
	PayloadCRC uint32
	PayloadLen uint64
}

// IDsPath returns the id file path paired with the given index path.
func IDsPath(indexPath string) string {
	return indexPath + IDsSuffix
}

// Write persists ids and vectors as an index pair. Each file is written to a
// .tmp sibling, synced, and renamed; the id file is renamed first so a crash
// leaves either the old blob or a blob whose header does not match.
func Write(indexPath string, ids []string, dim int, data []float32) error {
	if dim <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if len(data) != len(ids)*dim {
		return fmt.Errorf("have %d ids but %d floats for dimension %d", len(ids), len(data), dim)
	}
	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	idsData, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshaling ids: %w", err)
	}

	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	payload := enc.EncodeAll(raw, nil)
	enc.Close()

	header := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		Count:      uint32(len(ids)),
		Dim:        uint32(dim),
		IDsCRC:     crc32.ChecksumIEEE(idsData),
		PayloadCRC: crc32.ChecksumIEEE(payload),
		PayloadLen: uint64(len(payload)),
	}
	blob := make([]byte, HeaderSize, HeaderSize+len(payload))
	encodeHeader(blob, header)
	blob = append(blob, payload...)

	if err := writeAtomic(IDsPath(indexPath), idsData); err != nil {
		return fmt.Errorf("writing ids file: %w", err)
	}
	if err := writeAtomic(indexPath, blob); err != nil {
		return fmt.Errorf("writing index file: %w", err)
	}
	return nil
}

func encodeHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.Count)
	binary.LittleEndian.PutUint32(b[12:16], h.Dim)
	binary.LittleEndian.PutUint32(b[16:20], h.IDsCRC)
	binary.LittleEndian.PutUint32(b[20:24], h.PayloadCRC)
	binary.LittleEndian.PutUint64(b[24:32], h.PayloadLen)
}

func writeAtomic(path string, data []byte) (err error) {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
