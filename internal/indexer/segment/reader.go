package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"math"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/klauspost/compress/zstd"
)

// Pair is a decoded index pair.
type Pair struct {
	IDs  []string
	Dim  int
	Data []float32
}

// Exists reports whether both files of the pair are present.
func Exists(indexPath string) bool {
	_, errIdx := os.Stat(indexPath)
	_, errIDs := os.Stat(IDsPath(indexPath))
	return errIdx == nil && errIDs == nil
}

// Read loads an index pair. A missing pair returns an error wrapping
// fs.ErrNotExist; any inconsistency between the two files, or a damaged
// blob, returns an error wrapping ErrCorruptIndex.
func Read(indexPath string) (*Pair, error) {
	blob, errIdx := os.ReadFile(indexPath)
	idsData, errIDs := os.ReadFile(IDsPath(indexPath))
	switch {
	case errors.Is(errIdx, fs.ErrNotExist) && errors.Is(errIDs, fs.ErrNotExist):
		return nil, fmt.Errorf("index pair %s: %w", indexPath, fs.ErrNotExist)
	case errors.Is(errIdx, fs.ErrNotExist) || errors.Is(errIDs, fs.ErrNotExist):
		return nil, apperrors.Newf(apperrors.ErrCorruptIndex, 0, "index pair %s is incomplete", indexPath)
	case errIdx != nil:
		return nil, fmt.Errorf("reading index file: %w", errIdx)
	case errIDs != nil:
		return nil, fmt.Errorf("reading ids file: %w", errIDs)
	}

	if len(blob) < HeaderSize {
		return nil, apperrors.Newf(apperrors.ErrCorruptIndex, 0, "index file has %d bytes, header needs %d", len(blob), HeaderSize)
	}
	h := decodeHeader(blob[:HeaderSize])
	if h.Magic != MagicBytes {
		return nil, apperrors.Newf(apperrors.ErrCorruptIndex, 0, "bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, apperrors.Newf(apperrors.ErrCorruptIndex, 0, "unsupported format version %d", h.Version)
	}
	if h.Dim == 0 {
		return nil, apperrors.New(apperrors.ErrCorruptIndex, 0, "index header has zero dimension")
	}
	if crc32.ChecksumIEEE(idsData) != h.IDsCRC {
		return nil, apperrors.New(apperrors.ErrCorruptIndex, 0, "ids file does not match index header")
	}
	payload := blob[HeaderSize:]
	if uint64(len(payload)) != h.PayloadLen || crc32.ChecksumIEEE(payload) != h.PayloadCRC {
		return nil, apperrors.New(apperrors.ErrCorruptIndex, 0, "index payload checksum mismatch")
	}

	var ids []string
	if err := json.Unmarshal(idsData, &ids); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptIndex, 0, "parsing ids file: %v", err)
	}
	if uint32(len(ids)) != h.Count {
		return nil, apperrors.Newf(apperrors.ErrCorruptIndex, 0, "ids file has %d entries, index has %d vectors", len(ids), h.Count)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorruptIndex, 0, "decompressing payload: %v", err)
	}
	if len(raw) != 4*int(h.Count)*int(h.Dim) {
		return nil, apperrors.Newf(apperrors.ErrCorruptIndex, 0, "payload has %d bytes, want %d", len(raw), 4*int(h.Count)*int(h.Dim))
	}
	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return &Pair{IDs: ids, Dim: int(h.Dim), Data: data}, nil
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		Count:      binary.LittleEndian.Uint32(b[8:12]),
		Dim:        binary.LittleEndian.Uint32(b[12:16]),
		IDsCRC:     binary.LittleEndian.Uint32(b[16:20]),
		PayloadCRC: binary.LittleEndian.Uint32(b[20:24]),
		PayloadLen: binary.LittleEndian.Uint64(b[24:32]),
	}
}
