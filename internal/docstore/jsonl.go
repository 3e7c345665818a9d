package docstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
)

// idFields are checked in order for a document identifier.
var idFields = []string{"id", "doc_id", "docid"}

const maxLineBytes = 16 << 20

// ReadJSONLFile parses a corpus file with one JSON object per line.
func ReadJSONLFile(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus %s: %w", path, err)
	}
	defer f.Close()
	return ReadJSONL(f)
}

// ReadJSONL parses one document per non-blank line. The id comes from the
// first present field among id, doc_id and docid; documents with none get
// their zero-based ordinal among parsed documents as id.
func ReadJSONL(r io.Reader) ([]Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var docs []Document
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("%w: corpus line %d: %v", apperrors.ErrInvalidInput, lineNo, err)
		}
		doc := Document{
			DocID: resolveID(raw, len(docs)),
			Title: stringField(raw, "title"),
			Text:  stringField(raw, "text"),
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading corpus: %w", err)
	}
	return docs, nil
}

func resolveID(raw map[string]json.RawMessage, ordinal int) string {
	for _, field := range idFields {
		v, ok := raw[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String()
		}
	}
	return strconv.Itoa(ordinal)
}

func stringField(raw map[string]json.RawMessage, field string) string {
	v, ok := raw[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}
