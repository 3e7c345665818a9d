// Package docstore holds the document corpus served alongside the vector
// index and resolves retrieved ids into titles and bodies.
package docstore

import (
	"context"
)

// Document is one corpus entry.
type Document struct {
	DocID string `json:"doc_id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Store resolves document ids. Ids with no stored document are absent from
// the returned map rather than reported as errors.
type Store interface {
	GetMany(ctx context.Context, ids []string) (map[string]Document, error)
	Count(ctx context.Context) (int, error)
}
