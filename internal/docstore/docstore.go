package docstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flanksource/commons/logger"
	"github.com/pierrec/lz4/v4"
)

// Document is one open document held by the store: the LZ4-compressed
// payload plus the metadata needed to restore and validate it. Content is
// immutable once stored; an edit replaces the whole entry.
type Document struct {
	compressed   []byte
	uncompressed bool // payload stored raw because LZ4 could not shrink it
	OriginalSize int
	Checksum     string
	// CompressionRatio is compressed/original size, tracked for
	// observability only.
	CompressionRatio float32
}

// DecodeError reports a corrupt compressed payload. It is never expected
// during correct operation; callers log it and treat the document as
// missing.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode stored document %s: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Store holds the content of every open document, compressed to keep
// many large files cheap to retain. All accessors are safe for
// concurrent use; no critical section spans I/O.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*Document

	// compressedBytes tracks total compressed bytes in use across the
	// process. Observability only, never a correctness input.
	compressedBytes atomic.Int64
}

// NewStore creates an empty document store.
func NewStore() *Store {
	return &Store{
		docs: make(map[string]*Document, 100),
	}
}

// Checksum returns the SHA-256 hex digest of content. The same bytes
// always produce the same checksum; it is the cache-validity key for
// everything downstream.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Put compresses and stores content under id, replacing any prior entry,
// and returns the content checksum.
func (s *Store) Put(id string, content []byte) string {
	doc := compress(content)

	s.mu.Lock()
	prev := s.docs[id]
	s.docs[id] = doc
	s.mu.Unlock()

	delta := int64(len(doc.compressed))
	if prev != nil {
		delta -= int64(len(prev.compressed))
	}
	s.compressedBytes.Add(delta)

	logger.Debugf("stored %s: %d -> %d bytes (%.1f%%)",
		id, doc.OriginalSize, len(doc.compressed), doc.CompressionRatio*100)

	return doc.Checksum
}

// Get returns the stored document for id, if any.
func (s *Store) Get(id string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc, ok
}

// Remove evicts the document for id and reclaims its memory accounting.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	doc := s.docs[id]
	delete(s.docs, id)
	s.mu.Unlock()

	if doc != nil {
		s.compressedBytes.Add(-int64(len(doc.compressed)))
	}
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// IDs returns the identity of every stored document.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	return ids
}

// MemoryUsage returns the total compressed bytes currently held.
func (s *Store) MemoryUsage() int64 {
	return s.compressedBytes.Load()
}

// Decompress restores the original content of a stored document. A
// DecodeError means the payload is corrupt.
func (s *Store) Decompress(id string, doc *Document) ([]byte, error) {
	if doc.uncompressed {
		out := make([]byte, len(doc.compressed))
		copy(out, doc.compressed)
		return out, nil
	}

	out := make([]byte, doc.OriginalSize)
	n, err := lz4.UncompressBlock(doc.compressed, out)
	if err != nil {
		return nil, &DecodeError{ID: id, Err: err}
	}
	if n != doc.OriginalSize {
		return nil, &DecodeError{ID: id, Err: fmt.Errorf("expected %d bytes, got %d", doc.OriginalSize, n)}
	}
	return out, nil
}

func compress(content []byte) *Document {
	doc := &Document{
		OriginalSize: len(content),
		Checksum:     Checksum(content),
	}

	buf := make([]byte, lz4.CompressBlockBound(len(content)))
	n, err := lz4.CompressBlock(content, buf, nil)
	if err != nil || n == 0 || n >= len(content) {
		// Incompressible content is kept raw.
		doc.compressed = make([]byte, len(content))
		copy(doc.compressed, content)
		doc.uncompressed = true
		doc.CompressionRatio = 1
		return doc
	}

	doc.compressed = buf[:n:n]
	if doc.OriginalSize > 0 {
		doc.CompressionRatio = float32(n) / float32(doc.OriginalSize)
	}
	return doc
}
