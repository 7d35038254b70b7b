// Package ingest admits files into the knowledge corpus: format checks,
// content hashing, deduplication, disk placement, and metadata insertion.
// The HTTP upload endpoint, the startup seeder, and the directory watcher
// all funnel through it.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
)

// MaxFileSize caps uploads at 10 MiB.
const MaxFileSize = 10 << 20

var (
	ErrTooLarge    = errors.New("file exceeds maximum size")
	ErrEmptyFile   = errors.New("file is empty")
	ErrUnsupported = knowledge.ErrUnsupportedFormat
)

// MetaStore is the slice of persistence ingestion needs.
type MetaStore interface {
	ListKnowledgeFiles(ctx context.Context) ([]knowledge.FileRecord, error)
	GetKnowledgeFileBySHA(ctx context.Context, sha256 string) (*knowledge.FileRecord, error)
	InsertKnowledgeFile(ctx context.Context, f knowledge.FileRecord) (knowledge.FileRecord, error)
	DeleteKnowledgeFile(ctx context.Context, id int64) (*knowledge.FileRecord, error)
}

// Ingestor admits files and owns the uploads directory.
type Ingestor struct {
	store MetaStore
	dir   string
}

func New(store MetaStore, dir string) (*Ingestor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Ingestor{store: store, dir: dir}, nil
}

// Result reports one admission. Duplicate is true when the content hash
// already existed and the stored record is the original.
type Result struct {
	File      knowledge.FileRecord
	Duplicate bool
}

// Add admits one file. Validation order: format, size, emptiness, then
// dedup by content hash. On a hash hit the existing record is returned
// unchanged and nothing is written.
func (in *Ingestor) Add(ctx context.Context, filename, contentType string, data []byte) (Result, error) {
	if contentType == "" {
		contentType = TypeForFilename(filename)
	}
	if _, ok := knowledge.SupportedContentTypes[contentType]; !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupported, contentType)
	}
	if len(data) > MaxFileSize {
		return Result{}, ErrTooLarge
	}
	if len(data) == 0 {
		return Result{}, ErrEmptyFile
	}

	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])

	existing, err := in.store.GetKnowledgeFileBySHA(ctx, sha)
	if err != nil {
		return Result{}, fmt.Errorf("check duplicate: %w", err)
	}
	if existing != nil {
		slog.Info("ingest: duplicate content", "filename", filename, "existing", existing.Filename)
		return Result{File: *existing, Duplicate: true}, nil
	}

	rec := knowledge.FileRecord{
		Filename:    filepath.Base(filename),
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      sha,
	}

	path := filepath.Join(in.dir, knowledge.StoredName(rec))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("write file: %w", err)
	}

	rec, err = in.store.InsertKnowledgeFile(ctx, rec)
	if err != nil {
		// Keep disk and metadata consistent on a failed insert.
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Warn("ingest: orphaned upload left on disk", "path", path, "error", rmErr)
		}
		return Result{}, fmt.Errorf("record file: %w", err)
	}

	slog.Info("ingest: file admitted", "filename", rec.Filename, "size", rec.Size)
	return Result{File: rec}, nil
}

// AddPath reads a file from disk and admits it.
func (in *Ingestor) AddPath(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return in.Add(ctx, filepath.Base(path), "", data)
}

// Remove deletes a file's metadata and its blob. Returns the removed record,
// or nil when the id does not exist.
func (in *Ingestor) Remove(ctx context.Context, id int64) (*knowledge.FileRecord, error) {
	rec, err := in.store.DeleteKnowledgeFile(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}

	path := filepath.Join(in.dir, knowledge.StoredName(*rec))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ingest: failed to remove stored file", "path", path, "error", err)
	}
	return rec, nil
}

// Corpus exposes the uploads directory plus metadata as a searchable corpus.
func (in *Ingestor) Corpus() knowledge.Corpus {
	return diskCorpus{store: in.store, dir: in.dir}
}

type diskCorpus struct {
	store MetaStore
	dir   string
}

func (c diskCorpus) ListFiles(ctx context.Context) ([]knowledge.FileRecord, error) {
	return c.store.ListKnowledgeFiles(ctx)
}

func (c diskCorpus) ReadFile(_ context.Context, f knowledge.FileRecord) ([]byte, error) {
	return os.ReadFile(filepath.Join(c.dir, knowledge.StoredName(f)))
}

// TypeForFilename maps a filename extension to a supported content type, or
// returns an empty string.
func TypeForFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return knowledge.ContentTypeText
	case ".pdf":
		return knowledge.ContentTypePDF
	case ".docx":
		return knowledge.ContentTypeDOCX
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if base, _, err := mime.ParseMediaType(t); err == nil {
			if _, ok := knowledge.SupportedContentTypes[base]; ok {
				return base
			}
		}
	}
	return ""
}
