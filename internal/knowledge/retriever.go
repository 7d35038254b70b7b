package knowledge

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const (
	// MaxResults is the hard cap on snippets per search, regardless of what
	// the caller asks for.
	MaxResults = 3
	// ContextBudget caps the cumulative character length of accepted
	// snippets, leaving room for the rest of the prompt.
	ContextBudget = 2500
)

// FileRecord is the metadata the corpus keeps per uploaded file.
type FileRecord struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// StoredName is the on-disk name for an uploaded file: a hash prefix keeps
// same-named uploads from colliding.
func StoredName(f FileRecord) string {
	prefix := f.SHA256
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return prefix + "_" + f.Filename
}

// Corpus lists the uploaded reference files and serves their content.
type Corpus interface {
	ListFiles(ctx context.Context) ([]FileRecord, error)
	ReadFile(ctx context.Context, f FileRecord) ([]byte, error)
}

// Snippet is one scored chunk of corpus text. Ephemeral: recomputed per
// query, never cached across requests.
type Snippet struct {
	Filename string
	FileID   int64
	Content  string
	Score    float64
}

// Retriever scores corpus chunks against a query by keyword overlap.
type Retriever struct {
	corpus       Corpus
	chunkSize    int
	chunkOverlap int
}

func NewRetriever(corpus Corpus) *Retriever {
	return &Retriever{
		corpus:       corpus,
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
	}
}

// Search returns up to min(maxResults, 3) snippets ranked by relevance,
// with cumulative content length capped at ContextBudget characters.
//
// Score = distinct query words found in the chunk / distinct query words,
// matched as case-insensitive substrings. Ties keep corpus order then chunk
// order (stable sort, no secondary key). Per-file failures are logged and
// skipped; Search itself never fails — a broken corpus degrades to an empty
// result.
func (r *Retriever) Search(ctx context.Context, query string, maxResults int) []Snippet {
	if maxResults <= 0 || maxResults > MaxResults {
		maxResults = MaxResults
	}

	queryWords := distinctWords(query)
	if len(queryWords) == 0 {
		return nil
	}

	files, err := r.corpus.ListFiles(ctx)
	if err != nil {
		slog.Error("knowledge: failed to list corpus files", "error", err)
		return nil
	}
	if len(files) == 0 {
		slog.Info("knowledge: corpus is empty")
		return nil
	}

	var results []Snippet
	for _, f := range files {
		data, err := r.corpus.ReadFile(ctx, f)
		if err != nil {
			slog.Warn("knowledge: skipping unreadable file", "filename", f.Filename, "error", err)
			continue
		}

		text, err := Extract(data, f.ContentType)
		if err != nil {
			slog.Warn("knowledge: skipping unextractable file", "filename", f.Filename, "error", err)
			continue
		}

		for _, chunk := range ChunkText(text, r.chunkSize, r.chunkOverlap) {
			chunkLower := strings.ToLower(chunk)
			matches := 0
			for _, w := range queryWords {
				if strings.Contains(chunkLower, w) {
					matches++
				}
			}
			if matches == 0 {
				continue
			}
			results = append(results, Snippet{
				Filename: f.Filename,
				FileID:   f.ID,
				Content:  chunk,
				Score:    float64(matches) / float64(len(queryWords)),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	// Greedy budget: accept in rank order until a snippet would overflow,
	// then stop — no skip-and-continue.
	var accepted []Snippet
	total := 0
	for _, s := range results {
		if total+len(s.Content) > ContextBudget {
			slog.Info("knowledge: source skipped by context budget", "filename", s.Filename)
			break
		}
		accepted = append(accepted, s)
		total += len(s.Content)
		slog.Info("knowledge: source used", "filename", s.Filename, "score", s.Score)
	}
	return accepted
}

// distinctWords lowercases the query and collapses duplicate
// whitespace-delimited words, keeping first-seen order.
func distinctWords(query string) []string {
	seen := make(map[string]struct{})
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return words
}
