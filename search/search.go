// Package search maintains a full-text index over tasks and events so
// operators can find work items by words rather than ids. The index is
// advisory, rebuilt from the store at any time; the store remains the
// source of truth.
package search

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/skymind/fleetkit/fleet"
)

// Document kinds.
const (
	KindTask  = "task"
	KindEvent = "event"
)

// Config configures the index.
type Config struct {
	// Path is the on-disk index directory. Empty keeps the index in
	// memory only.
	Path string
}

// document is the indexed shape of a task or event.
type document struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Level       string    `json:"level,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hit is one search result.
type Hit struct {
	ID    string
	Kind  string
	Title string
	Score float64
}

// Options narrows a search.
type Options struct {
	// Kind restricts results to "task" or "event" when non-empty.
	Kind string

	// Status restricts results to one status value when non-empty.
	Status string

	// Limit caps results. Default 10.
	Limit int
}

// Index is a bleve-backed full-text index over fleet work items.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

// New opens or creates an index at cfg.Path, in memory when empty.
func New(cfg Config) (*Index, error) {
	m := buildIndexMapping()

	if cfg.Path == "" {
		idx, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, fmt.Errorf("create search index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		idx, err := bleve.New(cfg.Path, m)
		if err != nil {
			return nil, fmt.Errorf("create search index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	idx, err := bleve.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	keyword := bleve.NewKeywordFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("description", text)
	doc.AddFieldMappingsAt("kind", keyword)
	doc.AddFieldMappingsAt("type", keyword)
	doc.AddFieldMappingsAt("status", keyword)
	doc.AddFieldMappingsAt("level", keyword)
	doc.AddFieldMappingsAt("timestamp", date)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// IndexTask adds or updates a task in the index.
func (ix *Index) IndexTask(task *fleet.Task) error {
	if task == nil || task.TaskID == "" {
		return nil
	}
	doc := document{
		ID:          task.TaskID,
		Kind:        KindTask,
		Title:       task.Title,
		Description: task.Description,
		Type:        string(task.Type),
		Status:      string(task.Status),
		Timestamp:   task.CreatedAt,
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.index.Index(task.TaskID, doc); err != nil {
		return fmt.Errorf("index task: %w", err)
	}
	return nil
}

// IndexEvent adds or updates an event in the index.
func (ix *Index) IndexEvent(event *fleet.Event) error {
	if event == nil || event.EventID == "" {
		return nil
	}
	doc := document{
		ID:          event.EventID,
		Kind:        KindEvent,
		Title:       event.Title,
		Description: event.Description,
		Type:        string(event.Type),
		Status:      string(event.Status),
		Level:       string(event.Level),
		Timestamp:   event.DetectedAt,
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.index.Index(event.EventID, doc); err != nil {
		return fmt.Errorf("index event: %w", err)
	}
	return nil
}

// Remove drops a work item from the index.
func (ix *Index) Remove(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index.Delete(id)
}

// Search runs a full-text query over titles and descriptions.
func (ix *Index) Search(text string, opts Options) ([]Hit, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	match := bleve.NewMatchQuery(text)

	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(match)
	if opts.Kind != "" {
		kindQuery := bleve.NewTermQuery(opts.Kind)
		kindQuery.SetField("kind")
		boolQuery.AddMust(kindQuery)
	}
	if opts.Status != "" {
		statusQuery := bleve.NewTermQuery(opts.Status)
		statusQuery.SetField("status")
		boolQuery.AddMust(statusQuery)
	}

	req := bleve.NewSearchRequest(boolQuery)
	req.Size = opts.Limit
	req.Fields = []string{"kind", "title"}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	results, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results.Hits))
	for _, h := range results.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields["kind"].(string); ok {
			hit.Kind = v
		}
		if v, ok := h.Fields["title"].(string); ok {
			hit.Title = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed work items.
func (ix *Index) Count() (uint64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.index.DocCount()
}

// Close releases the index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index.Close()
}
