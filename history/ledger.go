package history

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// DefaultLimit is the number of runs kept when NewLedger gets no limit.
const DefaultLimit = 500

// Record is one terminal run.
type Record struct {
	ID       string
	Target   string
	Files    []string
	Outcome  string // succeeded, failed or interrupted
	Fatal    bool
	Reason   string
	Started  time.Time
	Duration time.Duration
}

// Ledger keeps the most recent runs in an in-memory Bleve index so they can
// be searched by changed file, failure reason, target and outcome.
type Ledger struct {
	mu      sync.RWMutex
	index   bleve.Index
	records map[string]Record // key: run ID
	order   []string          // run IDs, oldest first
	limit   int
}

// NewLedger creates an empty ledger keeping at most limit runs.
func NewLedger(limit int) (*Ledger, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	bleveIndex, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}
	return &Ledger{
		index:   bleveIndex,
		records: make(map[string]Record),
		limit:   limit,
	}, nil
}

// bleveDocument is the document structure stored in Bleve.
type bleveDocument struct {
	Target  string `json:"target"`
	Outcome string `json:"outcome"`
	Files   string `json:"files"`
	Reason  string `json:"reason"`
}

func buildIndexMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	filesFieldMapping := bleve.NewTextFieldMapping()
	filesFieldMapping.Store = false
	filesFieldMapping.IncludeInAll = true
	docMapping.AddFieldMappingsAt("files", filesFieldMapping)

	reasonFieldMapping := bleve.NewTextFieldMapping()
	reasonFieldMapping.Store = false
	reasonFieldMapping.IncludeInAll = true
	docMapping.AddFieldMappingsAt("reason", reasonFieldMapping)

	// Keyword fields are matched exactly by the filters
	targetFieldMapping := bleve.NewKeywordFieldMapping()
	targetFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("target", targetFieldMapping)

	outcomeFieldMapping := bleve.NewKeywordFieldMapping()
	outcomeFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("outcome", outcomeFieldMapping)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Add stores a run, evicting the oldest one beyond the limit.
func (l *Ledger) Add(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc := bleveDocument{
		Target:  rec.Target,
		Outcome: rec.Outcome,
		Files:   strings.Join(rec.Files, "\n"),
		Reason:  rec.Reason,
	}
	if err := l.index.Index(rec.ID, doc); err != nil {
		return fmt.Errorf("indexing run %s: %w", rec.ID, err)
	}
	if _, exists := l.records[rec.ID]; !exists {
		l.order = append(l.order, rec.ID)
	}
	rec.Files = append([]string(nil), rec.Files...)
	l.records[rec.ID] = rec

	for len(l.order) > l.limit {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.records, oldest)
		if err := l.index.Delete(oldest); err != nil {
			return fmt.Errorf("evicting run %s: %w", oldest, err)
		}
	}
	return nil
}

// Recent returns up to n runs, newest first, optionally for one target only.
func (l *Ledger) Recent(n int, targetName string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Record
	for i := len(l.order) - 1; i >= 0; i-- {
		if n > 0 && len(result) >= n {
			break
		}
		rec := l.records[l.order[i]]
		if targetName != "" && rec.Target != targetName {
			continue
		}
		result = append(result, rec)
	}
	return result
}

// SearchOptions configures a ledger search.
type SearchOptions struct {
	Query      string // Empty matches every run
	Target     string // Exact target name filter
	Outcome    string // Exact outcome filter
	MaxResults int
}

// Search finds runs whose changed files or failure reason match the query.
// Query format:
//   - Plain text: match query (word-level matching)
//   - "quoted text": phrase query (exact phrase match)
//   - /regex/: regexp query
//
// Results are ordered newest first.
func (l *Ledger) Search(options SearchOptions) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if options.MaxResults <= 0 {
		options.MaxResults = 20
	}

	conjuncts := []query.Query{buildQuery(options.Query)}
	if options.Target != "" {
		q := bleve.NewTermQuery(options.Target)
		q.SetField("target")
		conjuncts = append(conjuncts, q)
	}
	if options.Outcome != "" {
		q := bleve.NewTermQuery(strings.ToLower(options.Outcome))
		q.SetField("outcome")
		conjuncts = append(conjuncts, q)
	}

	searchRequest := bleve.NewSearchRequest(bleve.NewConjunctionQuery(conjuncts...))
	searchRequest.Size = len(l.records) + 1

	searchResults, err := l.index.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("searching run history: %w", err)
	}

	results := make([]Record, 0, len(searchResults.Hits))
	for _, hit := range searchResults.Hits {
		if rec, ok := l.records[hit.ID]; ok {
			results = append(results, rec)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Started.After(results[j].Started)
	})
	if len(results) > options.MaxResults {
		results = results[:options.MaxResults]
	}
	return results, nil
}

// buildQuery parses the query string into a Bleve query.
func buildQuery(queryString string) query.Query {
	queryString = strings.TrimSpace(queryString)

	if queryString == "" {
		return bleve.NewMatchAllQuery()
	}

	// Regex query: /pattern/
	if strings.HasPrefix(queryString, "/") && strings.HasSuffix(queryString, "/") && len(queryString) > 2 {
		return bleve.NewRegexpQuery(queryString[1 : len(queryString)-1])
	}

	// Phrase query: "exact phrase"
	if strings.HasPrefix(queryString, "\"") && strings.HasSuffix(queryString, "\"") && len(queryString) > 2 {
		return bleve.NewMatchPhraseQuery(queryString[1 : len(queryString)-1])
	}

	return bleve.NewMatchQuery(queryString)
}

// Count returns the number of runs held.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Close closes the Bleve index.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.Close()
}
