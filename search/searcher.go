package search

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"github.com/poiesic/grimoire/ai"
	"github.com/poiesic/grimoire/core"
	"github.com/poiesic/grimoire/storage"
)

const (
	// DefaultMinScore is the cosine similarity below which semantic matches
	// are discarded.
	DefaultMinScore float32 = 0.60

	// VerbatimBoost is added to the score of records containing every
	// query word. Keyword-only hits score exactly this much.
	VerbatimBoost float32 = 0.3

	// candidateFactor over-fetches semantic matches so the verbatim boost
	// can reorder them before truncation.
	candidateFactor = 3
)

// Searcher ranks index records against free-text queries.
type Searcher struct {
	index    storage.VectorIndex
	embedder ai.Embedder
	minScore float32
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMinScore sets the semantic similarity cutoff.
// Default is DefaultMinScore.
func WithMinScore(score float32) Option {
	return func(s *Searcher) error {
		if score < -1 || score > 1 {
			return ErrInvalidMinScore
		}
		s.minScore = score
		return nil
	}
}

// NewSearcher creates a new searcher. The embedder must be the model the
// index was built with.
func NewSearcher(index storage.VectorIndex, embedder ai.Embedder, opts ...Option) (*Searcher, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		index:    index,
		embedder: embedder,
		minScore: DefaultMinScore,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")
	return s, nil
}

// RulebookFilter restricts a search to rulebook chunks, optionally of one
// ruleset.
func RulebookFilter(ruleset string) storage.Filter {
	f := storage.Filter{"document_type": string(core.DocumentKindRulebook)}
	if ruleset != "" {
		f["ruleset"] = ruleset
	}
	return f
}

// ConversationFilter restricts a search to one game's conversation turns,
// optionally by one role.
func ConversationFilter(gameID int64, role core.Role) storage.Filter {
	f := storage.Filter{
		"document_type": string(core.DocumentKindConversation),
		"game_id":       strconv.FormatInt(gameID, 10),
	}
	if role != "" {
		f["role"] = string(role)
	}
	return f
}

// FindSimilar searches for records similar to the query.
// Returns up to maxHits results, ranked by relevance score.
func (s *Searcher) FindSimilar(ctx context.Context, query string, filter storage.Filter, maxHits int) ([]*core.SearchResult, error) {
	return s.FindSimilarWithMonitor(ctx, query, filter, maxHits, nil)
}

// FindSimilarWithMonitor searches for records similar to the query with monitoring.
// The monitor receives callbacks at each stage of the search process.
// Returns up to maxHits results, ranked by relevance score.
func (s *Searcher) FindSimilarWithMonitor(ctx context.Context, query string, filter storage.Filter, maxHits int, monitor SearchMonitor) ([]*core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if maxHits <= 0 {
		return []*core.SearchResult{}, nil
	}
	monitor.Start(query)

	// 1. Semantic candidates
	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}
	matches, err := s.index.Query(ctx, ai.NormalizeVector(embedding), filter, maxHits*candidateFactor)
	if err != nil {
		s.logger.Error("error querying for similar records", "err", err)
		return nil, err
	}

	semantic := make(map[string]*core.SearchResult, len(matches))
	semanticKeys := make([]string, 0, len(matches))
	for _, match := range matches {
		if match.Score < s.minScore {
			continue
		}
		semantic[match.Record.Key] = match
		semanticKeys = append(semanticKeys, match.Record.Key)
	}
	monitor.AfterSemanticSearch(semanticKeys)

	// 2. Verbatim keyword matches under the same filter
	keyword := make(map[string]*core.VectorRecord)
	var keywordKeys []string
	if len(tokenizeAndFilter(query)) > 0 {
		err = s.index.ForEach(ctx, func(record *core.VectorRecord) error {
			for tag, want := range filter {
				if record.Tags[tag] != want {
					return nil
				}
			}
			if containsAllQueryWords(record.Text, query) {
				keyword[record.Key] = record
				keywordKeys = append(keywordKeys, record.Key)
			}
			return nil
		})
		if err != nil {
			s.logger.Error("error scanning for keyword matches", "err", err)
			return nil, err
		}
	}
	monitor.AfterKeywordSearch(keywordKeys)

	// 3. Combine and score
	results := make([]*core.SearchResult, 0, len(semantic)+len(keyword))
	for key, match := range semantic {
		score := match.Score
		if _, ok := keyword[key]; ok {
			score += VerbatimBoost
			monitor.SemanticAndKeywordHit(match.Record)
		} else {
			monitor.SemanticHit(match.Record)
		}
		results = append(results, &core.SearchResult{Record: match.Record, Score: score})
	}
	for key, record := range keyword {
		if _, ok := semantic[key]; ok {
			continue
		}
		monitor.KeywordHit(record)
		results = append(results, &core.SearchResult{Record: record, Score: VerbatimBoost})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.Key < results[j].Record.Key
	})
	if len(results) > maxHits {
		results = results[:maxHits]
	}
	monitor.Finish(results)

	return results, nil
}
