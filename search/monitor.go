package search

import (
	"github.com/poiesic/grimoire/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterSemanticSearch(keys []string)
	AfterKeywordSearch(keys []string)
	SemanticAndKeywordHit(record *core.VectorRecord)
	SemanticHit(record *core.VectorRecord)
	KeywordHit(record *core.VectorRecord)
	Finish(results []*core.SearchResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                             {}
func (n *noopMonitor) AfterSemanticSearch(_ []string)             {}
func (n *noopMonitor) AfterKeywordSearch(_ []string)              {}
func (n *noopMonitor) SemanticAndKeywordHit(_ *core.VectorRecord) {}
func (n *noopMonitor) SemanticHit(_ *core.VectorRecord)           {}
func (n *noopMonitor) KeywordHit(_ *core.VectorRecord)            {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)              {}
