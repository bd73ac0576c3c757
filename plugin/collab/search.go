package collab

import (
	"context"
	"log/slog"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
)

// ChainSearch tries each provider in order and returns the first
// non-empty result set. Provider failures are logged, not fatal, as
// long as some provider answers.
type ChainSearch struct {
	providers []ports.WebSearch
}

func NewChainSearch(providers ...ports.WebSearch) *ChainSearch {
	return &ChainSearch{providers: providers}
}

func (s *ChainSearch) Search(ctx context.Context, query string, limit int) ([]ports.SearchResult, error) {
	var lastErr error
	for _, p := range s.providers {
		results, err := p.Search(ctx, query, limit)
		if err != nil {
			slog.Warn("search provider failed, trying next", "error", err)
			lastErr = err
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	if lastErr != nil {
		return nil, errkind.Wrap(errkind.UpstreamUnavailable, lastErr, "all search providers failed")
	}
	return nil, nil
}

// StaticSearch serves a fixed result list for every query.
type StaticSearch struct {
	Results []ports.SearchResult
}

func (s *StaticSearch) Search(_ context.Context, _ string, limit int) ([]ports.SearchResult, error) {
	if limit > 0 && limit < len(s.Results) {
		return s.Results[:limit], nil
	}
	return s.Results, nil
}
