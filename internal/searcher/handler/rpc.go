package handler

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/rpc"
)

// RegisterRPC mounts SearchService.Search on s.
func (h *Handler) RegisterRPC(s *rpc.Server) {
	rpc.Handle(s, proto.MethodSearch, h.rpcSearch)
}

func (h *Handler) rpcSearch(ctx context.Context, req proto.SearchRequest) (proto.SearchResponse, error) {
	start := time.Now()
	filters := executor.Filters{Author: req.Author, Language: req.Language, Year: req.Year}
	result, err := h.Query(ctx, req.Query, filters, req.Limit)
	if err != nil {
		return proto.SearchResponse{}, err
	}
	resp := proto.SearchResponse{
		Query:     result.Query,
		Count:     result.Count,
		Results:   make([]proto.SearchResult, 0, len(result.Results)),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	for _, hit := range result.Results {
		resp.Results = append(resp.Results, proto.SearchResult{
			DocID:    int64(hit.DocID),
			Title:    hit.Title,
			Author:   hit.Author,
			Language: hit.Language,
			Year:     hit.Year,
			Score:    hit.Score,
		})
	}
	return resp, nil
}
