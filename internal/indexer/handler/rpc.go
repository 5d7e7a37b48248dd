package handler

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/rpc"
)

// RegisterRPC mounts the IndexService methods on s.
func (h *Handler) RegisterRPC(s *rpc.Server) {
	rpc.Handle(s, proto.MethodIndexUpdate, h.rpcUpdate)
	rpc.Handle(s, proto.MethodIndexRebuild, h.rpcRebuild)
	rpc.Handle(s, proto.MethodIndexRemove, h.rpcRemove)
	rpc.Handle(s, proto.MethodIndexStats, h.rpcStats)
}

func (h *Handler) orDefaults(origins []string) []string {
	if named := content.NormalizeOrigins(origins...); len(named) > 0 {
		return named
	}
	return h.defaults
}

func (h *Handler) rpcUpdate(ctx context.Context, req proto.IndexUpdateRequest) (proto.IndexUpdateResponse, error) {
	res, err := h.engine.Update(ctx, content.DocID(req.DocID), h.orDefaults(req.Origins))
	if err != nil {
		return proto.IndexUpdateResponse{}, err
	}
	return proto.IndexUpdateResponse{
		DocID:      int64(res.DocID),
		Status:     res.Status,
		SourceUsed: res.SourceUsed,
		TermCount:  res.TermCount,
	}, nil
}

func (h *Handler) rpcRebuild(ctx context.Context, req proto.IndexRebuildRequest) (proto.IndexRebuildResponse, error) {
	res, err := h.engine.Rebuild(ctx, h.orDefaults(req.Origins))
	if err != nil {
		return proto.IndexRebuildResponse{}, err
	}
	failed := make([]int64, len(res.FailedIDs))
	for i, id := range res.FailedIDs {
		failed[i] = int64(id)
	}
	return proto.IndexRebuildResponse{
		Status:    res.Status,
		Total:     res.Total,
		Indexed:   res.Indexed,
		Failed:    res.Failed,
		FailedIDs: failed,
		ElapsedMs: res.ElapsedMs,
	}, nil
}

func (h *Handler) rpcRemove(ctx context.Context, req proto.IndexRemoveRequest) (map[string]any, error) {
	if err := h.engine.Remove(ctx, content.DocID(req.DocID)); err != nil {
		return nil, err
	}
	return map[string]any{"doc_id": req.DocID, "status": "removed"}, nil
}

func (h *Handler) rpcStats(ctx context.Context, _ struct{}) (proto.IndexStatsResponse, error) {
	stats, err := h.engine.Stats(ctx)
	if err != nil {
		return proto.IndexStatsResponse{}, err
	}
	return proto.IndexStatsResponse{Docs: stats.Docs, Terms: stats.Terms}, nil
}
