package handler

import (
	"github.com/d60-Lab/feed-service/internal/service"
)

// Handler 聚合各服务的 HTTP 入口
type Handler struct {
	relService  service.RelationshipService
	publisher   *service.Publisher
	timelineSvc *service.TimelineService
	trendingSvc *service.TrendingAggregator
}

func New(rel service.RelationshipService, pub *service.Publisher, tl *service.TimelineService, tr *service.TrendingAggregator) *Handler {
	return &Handler{relService: rel, publisher: pub, timelineSvc: tl, trendingSvc: tr}
}
