package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feed-service/internal/cache"
	"github.com/d60-Lab/feed-service/pkg/response"
)

// GetTimeline 读时间线：缓存 push 内容并上大 V pull 内容，游标翻页
// @Summary 个人时间线
// @Tags 信息流
// @Param user_id path string true "用户ID"
// @Param limit query int false "单页数量" default(20)
// @Param before query string false "游标：翻此 post id 之前"
// @Success 200 {object} response.Response{data=service.TimelinePage}
// @Router /api/v1/timeline/{user_id} [get]
func (h *Handler) GetTimeline(c *gin.Context) {
	userID := c.Param("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	var before int64
	if cur := c.Query("before"); cur != "" {
		v, err := strconv.ParseInt(cur, 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid cursor")
			return
		}
		before = v
	}
	page, err := h.timelineSvc.GetTimeline(c.Request.Context(), userID, limit, before)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, page)
}

// RebuildTimeline 缓存丢失/损坏后的恢复入口
// @Summary 重建个人时间线缓存
// @Tags 信息流
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response
// @Router /api/v1/timeline/{user_id}/rebuild [post]
func (h *Handler) RebuildTimeline(c *gin.Context) {
	if err := h.timelineSvc.Rebuild(c.Request.Context(), c.Param("user_id")); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetTrending 热榜 range 读，读路径零计算
// @Summary 热门话题
// @Tags 信息流
// @Param limit query int false "条数" default(10)
// @Param view query string false "hourly / daily" default(hourly)
// @Success 200 {object} response.Response
// @Router /api/v1/trending [get]
func (h *Handler) GetTrending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	view := cache.ViewHourly
	if c.Query("view") == "daily" {
		view = cache.ViewDaily
	}
	entries, err := h.trendingSvc.TopTrending(c.Request.Context(), view, limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, entries)
}
