package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feed-service/internal/repository"
	"github.com/d60-Lab/feed-service/internal/service"
	"github.com/d60-Lab/feed-service/pkg/response"
)

type createPostRequest struct {
	AuthorID string   `json:"author_id" binding:"required"`
	Body     string   `json:"body"`
	Hashtags []string `json:"hashtags"`
	Mentions []string `json:"mentions"`
	ReplyTo  *int64   `json:"reply_to"`
	QuoteOf  *int64   `json:"quote_of"`
	RepostOf *int64   `json:"repost_of"`
}

// CreatePost 发帖。落库 + outbox 同事务，扇出异步；
// Idempotency-Key 头避免客户端重试重复发布。
// @Summary 发帖
// @Tags 内容
// @Accept json
// @Produce json
// @Param request body createPostRequest true "帖子内容"
// @Success 200 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	post, err := h.publisher.CreatePost(c.Request.Context(), service.PostInput{
		AuthorID:       req.AuthorID,
		Body:           req.Body,
		Hashtags:       req.Hashtags,
		Mentions:       req.Mentions,
		ReplyTo:        req.ReplyTo,
		QuoteOf:        req.QuoteOf,
		RepostOf:       req.RepostOf,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		if errors.Is(err, service.ErrEmptyBody) || errors.Is(err, repository.ErrPostNotFound) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"id": post.ID, "created_at": post.CreatedAt})
}

type likeRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// LikePost 点赞（幂等）
// @Summary 点赞
// @Tags 内容
// @Accept json
// @Produce json
// @Param post_id path int true "帖子ID"
// @Param request body likeRequest true "点赞用户"
// @Success 200 {object} response.Response
// @Router /api/v1/posts/{post_id}/like [post]
func (h *Handler) LikePost(c *gin.Context) {
	postID, err := strconv.ParseInt(c.Param("post_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid post id")
		return
	}
	var req likeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.publisher.LikePost(c.Request.Context(), req.UserID, postID); err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, nil)
}
