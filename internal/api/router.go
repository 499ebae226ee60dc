package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/feed-service/internal/api/handler"
)

// NewRouter 组装路由；认证等外围中间件由接入层负责
func NewRouter(mode string, h *handler.Handler) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(otelgin.Middleware("feed-service"))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/posts", h.CreatePost)
		v1.POST("/posts/:post_id/like", h.LikePost)

		v1.GET("/timeline/:user_id", h.GetTimeline)
		v1.POST("/timeline/:user_id/rebuild", h.RebuildTimeline)
		v1.GET("/trending", h.GetTrending)

		rel := v1.Group("/relations")
		{
			rel.POST("/follow", h.Follow)
			rel.POST("/unfollow", h.Unfollow)
			rel.GET("/:user_id/following", h.ListFollowing)
			rel.GET("/:user_id/fans", h.ListFans)
		}
	}
	return r
}
