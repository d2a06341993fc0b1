package server

import (
	"net/http"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/config"
	"github.com/Dot-Click/proactive-be-sub000/internal/metrics"
	"github.com/Dot-Click/proactive-be-sub000/internal/mw"
	"github.com/Dot-Click/proactive-be-sub000/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, a *auth.Authenticator, h *Handler, wsh *ws.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	// 控制单个 IP+路由的速率
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", wsh.Serve)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)
	api.POST("/auth/logout", h.Logout)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(a))

	authed.GET("/auth/me", h.Me)

	chat := authed.Group("/chat")
	chat.POST("", h.CreateChat)
	chat.GET("", h.ListChats)
	chat.GET("/:chatId", h.GetChat)
	chat.DELETE("/:chatId", h.DeleteChat)
	chat.GET("/:chatId/participants", h.ListParticipants)
	chat.POST("/:chatId/participants", h.AddParticipant)
	chat.DELETE("/:chatId/participants/:userId", h.RemoveParticipant)
	chat.POST("/:chatId/messages", h.SendMessage)
	chat.GET("/:chatId/messages", h.ListMessages)
	chat.GET("/:chatId/messages/:messageId", h.GetMessage)
	chat.PUT("/:chatId/messages/:messageId", h.EditMessage)
	chat.DELETE("/:chatId/messages/:messageId", h.DeleteMessage)
	chat.POST("/:chatId/read", h.MarkRead)

	trips := authed.Group("/trips")
	trips.POST("", h.CreateTrip)
	trips.POST("/:tripId/applications", h.ApplyTrip)
	trips.POST("/:tripId/applications/:applicationId/approve", h.ApproveApplication)
	trips.PUT("/:tripId/leader", h.AssignLeader)

	authed.GET("/achievements/me", h.MyAchievements)
	authed.GET("/users/:userId/achievements", h.UserAchievements)
	return r
}
