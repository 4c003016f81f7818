package server

import (
	"net/http"

	"prepmate/internal/auth"
	"prepmate/internal/config"
	"prepmate/internal/metrics"
	"prepmate/internal/mw"
	"prepmate/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	// RateLimitRPS 未配置时不限速。
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// 未登录接口按 IP+路由限速。
	users := api.Group("/users")
	users.Use(mw.RateLimit(limit, cfg.RateLimitBurst))
	users.POST("/register", h.Register)
	users.POST("/login", h.Login)
	users.POST("/refresh", h.RefreshToken)

	// 以下接口需要 Bearer Token，且账号未被禁用。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db), auth.RequireActive(), mw.RateLimit(limit, cfg.RateLimitBurst))

	authed.GET("/users/stats/:id", h.Stats)

	authed.POST("/interviewee/book", h.BookMeeting)
	authed.POST("/interviewee/review/:meetingId", h.Review)

	iv := authed.Group("/interviewer")
	iv.GET("/pending", h.PendingMeetings)
	iv.POST("/accept/:meetingId", h.AcceptMeeting)
	iv.POST("/complete/:meetingId", h.CompleteMeeting)
	iv.POST("/noshow/:meetingId", h.NoShow)
	iv.POST("/meeting-started/:meetingId", h.MeetingStarted)
	iv.POST("/meeting/:id/user-joined", h.UserJoined)
	iv.POST("/reschedule/:meetingId", h.Reschedule)

	authed.GET("/intervieweeprofile/upcoming", h.IntervieweeUpcoming)
	authed.GET("/intervieweeprofile/completed", h.IntervieweeCompleted)

	ivp := authed.Group("/interviewerprofile")
	ivp.GET("/upcoming", h.InterviewerUpcoming)
	ivp.GET("/completed", h.InterviewerCompleted)
	ivp.GET("/meeting/:id", h.MeetingDetail)
	ivp.POST("/expertise", h.AddExpertise)

	chat := authed.Group("/chat")
	chat.POST("/start/:meetingId", h.StartChat)
	chat.POST("/message/:meetingId", h.SendMessage)
	chat.GET("/messages/:meetingId", h.ChatMessages)

	video := authed.Group("/video/interview")
	video.POST("/:meetingId/start", h.StartVideo)
	video.POST("/complete/:meetingId", h.CompleteMeeting)

	r.GET("/ws", ws.Serve(hub, db, cfg, ws.Services{Meetings: h.meetings, Chats: h.chats}))
	return r
}
