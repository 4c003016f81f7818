package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prepmate/internal/auth"
	"prepmate/internal/models"
	"prepmate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	users    *service.UserService
	meetings *service.MeetingService
	chats    *service.ChatService
	reviews  *service.ReviewService
	profiles *service.ProfileService
}

func NewHandler(users *service.UserService, meetings *service.MeetingService, chats *service.ChatService,
	reviews *service.ReviewService, profiles *service.ProfileService) *Handler {
	return &Handler{users: users, meetings: meetings, chats: chats, reviews: reviews, profiles: profiles}
}

// errStatus 把业务错误映射到 HTTP 状态码，按顺序匹配。
var errStatus = []struct {
	err  error
	code int
}{
	{service.ErrInvalidInput, http.StatusBadRequest},
	{service.ErrInvalidTimeSlot, http.StatusBadRequest},
	{service.ErrInvalidRating, http.StatusBadRequest},
	{service.ErrEmptyMessage, http.StatusBadRequest},
	{service.ErrTooEarly, http.StatusBadRequest},
	{service.ErrInvalidCredentials, http.StatusUnauthorized},
	{service.ErrInvalidToken, http.StatusUnauthorized},
	{service.ErrInsufficientCoins, http.StatusPaymentRequired},
	{service.ErrWordLimitExceeded, http.StatusForbidden},
	{service.ErrAccountDisabled, http.StatusForbidden},
	{service.ErrNotParticipant, http.StatusForbidden},
	{service.ErrSelfInterview, http.StatusForbidden},
	{service.ErrReviewerNotAllowed, http.StatusForbidden},
	{service.ErrUserNotFound, http.StatusNotFound},
	{service.ErrMeetingNotFound, http.StatusNotFound},
	{service.ErrProfileNotFound, http.StatusNotFound},
	{service.ErrChatNotFound, http.StatusNotFound},
	{service.ErrEmailTaken, http.StatusConflict},
	{service.ErrMeetingConflict, http.StatusConflict},
	{service.ErrAlreadyCompleted, http.StatusConflict},
	{service.ErrTimeSlotClash, http.StatusConflict},
	{service.ErrChatClosed, http.StatusConflict},
	{service.ErrNotCompleted, http.StatusConflict},
	{service.ErrAlreadyReviewed, http.StatusConflict},
}

// fail 输出业务错误；未知错误记日志并返回 500。
func fail(c *gin.Context, err error, op string) {
	for _, e := range errStatus {
		if errors.Is(err, e.err) {
			c.JSON(e.code, gin.H{"error": e.err.Error()})
			return
		}
	}
	log.Error().Err(err).Str("op", op).Uint("user_id", auth.GetUserID(c)).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func meetingJSON(m *models.Meeting) service.MeetingDTO { return service.ToMeetingDTO(*m) }

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.users.Register(req)
	if err != nil {
		fail(c, err, "register")
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.users.Login(req.Email, req.Password)
	if err != nil {
		fail(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, result)
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.users.RefreshTokens(req.RefreshToken)
	if err != nil {
		fail(c, err, "refresh token")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Stats(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	stats, err := h.users.Stats(uint(id))
	if err != nil {
		fail(c, err, "stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// BookMeeting 处理候选人预约。
func (h *Handler) BookMeeting(c *gin.Context) {
	var req service.BookInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	m, err := h.meetings.BookMeeting(auth.GetUserID(c), req)
	if err != nil {
		fail(c, err, "book meeting")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Interview booked", "meeting": meetingJSON(m)})
}

func optionalTime(c *gin.Context, key string) (*time.Time, bool) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil, true
	}
	t, err := service.ParseTimeSlot(v)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// PendingMeetings 返回面试官可接的会议列表。
func (h *Handler) PendingMeetings(c *gin.Context) {
	f := service.PendingFilter{RoleType: c.Query("roleType"), RoleName: c.Query("roleName")}
	var ok bool
	if f.Start, ok = optionalTime(c, "startTime"); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startTime"})
		return
	}
	if f.End, ok = optionalTime(c, "endTime"); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endTime"})
		return
	}
	f.Page, _ = strconv.Atoi(c.Query("page"))
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	page, err := h.meetings.GetPendingMeetings(auth.GetUserID(c), f)
	if err != nil {
		fail(c, err, "pending meetings")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) AcceptMeeting(c *gin.Context) {
	m, err := h.meetings.AcceptMeeting(auth.GetUserID(c), c.Param("meetingId"))
	if err != nil {
		fail(c, err, "accept meeting")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Meeting accepted", "meeting": meetingJSON(m)})
}

// CompleteMeeting 同时服务 /interviewer/complete 与 /video/interview/complete。
func (h *Handler) CompleteMeeting(c *gin.Context) {
	m, err := h.meetings.CompleteMeeting(auth.GetUserID(c), c.Param("meetingId"))
	if err != nil {
		fail(c, err, "complete meeting")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Meeting completed", "meeting": meetingJSON(m)})
}

// NoShow 不满足爽约条件时返回 200 与 success=false。
func (h *Handler) NoShow(c *gin.Context) {
	m, err := h.meetings.HandleNoShow(auth.GetUserID(c), c.Param("meetingId"))
	if errors.Is(err, service.ErrNotNoShow) {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
		return
	}
	if err != nil {
		fail(c, err, "no-show")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "meeting": meetingJSON(m)})
}

func (h *Handler) MeetingStarted(c *gin.Context) {
	m, err := h.meetings.MarkInterviewerStarted(auth.GetUserID(c), c.Param("meetingId"))
	if err != nil {
		fail(c, err, "meeting started")
		return
	}
	c.JSON(http.StatusOK, gin.H{"meeting": meetingJSON(m)})
}

func (h *Handler) UserJoined(c *gin.Context) {
	m, err := h.meetings.MarkUserJoined(auth.GetUserID(c), c.Param("id"))
	if err != nil {
		fail(c, err, "user joined")
		return
	}
	c.JSON(http.StatusOK, gin.H{"meeting": meetingJSON(m)})
}

func (h *Handler) Reschedule(c *gin.Context) {
	var req struct {
		TimeSlot string `json:"timeSlot"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	m, err := h.meetings.RescheduleMeeting(auth.GetUserID(c), c.Param("meetingId"), req.TimeSlot)
	if err != nil {
		fail(c, err, "reschedule")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Meeting rescheduled", "meeting": meetingJSON(m)})
}

func listJSON(c *gin.Context, ms []service.MeetingDTO, err error, op string) {
	if err != nil {
		fail(c, err, op)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(ms), "meetings": ms})
}

func (h *Handler) IntervieweeUpcoming(c *gin.Context) {
	ms, err := h.profiles.IntervieweeUpcoming(auth.GetUserID(c))
	listJSON(c, ms, err, "interviewee upcoming")
}

func (h *Handler) IntervieweeCompleted(c *gin.Context) {
	ms, err := h.profiles.IntervieweeCompleted(auth.GetUserID(c))
	listJSON(c, ms, err, "interviewee completed")
}

func (h *Handler) InterviewerUpcoming(c *gin.Context) {
	ms, err := h.profiles.InterviewerUpcoming(auth.GetUserID(c))
	listJSON(c, ms, err, "interviewer upcoming")
}

func (h *Handler) InterviewerCompleted(c *gin.Context) {
	ms, err := h.profiles.InterviewerCompleted(auth.GetUserID(c))
	listJSON(c, ms, err, "interviewer completed")
}

func (h *Handler) MeetingDetail(c *gin.Context) {
	m, err := h.profiles.MeetingDetail(c.Param("id"))
	if err != nil {
		fail(c, err, "meeting detail")
		return
	}
	c.JSON(http.StatusOK, gin.H{"meeting": m})
}

func (h *Handler) AddExpertise(c *gin.Context) {
	var req struct {
		RoleType string `json:"roleType"`
		RoleName string `json:"roleName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	out, err := h.profiles.AddExpertise(auth.GetUserID(c), req.RoleType, req.RoleName)
	if err != nil {
		fail(c, err, "add expertise")
		return
	}
	c.JSON(http.StatusOK, gin.H{"expertise": out})
}

func (h *Handler) StartChat(c *gin.Context) {
	chat, err := h.chats.StartChat(auth.GetUserID(c), c.Param("meetingId"))
	if err != nil {
		fail(c, err, "start chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// SendMessage 请求体中的 sender 会被忽略，发送方由登录用户在会议中的身份决定。
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		Sender  string `json:"sender"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.chats.SendMessage(auth.GetUserID(c), c.Param("meetingId"), req.Content)
	if err != nil {
		fail(c, err, "send message")
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ChatMessages(c *gin.Context) {
	chat, err := h.chats.GetChatMessages(auth.GetUserID(c), c.Param("meetingId"))
	if err != nil {
		fail(c, err, "chat messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *Handler) StartVideo(c *gin.Context) {
	session, err := h.meetings.StartVideo(auth.GetUserID(c), c.Param("meetingId"))
	if err != nil {
		fail(c, err, "start video")
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) Review(c *gin.Context) {
	var req struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.reviews.GiveReview(auth.GetUserID(c), c.Param("meetingId"), req.Rating, req.Feedback)
	if err != nil {
		fail(c, err, "review")
		return
	}
	c.JSON(http.StatusOK, res)
}
