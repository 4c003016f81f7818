package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"prepmate/internal/config"
	"prepmate/internal/mail"
	"prepmate/internal/models"
	"prepmate/internal/service"
	"prepmate/internal/testhelpers"
	"prepmate/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type apiEnv struct {
	engine *gin.Engine
	db     *gorm.DB
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := testhelpers.SetupTestDB(t)
	cfg := config.Config{
		Env:                   "dev",
		JWTSecret:             "secret",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
		VideoBaseURL:          "https://meet.example.org",
	}
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	mailer := mail.LogMailer{}
	meetings := service.NewMeetingService(gdb, cfg, hub, mailer)
	t.Cleanup(meetings.Reminders().Stop)
	h := NewHandler(
		service.NewUserService(gdb, cfg, mailer),
		meetings,
		service.NewChatService(gdb, hub),
		service.NewReviewService(gdb, mailer),
		service.NewProfileService(gdb),
	)
	return &apiEnv{engine: SetupRouter(cfg, gdb, hub, h), db: gdb}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

// register 注册用户并返回 access token 与用户 ID。
func (e *apiEnv) register(t *testing.T, email string) (string, uint) {
	t.Helper()
	w, body := e.do(t, http.MethodPost, "/api/users/register", "", gin.H{
		"firstName": "Test", "lastName": "User", "email": email, "password": "password1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := body["user"].(map[string]any)
	return body["token"].(string), uint(user["id"].(float64))
}

func slot(d time.Duration) string { return time.Now().UTC().Add(d).Format(time.RFC3339) }

func TestHealthz(t *testing.T) {
	env := setupAPI(t)
	w, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	env := setupAPI(t)
	w, _ := env.do(t, http.MethodPost, "/api/interviewee/book", "", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/interviewer/pending", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterLoginRefresh(t *testing.T) {
	env := setupAPI(t)
	env.register(t, "ada@example.com")

	w, _ := env.do(t, http.MethodPost, "/api/users/register", "", gin.H{
		"firstName": "Ada", "email": "ADA@example.com", "password": "password1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body := env.do(t, http.MethodPost, "/api/users/login", "", gin.H{"email": "ada@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = env.do(t, http.MethodPost, "/api/users/login", "", gin.H{"email": "ada@example.com", "password": "password1"})
	require.Equal(t, http.StatusOK, w.Code)
	rt := body["refreshToken"].(string)

	w, body = env.do(t, http.MethodPost, "/api/users/refresh", "", gin.H{"refreshToken": rt})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["token"])

	w, _ = env.do(t, http.MethodPost, "/api/users/refresh", "", gin.H{"refreshToken": rt})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeetingLifecycle(t *testing.T) {
	env := setupAPI(t)
	ieToken, ieID := env.register(t, "ie@example.com")
	ivToken, ivID := env.register(t, "iv@example.com")

	w, body := env.do(t, http.MethodPost, "/api/interviewee/book", ieToken, gin.H{
		"roleName": "Software Engineer", "roleType": "Backend", "timeSlot": slot(2 * time.Hour), "resumeLink": "https://cv",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	meetingID := body["meeting"].(map[string]any)["meetingId"].(string)

	w, body = env.do(t, http.MethodPost, "/api/interviewee/book", ieToken, gin.H{
		"roleName": "SWE", "roleType": "backend", "timeSlot": slot(2*time.Hour + 30*time.Minute), "resumeLink": "https://cv",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/interviewer/pending?roleType=back&page=1&limit=5", ivToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, _ = env.do(t, http.MethodPost, "/api/interviewer/accept/"+meetingID, ieToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = env.do(t, http.MethodPost, "/api/interviewer/accept/"+meetingID, ivToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accepted", body["meeting"].(map[string]any)["status"])

	w, _ = env.do(t, http.MethodPost, "/api/interviewer/accept/"+meetingID, ivToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = env.do(t, http.MethodPost, "/api/interviewer/noshow/"+meetingID, ieToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = env.do(t, http.MethodPost, "/api/chat/start/"+meetingID, ieToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/intervieweeprofile/upcoming", ieToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = env.do(t, http.MethodPost, "/api/video/interview/complete/"+meetingID, ivToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["meeting"].(map[string]any)["status"])

	w, _ = env.do(t, http.MethodPost, "/api/interviewer/complete/"+meetingID, ivToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = env.do(t, http.MethodPost, "/api/interviewee/review/"+meetingID, ieToken, gin.H{"rating": 5, "feedback": "great"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, body["averageRating"])

	w, body = env.do(t, http.MethodGet, "/api/users/stats/"+strconv.FormatUint(uint64(ivID), 10), ieToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 150, body["coins"])
	assert.EqualValues(t, 1, body["interviewsGiven"])

	w, body = env.do(t, http.MethodGet, "/api/users/stats/"+strconv.FormatUint(uint64(ieID), 10), ieToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 50, body["coins"])

	w, body = env.do(t, http.MethodGet, "/api/interviewerprofile/meeting/"+meetingID, ivToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, meetingID, body["meeting"].(map[string]any)["meetingId"])
}

func TestChatAndVideoRoutes(t *testing.T) {
	env := setupAPI(t)
	ieToken, _ := env.register(t, "ie@example.com")
	ivToken, _ := env.register(t, "iv@example.com")

	w, body := env.do(t, http.MethodPost, "/api/interviewee/book", ieToken, gin.H{
		"roleName": "SWE", "roleType": "backend", "timeSlot": slot(-time.Minute), "resumeLink": "https://cv",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	meeting := body["meeting"].(map[string]any)
	meetingID := meeting["meetingId"].(string)
	pk := strconv.Itoa(int(meeting["id"].(float64)))

	w, _ = env.do(t, http.MethodPost, "/api/interviewer/accept/"+pk, ivToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/chat/messages/"+meetingID, ieToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/chat/start/"+meetingID, ieToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodPost, "/api/chat/message/"+meetingID, ivToken, gin.H{"sender": "interviewee", "content": "hi there"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "interviewer", body["message"].(map[string]any)["sender"])

	w, _ = env.do(t, http.MethodPost, "/api/chat/message/"+meetingID, ieToken, gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/chat/messages/"+pk, ieToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["chat"].(map[string]any)["messages"], 1)

	w, body = env.do(t, http.MethodPost, "/api/video/interview/"+meetingID+"/start", ivToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://meet.example.org/"+meetingID, body["roomUrl"])
	assert.Equal(t, "interviewer", body["role"])
}

func TestErrorStatusCodes(t *testing.T) {
	env := setupAPI(t)
	token, id := env.register(t, "poor@example.com")
	require.NoError(t, env.db.Model(&models.User{}).Where("id = ?", id).Update("coins", 10).Error)

	w, _ := env.do(t, http.MethodPost, "/api/interviewee/book", token, gin.H{
		"roleName": "SWE", "roleType": "backend", "timeSlot": slot(time.Hour), "resumeLink": "cv",
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/interviewee/book", token, gin.H{"roleName": "SWE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/interviewer/accept/does-not-exist", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/intervieweeprofile/completed", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/interviewer/pending?startTime=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisabledAccountIsBlocked(t *testing.T) {
	env := setupAPI(t)
	token, id := env.register(t, "bad@example.com")
	require.NoError(t, env.db.Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"warning_count": 3, "disabled": true}).Error)

	w, body := env.do(t, http.MethodGet, "/api/interviewer/pending", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, body["error"], "disabled")
}
