package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"prepmate/internal/config"
	"prepmate/internal/mail"
	"prepmate/internal/metrics"
	"prepmate/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	BookingCost     = 50
	StandardReward  = 50
	PriorityReward  = 100
	CollisionWindow = 60 * time.Minute
	NoShowGrace     = 15 * time.Minute
	PriorityLead    = 15 * time.Minute
	ReminderLead    = 10 * time.Minute

	defaultPageSize = 10
	maxPageSize     = 100
)

// 预约时间接受 RFC3339 以及前端 datetime-local 的格式，不带时区的按原样存为 UTC。
var timeSlotLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02T15:04:05"}

func ParseTimeSlot(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeSlotLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimeSlot
}

func normalizeRole(roleType, roleName string) (string, string) {
	return strings.ToLower(strings.TrimSpace(roleType)), strings.TrimSpace(roleName)
}

// MeetingEvent 是会议房间广播的事件负载。
type MeetingEvent struct {
	MeetingID string `json:"meetingId"`
	Message   string `json:"message,omitempty"`
}

// MeetingService 实现会议的状态机：预约、接单、开始、完成、爽约与改期。
type MeetingService struct {
	db        *gorm.DB
	cfg       config.Config
	notifier  Notifier
	mailer    mail.Mailer
	reminders *Reminders
	now       func() time.Time
}

func NewMeetingService(db *gorm.DB, cfg config.Config, notifier Notifier, mailer mail.Mailer) *MeetingService {
	if notifier == nil {
		notifier = NopNotifier
	}
	if mailer == nil {
		mailer = mail.LogMailer{}
	}
	return &MeetingService{db: db, cfg: cfg, notifier: notifier, mailer: mailer, reminders: NewReminders(), now: time.Now}
}

// Reminders 暴露提醒定时器，停服时由调用方 Stop。
func (s *MeetingService) Reminders() *Reminders { return s.reminders }

// ResolveMeeting 按存储主键或对外 meetingId 查找会议。
func (s *MeetingService) ResolveMeeting(anyID string) (*models.Meeting, error) {
	return resolveMeeting(s.db, anyID)
}

// ParticipantRole 返回会议及调用者在其中的身份，非参与方返回 ErrNotParticipant。
func (s *MeetingService) ParticipantRole(userID uint, anyID string) (*models.Meeting, models.ChatSender, error) {
	m, err := resolveMeeting(s.db, anyID)
	if err != nil {
		return nil, "", err
	}
	if err := loadParties(s.db, m); err != nil {
		return nil, "", err
	}
	role, err := roleOf(m, userID)
	if err != nil {
		return nil, "", err
	}
	return m, role, nil
}

func resolveMeeting(db *gorm.DB, anyID string) (*models.Meeting, error) {
	anyID = strings.TrimSpace(anyID)
	if anyID == "" {
		return nil, ErrMeetingNotFound
	}
	if pk, err := strconv.ParseUint(anyID, 10, 64); err == nil && pk > 0 {
		var m models.Meeting
		err := db.First(&m, uint(pk)).Error
		if err == nil {
			return &m, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	var m models.Meeting
	if err := db.Where("meeting_id = ?", anyID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeetingNotFound
		}
		return nil, err
	}
	return &m, nil
}

// roomIDs 返回会议的两个房间键；客户端可能用任一形式加入。
func roomIDs(m *models.Meeting) []string {
	return []string{m.MeetingID, strconv.FormatUint(uint64(m.ID), 10)}
}

func notifyMeeting(n Notifier, m *models.Meeting, event string, payload any) {
	for _, id := range roomIDs(m) {
		n.NotifyRoom(id, event, payload)
	}
}

// loadParties 加载会议双方的档案（不含用户信息）。
func loadParties(tx *gorm.DB, m *models.Meeting) error {
	var ie models.Interviewee
	if err := tx.First(&ie, m.IntervieweeID).Error; err != nil {
		return err
	}
	m.Interviewee = &ie
	m.Interviewer = nil
	if m.InterviewerID != nil {
		var iv models.Interviewer
		err := tx.First(&iv, *m.InterviewerID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			m.Interviewer = &iv
		}
	}
	return nil
}

// roleOf 返回用户在会议中的身份，必须先 loadParties。
func roleOf(m *models.Meeting, userID uint) (models.ChatSender, error) {
	if m.Interviewer != nil && m.Interviewer.UserID == userID {
		return models.SenderInterviewer, nil
	}
	if m.Interviewee != nil && m.Interviewee.UserID == userID {
		return models.SenderInterviewee, nil
	}
	return "", ErrNotParticipant
}

func rewardFor(m *models.Meeting) int {
	if m.Priority {
		return PriorityReward
	}
	return StandardReward
}

func requireActiveUser(tx *gorm.DB, userID uint) (*models.User, error) {
	var u models.User
	if err := tx.First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if u.Disabled {
		return nil, ErrAccountDisabled
	}
	return &u, nil
}

func ensureInterviewee(tx *gorm.DB, userID uint, resume string) (*models.Interviewee, error) {
	var ie models.Interviewee
	err := tx.Where("user_id = ?", userID).First(&ie).Error
	if err == nil {
		if resume != "" && resume != ie.ResumeURL {
			if err := tx.Model(&ie).Update("resume_url", resume).Error; err != nil {
				return nil, err
			}
		}
		return &ie, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	ie = models.Interviewee{UserID: userID, ResumeURL: resume}
	if err := tx.Create(&ie).Error; err != nil {
		return nil, err
	}
	return &ie, nil
}

// ensureInterviewer 懒创建面试官档案，并发首建时依赖 user_id 唯一索引去重。
func ensureInterviewer(tx *gorm.DB, userID uint) (*models.Interviewer, error) {
	var iv models.Interviewer
	err := tx.Where("user_id = ?", userID).First(&iv).Error
	if err == nil {
		return &iv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Interviewer{UserID: userID}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("user_id = ?", userID).First(&iv).Error; err != nil {
		return nil, err
	}
	return &iv, nil
}

func addParticipant(tx *gorm.DB, meetingPK, userID uint) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.MeetingParticipant{MeetingID: meetingPK, UserID: userID}).Error
}

// checkCollision 检查候选人在 slot 前后 60 分钟内（含边界）是否已有待接或已接的会议。
func checkCollision(tx *gorm.DB, intervieweeID uint, slot time.Time, excludePK uint) error {
	q := tx.Where("interviewee_id = ? AND status IN ? AND time_slot BETWEEN ? AND ?",
		intervieweeID,
		[]string{string(models.StatusPending), string(models.StatusAccepted)},
		slot.Add(-CollisionWindow), slot.Add(CollisionWindow))
	if excludePK != 0 {
		q = q.Where("id <> ?", excludePK)
	}
	var clash models.Meeting
	err := q.Take(&clash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: pick a time outside %s to %s", ErrTimeSlotClash,
		clash.TimeSlot.Add(-CollisionWindow).Format(time.RFC3339),
		clash.TimeSlot.Add(CollisionWindow).Format(time.RFC3339))
}

func (s *MeetingService) loadFull(pk uint) (*models.Meeting, error) {
	var m models.Meeting
	if err := withParties(s.db).First(&m, pk).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeetingNotFound
		}
		return nil, err
	}
	return &m, nil
}

// BookInput 是预约请求的参数。
type BookInput struct {
	RoleName   string `json:"roleName"`
	RoleType   string `json:"roleType"`
	TimeSlot   string `json:"timeSlot"`
	ResumeLink string `json:"resumeLink"`
}

// BookMeeting 扣除 50 金币并创建待接会议；扣费、冲突检查与建档在同一事务内。
func (s *MeetingService) BookMeeting(userID uint, in BookInput) (*models.Meeting, error) {
	roleType, roleName := normalizeRole(in.RoleType, in.RoleName)
	resume := strings.TrimSpace(in.ResumeLink)
	if roleType == "" || roleName == "" || resume == "" || strings.TrimSpace(in.TimeSlot) == "" {
		return nil, ErrInvalidInput
	}
	slot, err := ParseTimeSlot(in.TimeSlot)
	if err != nil {
		return nil, err
	}

	var meeting models.Meeting
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := requireActiveUser(tx, userID); err != nil {
			return err
		}
		// 先做条件扣费：postgres 下会锁住该用户行，同一用户的并发预约在此串行。
		res := tx.Model(&models.User{}).
			Where("id = ? AND coins >= ?", userID, BookingCost).
			UpdateColumn("coins", gorm.Expr("coins - ?", BookingCost))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientCoins
		}
		ie, err := ensureInterviewee(tx, userID, resume)
		if err != nil {
			return err
		}
		if err := checkCollision(tx, ie.ID, slot, 0); err != nil {
			return err
		}
		meeting = models.Meeting{
			MeetingID:     uuid.NewString(),
			IntervieweeID: ie.ID,
			RoleType:      roleType,
			RoleName:      roleName,
			TimeSlot:      slot,
			ResumeLink:    resume,
			Status:        models.StatusPending,
			CoinsSpent:    BookingCost,
			CoinsReward:   StandardReward,
		}
		if err := tx.Create(&meeting).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.IntervieweeInterest{IntervieweeID: ie.ID, RoleType: roleType, RoleName: roleName}).Error
	})
	if err != nil {
		return nil, err
	}
	metrics.MeetingsBooked.Inc()
	log.Info().Uint("user_id", userID).Str("meeting_id", meeting.MeetingID).Time("time_slot", slot).Msg("meeting booked")
	return &meeting, nil
}

// PendingFilter 是待接列表的筛选与分页参数。
type PendingFilter struct {
	RoleType string
	RoleName string
	Start    *time.Time
	End      *time.Time
	Page     int
	Limit    int
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// GetPendingMeetings 返回可接的会议，排除调用者自己的预约；加急会议排在最前。
func (s *MeetingService) GetPendingMeetings(userID uint, f PendingFilter) (*PendingPage, error) {
	if _, err := ensureInterviewer(s.db, userID); err != nil {
		return nil, err
	}
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	own := s.db.Model(&models.Interviewee{}).Select("id").Where("user_id = ?", userID)
	q := s.db.Model(&models.Meeting{}).
		Where("status = ?", models.StatusPending).
		Where("interviewee_id NOT IN (?)", own)
	if rt := strings.ToLower(strings.TrimSpace(f.RoleType)); rt != "" {
		q = q.Where(`LOWER(role_type) LIKE ? ESCAPE '\'`, "%"+escapeLike(rt)+"%")
	}
	if rn := strings.ToLower(strings.TrimSpace(f.RoleName)); rn != "" {
		q = q.Where(`LOWER(role_name) LIKE ? ESCAPE '\'`, "%"+escapeLike(rn)+"%")
	}
	if f.Start != nil {
		q = q.Where("time_slot >= ?", f.Start.UTC())
	}
	if f.End != nil {
		q = q.Where("time_slot <= ?", f.End.UTC())
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}
	var ms []models.Meeting
	if err := withParties(q).
		Order("priority desc").Order("time_slot asc").
		Offset((page - 1) * limit).Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return &PendingPage{
		Page:       page,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
		Count:      total,
		PageCount:  len(ms),
		Meetings:   toMeetingDTOs(ms),
	}, nil
}

// AcceptMeeting 由面试官认领待接会议；加急会议的开始时间改为 15 分钟之后。
func (s *MeetingService) AcceptMeeting(userID uint, anyID string) (*models.Meeting, error) {
	var pk uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := requireActiveUser(tx, userID); err != nil {
			return err
		}
		m, err := resolveMeeting(tx, anyID)
		if err != nil {
			return err
		}
		if err := loadParties(tx, m); err != nil {
			return err
		}
		if m.Interviewee.UserID == userID {
			return ErrSelfInterview
		}
		if m.Status != models.StatusPending {
			return ErrMeetingConflict
		}
		iv, err := ensureInterviewer(tx, userID)
		if err != nil {
			return err
		}
		updates := map[string]any{
			"interviewer_id":      iv.ID,
			"status":              models.StatusAccepted,
			"interviewer_started": false,
		}
		if m.Priority {
			updates["time_slot"] = s.now().UTC().Add(PriorityLead)
		}
		res := tx.Model(&models.Meeting{}).
			Where("id = ? AND status = ?", m.ID, models.StatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrMeetingConflict
		}
		pk = m.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.MeetingsAccepted.Inc()

	m, err := s.loadFull(pk)
	if err != nil {
		return nil, err
	}
	log.Info().Uint("user_id", userID).Str("meeting_id", m.MeetingID).Msg("meeting accepted")
	s.sendAcceptedMails(m)
	s.scheduleReminder(m)
	return m, nil
}

func fullName(u *models.User) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func meetingInfo(m *models.Meeting) mail.MeetingInfo {
	info := mail.MeetingInfo{
		MeetingID:  m.MeetingID,
		RoleType:   m.RoleType,
		RoleName:   m.RoleName,
		ResumeLink: m.ResumeLink,
		TimeSlot:   m.TimeSlot,
	}
	if m.Interviewee != nil {
		info.IntervieweeName = fullName(m.Interviewee.User)
	}
	if m.Interviewer != nil {
		info.InterviewerName = fullName(m.Interviewer.User)
		info.InterviewerAvg = m.Interviewer.AverageRating()
		info.InterviewerCount = m.Interviewer.InterviewsTaken
	}
	return info
}

func (s *MeetingService) sendAcceptedMails(m *models.Meeting) {
	if m.Interviewee == nil || m.Interviewee.User == nil || m.Interviewer == nil || m.Interviewer.User == nil {
		return
	}
	info := meetingInfo(m)
	subject, body := mail.AcceptedForInterviewee(m.Interviewee.User.FirstName, info)
	mail.SendAsync(s.mailer, m.Interviewee.User.Email, subject, body)
	subject, body = mail.AcceptedForInterviewer(m.Interviewer.User.FirstName, info)
	mail.SendAsync(s.mailer, m.Interviewer.User.Email, subject, body)
}

func (s *MeetingService) scheduleReminder(m *models.Meeting) {
	if m.InterviewerID == nil {
		return
	}
	pk, ivID := m.ID, *m.InterviewerID
	delay := m.TimeSlot.Add(-ReminderLead).Sub(s.now())
	s.reminders.Schedule(pk, delay, func() { s.sendReminder(pk, ivID) })
}

// sendReminder 在会议仍由同一面试官持有时给双方发送开始前提醒。
func (s *MeetingService) sendReminder(pk, interviewerID uint) {
	m, err := s.loadFull(pk)
	if err != nil {
		log.Warn().Err(err).Uint("meeting_pk", pk).Msg("reminder: load meeting")
		return
	}
	if m.Status != models.StatusAccepted || m.InterviewerID == nil || *m.InterviewerID != interviewerID {
		return
	}
	if m.Interviewee == nil || m.Interviewee.User == nil || m.Interviewer == nil || m.Interviewer.User == nil {
		return
	}
	info := meetingInfo(m)
	subject, body := mail.Reminder(m.Interviewee.User.FirstName, info.InterviewerName, info)
	mail.SendAsync(s.mailer, m.Interviewee.User.Email, subject, body)
	subject, body = mail.Reminder(m.Interviewer.User.FirstName, info.IntervieweeName, info)
	mail.SendAsync(s.mailer, m.Interviewer.User.Email, subject, body)
}

// markStarted 在事务内标记面试官已开始并记录参与。
func markStarted(tx *gorm.DB, m *models.Meeting, userID uint) error {
	if m.Status != models.StatusAccepted {
		return ErrMeetingConflict
	}
	res := tx.Model(&models.Meeting{}).
		Where("id = ? AND status = ?", m.ID, models.StatusAccepted).
		Update("interviewer_started", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMeetingConflict
	}
	m.InterviewerStarted = true
	return addParticipant(tx, m.ID, userID)
}

// MarkInterviewerStarted 幂等地标记面试官已进入会议，并向两个房间键广播。
func (s *MeetingService) MarkInterviewerStarted(userID uint, anyID string) (*models.Meeting, error) {
	var pk uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		m, err := resolveMeeting(tx, anyID)
		if err != nil {
			return err
		}
		if err := loadParties(tx, m); err != nil {
			return err
		}
		if m.Interviewer == nil || m.Interviewer.UserID != userID {
			return ErrNotParticipant
		}
		pk = m.ID
		return markStarted(tx, m, userID)
	})
	if err != nil {
		return nil, err
	}
	m, err := s.loadFull(pk)
	if err != nil {
		return nil, err
	}
	notifyMeeting(s.notifier, m, EventInterviewerStarted, MeetingEvent{MeetingID: m.MeetingID})
	return m, nil
}

// MarkUserJoined 记录会议双方加入过实时会话，与身份无关；非参与者被拒绝。
func (s *MeetingService) MarkUserJoined(userID uint, anyID string) (*models.Meeting, error) {
	m, _, err := s.ParticipantRole(userID, anyID)
	if err != nil {
		return nil, err
	}
	if err := addParticipant(s.db, m.ID, userID); err != nil {
		return nil, err
	}
	return s.loadFull(m.ID)
}

// CompleteMeeting 结束会议：给面试官发放奖励、累加双方计数并删除聊天，全部在同一事务内。
func (s *MeetingService) CompleteMeeting(userID uint, anyID string) (*models.Meeting, error) {
	var m *models.Meeting
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if m, err = resolveMeeting(tx, anyID); err != nil {
			return err
		}
		if m.Status == models.StatusCompleted {
			return ErrAlreadyCompleted
		}
		if err := loadParties(tx, m); err != nil {
			return err
		}
		if _, err := roleOf(m, userID); err != nil {
			return err
		}
		// 只有已接且仍由该面试官负责的会议可以完成；爽约或被退回队列的会议不发放奖励。
		if m.Status != models.StatusAccepted || m.Interviewer == nil {
			return ErrMeetingConflict
		}
		return s.complete(tx, m, userID)
	})
	if err != nil {
		return nil, err
	}
	s.reminders.Cancel(m.ID)
	metrics.MeetingsCompleted.Inc()
	notifyMeeting(s.notifier, m, EventMeetingEnded, MeetingEvent{MeetingID: m.MeetingID, Message: "The interview has ended."})
	log.Info().Uint("user_id", userID).Str("meeting_id", m.MeetingID).Int("reward", rewardFor(m)).Msg("meeting completed")
	return s.loadFull(m.ID)
}

func (s *MeetingService) complete(tx *gorm.DB, m *models.Meeting, endedBy uint) error {
	now := s.now().UTC()
	res := tx.Model(&models.Meeting{}).
		Where("id = ? AND status = ? AND interviewer_id = ?", m.ID, models.StatusAccepted, m.Interviewer.ID).
		Updates(map[string]any{"status": models.StatusCompleted, "ended_by": endedBy, "ended_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var cur models.Meeting
		if err := tx.Select("status").First(&cur, m.ID).Error; err != nil {
			return err
		}
		if cur.Status == models.StatusCompleted {
			return ErrAlreadyCompleted
		}
		return ErrMeetingConflict
	}
	inc := gorm.Expr("interviews_given + 1")
	if err := tx.Model(&models.User{}).Where("id = ?", m.Interviewer.UserID).
		UpdateColumns(map[string]any{"coins": gorm.Expr("coins + ?", rewardFor(m)), "interviews_given": inc}).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Interviewer{}).Where("id = ?", m.Interviewer.ID).
		UpdateColumn("interviews_given", inc).Error; err != nil {
		return err
	}
	taken := gorm.Expr("interviews_taken + 1")
	if err := tx.Model(&models.Interviewee{}).Where("id = ?", m.Interviewee.ID).
		UpdateColumn("interviews_taken", taken).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.User{}).Where("id = ?", m.Interviewee.UserID).
		UpdateColumn("interviews_taken", taken).Error; err != nil {
		return err
	}
	if err := deleteChat(tx, m.ID); err != nil {
		return err
	}
	m.Status = models.StatusCompleted
	m.EndedBy = &endedBy
	m.EndedAt = &now
	return nil
}

// HandleNoShow 由候选人报告面试官爽约：超过开始时间 15 分钟仍未开始则记警告并等待改期。
func (s *MeetingService) HandleNoShow(userID uint, anyID string) (*models.Meeting, error) {
	var (
		m      *models.Meeting
		warned *models.User
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if m, err = resolveMeeting(tx, anyID); err != nil {
			return err
		}
		if err := loadParties(tx, m); err != nil {
			return err
		}
		if m.Interviewee.UserID != userID {
			return ErrNotParticipant
		}
		if m.Status != models.StatusAccepted || m.InterviewerStarted || s.now().Sub(m.TimeSlot) < NoShowGrace {
			return ErrNotNoShow
		}
		res := tx.Model(&models.Meeting{}).
			Where("id = ? AND status = ? AND interviewer_started = ?", m.ID, models.StatusAccepted, false).
			Updates(map[string]any{
				"status":       models.StatusAwaitingReschedule,
				"priority":     true,
				"coins_reward": PriorityReward,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotNoShow
		}
		// 新面试官接手时从空聊天开始
		if err := deleteChat(tx, m.ID); err != nil {
			return err
		}
		if m.Interviewer == nil {
			return nil
		}
		if err := penalizeRating(tx, m.Interviewer); err != nil {
			return err
		}
		warned, err = issueWarning(tx, m.Interviewer.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.reminders.Cancel(m.ID)
	if warned != nil {
		subject, body := mail.NoShowWarning(warned.FirstName, m.MeetingID, warned.WarningCount)
		announceWarning(s.mailer, warned, warnNoShow, subject, body)
	}
	log.Info().Str("meeting_id", m.MeetingID).Msg("interviewer no-show recorded")
	return s.loadFull(m.ID)
}

// penalizeRating 把面试官平均分降低一分，最低为 1 分；没有评价时不变。
func penalizeRating(tx *gorm.DB, iv *models.Interviewer) error {
	if iv.InterviewsTaken == 0 {
		return nil
	}
	sum := iv.RatingSum - iv.InterviewsTaken
	if sum < iv.InterviewsTaken {
		sum = iv.InterviewsTaken
	}
	return tx.Model(&models.Interviewer{}).Where("id = ?", iv.ID).UpdateColumn("rating_sum", sum).Error
}

// RescheduleMeeting 由候选人为待接或待改期的会议选择新时间，会议回到加急队列。
func (s *MeetingService) RescheduleMeeting(userID uint, anyID, timeSlot string) (*models.Meeting, error) {
	if strings.TrimSpace(timeSlot) == "" {
		return nil, ErrInvalidInput
	}
	slot, err := ParseTimeSlot(timeSlot)
	if err != nil {
		return nil, err
	}
	var pk uint
	err = s.db.Transaction(func(tx *gorm.DB) error {
		m, err := resolveMeeting(tx, anyID)
		if err != nil {
			return err
		}
		if err := loadParties(tx, m); err != nil {
			return err
		}
		if m.Interviewee.UserID != userID {
			return ErrNotParticipant
		}
		allowed := []string{string(models.StatusPending), string(models.StatusAwaitingReschedule)}
		if m.Status != models.StatusPending && m.Status != models.StatusAwaitingReschedule {
			return ErrMeetingConflict
		}
		if err := checkCollision(tx, m.IntervieweeID, slot, m.ID); err != nil {
			return err
		}
		res := tx.Model(&models.Meeting{}).
			Where("id = ? AND status IN ?", m.ID, allowed).
			Updates(map[string]any{
				"status":              models.StatusPending,
				"priority":            true,
				"coins_reward":        PriorityReward,
				"time_slot":           slot,
				"interviewer_id":      nil,
				"interviewer_started": false,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrMeetingConflict
		}
		pk = m.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reminders.Cancel(pk)
	return s.loadFull(pk)
}

// VideoSession 是开始视频面试后返回给客户端的信息。
type VideoSession struct {
	MeetingID string            `json:"meetingId"`
	RoomURL   string            `json:"roomUrl"`
	Role      models.ChatSender `json:"role"`
}

// StartVideo 校验参与方与开始时间后返回视频房间地址；面试官进入时同时标记已开始。
func (s *MeetingService) StartVideo(userID uint, anyID string) (*VideoSession, error) {
	var (
		m    *models.Meeting
		role models.ChatSender
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if m, err = resolveMeeting(tx, anyID); err != nil {
			return err
		}
		if err := loadParties(tx, m); err != nil {
			return err
		}
		if role, err = roleOf(m, userID); err != nil {
			return err
		}
		if m.Status != models.StatusAccepted {
			return ErrMeetingConflict
		}
		if s.now().Before(m.TimeSlot) {
			return ErrTooEarly
		}
		if role == models.SenderInterviewer {
			return markStarted(tx, m, userID)
		}
		return addParticipant(tx, m.ID, userID)
	})
	if err != nil {
		return nil, err
	}
	if role == models.SenderInterviewer {
		notifyMeeting(s.notifier, m, EventInterviewerStarted, MeetingEvent{MeetingID: m.MeetingID})
	}
	return &VideoSession{
		MeetingID: m.MeetingID,
		RoomURL:   strings.TrimRight(s.cfg.VideoBaseURL, "/") + "/" + m.MeetingID,
		Role:      role,
	}, nil
}
