package service

import (
	"errors"
	"strings"
	"time"

	"prepmate/internal/metrics"
	"prepmate/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WordLimit 是单场会议聊天的累计词数上限，恰好达到时允许发送并关闭聊天。
const WordLimit = 500

// ChatWindow 是会议开始前允许开启聊天的提前量。
const ChatWindow = 10 * time.Minute

// ChatService 封装会议内文字聊天的业务逻辑。
type ChatService struct {
	db       *gorm.DB
	notifier Notifier
	now      func() time.Time
}

func NewChatService(db *gorm.DB, notifier Notifier) *ChatService {
	if notifier == nil {
		notifier = NopNotifier
	}
	return &ChatService{db: db, notifier: notifier, now: time.Now}
}

// CountWords 按空白切分计数。
func CountWords(content string) int {
	return len(strings.Fields(content))
}

func findChat(tx *gorm.DB, meetingPK uint) (*models.Chat, error) {
	var chat models.Chat
	if err := tx.Where("meeting_id = ?", meetingPK).Take(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// deleteChat 删除会议的聊天及全部消息，聊天不存在时什么也不做。
func deleteChat(tx *gorm.DB, meetingPK uint) error {
	chat, err := findChat(tx, meetingPK)
	if errors.Is(err, ErrChatNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := tx.Where("chat_id = ?", chat.ID).Delete(&models.ChatMessage{}).Error; err != nil {
		return err
	}
	return tx.Delete(chat).Error
}

func toMessageDTO(msg models.ChatMessage) MessageDTO {
	return MessageDTO{ID: msg.ID, Sender: msg.Sender, Content: msg.Content, Timestamp: msg.Timestamp}
}

func (s *ChatService) chatDTO(chat *models.Chat, m *models.Meeting) (*ChatDTO, error) {
	var msgs []models.ChatMessage
	if err := s.db.Where("chat_id = ?", chat.ID).Order("timestamp asc").Order("id asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	out := &ChatDTO{
		ID:         chat.ID,
		MeetingID:  m.MeetingID,
		TotalWords: chat.TotalWords,
		IsActive:   chat.IsActive,
		Messages:   make([]MessageDTO, 0, len(msgs)),
	}
	for _, msg := range msgs {
		out.Messages = append(out.Messages, toMessageDTO(msg))
	}
	if m.Interviewee != nil {
		out.Interviewee = toPersonDTO(m.Interviewee.User)
	}
	if m.Interviewer != nil {
		out.Interviewer = toPersonDTO(m.Interviewer.User)
	}
	return out, nil
}

// participantMeeting 解析会议并确认调用者是参与方，返回带用户信息的会议和调用者身份。
func (s *ChatService) participantMeeting(userID uint, anyID string) (*models.Meeting, models.ChatSender, error) {
	m, err := resolveMeeting(s.db, anyID)
	if err != nil {
		return nil, "", err
	}
	if err := withParties(s.db).First(m, m.ID).Error; err != nil {
		return nil, "", err
	}
	role, err := roleOf(m, userID)
	if err != nil {
		return nil, "", err
	}
	return m, role, nil
}

// StartChat 在会议开始前 10 分钟起为参与方开启聊天，重复调用返回已有聊天。
func (s *ChatService) StartChat(userID uint, anyID string) (*ChatDTO, error) {
	m, _, err := s.participantMeeting(userID, anyID)
	if err != nil {
		return nil, err
	}
	if chat, err := findChat(s.db, m.ID); err == nil {
		return s.chatDTO(chat, m)
	} else if !errors.Is(err, ErrChatNotFound) {
		return nil, err
	}
	if m.Status != models.StatusAccepted {
		return nil, ErrMeetingConflict
	}
	if s.now().Before(m.TimeSlot.Add(-ChatWindow)) {
		return nil, ErrTooEarly
	}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Chat{MeetingID: m.ID, IsActive: true}).Error; err != nil {
		return nil, err
	}
	chat, err := findChat(s.db, m.ID)
	if err != nil {
		return nil, err
	}
	return s.chatDTO(chat, m)
}

// SendResult 是发送消息后的结果。
type SendResult struct {
	MeetingID    string     `json:"meetingId"`
	Message      MessageDTO `json:"message"`
	TotalWords   int        `json:"totalWords"`
	LimitReached bool       `json:"limitReached"`
}

// SendMessage 追加一条消息。发送方身份由调用者在会议中的角色决定；
// 超出词数上限的消息整条拒绝，恰好达到上限时关闭聊天并广播 wordLimitReached。
func (s *ChatService) SendMessage(userID uint, anyID, content string) (*SendResult, error) {
	content = strings.TrimSpace(content)
	words := CountWords(content)
	if words == 0 {
		return nil, ErrEmptyMessage
	}
	var (
		m      *models.Meeting
		result SendResult
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		if m, err = resolveMeeting(tx, anyID); err != nil {
			return err
		}
		if err := loadParties(tx, m); err != nil {
			return err
		}
		sender, err := roleOf(m, userID)
		if err != nil {
			return err
		}
		chat, err := findChat(tx, m.ID)
		if err != nil {
			return err
		}
		if !chat.IsActive {
			return ErrChatClosed
		}
		if chat.TotalWords+words > WordLimit {
			return ErrWordLimitExceeded
		}
		res := tx.Model(&models.Chat{}).
			Where("id = ? AND is_active = ? AND total_words + ? <= ?", chat.ID, true, words, WordLimit).
			Updates(map[string]any{
				"total_words": gorm.Expr("total_words + ?", words),
				"is_active":   gorm.Expr("total_words + ? < ?", words, WordLimit),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 并发写入抢先用掉了额度
			return ErrWordLimitExceeded
		}
		msg := models.ChatMessage{ChatID: chat.ID, Sender: sender, Content: content, Timestamp: s.now().UTC()}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		total := chat.TotalWords + words
		result = SendResult{
			MeetingID:    m.MeetingID,
			Message:      toMessageDTO(msg),
			TotalWords:   total,
			LimitReached: total >= WordLimit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ChatWordsTotal.Add(float64(words))
	notifyMeeting(s.notifier, m, EventNewMessage, result.Message)
	if result.LimitReached {
		notifyMeeting(s.notifier, m, EventWordLimitReached, MeetingEvent{MeetingID: m.MeetingID})
	}
	return &result, nil
}

// GetChatMessages 返回聊天记录；聊天尚未开启时返回 ErrChatNotFound。
func (s *ChatService) GetChatMessages(userID uint, anyID string) (*ChatDTO, error) {
	m, _, err := s.participantMeeting(userID, anyID)
	if err != nil {
		return nil, err
	}
	chat, err := findChat(s.db, m.ID)
	if err != nil {
		return nil, err
	}
	return s.chatDTO(chat, m)
}
