package models

import "time"

// MeetingStatus 表示会议在生命周期中的状态。
type MeetingStatus string

const (
	StatusPending            MeetingStatus = "pending"
	StatusAccepted           MeetingStatus = "accepted"
	StatusCompleted          MeetingStatus = "completed"
	StatusCancelled          MeetingStatus = "cancelled"
	StatusAwaitingReschedule MeetingStatus = "awaiting_reschedule"
)

// ChatSender 标识聊天消息来自会议的哪一方。
type ChatSender string

const (
	SenderInterviewer ChatSender = "interviewer"
	SenderInterviewee ChatSender = "interviewee"
)

type User struct {
	ID              uint   `gorm:"primaryKey"`
	FirstName       string `gorm:"size:64"`
	LastName        string `gorm:"size:64"`
	Email           string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash    string `gorm:"not null"`
	Coins           int    `gorm:"not null"`
	InterviewsGiven int    `gorm:"not null;default:0"`
	InterviewsTaken int    `gorm:"not null;default:0"`
	WarningCount    int    `gorm:"not null;default:0"`
	Disabled        bool   `gorm:"not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Interviewee 是用户作为候选人的档案，首次预约时创建。
type Interviewee struct {
	ID              uint   `gorm:"primaryKey"`
	UserID          uint   `gorm:"uniqueIndex;not null"`
	User            *User  `gorm:"foreignKey:UserID"`
	ResumeURL       string `gorm:"not null"`
	InterviewsGiven int    `gorm:"not null;default:0"`
	InterviewsTaken int    `gorm:"not null;default:0"`
	Interests       []IntervieweeInterest
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type IntervieweeInterest struct {
	ID            uint   `gorm:"primaryKey"`
	IntervieweeID uint   `gorm:"uniqueIndex:idx_interest_pair;not null"`
	RoleType      string `gorm:"uniqueIndex:idx_interest_pair;size:128;not null"`
	RoleName      string `gorm:"uniqueIndex:idx_interest_pair;size:128;not null"`
}

// Interviewer 是用户作为面试官的档案，首次查看待接列表或接单时懒创建。
// InterviewsTaken 与 RatingSum 由评价累加，爽约时 RatingSum 被扣减，用于计算平均分。
type Interviewer struct {
	ID              uint  `gorm:"primaryKey"`
	UserID          uint  `gorm:"uniqueIndex;not null"`
	User            *User `gorm:"foreignKey:UserID"`
	InterviewsGiven int   `gorm:"not null;default:0"`
	InterviewsTaken int   `gorm:"not null;default:0"`
	RatingSum       int   `gorm:"not null;default:0"`
	Expertise       []InterviewerExpertise
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AverageRating 返回面试官的平均评分，没有评价时为 0。
func (i Interviewer) AverageRating() float64 {
	if i.InterviewsTaken == 0 {
		return 0
	}
	return float64(i.RatingSum) / float64(i.InterviewsTaken)
}

type InterviewerExpertise struct {
	ID            uint   `gorm:"primaryKey"`
	InterviewerID uint   `gorm:"uniqueIndex:idx_expertise_pair;not null"`
	RoleType      string `gorm:"uniqueIndex:idx_expertise_pair;size:128;not null"`
	RoleName      string `gorm:"uniqueIndex:idx_expertise_pair;size:128;not null"`
}

// Meeting 是核心事务实体。ID 为存储主键，MeetingID 为对外的不透明标识，二者均可用于查找。
type Meeting struct {
	ID                 uint          `gorm:"primaryKey"`
	MeetingID          string        `gorm:"uniqueIndex;size:64;not null"`
	IntervieweeID      uint          `gorm:"index;not null"`
	Interviewee        *Interviewee  `gorm:"foreignKey:IntervieweeID"`
	InterviewerID      *uint         `gorm:"index"`
	Interviewer        *Interviewer  `gorm:"foreignKey:InterviewerID"`
	RoleType           string        `gorm:"size:128;not null"`
	RoleName           string        `gorm:"size:128;not null"`
	TimeSlot           time.Time     `gorm:"index;not null"`
	ResumeLink         string        `gorm:"not null"`
	Status             MeetingStatus `gorm:"index;size:32;not null"`
	Priority           bool          `gorm:"index;not null;default:false"`
	CoinsSpent         int           `gorm:"not null;default:50"`
	CoinsReward        int           `gorm:"not null;default:50"`
	Rating             *int
	Review             string `gorm:"type:text"`
	InterviewerStarted bool   `gorm:"not null;default:false"`
	Participants       []MeetingParticipant
	EndedBy            *uint
	EndedAt            *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// MeetingParticipant 记录加入过实时会话的用户（startedUsers 集合）。
type MeetingParticipant struct {
	ID        uint `gorm:"primaryKey"`
	MeetingID uint `gorm:"uniqueIndex:idx_meeting_participant;not null"`
	UserID    uint `gorm:"uniqueIndex:idx_meeting_participant;not null"`
	CreatedAt time.Time
}

// Chat 与 Meeting 一一对应（按存储主键），会议完成时连同消息一起删除。
type Chat struct {
	ID         uint `gorm:"primaryKey"`
	MeetingID  uint `gorm:"uniqueIndex;not null"`
	TotalWords int  `gorm:"not null;default:0"`
	IsActive   bool `gorm:"not null;default:true"`
	Messages   []ChatMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ChatMessage struct {
	ID        uint       `gorm:"primaryKey"`
	ChatID    uint       `gorm:"index:idx_chat_msg_chat_id;not null"`
	Sender    ChatSender `gorm:"size:16;not null"`
	Content   string     `gorm:"type:text;not null"`
	Timestamp time.Time  `gorm:"not null"`
}
