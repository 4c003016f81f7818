package service

import (
	"time"

	"prepmate/internal/models"

	"gorm.io/gorm"
)

// PersonDTO 是会议双方对外展示的用户信息。
type PersonDTO struct {
	ID        uint   `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// MeetingDTO 是对外输出的会议数据。
type MeetingDTO struct {
	ID                 uint                 `json:"id"`
	MeetingID          string               `json:"meetingId"`
	RoleType           string               `json:"roleType"`
	RoleName           string               `json:"roleName"`
	TimeSlot           time.Time            `json:"timeSlot"`
	ResumeLink         string               `json:"resumeLink"`
	Status             models.MeetingStatus `json:"status"`
	Priority           bool                 `json:"priority"`
	CoinsSpent         int                  `json:"coinsSpent"`
	CoinsReward        int                  `json:"coinsReward"`
	Rating             *int                 `json:"rating,omitempty"`
	Review             string               `json:"review,omitempty"`
	InterviewerStarted bool                 `json:"interviewerStarted"`
	StartedUsers       []uint               `json:"startedUsers"`
	Interviewee        *PersonDTO           `json:"interviewee,omitempty"`
	Interviewer        *PersonDTO           `json:"interviewer,omitempty"`
	EndedBy            *uint                `json:"endedBy,omitempty"`
	EndedAt            *time.Time           `json:"endedAt,omitempty"`
}

func toPersonDTO(u *models.User) *PersonDTO {
	if u == nil {
		return nil
	}
	return &PersonDTO{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
}

func ToMeetingDTO(m models.Meeting) MeetingDTO {
	out := MeetingDTO{
		ID:                 m.ID,
		MeetingID:          m.MeetingID,
		RoleType:           m.RoleType,
		RoleName:           m.RoleName,
		TimeSlot:           m.TimeSlot,
		ResumeLink:         m.ResumeLink,
		Status:             m.Status,
		Priority:           m.Priority,
		CoinsSpent:         m.CoinsSpent,
		CoinsReward:        m.CoinsReward,
		Rating:             m.Rating,
		Review:             m.Review,
		InterviewerStarted: m.InterviewerStarted,
		StartedUsers:       make([]uint, 0, len(m.Participants)),
		EndedBy:            m.EndedBy,
		EndedAt:            m.EndedAt,
	}
	for _, p := range m.Participants {
		out.StartedUsers = append(out.StartedUsers, p.UserID)
	}
	if m.Interviewee != nil {
		out.Interviewee = toPersonDTO(m.Interviewee.User)
	}
	if m.Interviewer != nil {
		out.Interviewer = toPersonDTO(m.Interviewer.User)
	}
	return out
}

func toMeetingDTOs(ms []models.Meeting) []MeetingDTO {
	out := make([]MeetingDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, ToMeetingDTO(m))
	}
	return out
}

// withParties 预加载会议双方及其用户信息、参与记录。
func withParties(db *gorm.DB) *gorm.DB {
	return db.Preload("Interviewee.User").Preload("Interviewer.User").Preload("Participants")
}

// PendingPage 是待接会议列表的分页结果。
type PendingPage struct {
	Page       int          `json:"page"`
	TotalPages int          `json:"totalPages"`
	Count      int64        `json:"count"`
	PageCount  int          `json:"pageCount"`
	Meetings   []MeetingDTO `json:"meetings"`
}

// StatsDTO 是用户统计信息。
type StatsDTO struct {
	Coins           int     `json:"coins"`
	InterviewsGiven int     `json:"interviewsGiven"`
	InterviewsTaken int     `json:"interviewsTaken"`
	AverageRating   float64 `json:"averageRating"`
	Warnings        int     `json:"warnings"`
	Disabled        bool    `json:"disabled"`
}

// MessageDTO 是对外输出的聊天消息。
type MessageDTO struct {
	ID        uint              `json:"id"`
	Sender    models.ChatSender `json:"sender"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
}

// ChatDTO 是聊天会话及其消息。
type ChatDTO struct {
	ID          uint         `json:"id"`
	MeetingID   string       `json:"meetingId"`
	TotalWords  int          `json:"totalWords"`
	IsActive    bool         `json:"isActive"`
	Messages    []MessageDTO `json:"messages"`
	Interviewer *PersonDTO   `json:"interviewer,omitempty"`
	Interviewee *PersonDTO   `json:"interviewee,omitempty"`
}
