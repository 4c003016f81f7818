package service

import (
	"errors"

	"prepmate/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileService 提供候选人与面试官档案下的会议列表查询。
type ProfileService struct {
	db *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{db: db}
}

func (s *ProfileService) intervieweeID(userID uint) (uint, error) {
	var ie models.Interviewee
	if err := s.db.Select("id").Where("user_id = ?", userID).Take(&ie).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrProfileNotFound
		}
		return 0, err
	}
	return ie.ID, nil
}

func (s *ProfileService) interviewerID(userID uint) (uint, error) {
	var iv models.Interviewer
	if err := s.db.Select("id").Where("user_id = ?", userID).Take(&iv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrProfileNotFound
		}
		return 0, err
	}
	return iv.ID, nil
}

func (s *ProfileService) list(column string, id uint, status models.MeetingStatus, order string) ([]MeetingDTO, error) {
	var ms []models.Meeting
	if err := withParties(s.db).
		Where(column+" = ? AND status = ?", id, status).
		Order(order).Order("id asc").
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return toMeetingDTOs(ms), nil
}

// IntervieweeUpcoming 返回候选人已被接单的会议，按开始时间升序。
func (s *ProfileService) IntervieweeUpcoming(userID uint) ([]MeetingDTO, error) {
	id, err := s.intervieweeID(userID)
	if err != nil {
		return nil, err
	}
	return s.list("interviewee_id", id, models.StatusAccepted, "time_slot asc")
}

// IntervieweeCompleted 返回候选人已完成的会议，最近的在前。
func (s *ProfileService) IntervieweeCompleted(userID uint) ([]MeetingDTO, error) {
	id, err := s.intervieweeID(userID)
	if err != nil {
		return nil, err
	}
	return s.list("interviewee_id", id, models.StatusCompleted, "time_slot desc")
}

func (s *ProfileService) InterviewerUpcoming(userID uint) ([]MeetingDTO, error) {
	id, err := s.interviewerID(userID)
	if err != nil {
		return nil, err
	}
	return s.list("interviewer_id", id, models.StatusAccepted, "time_slot asc")
}

func (s *ProfileService) InterviewerCompleted(userID uint) ([]MeetingDTO, error) {
	id, err := s.interviewerID(userID)
	if err != nil {
		return nil, err
	}
	return s.list("interviewer_id", id, models.StatusCompleted, "time_slot desc")
}

// MeetingDetail 按任一标识返回会议详情及双方信息。
func (s *ProfileService) MeetingDetail(anyID string) (*MeetingDTO, error) {
	m, err := resolveMeeting(s.db, anyID)
	if err != nil {
		return nil, err
	}
	if err := withParties(s.db).First(m, m.ID).Error; err != nil {
		return nil, err
	}
	out := ToMeetingDTO(*m)
	return &out, nil
}

// ExpertiseDTO 是面试官擅长的岗位。
type ExpertiseDTO struct {
	RoleType string `json:"roleType"`
	RoleName string `json:"roleName"`
}

// AddExpertise 为面试官添加擅长岗位，按规范化后的 (roleType, roleName) 去重。
func (s *ProfileService) AddExpertise(userID uint, roleType, roleName string) ([]ExpertiseDTO, error) {
	roleType, roleName = normalizeRole(roleType, roleName)
	if roleType == "" || roleName == "" {
		return nil, ErrInvalidInput
	}
	var out []ExpertiseDTO
	err := s.db.Transaction(func(tx *gorm.DB) error {
		iv, err := ensureInterviewer(tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.InterviewerExpertise{InterviewerID: iv.ID, RoleType: roleType, RoleName: roleName}).Error; err != nil {
			return err
		}
		var rows []models.InterviewerExpertise
		if err := tx.Where("interviewer_id = ?", iv.ID).Order("id asc").Find(&rows).Error; err != nil {
			return err
		}
		out = make([]ExpertiseDTO, 0, len(rows))
		for _, r := range rows {
			out = append(out, ExpertiseDTO{RoleType: r.RoleType, RoleName: r.RoleName})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
