package service

import (
	"strings"

	"prepmate/internal/mail"
	"prepmate/internal/metrics"
	"prepmate/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// WarningThreshold：评价后平均分不高于该值时给面试官记一次警告。
const WarningThreshold = 3.0

// ReviewService 处理候选人对已完成会议的评价，以及由此触发的警告。
type ReviewService struct {
	db     *gorm.DB
	mailer mail.Mailer
}

func NewReviewService(db *gorm.DB, mailer mail.Mailer) *ReviewService {
	if mailer == nil {
		mailer = mail.LogMailer{}
	}
	return &ReviewService{db: db, mailer: mailer}
}

// ReviewResult 是提交评价后的结果。
type ReviewResult struct {
	MeetingID     string  `json:"meetingId"`
	Rating        int     `json:"rating"`
	AverageRating float64 `json:"averageRating"`
	Warned        bool    `json:"warned"`
}

// GiveReview 保存评价并累加面试官评分；每场会议只能评价一次。
func (s *ReviewService) GiveReview(userID uint, anyID string, rating int, feedback string) (*ReviewResult, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	feedback = strings.TrimSpace(feedback)
	var (
		result ReviewResult
		warned *models.User
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		m, err := resolveMeeting(tx, anyID)
		if err != nil {
			return err
		}
		if err := loadParties(tx, m); err != nil {
			return err
		}
		if m.Interviewee.UserID != userID {
			return ErrReviewerNotAllowed
		}
		if m.Status != models.StatusCompleted {
			return ErrNotCompleted
		}
		if m.Rating != nil {
			return ErrAlreadyReviewed
		}
		res := tx.Model(&models.Meeting{}).
			Where("id = ? AND status = ? AND rating IS NULL", m.ID, models.StatusCompleted).
			Updates(map[string]any{"rating": rating, "review": feedback})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyReviewed
		}
		result = ReviewResult{MeetingID: m.MeetingID, Rating: rating}
		if m.Interviewer == nil {
			return nil
		}

		if err := tx.Model(&models.Interviewer{}).Where("id = ?", m.Interviewer.ID).
			UpdateColumns(map[string]any{
				"rating_sum":       gorm.Expr("rating_sum + ?", rating),
				"interviews_taken": gorm.Expr("interviews_taken + 1"),
			}).Error; err != nil {
			return err
		}
		var iv models.Interviewer
		if err := tx.First(&iv, m.Interviewer.ID).Error; err != nil {
			return err
		}
		result.AverageRating = iv.AverageRating()
		if result.AverageRating > WarningThreshold {
			return nil
		}
		warned, err = issueWarning(tx, iv.UserID)
		result.Warned = warned != nil
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.ReviewsTotal.Inc()
	if warned != nil {
		subject, body := mail.Warning(warned.FirstName, result.AverageRating, warned.WarningCount)
		announceWarning(s.mailer, warned, warnLowRating, subject, body)
		log.Info().Uint("user_id", warned.ID).Int("warnings", warned.WarningCount).Bool("disabled", warned.Disabled).Msg("interviewer warned")
	}
	return &result, nil
}
