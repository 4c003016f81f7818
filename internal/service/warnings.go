package service

import (
	"errors"

	"prepmate/internal/auth"
	"prepmate/internal/mail"
	"prepmate/internal/metrics"
	"prepmate/internal/models"

	"gorm.io/gorm"
)

// MaxWarnings 次警告后账号被永久禁用。
const MaxWarnings = 3

// 警告来源，用作指标标签。
const (
	warnLowRating = "low_rating"
	warnNoShow    = "no_show"
	warnSweep     = "sweep"
)

// issueWarning 给用户记一次警告，累计到 MaxWarnings 时禁用账号。警告只增不减。
func issueWarning(tx *gorm.DB, userID uint) (*models.User, error) {
	res := tx.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("warning_count", gorm.Expr("warning_count + 1"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	if err := tx.Model(&models.User{}).
		Where("id = ? AND warning_count >= ?", userID, MaxWarnings).
		UpdateColumn("disabled", true).Error; err != nil {
		return nil, err
	}
	var u models.User
	if err := tx.First(&u, userID).Error; err != nil {
		return nil, err
	}
	if u.Disabled {
		// 禁用后不能再刷新出新的 access token
		if err := auth.RevokeUserTokens(tx, userID); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

// warnInterviewer 按面试官档案给其用户记警告；档案不存在时跳过。
func warnInterviewer(tx *gorm.DB, interviewerID *uint) (*models.User, error) {
	if interviewerID == nil {
		return nil, nil
	}
	var iv models.Interviewer
	if err := tx.First(&iv, *interviewerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return issueWarning(tx, iv.UserID)
}

// announceWarning 在事务提交后记录指标并发送警告或禁用邮件。
func announceWarning(m mail.Mailer, u *models.User, reason string, subject, body string) {
	if u == nil {
		return
	}
	metrics.WarningsTotal.WithLabelValues(reason).Inc()
	if u.Disabled {
		subject, body = mail.Disabled(u.FirstName)
	}
	mail.SendAsync(m, u.Email, subject, body)
}
