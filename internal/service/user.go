package service

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"prepmate/internal/auth"
	"prepmate/internal/config"
	pmail "prepmate/internal/mail"
	"prepmate/internal/models"

	"gorm.io/gorm"
)

// StartingCoins 是新用户注册时赠送的金币。
const StartingCoins = 100

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	db     *gorm.DB
	cfg    config.Config
	mailer pmail.Mailer
}

func NewUserService(db *gorm.DB, cfg config.Config, mailer pmail.Mailer) *UserService {
	if mailer == nil {
		mailer = pmail.LogMailer{}
	}
	return &UserService{db: db, cfg: cfg, mailer: mailer}
}

// UserDTO 是对外输出的用户数据，不含密码。
type UserDTO struct {
	ID              uint   `json:"id"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Coins           int    `json:"coins"`
	InterviewsGiven int    `json:"interviewsGiven"`
	InterviewsTaken int    `json:"interviewsTaken"`
	WarningCount    int    `json:"warningCount"`
	Disabled        bool   `json:"disabled"`
}

func toUserDTO(u models.User) UserDTO {
	return UserDTO{
		ID:              u.ID,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Email:           u.Email,
		Coins:           u.Coins,
		InterviewsGiven: u.InterviewsGiven,
		InterviewsTaken: u.InterviewsTaken,
		WarningCount:    u.WarningCount,
		Disabled:        u.Disabled,
	}
}

// AuthResult 是注册或登录成功后返回的用户与 token 对。
type AuthResult struct {
	User         UserDTO `json:"user"`
	Token        string  `json:"token"`
	RefreshToken string  `json:"refreshToken"`
}

// RegisterInput 是注册请求的参数。
type RegisterInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register 创建用户并赠送初始金币，随后异步发送欢迎邮件。
func (s *UserService) Register(in RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)
	first := strings.TrimSpace(in.FirstName)
	if first == "" || email == "" || len(in.Password) < 6 || len(in.Password) > 128 {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}
	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		FirstName:    first,
		LastName:     strings.TrimSpace(in.LastName),
		Email:        email,
		PasswordHash: hash,
		Coins:        StartingCoins,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	subject, body := pmail.Welcome(user.FirstName)
	pmail.SendAsync(s.mailer, user.Email, subject, body)
	return s.issueTokens(user)
}

// Login 校验邮箱密码并签发 token 对。
func (s *UserService) Login(email, password string) (*AuthResult, error) {
	var user models.User
	if err := s.db.Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issueTokens(user)
}

func (s *UserService) issueTokens(user models.User) (*AuthResult, error) {
	at, err := auth.GenerateAccessToken(user.ID, user.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(s.db, user.ID, rt, exp); err != nil {
		return nil, err
	}
	return &AuthResult{User: toUserDTO(user), Token: at, RefreshToken: rt}, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ConsumeRefreshToken(tx, oldRT)
		if errors.Is(err, auth.ErrRefreshTokenInvalid) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		var user models.User
		if err := tx.First(&user, rec.UserID).Error; err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(user.ID, user.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := auth.SaveRefreshToken(tx, user.ID, newRT, exp); err != nil {
			return err
		}
		result.Token = at
		result.RefreshToken = newRT
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats 返回用户的金币、面试计数、警告与作为面试官的平均分。
func (s *UserService) Stats(userID uint) (*StatsDTO, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	out := &StatsDTO{
		Coins:           user.Coins,
		InterviewsGiven: user.InterviewsGiven,
		InterviewsTaken: user.InterviewsTaken,
		Warnings:        user.WarningCount,
		Disabled:        user.Disabled,
	}
	var iv models.Interviewer
	err := s.db.Where("user_id = ?", userID).Take(&iv).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		out.AverageRating = iv.AverageRating()
	}
	return out, nil
}
