package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	ErrAccountDisabled    = errors.New("account disabled due to 3 warnings")

	ErrInvalidInput      = errors.New("all fields are required")
	ErrInvalidTimeSlot   = errors.New("invalid time slot")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrInsufficientCoins = errors.New("not enough coins")

	ErrMeetingNotFound  = errors.New("meeting not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrChatNotFound     = errors.New("chat not started")
	ErrMeetingConflict  = errors.New("meeting is not in a valid state for this action")
	ErrAlreadyCompleted = errors.New("meeting already completed")
	ErrTimeSlotClash    = errors.New("you already have an interview around this time")
	ErrSelfInterview    = errors.New("you cannot interview yourself")
	ErrNotParticipant   = errors.New("not a participant of this meeting")
	ErrNotNoShow        = errors.New("not a no-show scenario")
	ErrTooEarly         = errors.New("meeting has not opened yet")

	ErrChatClosed         = errors.New("chat is closed")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrWordLimitExceeded  = errors.New("word limit reached")
	ErrNotCompleted       = errors.New("meeting not completed yet")
	ErrAlreadyReviewed    = errors.New("meeting already reviewed")
	ErrReviewerNotAllowed = errors.New("only the interviewee can review this meeting")
)
