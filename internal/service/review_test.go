package service

import (
	"strconv"
	"testing"
	"time"

	"prepmate/internal/auth"
	"prepmate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interviewerProfile(t *testing.T, f *fixture, u models.User, taken, sum int) *models.Interviewer {
	t.Helper()
	iv, err := ensureInterviewer(f.db, u.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(iv).UpdateColumns(map[string]any{
		"interviews_taken": taken,
		"rating_sum":       sum,
	}).Error)
	iv.InterviewsTaken, iv.RatingSum = taken, sum
	return iv
}

func TestGiveReview_WarningRatchet(t *testing.T) {
	f := newFixture(t)
	ie := f.user(t, "ie@example.com", 100)
	ivUser := f.user(t, "iv@example.com", 0)
	iv := interviewerProfile(t, f, ivUser, 2, 10)

	m1 := f.completedMeeting(t, ie, iv)
	res, err := f.reviews.GiveReview(ie.ID, m1.MeetingID, 1, "  too quiet ")
	require.NoError(t, err)
	assert.InDelta(t, 11.0/3.0, res.AverageRating, 0.001)
	assert.False(t, res.Warned)
	assert.Zero(t, f.reload(t, ivUser).WarningCount)

	stored := f.meeting(t, m1.ID)
	require.NotNil(t, stored.Rating)
	assert.Equal(t, 1, *stored.Rating)
	assert.Equal(t, "too quiet", stored.Review)

	m2 := f.completedMeeting(t, ie, iv)
	res, err = f.reviews.GiveReview(ie.ID, strconv.FormatUint(uint64(m2.ID), 10), 1, "")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, res.AverageRating, 0.001)
	assert.True(t, res.Warned)

	got := f.reload(t, ivUser)
	assert.Equal(t, 1, got.WarningCount)
	assert.False(t, got.Disabled)
	var profile models.Interviewer
	require.NoError(t, f.db.First(&profile, iv.ID).Error)
	assert.Equal(t, 12, profile.RatingSum)
	assert.Equal(t, 4, profile.InterviewsTaken)

	assert.Eventually(t, func() bool { return f.mailer.count("Performance Warning - Please Improve") == 1 }, time.Second, 10*time.Millisecond)
}

func TestGiveReview_ThirdWarningDisablesAccount(t *testing.T) {
	f := newFixture(t)
	ie := f.user(t, "ie@example.com", 100)
	ivUser := f.user(t, "iv@example.com", 100)
	iv := interviewerProfile(t, f, ivUser, 0, 0)
	require.NoError(t, auth.SaveRefreshToken(f.db, ivUser.ID, "iv-refresh", time.Now().Add(time.Hour)))

	for i := 0; i < MaxWarnings; i++ {
		m := f.completedMeeting(t, ie, iv)
		res, err := f.reviews.GiveReview(ie.ID, m.MeetingID, 1, "no")
		require.NoError(t, err)
		assert.True(t, res.Warned)
	}
	got := f.reload(t, ivUser)
	assert.Equal(t, MaxWarnings, got.WarningCount)
	assert.True(t, got.Disabled)
	_, err := auth.ConsumeRefreshToken(f.db, "iv-refresh")
	assert.ErrorIs(t, err, auth.ErrRefreshTokenInvalid)

	_, err = f.meetings.BookMeeting(ivUser.ID, BookInput{
		RoleName: "SWE", RoleType: "backend", TimeSlot: slotString(baseNow.Add(48 * time.Hour)), ResumeLink: "cv",
	})
	assert.ErrorIs(t, err, ErrAccountDisabled)
	assert.Equal(t, 100, f.reload(t, ivUser).Coins)

	pending := f.book(t, ie, baseNow.Add(24*time.Hour))
	_, err = f.meetings.AcceptMeeting(ivUser.ID, pending.MeetingID)
	assert.ErrorIs(t, err, ErrAccountDisabled)
	assert.Equal(t, models.StatusPending, f.meeting(t, pending.ID).Status)

	assert.Eventually(t, func() bool { return f.mailer.count("Account Disabled") == 1 }, time.Second, 10*time.Millisecond)
}

func TestGiveReview_Guards(t *testing.T) {
	f := newFixture(t)
	ie := f.user(t, "ie@example.com", 100)
	ivUser := f.user(t, "iv@example.com", 0)
	iv := interviewerProfile(t, f, ivUser, 0, 0)
	done := f.completedMeeting(t, ie, iv)

	_, err := f.reviews.GiveReview(ie.ID, done.MeetingID, 0, "")
	assert.ErrorIs(t, err, ErrInvalidRating)
	_, err = f.reviews.GiveReview(ie.ID, done.MeetingID, 6, "")
	assert.ErrorIs(t, err, ErrInvalidRating)

	_, err = f.reviews.GiveReview(ivUser.ID, done.MeetingID, 5, "")
	assert.ErrorIs(t, err, ErrReviewerNotAllowed)

	_, err = f.reviews.GiveReview(ie.ID, "no-such-meeting", 5, "")
	assert.ErrorIs(t, err, ErrMeetingNotFound)

	res, err := f.reviews.GiveReview(ie.ID, done.MeetingID, 5, "great")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, res.AverageRating, 0.001)

	_, err = f.reviews.GiveReview(ie.ID, done.MeetingID, 4, "again")
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	var reloaded models.Interviewer
	require.NoError(t, f.db.First(&reloaded, iv.ID).Error)
	assert.Equal(t, 1, reloaded.InterviewsTaken)
	assert.Equal(t, 5, reloaded.RatingSum)
}

func TestGiveReview_RequiresCompletedMeeting(t *testing.T) {
	f := newFixture(t)
	ie := f.user(t, "ie@example.com", 100)
	iv := f.user(t, "iv@example.com", 0)
	m := f.acceptedMeeting(t, ie, iv, baseNow.Add(time.Hour))

	_, err := f.reviews.GiveReview(ie.ID, m.MeetingID, 4, "")
	assert.ErrorIs(t, err, ErrNotCompleted)
}
