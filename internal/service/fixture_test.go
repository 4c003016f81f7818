package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"prepmate/internal/config"
	"prepmate/internal/models"
	"prepmate/internal/testhelpers"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var baseNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type notified struct {
	Room    string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notified
}

func (r *recordingNotifier) NotifyRoom(roomID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, notified{Room: roomID, Event: event, Payload: payload})
}

func (r *recordingNotifier) rooms(event string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e.Room)
		}
	}
	return out
}

type sentMail struct {
	To      string
	Subject string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) Send(_ context.Context, to, subject, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{To: to, Subject: subject})
	return nil
}

func (f *fakeMailer) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Subject == subject {
			n++
		}
	}
	return n
}

type fixture struct {
	db       *gorm.DB
	meetings *MeetingService
	chats    *ChatService
	reviews  *ReviewService
	profiles *ProfileService
	notifier *recordingNotifier
	mailer   *fakeMailer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testhelpers.SetupTestDB(t)
	f := &fixture{
		db:       gdb,
		notifier: &recordingNotifier{},
		mailer:   &fakeMailer{},
		now:      baseNow,
	}
	cfg := config.Config{VideoBaseURL: "https://meet.example.org"}
	clock := func() time.Time { return f.now }
	f.meetings = NewMeetingService(gdb, cfg, f.notifier, f.mailer)
	f.meetings.now = clock
	f.chats = NewChatService(gdb, f.notifier)
	f.chats.now = clock
	f.reviews = NewReviewService(gdb, f.mailer)
	f.profiles = NewProfileService(gdb)
	t.Cleanup(f.meetings.Reminders().Stop)
	return f
}

func (f *fixture) user(t *testing.T, email string, coins int) models.User {
	t.Helper()
	u := models.User{FirstName: email[:1], LastName: "Test", Email: email, PasswordHash: "x", Coins: coins}
	require.NoError(t, f.db.Create(&u).Error)
	return u
}

func (f *fixture) reload(t *testing.T, u models.User) models.User {
	t.Helper()
	var out models.User
	require.NoError(t, f.db.First(&out, u.ID).Error)
	return out
}

func (f *fixture) meeting(t *testing.T, pk uint) models.Meeting {
	t.Helper()
	var out models.Meeting
	require.NoError(t, f.db.First(&out, pk).Error)
	return out
}

func slotString(t time.Time) string { return t.Format(time.RFC3339) }

func (f *fixture) book(t *testing.T, u models.User, slot time.Time) *models.Meeting {
	t.Helper()
	m, err := f.meetings.BookMeeting(u.ID, BookInput{
		RoleName:   "Software Engineer",
		RoleType:   "Backend",
		TimeSlot:   slotString(slot),
		ResumeLink: "https://example.com/cv.pdf",
	})
	require.NoError(t, err)
	return m
}

// acceptedMeeting 让 interviewee 预约并由 interviewer 接单。
func (f *fixture) acceptedMeeting(t *testing.T, interviewee, interviewer models.User, slot time.Time) *models.Meeting {
	t.Helper()
	m := f.book(t, interviewee, slot)
	accepted, err := f.meetings.AcceptMeeting(interviewer.ID, m.MeetingID)
	require.NoError(t, err)
	return accepted
}

// completedMeeting 直接写入一条已完成的会议，用于评价相关测试。
func (f *fixture) completedMeeting(t *testing.T, interviewee models.User, iv *models.Interviewer) models.Meeting {
	t.Helper()
	ie, err := ensureInterviewee(f.db, interviewee.ID, "https://example.com/cv.pdf")
	require.NoError(t, err)
	m := models.Meeting{
		MeetingID:     uuid.NewString(),
		IntervieweeID: ie.ID,
		InterviewerID: &iv.ID,
		RoleType:      "backend",
		RoleName:      "SWE",
		TimeSlot:      f.now.Add(-time.Hour),
		ResumeLink:    "https://example.com/cv.pdf",
		Status:        models.StatusCompleted,
		CoinsSpent:    BookingCost,
		CoinsReward:   StandardReward,
	}
	require.NoError(t, f.db.Create(&m).Error)
	return m
}
