package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"time"

	"prepmate/internal/config"

	"github.com/rs/zerolog/log"
)

// Mailer 是发送邮件的外部协作方。发送失败只记录日志，不影响主流程。
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// New 根据配置返回 SMTP mailer；未配置账号时返回只写日志的实现。
func New(cfg config.SMTP) Mailer {
	if cfg.User == "" || cfg.Pass == "" {
		return LogMailer{}
	}
	return &SMTPMailer{cfg: cfg}
}

type SMTPMailer struct {
	cfg config.SMTP
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := m.cfg.Host + ":" + m.cfg.Port
	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	msg := []byte("From: \"PrepMate\" <" + m.cfg.From + ">\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"utf-8\"\r\n\r\n" +
		html + "\r\n")

	if m.cfg.Port != "465" {
		return smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg)
	}
	// 465 端口为隐式 TLS，smtp.SendMail 只支持 STARTTLS。
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.Host})
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Quit()
	if err := c.Auth(auth); err != nil {
		return err
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(msg); err != nil {
		return err
	}
	return wc.Close()
}

// LogMailer 在开发环境代替真实邮件发送。
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, _ string) error {
	log.Info().Str("to", to).Str("subject", subject).Msg("mail (smtp not configured)")
	return nil
}

// SendAsync 在后台发送邮件，失败时记录日志。
func SendAsync(m Mailer, to, subject, html string) {
	if m == nil || to == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.Send(ctx, to, subject, html); err != nil {
			log.Warn().Err(err).Str("to", to).Str("subject", subject).Msg("send mail")
		}
	}()
}

func Welcome(name string) (string, string) {
	return "Welcome to PrepMate", fmt.Sprintf(`<h2>Hi %s,</h2>
<p>Welcome to <b>PrepMate</b>, your free interview practice platform.</p>
<p>You have been credited with <b>100 free coins</b> to start your journey.</p>
<p>Book mock interviews with your coins, and earn more by interviewing others.</p>
<p>The PrepMate Team</p>`, name)
}

func formatRating(avg float64, reviewed int) string {
	if reviewed == 0 {
		return "No ratings yet"
	}
	return fmt.Sprintf("%.2f", avg)
}

// MeetingInfo 是渲染会议相关邮件所需的字段。
type MeetingInfo struct {
	MeetingID        string
	RoleType         string
	RoleName         string
	ResumeLink       string
	TimeSlot         time.Time
	IntervieweeName  string
	InterviewerName  string
	InterviewerAvg   float64
	InterviewerCount int
}

func AcceptedForInterviewee(firstName string, m MeetingInfo) (string, string) {
	return "Your Interview Has Been Accepted!", fmt.Sprintf(`<h2>Hi %s,</h2>
<p>Your interview request (<b>ID: %s</b>) has been <b>accepted</b>.</p>
<p><b>Interviewer:</b> %s</p>
<p><b>Current Rating:</b> %s</p>
<p>Scheduled Time: %s</p>
<p>The PrepMate Team</p>`, firstName, m.MeetingID, m.InterviewerName, formatRating(m.InterviewerAvg, m.InterviewerCount), m.TimeSlot.Format(time.RFC1123))
}

func AcceptedForInterviewer(firstName string, m MeetingInfo) (string, string) {
	return "New Interview Scheduled", fmt.Sprintf(`<h2>Hi %s,</h2>
<p>You have <b>accepted</b> a new interview (<b>Meeting ID: %s</b>).</p>
<p><b>Interviewee:</b> %s</p>
<p><b>Role:</b> %s - %s</p>
<p><b>Resume:</b> <a href="%s" target="_blank">View Resume</a></p>
<p>Scheduled Time: %s</p>
<p>The PrepMate Team</p>`, firstName, m.MeetingID, m.IntervieweeName, m.RoleType, m.RoleName, m.ResumeLink, m.TimeSlot.Format(time.RFC1123))
}

func Reminder(firstName, counterpart string, m MeetingInfo) (string, string) {
	return "Interview Reminder: Starts in 10 minutes", fmt.Sprintf(`<h2>Hi %s,</h2>
<p>Your interview with <b>%s</b> (<b>Meeting ID: %s</b>) starts in <b>10 minutes</b>.</p>
<p><b>Scheduled Time:</b> %s</p>
<p><b>Role:</b> %s - %s</p>
<p>The PrepMate Team</p>`, firstName, counterpart, m.MeetingID, m.TimeSlot.Format(time.RFC1123), m.RoleType, m.RoleName)
}

func Warning(firstName string, avg float64, warnings int) (string, string) {
	return "Performance Warning - Please Improve", fmt.Sprintf(`<h2>Dear %s,</h2>
<p>Your average rating is <b>%.2f</b>.</p>
<p>This counts as a <b>warning (%d/3)</b>.</p>`, firstName, avg, warnings)
}

func NoShowWarning(firstName, meetingID string, warnings int) (string, string) {
	return "Missed Interview Warning", fmt.Sprintf(`<h2>Dear %s,</h2>
<p>You did not start interview <b>%s</b> within 15 minutes of the scheduled time.</p>
<p>This counts as a <b>warning (%d/3)</b>.</p>`, firstName, meetingID, warnings)
}

func Disabled(firstName string) (string, string) {
	return "Account Disabled", fmt.Sprintf(`<h2>Dear %s,</h2>
<p>Your account has been disabled after receiving 3 warnings.</p>`, firstName)
}
