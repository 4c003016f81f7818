package service

import (
	"context"
	"fmt"

	"prepmate/internal/mail"
	"prepmate/internal/metrics"
	"prepmate/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Sweep 把超过开始时间 15 分钟仍未开始的已接会议退回待接队列（加急、奖励翻倍、清空面试官），
// 并给原面试官记一次警告。与手动接单、爽约处理并发时依赖条件更新，只有一方生效。
func (s *MeetingService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-NoShowGrace)
	var late []models.Meeting
	if err := s.db.WithContext(ctx).
		Where("status = ? AND interviewer_started = ? AND time_slot < ?", models.StatusAccepted, false, cutoff).
		Find(&late).Error; err != nil {
		return 0, err
	}

	swept := 0
	for i := range late {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		m := &late[i]
		var (
			changed bool
			warned  *models.User
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Meeting{}).
				Where("id = ? AND status = ? AND interviewer_started = ?", m.ID, models.StatusAccepted, false).
				Updates(map[string]any{
					"status":              models.StatusPending,
					"priority":            true,
					"interviewer_id":      nil,
					"interviewer_started": false,
					"coins_reward":        PriorityReward,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			changed = true
			if err := deleteChat(tx, m.ID); err != nil {
				return err
			}
			var err error
			warned, err = warnInterviewer(tx, m.InterviewerID)
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("meeting_id", m.MeetingID).Msg("sweep meeting")
			continue
		}
		if !changed {
			continue
		}
		swept++
		s.reminders.Cancel(m.ID)
		metrics.MeetingsSwept.Inc()
		if warned != nil {
			subject, body := mail.NoShowWarning(warned.FirstName, m.MeetingID, warned.WarningCount)
			announceWarning(s.mailer, warned, warnSweep, subject, body)
		}
		log.Info().Str("meeting_id", m.MeetingID).Msg("late interviewer, meeting returned to queue")
	}
	return swept, nil
}

// cronLogger 把 cron 的日志转到 zerolog。
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// Scheduler 用 cron 运行周期任务，同一任务上一轮未结束时跳过本轮。
type Scheduler struct {
	c *cron.Cron
}

func NewScheduler() *Scheduler {
	l := cronLogger{}
	return &Scheduler{c: cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)))}
}

// Add 注册一个周期任务，schedule 支持标准 cron 表达式与 @every 语法。
func (s *Scheduler) Add(name, schedule string, job func(ctx context.Context) error) error {
	_, err := s.c.AddFunc(schedule, func() {
		if err := job(context.Background()); err != nil {
			log.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop 停止调度，返回的 context 在运行中的任务结束后关闭。
func (s *Scheduler) Stop() context.Context { return s.c.Stop() }

// SweepJob 把 Sweep 包装成周期任务。
func SweepJob(s *MeetingService) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := s.Sweep(ctx)
		if n > 0 {
			log.Info().Int("count", n).Msg("sweeper run")
		}
		return err
	}
}
