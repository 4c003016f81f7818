package service

import (
	"sync"
	"time"
)

// Reminders 保存进程内的一次性提醒定时器，按会议主键索引。
// 定时器不持久化，进程重启后未触发的提醒会丢失。
type Reminders struct {
	mu     sync.Mutex
	timers map[uint]*time.Timer
}

func NewReminders() *Reminders {
	return &Reminders{timers: make(map[uint]*time.Timer)}
}

// Schedule 在 delay 之后执行 fn，同一会议的旧提醒会被替换。delay 不为正时不调度。
func (r *Reminders) Schedule(meetingID uint, delay time.Duration, fn func()) bool {
	if delay <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.timers[meetingID]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.timers[meetingID] == t {
			delete(r.timers, meetingID)
		}
		r.mu.Unlock()
		fn()
	})
	r.timers[meetingID] = t
	return true
}

func (r *Reminders) Cancel(meetingID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[meetingID]; ok {
		t.Stop()
		delete(r.timers, meetingID)
	}
}

func (r *Reminders) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop 取消全部提醒，用于优雅停服。
func (r *Reminders) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
