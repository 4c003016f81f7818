package service

// 实时事件名称，客户端按名称分发。
const (
	EventInterviewerStarted = "interviewerStartedUpdate"
	EventMeetingEnded       = "meetingEnded"
	EventNewMessage         = "newMessage"
	EventWordLimitReached   = "wordLimitReached"
	EventErrorMessage       = "errorMessage"
)

// Notifier 把事件推送到某个会议房间。实现必须是非阻塞的，推送失败只记录日志。
type Notifier interface {
	NotifyRoom(roomID, event string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) NotifyRoom(string, string, any) {}

// NopNotifier 丢弃所有事件，用于命令行任务和测试。
var NopNotifier Notifier = nopNotifier{}
