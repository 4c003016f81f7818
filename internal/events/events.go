// Package events 通过 Redis pub/sub 在多个实例之间转发房间事件。
// 每个实例都把本地 Hub 挂在订阅端，这样无论客户端连在哪个实例上都能收到广播。
package events

import (
	"context"
	"encoding/json"
	"time"

	"prepmate/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Channel 是房间事件使用的 Redis 频道。
const Channel = "prepmate:room_events"

// Envelope 是频道上传输的消息格式。
type Envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Publisher 把房间事件发布到 Redis，实现 service.Notifier。
type Publisher struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb, channel: Channel, timeout: 2 * time.Second}
}

// NotifyRoom 序列化后发布，失败只记日志，不影响业务请求。
func (p *Publisher) NotifyRoom(roomID, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("events: marshal payload")
		return
	}
	b, err := json.Marshal(Envelope{Room: roomID, Event: event, Payload: raw})
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("events: marshal envelope")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		log.Warn().Err(err).Str("room", roomID).Str("event", event).Msg("events: publish")
	}
}

// Subscribe 订阅频道并把事件交给本地 notifier，直到 ctx 结束或订阅关闭。
// ready 在订阅确认后关闭，可以为 nil。
func Subscribe(ctx context.Context, rdb *redis.Client, local service.Notifier, ready chan<- struct{}) error {
	sub := rdb.Subscribe(ctx, Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	ch := sub.Channel()
	log.Info().Str("channel", Channel).Msg("events: subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("events: bad envelope")
				continue
			}
			if env.Room == "" || env.Event == "" {
				continue
			}
			local.NotifyRoom(env.Room, env.Event, env.Payload)
		}
	}
}
