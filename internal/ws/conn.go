package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"prepmate/internal/auth"
	"prepmate/internal/config"
	"prepmate/internal/metrics"
	"prepmate/internal/models"
	"prepmate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// 客户端发来的事件
const (
	EventJoinVideoRoom = "joinVideoRoom"
	EventJoinChat      = "joinChat"
	EventSendMessage   = "sendMessage"
)

// 只发给当前连接的事件
const (
	EventJoined      = "joined"
	EventChatHistory = "chatHistory"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 64 << 10
	sendBuffer = 256
)

// Services 是连接处理需要的业务依赖。
type Services struct {
	Meetings *service.MeetingService
	Chats    *service.ChatService
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	svc    Services
	userID uint

	mu    sync.Mutex
	rooms map[*RoomHub]struct{}
}

func newClient(h *Hub, conn *websocket.Conn, svc Services, userID uint) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		svc:    svc,
		userID: userID,
		rooms:  make(map[*RoomHub]struct{}),
	}
}

// deliver 非阻塞地投递消息，缓冲区满时踢掉客户端并返回 false。
func (c *Client) deliver(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.kick()
		return false
	}
}

func (c *Client) kick() { c.once.Do(func() { close(c.done) }) }

func (c *Client) addRoom(rh *RoomHub) {
	c.mu.Lock()
	c.rooms[rh] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) leaveAll() {
	c.mu.Lock()
	rooms := make([]*RoomHub, 0, len(c.rooms))
	for rh := range c.rooms {
		rooms = append(rooms, rh)
	}
	c.rooms = make(map[*RoomHub]struct{})
	c.mu.Unlock()
	for _, rh := range rooms {
		c.hub.Leave(rh, c)
	}
}

func (c *Client) emit(event string, data any) {
	b, err := encodeFrame(event, data)
	if err != nil {
		return
	}
	c.deliver(b)
}

func (c *Client) emitError(err error) {
	c.emit(service.EventErrorMessage, gin.H{"error": err.Error()})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 校验 token 后升级为 websocket。token 可放在 query 参数或 Authorization 头中。
func Serve(h *Hub, db *gorm.DB, cfg config.Config, svc Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = auth.BearerToken(c.GetHeader("Authorization"))
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var user models.User
		if err := db.First(&user, claims.UserID).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if user.Disabled {
			c.JSON(http.StatusForbidden, gin.H{"error": service.ErrAccountDisabled.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(h, conn, svc, user.ID)
		metrics.WsConnections.Inc()
		log.Debug().Uint("user_id", user.ID).Msg("ws connected")

		go client.writePump()
		client.readPump()
	}
}

type meetingRef struct {
	MeetingID string `json:"meetingId"`
}

type sendMessageIn struct {
	MeetingID string `json:"meetingId"`
	Content   string `json:"content"`
}

func (c *Client) readPump() {
	defer func() {
		c.leaveAll()
		c.kick()
		metrics.WsConnections.Dec()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in Frame
		if err := json.Unmarshal(data, &in); err != nil {
			c.emitError(errors.New("malformed frame"))
			continue
		}
		c.handle(in)
	}
}

// handle 处理一帧客户端事件，错误以 errorMessage 回给发送者。
func (c *Client) handle(in Frame) {
	switch in.Event {
	case EventJoinVideoRoom, EventJoinChat:
		var ref meetingRef
		if err := json.Unmarshal(in.Data, &ref); err != nil || ref.MeetingID == "" {
			c.emitError(service.ErrInvalidInput)
			return
		}
		m, role, err := c.svc.Meetings.ParticipantRole(c.userID, ref.MeetingID)
		if err != nil {
			c.emitError(err)
			return
		}
		c.hub.Join(m.MeetingID, c)
		c.emit(EventJoined, gin.H{"meetingId": m.MeetingID, "role": role})
		if in.Event == EventJoinChat {
			chat, err := c.svc.Chats.GetChatMessages(c.userID, m.MeetingID)
			if err != nil && !errors.Is(err, service.ErrChatNotFound) {
				c.emitError(err)
				return
			}
			if chat != nil {
				c.emit(EventChatHistory, chat)
			}
		}
	case EventSendMessage:
		var msg sendMessageIn
		if err := json.Unmarshal(in.Data, &msg); err != nil || msg.MeetingID == "" {
			c.emitError(service.ErrInvalidInput)
			return
		}
		// 成功后由 ChatService 通过 Hub 广播 newMessage
		_, err := c.svc.Chats.SendMessage(c.userID, msg.MeetingID, msg.Content)
		if errors.Is(err, service.ErrWordLimitExceeded) || errors.Is(err, service.ErrChatClosed) {
			c.emit(service.EventWordLimitReached, service.MeetingEvent{MeetingID: msg.MeetingID, Message: err.Error()})
			return
		}
		if err != nil {
			c.emitError(err)
		}
	default:
		c.emitError(errors.New("unknown event"))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.kick()
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				c.kick()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.kick()
				return
			}
		}
	}
}
