package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"prepmate/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Frame 是 websocket 上收发的消息格式。
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: data})
}

// Hub 管理按房间键索引的 RoomHub，延迟创建，空房间由 Prune 回收。
// 一个客户端可以同时在多个房间中（视频房间与聊天）。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*RoomHub)} }

// GetRoom 若房间未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(roomID string) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomID)
	h.rooms[roomID] = room
	metrics.WsRooms.Set(float64(len(h.rooms)))
	go room.run()
	return room
}

// Join 把客户端加入房间。持有读锁直到 run 收下注册，Prune 因此不会回收刚加入的房间。
func (h *Hub) Join(roomID string, c *Client) {
	for {
		room := h.GetRoom(roomID)
		h.mu.RLock()
		if h.rooms[roomID] != room {
			h.mu.RUnlock()
			continue
		}
		select {
		case room.register <- c:
			h.mu.RUnlock()
			c.addRoom(room)
			return
		case <-room.quit:
			h.mu.RUnlock()
		}
	}
}

// Leave 把客户端移出房间，房间已停止时直接返回。
func (h *Hub) Leave(room *RoomHub, c *Client) {
	select {
	case room.unregister <- c:
	case <-room.quit:
	}
}

func (h *Hub) Online(roomID string) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// Rooms 返回当前存活的房间数。
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// NotifyRoom 向房间内所有客户端广播事件；房间不存在时什么也不做。
func (h *Hub) NotifyRoom(roomID, event string, payload any) {
	b, err := encodeFrame(event, payload)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("ws: encode frame")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[roomID]
	if room == nil {
		return
	}
	select {
	case room.broadcast <- b:
	default:
		log.Warn().Str("room", roomID).Str("event", event).Msg("ws: broadcast queue full, dropping event")
	}
}

// Prune 停止并移除没有客户端的房间，返回移除数量。
func (h *Hub) Prune() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for id, room := range h.rooms {
		reply := make(chan bool, 1)
		room.prune <- reply
		if <-reply {
			delete(h.rooms, id)
			removed++
		}
	}
	metrics.WsRooms.Set(float64(len(h.rooms)))
	return removed
}

// Close 停止所有房间并踢掉其中的客户端。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, room := range h.rooms {
		room.shutdown <- struct{}{}
		<-room.quit
		delete(h.rooms, id)
	}
	metrics.WsRooms.Set(0)
}

type RoomHub struct {
	roomID     string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	prune      chan chan bool
	shutdown   chan struct{}
	quit       chan struct{}
	online     int32
}

func NewRoomHub(roomID string) *RoomHub {
	return &RoomHub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		prune:      make(chan chan bool),
		shutdown:   make(chan struct{}),
		quit:       make(chan struct{}),
	}
}

func (rh *RoomHub) run() {
	defer close(rh.quit)
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				delete(rh.clients, c)
				atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			}
		case msg := <-rh.broadcast:
			for c := range rh.clients {
				if !c.deliver(msg) {
					// 慢消费者：踢掉连接，不阻塞房间内其他人
					delete(rh.clients, c)
				}
			}
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
		case reply := <-rh.prune:
			if len(rh.clients) == 0 {
				reply <- true
				return
			}
			reply <- false
		case <-rh.shutdown:
			for c := range rh.clients {
				c.kick()
			}
			return
		}
	}
}

// Online 返回房间在线客户端数量。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
