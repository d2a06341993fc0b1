package ws

import (
	"context"
	"sync"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/event"
	"github.com/Dot-Click/proactive-be-sub000/internal/metrics"
	"github.com/Dot-Click/proactive-be-sub000/internal/presence"

	"github.com/rs/zerolog/log"
)

type clientSet map[*Client]struct{}

// Hub 维护两类分组：房间分组（显式 join 的连接）和用户分组（用户的全部连接）。
// 一个连接可以同时属于多个房间分组，所以这里用加锁的映射而不是每个房间一个 goroutine。
type Hub struct {
	mu      sync.RWMutex
	clients clientSet
	rooms   map[string]clientSet
	users   map[string]clientSet

	presence presence.Store
	timeout  time.Duration
}

func NewHub(store presence.Store, timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Hub{
		clients:  make(clientSet),
		rooms:    make(map[string]clientSet),
		users:    make(map[string]clientSet),
		presence: store,
		timeout:  timeout,
	}
}

// register 把连接加入用户分组；用户从离线变为在线时通知其他连接。
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	set := h.users[c.userID()]
	if set == nil {
		set = make(clientSet)
		h.users[c.userID()] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	metrics.WsConnections.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	first, err := h.presence.Connect(ctx, c.userID())
	if err != nil {
		log.Warn().Err(err).Str("user_id", c.userID()).Msg("presence connect")
		return
	}
	h.mu.Lock()
	_, alive := h.clients[c]
	c.counted = alive
	h.mu.Unlock()
	if !alive {
		// 连接在计数完成前已经断开
		if _, err := h.presence.Disconnect(ctx, c.userID()); err != nil {
			log.Warn().Err(err).Str("user_id", c.userID()).Msg("presence disconnect")
		}
		return
	}
	if first {
		metrics.OnlineUsers.Inc()
		if frame, err := event.Encode(event.UserOnline, event.UserRef{UserID: c.userID()}); err == nil {
			h.broadcastExceptUser(c.userID(), frame)
		}
	}
}

// unregister 可以重复调用；只有用户最后一个连接关闭时才广播下线。
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	if set := h.users[c.userID()]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID())
		}
	}
	// 用户的其他连接仍在房间里时保留输入状态
	var left []string
	for chatID := range c.rooms {
		h.leaveLocked(chatID, c)
		if !h.userInRoomLocked(chatID, c.userID()) {
			left = append(left, chatID)
		}
	}
	counted := c.counted
	h.mu.Unlock()
	c.close()
	metrics.WsConnections.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	for _, chatID := range left {
		changed, err := h.presence.SetTyping(ctx, chatID, c.userID(), false)
		if err != nil {
			log.Warn().Err(err).Str("chat_id", chatID).Msg("clear typing on disconnect")
			continue
		}
		if changed {
			h.notifyTyping(chatID, c.userID(), false)
		}
	}
	if !counted {
		return
	}
	last, err := h.presence.Disconnect(ctx, c.userID())
	if err != nil {
		log.Warn().Err(err).Str("user_id", c.userID()).Msg("presence disconnect")
		return
	}
	if !last {
		return
	}
	metrics.OnlineUsers.Dec()
	chats, err := h.presence.ClearTyping(ctx, c.userID())
	if err != nil {
		log.Warn().Err(err).Str("user_id", c.userID()).Msg("clear typing")
	}
	for _, chatID := range chats {
		h.notifyTyping(chatID, c.userID(), false)
	}
	if frame, err := event.Encode(event.UserOffline, event.UserRef{UserID: c.userID()}); err == nil {
		h.broadcastExceptUser(c.userID(), frame)
	}
}

// subscribe 把连接加入房间分组。
func (h *Hub) subscribe(chatID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	set := h.rooms[chatID]
	if set == nil {
		set = make(clientSet)
		h.rooms[chatID] = set
	}
	set[c] = struct{}{}
	c.rooms[chatID] = struct{}{}
}

func (h *Hub) leave(chatID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(chatID, c)
}

func (h *Hub) leaveLocked(chatID string, c *Client) {
	delete(c.rooms, chatID)
	if set := h.rooms[chatID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

func (h *Hub) userInRoomLocked(chatID, userID string) bool {
	for o := range h.rooms[chatID] {
		if o.userID() == userID {
			return true
		}
	}
	return false
}

func (h *Hub) subscribed(chatID string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[chatID][c]
	return ok
}

// Unsubscribe 让用户的全部连接退出房间分组，成员被移除时调用。
func (h *Hub) Unsubscribe(chatID, userID string) {
	h.mu.Lock()
	for c := range h.users[userID] {
		h.leaveLocked(chatID, c)
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if changed, err := h.presence.SetTyping(ctx, chatID, userID, false); err == nil && changed {
		h.notifyTyping(chatID, userID, false)
	}
}

// CloseRoom 清空房间分组，房间被删除时调用。
func (h *Hub) CloseRoom(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[chatID] {
		delete(c.rooms, chatID)
	}
	delete(h.rooms, chatID)
}

// Publish 投递到房间分组和 userIDs 的用户分组，同一连接只投递一次。
func (h *Hub) Publish(chatID string, userIDs []string, frame []byte) {
	h.mu.RLock()
	targets := make(clientSet, len(h.rooms[chatID]))
	for c := range h.rooms[chatID] {
		targets[c] = struct{}{}
	}
	for _, uid := range userIDs {
		for c := range h.users[uid] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

// publishRoomExcept 投递给房间分组中不属于 userID 的连接。
func (h *Hub) publishRoomExcept(chatID, userID string, frame []byte) {
	h.mu.RLock()
	targets := make(clientSet, len(h.rooms[chatID]))
	for c := range h.rooms[chatID] {
		if c.userID() != userID {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

func (h *Hub) broadcastExceptUser(userID string, frame []byte) {
	h.mu.RLock()
	targets := make(clientSet, len(h.clients))
	for c := range h.clients {
		if c.userID() != userID {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

func (h *Hub) notifyTyping(chatID, userID string, typing bool) {
	frame, err := event.Encode(event.UserTyping, event.Typing{UserID: userID, ChatID: chatID, IsTyping: typing})
	if err != nil {
		return
	}
	h.publishRoomExcept(chatID, userID, frame)
}

// deliver 不阻塞：发送缓冲已满的慢连接会被断开。
func (h *Hub) deliver(targets clientSet, frame []byte) {
	for c := range targets {
		if !c.enqueue(frame) {
			log.Warn().Str("conn_id", c.id).Str("user_id", c.userID()).Msg("send buffer full, dropping connection")
			go h.unregister(c)
		}
	}
}

// Online 返回当前在线的用户。
func (h *Hub) Online(ctx context.Context) ([]string, error) {
	return h.presence.OnlineUsers(ctx)
}
