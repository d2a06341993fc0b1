// Package event 定义实时通道上的事件名和负载结构，REST 与 WebSocket 共用同一份消息表示。
package event

import (
	"encoding/json"
	"time"
)

// 客户端 → 服务端
const (
	JoinChat    = "join_chat"
	LeaveChat   = "leave_chat"
	SendMessage = "send_message"
	TypingStart = "typing_start"
	TypingStop  = "typing_stop"
	MarkAsRead  = "mark_as_read"
)

// 服务端 → 客户端
const (
	Connected        = "connected"
	MessageReceived  = "message_received"
	MessageDelivered = "message_delivered"
	MessageUpdated   = "message_updated"
	MessageDeleted   = "message_deleted"
	MessageRead      = "message_read"
	UserTyping       = "user_typing"
	UserOnline       = "user_online"
	UserOffline      = "user_offline"
	ChatJoined       = "chat_joined"
	ChatLeft         = "chat_left"
	Error            = "error"
)

// error 事件携带的错误码。
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeNotParticipant  = "NOT_PARTICIPANT"
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeValidation      = "VALIDATION_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeBadRequest      = "BAD_REQUEST"
	CodeInternal        = "INTERNAL_ERROR"
)

// Frame 是线上传输的信封，type 为事件名，data 为负载。
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func Encode(typ string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: typ, Data: raw})
}

// EncodeRaw 用已经序列化好的负载构造帧，保证多条投递路径字节一致。
func EncodeRaw(typ string, raw json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Type: typ, Data: raw})
}

type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Message 是带发送者信息的规范消息负载。
type Message struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	SenderID  string     `json:"senderId"`
	ChatID    string     `json:"chatId"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	Sender    Sender     `json:"sender"`
}

type ChatRef struct {
	ChatID string `json:"chatId"`
}

type SendMessageData struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

type MarkAsReadData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type Delivered struct {
	MessageID string          `json:"messageId"`
	ChatID    string          `json:"chatId"`
	Message   json.RawMessage `json:"message"`
}

type Deleted struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

type Read struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type Typing struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type UserRef struct {
	UserID string `json:"userId"`
}

type Hello struct {
	UserID      string   `json:"userId"`
	OnlineUsers []string `json:"onlineUsers"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
