package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/event"
	"github.com/Dot-Click/proactive-be-sub000/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Channel 标识消息从哪条路径进入。
type Channel string

const (
	ChannelREST Channel = "rest"
	ChannelWS   Channel = "ws"
)

// Dispatched 是一次成功发送的结果，Raw 是已序列化的规范负载，
// 广播、HTTP 响应和 socket 确认都使用这同一份字节。
type Dispatched struct {
	Message event.Message
	Raw     json.RawMessage
}

// Dispatcher 是 REST 与 WebSocket 共用的消息入口：校验、持久化、回读、广播。
type Dispatcher struct {
	participants *ParticipantService
	messages     *MessageStore
	bc           Broadcaster
}

func NewDispatcher(participants *ParticipantService, messages *MessageStore, bc Broadcaster) *Dispatcher {
	return &Dispatcher{participants: participants, messages: messages, bc: bc}
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", invalid("content", "must not be empty")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return "", invalid("content", fmt.Sprintf("must be at most %d characters", MaxMessageLength))
	}
	return content, nil
}

// Send 发送新消息。只有在插入成功之后才会广播。
func (d *Dispatcher) Send(ctx context.Context, id auth.Identity, chatID, content string, ch Channel) (*Dispatched, error) {
	if id.ID == "" {
		return nil, ErrUnauthenticated
	}
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}
	if _, err := d.participants.Authorize(ctx, chatID, id); err != nil {
		return nil, err
	}

	msg, err := d.messages.Create(ctx, chatID, id.ID, content)
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	payload, err := d.messages.LoadWithSender(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	frame, err := event.EncodeRaw(event.MessageReceived, raw)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	d.publish(ctx, chatID, frame)
	metrics.MessagesTotal.WithLabelValues(string(ch)).Inc()
	return &Dispatched{Message: payload, Raw: raw}, nil
}

// Edit 只允许原发送者修改内容，成功后以 message_updated 推送。
func (d *Dispatcher) Edit(ctx context.Context, id auth.Identity, chatID, messageID, content string) (*Dispatched, error) {
	if id.ID == "" {
		return nil, ErrUnauthenticated
	}
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}
	if _, err := d.participants.Authorize(ctx, chatID, id); err != nil {
		return nil, err
	}
	msg, err := d.messages.find(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != id.ID {
		return nil, ErrNotSender
	}
	if err := d.messages.Edit(ctx, messageID, content); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	payload, err := d.messages.LoadWithSender(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if frame, err := event.EncodeRaw(event.MessageUpdated, raw); err == nil {
		d.publish(ctx, chatID, frame)
	}
	return &Dispatched{Message: payload, Raw: raw}, nil
}

// Delete 软删除消息，发送者或平台管理员可操作。
func (d *Dispatcher) Delete(ctx context.Context, id auth.Identity, chatID, messageID string) error {
	if id.ID == "" {
		return ErrUnauthenticated
	}
	if _, err := d.participants.Authorize(ctx, chatID, id); err != nil {
		return err
	}
	msg, err := d.messages.find(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != id.ID && !id.IsAdmin() {
		return ErrForbidden
	}
	if err := d.messages.SoftDelete(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if frame, err := event.Encode(event.MessageDeleted, event.Deleted{MessageID: messageID, ChatID: chatID}); err == nil {
		d.publish(ctx, chatID, frame)
	}
	return nil
}

// MarkRead 记录已读位置并通知房间订阅者。
func (d *Dispatcher) MarkRead(ctx context.Context, id auth.Identity, chatID, messageID string) error {
	if id.ID == "" {
		return ErrUnauthenticated
	}
	if messageID == "" {
		return invalid("messageId", "is required")
	}
	if _, err := d.participants.Authorize(ctx, chatID, id); err != nil {
		return err
	}
	if _, err := d.messages.find(ctx, chatID, messageID); err != nil {
		return err
	}
	if err := d.participants.MarkRead(ctx, chatID, id.ID, messageID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if frame, err := event.Encode(event.MessageRead, event.Read{ChatID: chatID, MessageID: messageID, UserID: id.ID}); err == nil {
		d.bc.Publish(chatID, nil, frame)
	}
	return nil
}

// publish 同时投递到房间分组和每个成员的个人分组。
func (d *Dispatcher) publish(ctx context.Context, chatID string, frame []byte) {
	members, err := d.participants.MemberIDs(ctx, chatID)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("load members for broadcast")
	}
	d.bc.Publish(chatID, members, frame)
}
