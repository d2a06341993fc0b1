package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/event"
	"github.com/Dot-Click/proactive-be-sub000/internal/mw"
	"github.com/Dot-Click/proactive-be-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler 把实时事件接到房间协调、消息分发和在线状态上。
type Handler struct {
	hub          *Hub
	auth         *auth.Authenticator
	participants *service.ParticipantService
	dispatcher   *service.Dispatcher
	limiter      *mw.KeyedLimiter
	timeout      time.Duration
}

func NewHandler(hub *Hub, a *auth.Authenticator, participants *service.ParticipantService, dispatcher *service.Dispatcher, limiter *mw.KeyedLimiter) *Handler {
	return &Handler{
		hub:          hub,
		auth:         a,
		participants: participants,
		dispatcher:   dispatcher,
		limiter:      limiter,
		timeout:      hub.timeout,
	}
}

// Serve 在升级之前完成认证，凭据无效时直接返回 401，不创建连接。
func (h *Handler) Serve(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	identity, err := h.auth.AuthenticateSocket(ctx, auth.CredentialFromRequest(c.Request))
	cancel()
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			log.Error().Err(err).Msg("socket authentication")
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "authentication required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("user_id", identity.ID).Msg("websocket upgrade")
		return
	}
	client := newClient(identity, conn)
	h.hub.register(client)
	log.Debug().Str("conn_id", client.id).Str("user_id", identity.ID).Msg("socket connected")

	h.greet(client)
	go client.writePump()
	client.readPump(func(data []byte) { h.handle(client, data) })

	h.hub.unregister(client)
	log.Debug().Str("conn_id", client.id).Str("user_id", identity.ID).Msg("socket disconnected")
}

func (h *Handler) greet(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	online, err := h.hub.Online(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("list online users")
	}
	if online == nil {
		online = []string{}
	}
	h.reply(c, event.Connected, event.Hello{UserID: c.userID(), OnlineUsers: online})
}

// handle 处理一条入站帧，每个事件的数据库操作都有独立的超时。
func (h *Handler) handle(c *Client, data []byte) {
	var in event.Frame
	if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
		h.replyError(c, event.CodeBadRequest, "malformed event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var err error
	switch in.Type {
	case event.JoinChat:
		err = h.joinChat(ctx, c, in.Data)
	case event.LeaveChat:
		err = h.leaveChat(ctx, c, in.Data)
	case event.SendMessage:
		err = h.sendMessage(ctx, c, in.Data)
	case event.TypingStart:
		err = h.typing(ctx, c, in.Data, true)
	case event.TypingStop:
		err = h.typing(ctx, c, in.Data, false)
	case event.MarkAsRead:
		err = h.markAsRead(ctx, c, in.Data)
	default:
		h.replyError(c, event.CodeBadRequest, "unknown event: "+in.Type)
		return
	}
	if err != nil {
		code, msg := errorCode(err)
		if code == event.CodeInternal {
			log.Error().Err(err).Str("event", in.Type).Str("user_id", c.userID()).Msg("socket event failed")
		}
		h.replyError(c, code, msg)
	}
}

func decodeChatRef(raw json.RawMessage) (event.ChatRef, error) {
	var ref event.ChatRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ref, errBadPayload
	}
	ref.ChatID = strings.TrimSpace(ref.ChatID)
	if ref.ChatID == "" {
		return ref, &service.ValidationError{Fields: []service.FieldError{{Field: "chatId", Message: "is required"}}}
	}
	return ref, nil
}

// joinChat 只订阅已有成员关系的房间，不会创建成员记录。
func (h *Handler) joinChat(ctx context.Context, c *Client, raw json.RawMessage) error {
	ref, err := decodeChatRef(raw)
	if err != nil {
		return err
	}
	if _, err := h.participants.Authorize(ctx, ref.ChatID, c.identity); err != nil {
		return err
	}
	h.hub.subscribe(ref.ChatID, c)
	h.reply(c, event.ChatJoined, ref)
	return nil
}

func (h *Handler) leaveChat(ctx context.Context, c *Client, raw json.RawMessage) error {
	ref, err := decodeChatRef(raw)
	if err != nil {
		return err
	}
	h.hub.leave(ref.ChatID, c)
	changed, err := h.hub.presence.SetTyping(ctx, ref.ChatID, c.userID(), false)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", ref.ChatID).Msg("clear typing on leave")
	}
	if changed {
		h.hub.notifyTyping(ref.ChatID, c.userID(), false)
	}
	h.reply(c, event.ChatLeft, ref)
	return nil
}

func (h *Handler) sendMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	var in event.SendMessageData
	if err := json.Unmarshal(raw, &in); err != nil {
		return errBadPayload
	}
	if h.limiter != nil && !h.limiter.Allow(c.userID()) {
		return errRateLimited
	}
	out, err := h.dispatcher.Send(ctx, c.identity, strings.TrimSpace(in.ChatID), in.Content, service.ChannelWS)
	if err != nil {
		return err
	}
	h.reply(c, event.MessageDelivered, event.Delivered{MessageID: out.Message.ID, ChatID: out.Message.ChatID, Message: out.Raw})
	return nil
}

// typing 只对已 join 的房间生效，状态变化时通知房间内的其他用户。
func (h *Handler) typing(ctx context.Context, c *Client, raw json.RawMessage, typing bool) error {
	ref, err := decodeChatRef(raw)
	if err != nil {
		return err
	}
	if !h.hub.subscribed(ref.ChatID, c) {
		return service.ErrNotParticipant
	}
	changed, err := h.hub.presence.SetTyping(ctx, ref.ChatID, c.userID(), typing)
	if err != nil {
		return err
	}
	if changed {
		h.hub.notifyTyping(ref.ChatID, c.userID(), typing)
	}
	return nil
}

func (h *Handler) markAsRead(ctx context.Context, c *Client, raw json.RawMessage) error {
	var in event.MarkAsReadData
	if err := json.Unmarshal(raw, &in); err != nil {
		return errBadPayload
	}
	return h.dispatcher.MarkRead(ctx, c.identity, strings.TrimSpace(in.ChatID), strings.TrimSpace(in.MessageID))
}

func (h *Handler) reply(c *Client, typ string, data interface{}) {
	frame, err := event.Encode(typ, data)
	if err != nil {
		log.Error().Err(err).Str("event", typ).Msg("encode reply")
		return
	}
	if !c.enqueue(frame) {
		go h.hub.unregister(c)
	}
}

func (h *Handler) replyError(c *Client, code, msg string) {
	h.reply(c, event.Error, event.ErrorData{Message: msg, Code: code})
}

var (
	errBadPayload  = errors.New("malformed event payload")
	errRateLimited = errors.New("sending too fast")
)

// errorCode 把业务错误映射为 error 事件的 code 和对外消息，内部错误不暴露细节。
func errorCode(err error) (string, string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return event.CodeValidation, verr.Error()
	case errors.Is(err, errBadPayload):
		return event.CodeBadRequest, err.Error()
	case errors.Is(err, errRateLimited):
		return event.CodeRateLimited, err.Error()
	case errors.Is(err, service.ErrUnauthenticated):
		return event.CodeUnauthenticated, err.Error()
	case errors.Is(err, service.ErrNotParticipant):
		return event.CodeNotParticipant, err.Error()
	case errors.Is(err, service.ErrChatNotFound), errors.Is(err, service.ErrMessageNotFound):
		return event.CodeNotFound, err.Error()
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotSender):
		return event.CodeForbidden, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return event.CodeInternal, "operation timed out"
	default:
		return event.CodeInternal, "internal error"
	}
}
