package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/achievement"
	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"
	"github.com/Dot-Click/proactive-be-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	users        *service.UserService
	rooms        *service.RoomService
	participants *service.ParticipantService
	messages     *service.MessageStore
	dispatcher   *service.Dispatcher
	trips        *service.TripService
	achievements *achievement.Engine
	timeout      time.Duration
}

type Services struct {
	Users        *service.UserService
	Rooms        *service.RoomService
	Participants *service.ParticipantService
	Messages     *service.MessageStore
	Dispatcher   *service.Dispatcher
	Trips        *service.TripService
	Achievements *achievement.Engine
}

func NewHandler(s Services, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{
		users:        s.Users,
		rooms:        s.Rooms,
		participants: s.Participants,
		messages:     s.Messages,
		dispatcher:   s.Dispatcher,
		trips:        s.Trips,
		achievements: s.Achievements,
		timeout:      timeout,
	}
}

func (h *Handler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterInput
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	u, err := h.users.Register(ctx, req)
	if err != nil {
		failErr(c, err, "register")
		return
	}
	ok(c, http.StatusCreated, gin.H{"user": u})
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "email and password are required")
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	res, err := h.users.Login(ctx, req.Email, req.Password)
	if err != nil {
		failErr(c, err, "login")
		return
	}
	ok(c, http.StatusOK, res)
}

func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		SessionToken string `json:"sessionToken"`
	}
	if !bind(c, &req) {
		return
	}
	if req.SessionToken == "" {
		fail(c, http.StatusBadRequest, "sessionToken is required")
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	res, err := h.users.RefreshTokens(ctx, req.SessionToken)
	if err != nil {
		failErr(c, err, "refresh")
		return
	}
	ok(c, http.StatusOK, res)
}

func (h *Handler) Logout(c *gin.Context) {
	var req struct {
		SessionToken string `json:"sessionToken"`
	}
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.users.Logout(ctx, req.SessionToken); err != nil {
		failErr(c, err, "logout")
		return
	}
	ok(c, http.StatusOK, gin.H{"loggedOut": true})
}

func (h *Handler) Me(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	u, err := h.users.Get(ctx, auth.GetIdentity(c).ID)
	if err != nil {
		failErr(c, err, "me")
		return
	}
	ok(c, http.StatusOK, gin.H{"user": u})
}

func (h *Handler) CreateChat(c *gin.Context) {
	var req service.CreateRoomInput
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	room, err := h.rooms.Create(ctx, auth.GetIdentity(c), req)
	if err != nil {
		failErr(c, err, "create chat")
		return
	}
	ok(c, http.StatusCreated, gin.H{"chat": room})
}

func (h *Handler) ListChats(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	rooms, err := h.rooms.ListForUser(ctx, auth.GetIdentity(c).ID, queryInt(c, "limit", 100))
	if err != nil {
		failErr(c, err, "list chats")
		return
	}
	ok(c, http.StatusOK, gin.H{"chats": rooms})
}

func (h *Handler) GetChat(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	room, err := h.rooms.Get(ctx, auth.GetIdentity(c), c.Param("chatId"))
	if err != nil {
		failErr(c, err, "get chat")
		return
	}
	ok(c, http.StatusOK, gin.H{"chat": room})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.rooms.Delete(ctx, auth.GetIdentity(c), c.Param("chatId")); err != nil {
		failErr(c, err, "delete chat")
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) ListParticipants(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	chatID := c.Param("chatId")
	if _, err := h.participants.Authorize(ctx, chatID, auth.GetIdentity(c)); err != nil {
		failErr(c, err, "list participants")
		return
	}
	ps, err := h.participants.List(ctx, chatID)
	if err != nil {
		failErr(c, err, "list participants")
		return
	}
	ok(c, http.StatusOK, gin.H{"participants": ps})
}

func (h *Handler) AddParticipant(c *gin.Context) {
	var req struct {
		UserID string          `json:"userId"`
		Role   models.RoomRole `json:"role"`
	}
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	added, err := h.participants.Add(ctx, auth.GetIdentity(c), c.Param("chatId"), req.UserID, req.Role)
	if err != nil {
		failErr(c, err, "add participant")
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	ok(c, status, gin.H{"added": added, "userId": req.UserID})
}

func (h *Handler) RemoveParticipant(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.participants.Remove(ctx, auth.GetIdentity(c), c.Param("chatId"), c.Param("userId")); err != nil {
		failErr(c, err, "remove participant")
		return
	}
	ok(c, http.StatusOK, gin.H{"removed": true})
}

// SendMessage 与 socket 的 send_message 走同一个 Dispatcher，响应里的 message 与广播负载字节一致。
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	out, err := h.dispatcher.Send(ctx, auth.GetIdentity(c), c.Param("chatId"), req.Content, service.ChannelREST)
	if err != nil {
		failErr(c, err, "send message")
		return
	}
	ok(c, http.StatusCreated, gin.H{"message": out.Raw})
}

func (h *Handler) ListMessages(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	chatID := c.Param("chatId")
	if _, err := h.participants.Authorize(ctx, chatID, auth.GetIdentity(c)); err != nil {
		failErr(c, err, "list messages")
		return
	}
	page, err := h.messages.List(ctx, chatID, queryInt(c, "page", 1), queryInt(c, "limit", service.DefaultPageSize))
	if err != nil {
		failErr(c, err, "list messages")
		return
	}
	okWithMeta(c, gin.H{"messages": page.Messages}, &meta{
		Page:       page.Page,
		Limit:      page.Limit,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	})
}

// GetMessage 按 ID 查询；平台管理员可以看到已软删除的消息。
func (h *Handler) GetMessage(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	id := auth.GetIdentity(c)
	chatID := c.Param("chatId")
	if _, err := h.participants.Authorize(ctx, chatID, id); err != nil {
		failErr(c, err, "get message")
		return
	}
	msg, err := h.messages.Get(ctx, chatID, c.Param("messageId"), id.IsAdmin())
	if err != nil {
		failErr(c, err, "get message")
		return
	}
	ok(c, http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) EditMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	out, err := h.dispatcher.Edit(ctx, auth.GetIdentity(c), c.Param("chatId"), c.Param("messageId"), req.Content)
	if err != nil {
		failErr(c, err, "edit message")
		return
	}
	ok(c, http.StatusOK, gin.H{"message": out.Raw})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.dispatcher.Delete(ctx, auth.GetIdentity(c), c.Param("chatId"), c.Param("messageId")); err != nil {
		failErr(c, err, "delete message")
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) MarkRead(c *gin.Context) {
	var req struct {
		MessageID string `json:"messageId"`
	}
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	if err := h.dispatcher.MarkRead(ctx, auth.GetIdentity(c), c.Param("chatId"), req.MessageID); err != nil {
		failErr(c, err, "mark read")
		return
	}
	ok(c, http.StatusOK, gin.H{"chatId": c.Param("chatId"), "messageId": req.MessageID})
}

func (h *Handler) CreateTrip(c *gin.Context) {
	var req service.CreateTripInput
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	trip, err := h.trips.Create(ctx, auth.GetIdentity(c), req)
	if err != nil {
		failErr(c, err, "create trip")
		return
	}
	ok(c, http.StatusCreated, gin.H{"trip": trip})
}

func (h *Handler) ApplyTrip(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	app, err := h.trips.Apply(ctx, auth.GetIdentity(c), c.Param("tripId"))
	if err != nil {
		failErr(c, err, "apply trip")
		return
	}
	ok(c, http.StatusCreated, gin.H{"application": app})
}

func (h *Handler) ApproveApplication(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	app, err := h.trips.Approve(ctx, auth.GetIdentity(c), c.Param("tripId"), c.Param("applicationId"))
	if err != nil {
		failErr(c, err, "approve application")
		return
	}
	ok(c, http.StatusOK, gin.H{"application": app})
}

func (h *Handler) AssignLeader(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !bind(c, &req) {
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	trip, err := h.trips.AssignLeader(ctx, auth.GetIdentity(c), c.Param("tripId"), req.UserID)
	if err != nil {
		failErr(c, err, "assign leader")
		return
	}
	ok(c, http.StatusOK, gin.H{"trip": trip})
}

func (h *Handler) MyAchievements(c *gin.Context) {
	h.userAchievements(c, auth.GetIdentity(c).ID)
}

func (h *Handler) UserAchievements(c *gin.Context) {
	h.userAchievements(c, c.Param("userId"))
}

func (h *Handler) userAchievements(c *gin.Context, userID string) {
	ctx, cancel := h.ctx(c)
	defer cancel()
	if _, err := h.users.Get(ctx, userID); err != nil {
		failErr(c, err, "achievements")
		return
	}
	sum, err := h.achievements.GetUserAchievements(ctx, userID)
	if err != nil {
		failErr(c, err, "achievements")
		return
	}
	ok(c, http.StatusOK, sum)
}
