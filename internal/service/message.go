package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/event"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"

	"gorm.io/gorm"
)

const (
	DefaultPageSize  = 50
	MaxPageSize      = 100
	MaxMessageLength = 4000
)

// MessageStore 是只追加的消息日志，编辑和软删除不会物理移除记录。
type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// AuditMessage 附带删除时间，仅用于按 ID 直接查询。
type AuditMessage struct {
	event.Message
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Page 是分页查询的结果，Messages 按时间升序排列。
type Page struct {
	Messages   []event.Message
	Page       int
	Limit      int
	Total      int64
	TotalPages int
}

// Create 在同一事务里插入消息并刷新房间的 updated_at。
func (s *MessageStore) Create(ctx context.Context, chatID, senderID, content string) (*models.Message, error) {
	msg := models.Message{ChatID: chatID, SenderID: senderID, Content: content}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return touchRoom(tx, chatID, msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// LoadWithSender 重新读取消息并附带发送者展示信息，得到规范负载。
func (s *MessageStore) LoadWithSender(ctx context.Context, messageID string) (event.Message, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).Where("id = ?", messageID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return event.Message{}, ErrMessageNotFound
		}
		return event.Message{}, err
	}
	senders, err := s.resolveSenders(ctx, []models.Message{m})
	if err != nil {
		return event.Message{}, err
	}
	return toPayload(m, senders[m.SenderID]), nil
}

// List 先按时间倒序取一页，再反转为正序返回；软删除的消息不会出现。
func (s *MessageStore) List(ctx context.Context, chatID string, page, limit int) (*Page, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&models.Message{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
		return nil, err
	}

	var msgs []models.Message
	err := db.Where("chat_id = ?", chatID).
		Order("created_at desc").Order("id desc").
		Offset((page - 1) * limit).Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	senders, err := s.resolveSenders(ctx, msgs)
	if err != nil {
		return nil, err
	}
	out := make([]event.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toPayload(m, senders[m.SenderID]))
	}
	return &Page{
		Messages:   out,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
	}, nil
}

// Get 按 ID 查询房间内的消息；includeDeleted 为 true 时也返回已软删除的消息。
func (s *MessageStore) Get(ctx context.Context, chatID, messageID string, includeDeleted bool) (*AuditMessage, error) {
	q := s.db.WithContext(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}
	var m models.Message
	if err := q.Where("id = ? AND chat_id = ?", messageID, chatID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	senders, err := s.resolveSenders(ctx, []models.Message{m})
	if err != nil {
		return nil, err
	}
	out := &AuditMessage{Message: toPayload(m, senders[m.SenderID])}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		out.DeletedAt = &t
	}
	return out, nil
}

// find 返回未删除的消息原始记录。
func (s *MessageStore) find(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).Where("id = ? AND chat_id = ?", messageID, chatID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *MessageStore) Edit(ctx context.Context, messageID, content string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", messageID).
		Updates(map[string]interface{}{"content": content, "edited_at": &now}).Error
}

func (s *MessageStore) SoftDelete(ctx context.Context, messageID string) error {
	return s.db.WithContext(ctx).Where("id = ?", messageID).Delete(&models.Message{}).Error
}

// CountInChat 统计房间内未删除的消息数量。
func (s *MessageStore) CountInChat(ctx context.Context, chatID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).Where("chat_id = ?", chatID).Count(&n).Error
	return n, err
}

// touchRoom 更新房间的 updated_at，房间列表按最近活跃排序。
func touchRoom(db *gorm.DB, chatID string, at time.Time) error {
	return db.Model(&models.ChatRoom{}).Where("id = ?", chatID).UpdateColumn("updated_at", at).Error
}

// resolveSenders 批量获取消息涉及的用户。
func (s *MessageStore) resolveSenders(ctx context.Context, msgs []models.Message) (map[string]models.User, error) {
	seen := make(map[string]struct{}, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}

	users := make(map[string]models.User, len(ids))
	if len(ids) > 0 {
		var found []models.User
		if err := s.db.WithContext(ctx).Select("id", "email", "first_name", "last_name").
			Where("id IN ?", ids).Find(&found).Error; err != nil {
			return nil, err
		}
		for _, u := range found {
			users[u.ID] = u
		}
	}
	return users, nil
}

func toPayload(m models.Message, sender models.User) event.Message {
	return event.Message{
		ID:        m.ID,
		Content:   m.Content,
		SenderID:  m.SenderID,
		ChatID:    m.ChatID,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
		Sender: event.Sender{
			ID:    m.SenderID,
			Name:  sender.DisplayName(),
			Email: sender.Email,
		},
	}
}
