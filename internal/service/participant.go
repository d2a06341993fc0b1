package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Broadcaster 是实时通道的出口，由 ws.Hub 实现。
type Broadcaster interface {
	// Publish 把 frame 投递给房间订阅者和 userIDs 的个人分组，同一连接只收到一次。
	Publish(chatID string, userIDs []string, frame []byte)
	// Unsubscribe 让用户的所有连接退出房间分组。
	Unsubscribe(chatID, userID string)
	// CloseRoom 清空房间分组。
	CloseRoom(chatID string)
}

// ParticipantService 维护 (房间, 用户) 成员关系，并负责所有成员资格校验。
type ParticipantService struct {
	db *gorm.DB
	bc Broadcaster
}

func NewParticipantService(db *gorm.DB, bc Broadcaster) *ParticipantService {
	return &ParticipantService{db: db, bc: bc}
}

// Authorize 校验房间存在，且调用者是当前成员或平台管理员。
func (s *ParticipantService) Authorize(ctx context.Context, chatID string, id auth.Identity) (*models.ChatRoom, error) {
	if id.ID == "" {
		return nil, ErrUnauthenticated
	}
	room, err := s.room(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if id.IsAdmin() {
		return room, nil
	}
	ok, err := s.IsParticipant(ctx, chatID, id.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}
	return room, nil
}

func (s *ParticipantService) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).Count(&count).Error
	return count > 0, err
}

func (s *ParticipantService) List(ctx context.Context, chatID string) ([]models.Participant, error) {
	var ps []models.Participant
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("joined_at asc").Find(&ps).Error
	return ps, err
}

// MemberIDs 返回房间全部成员的用户 ID。
func (s *ParticipantService) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("chat_id = ?", chatID).Order("joined_at asc").Pluck("user_id", &ids).Error
	return ids, err
}

// Add 添加成员；已经是成员时不做任何事，返回 added=false。
func (s *ParticipantService) Add(ctx context.Context, actor auth.Identity, chatID, userID string, role models.RoomRole) (bool, error) {
	if role == "" {
		role = models.RoomRoleParticipant
	}
	if !role.Valid() {
		return false, invalid("role", "must be participant or admin")
	}
	if userID == "" {
		return false, invalid("userId", "is required")
	}
	room, err := s.room(ctx, chatID)
	if err != nil {
		return false, err
	}
	if err := s.requireManager(ctx, actor, room); err != nil {
		return false, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrUserNotFound
	}
	return addParticipant(s.db.WithContext(ctx), chatID, userID, role)
}

// Remove 移除成员；管理者可以移除任何人，成员可以移除自己。
func (s *ParticipantService) Remove(ctx context.Context, actor auth.Identity, chatID, userID string) error {
	room, err := s.room(ctx, chatID)
	if err != nil {
		return err
	}
	if actor.ID != userID {
		if err := s.requireManager(ctx, actor, room); err != nil {
			return err
		}
	}
	res := s.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&models.Participant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrParticipantNotFound
	}
	s.bc.Unsubscribe(chatID, userID)
	return nil
}

// MarkRead 记录调用者在房间里的已读位置。
func (s *ParticipantService) MarkRead(ctx context.Context, chatID, userID, messageID string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{"last_read_message_id": messageID, "last_read_at": &now}).Error
}

// CanManage 报告 actor 是否可以管理房间成员：平台管理员、创建者、指定协调人或房间管理员。
func (s *ParticipantService) CanManage(ctx context.Context, actor auth.Identity, room *models.ChatRoom) (bool, error) {
	if actor.IsAdmin() || room.CreatedBy == actor.ID {
		return true, nil
	}
	if room.CoordinatorID != nil && *room.CoordinatorID == actor.ID {
		return true, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("chat_id = ? AND user_id = ? AND role = ?", room.ID, actor.ID, models.RoomRoleAdmin).Count(&count).Error
	return count > 0, err
}

func (s *ParticipantService) requireManager(ctx context.Context, actor auth.Identity, room *models.ChatRoom) error {
	ok, err := s.CanManage(ctx, actor, room)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s *ParticipantService) room(ctx context.Context, chatID string) (*models.ChatRoom, error) {
	return findRoom(s.db.WithContext(ctx), chatID)
}

func findRoom(db *gorm.DB, chatID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := db.Where("id = ?", chatID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &room, nil
}

// addParticipant 依赖 (chat_id, user_id) 唯一索引，冲突即视为已存在。
func addParticipant(db *gorm.DB, chatID, userID string, role models.RoomRole) (bool, error) {
	p := models.Participant{ChatID: chatID, UserID: userID, Role: role}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
