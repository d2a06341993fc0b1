package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"

	"gorm.io/gorm"
)

// RoomService 封装聊天房间的创建、查询和删除。
type RoomService struct {
	db           *gorm.DB
	participants *ParticipantService
	bc           Broadcaster
}

func NewRoomService(db *gorm.DB, participants *ParticipantService, bc Broadcaster) *RoomService {
	return &RoomService{db: db, participants: participants, bc: bc}
}

type CreateRoomInput struct {
	TripID         string   `json:"tripId"`
	Name           *string  `json:"name"`
	Description    *string  `json:"description"`
	ParticipantIDs []string `json:"participantIds"`
}

// RoomDetail 是房间及其成员。
type RoomDetail struct {
	models.ChatRoom
	Participants []models.Participant `json:"participants"`
}

// Create 创建挂在行程下的房间：创建者为房间管理员，行程协调人自动成为指定协调人。
func (s *RoomService) Create(ctx context.Context, id auth.Identity, in CreateRoomInput) (*RoomDetail, error) {
	if id.ID == "" {
		return nil, ErrUnauthenticated
	}
	in.TripID = strings.TrimSpace(in.TripID)
	if in.TripID == "" {
		return nil, invalid("tripId", "is required")
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if len(name) > 128 {
			return nil, invalid("name", "must be at most 128 characters")
		}
		in.Name = &name
	}

	var trip models.Trip
	if err := s.db.WithContext(ctx).Where("id = ?", in.TripID).First(&trip).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}

	members := make([]string, 0, len(in.ParticipantIDs)+1)
	seen := map[string]struct{}{id.ID: {}}
	if trip.CoordinatorID != nil && *trip.CoordinatorID != "" {
		seen[*trip.CoordinatorID] = struct{}{}
		if *trip.CoordinatorID != id.ID {
			members = append(members, *trip.CoordinatorID)
		}
	}
	for _, uid := range in.ParticipantIDs {
		uid = strings.TrimSpace(uid)
		if uid == "" {
			continue
		}
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		members = append(members, uid)
	}
	if len(members) > 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", members).Count(&count).Error; err != nil {
			return nil, err
		}
		if int(count) != len(members) {
			return nil, invalid("participantIds", "contains unknown users")
		}
	}

	room := models.ChatRoom{
		Name:          in.Name,
		Description:   in.Description,
		TripID:        &trip.ID,
		CoordinatorID: trip.CoordinatorID,
		CreatedBy:     id.ID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		if _, err := addParticipant(tx, room.ID, id.ID, models.RoomRoleAdmin); err != nil {
			return err
		}
		for _, uid := range members {
			if _, err := addParticipant(tx, room.ID, uid, models.RoomRoleParticipant); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ps, err := s.participants.List(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return &RoomDetail{ChatRoom: room, Participants: ps}, nil
}

// Get 返回房间详情，调用者需是成员或管理员。
func (s *RoomService) Get(ctx context.Context, id auth.Identity, chatID string) (*RoomDetail, error) {
	room, err := s.participants.Authorize(ctx, chatID, id)
	if err != nil {
		return nil, err
	}
	ps, err := s.participants.List(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &RoomDetail{ChatRoom: *room, Participants: ps}, nil
}

// ListForUser 返回用户参与的房间，最近活跃的排在前面。
func (s *RoomService) ListForUser(ctx context.Context, userID string, limit int) ([]models.ChatRoom, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var rooms []models.ChatRoom
	err := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&models.Participant{}).Select("chat_id").Where("user_id = ?", userID)).
		Order("updated_at desc").Limit(limit).Find(&rooms).Error
	return rooms, err
}

// Delete 硬删除房间、成员和消息，仅创建者、指定协调人或平台管理员可操作。
func (s *RoomService) Delete(ctx context.Context, id auth.Identity, chatID string) error {
	if id.ID == "" {
		return ErrUnauthenticated
	}
	room, err := findRoom(s.db.WithContext(ctx), chatID)
	if err != nil {
		return err
	}
	isCoordinator := room.CoordinatorID != nil && *room.CoordinatorID == id.ID
	if !id.IsAdmin() && room.CreatedBy != id.ID && !isCoordinator {
		return ErrForbidden
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Participant{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", chatID).Delete(&models.ChatRoom{}).Error
	})
	if err != nil {
		return err
	}
	s.bc.CloseRoom(chatID)
	return nil
}
