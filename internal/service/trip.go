package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AchievementTracker 由 achievement.Engine 实现。
type AchievementTracker interface {
	TrackTripAchievement(ctx context.Context, userID, tripID string, role models.AchievementRole) ([]string, error)
}

// TripService 只覆盖会触发成就的行程流程：创建、申请、审批、指定领队。
type TripService struct {
	db      *gorm.DB
	tracker AchievementTracker
}

func NewTripService(db *gorm.DB, tracker AchievementTracker) *TripService {
	return &TripService{db: db, tracker: tracker}
}

type CreateTripInput struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

// Create 由协调人或管理员创建行程，创建者是协调人时自动成为行程协调人。
func (s *TripService) Create(ctx context.Context, id auth.Identity, in CreateTripInput) (*models.Trip, error) {
	if id.ID == "" {
		return nil, ErrUnauthenticated
	}
	if id.Role != models.PlatformRoleCoordinator && !id.IsAdmin() {
		return nil, ErrForbidden
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title", "is required")
	}
	trip := models.Trip{Title: title, Category: strings.TrimSpace(in.Category), CreatedBy: id.ID}
	if id.Role == models.PlatformRoleCoordinator {
		coord := id.ID
		trip.CoordinatorID = &coord
	}
	if err := s.db.WithContext(ctx).Create(&trip).Error; err != nil {
		return nil, err
	}
	return &trip, nil
}

// Apply 提交行程申请，每个用户对同一行程只能申请一次。
func (s *TripService) Apply(ctx context.Context, id auth.Identity, tripID string) (*models.TripApplication, error) {
	if id.ID == "" {
		return nil, ErrUnauthenticated
	}
	if _, err := s.trip(ctx, tripID); err != nil {
		return nil, err
	}
	app := models.TripApplication{TripID: tripID, UserID: id.ID}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&app)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyApplied
	}
	return &app, nil
}

// Approve 通过申请。成就记录是附带效果，失败只记日志，审批本身仍然成功。
func (s *TripService) Approve(ctx context.Context, id auth.Identity, tripID, applicationID string) (*models.TripApplication, error) {
	trip, err := s.trip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCoordinator(id, trip); err != nil {
		return nil, err
	}
	var app models.TripApplication
	if err := s.db.WithContext(ctx).Where("id = ? AND trip_id = ?", applicationID, tripID).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	if app.Status != models.ApplicationApproved {
		if err := s.db.WithContext(ctx).Model(&app).Update("status", models.ApplicationApproved).Error; err != nil {
			return nil, err
		}
		app.Status = models.ApplicationApproved
	}
	s.track(ctx, app.UserID, trip.ID, models.AchievementRoleParticipant)
	return &app, nil
}

// AssignLeader 由管理员把用户设为行程领队（协调人）。
func (s *TripService) AssignLeader(ctx context.Context, id auth.Identity, tripID, userID string) (*models.Trip, error) {
	if id.ID == "" {
		return nil, ErrUnauthenticated
	}
	if !id.IsAdmin() {
		return nil, ErrForbidden
	}
	if userID == "" {
		return nil, invalid("userId", "is required")
	}
	trip, err := s.trip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrUserNotFound
	}
	if err := s.db.WithContext(ctx).Model(trip).Update("coordinator_id", userID).Error; err != nil {
		return nil, err
	}
	trip.CoordinatorID = &userID
	s.track(ctx, userID, trip.ID, models.AchievementRoleLeader)
	return trip, nil
}

func (s *TripService) track(ctx context.Context, userID, tripID string, role models.AchievementRole) {
	if s.tracker == nil {
		return
	}
	awarded, err := s.tracker.TrackTripAchievement(ctx, userID, tripID, role)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("trip_id", tripID).Str("role", string(role)).Msg("track achievement")
		return
	}
	if len(awarded) > 0 {
		log.Info().Str("user_id", userID).Str("trip_id", tripID).Strs("badges", awarded).Msg("achievements awarded")
	}
}

func (s *TripService) requireCoordinator(id auth.Identity, trip *models.Trip) error {
	if id.ID == "" {
		return ErrUnauthenticated
	}
	if id.IsAdmin() {
		return nil
	}
	if trip.CoordinatorID != nil && *trip.CoordinatorID == id.ID {
		return nil
	}
	return ErrForbidden
}

func (s *TripService) trip(ctx context.Context, tripID string) (*models.Trip, error) {
	var t models.Trip
	if err := s.db.WithContext(ctx).Where("id = ?", tripID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}
	return &t, nil
}
