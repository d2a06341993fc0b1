package achievement

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dot-Click/proactive-be-sub000/internal/metrics"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTripNotFound = errors.New("trip not found")
	ErrInvalidRole  = errors.New("invalid achievement role")
)

// Engine 维护用户的成就记录。记录按 (user, trip, badge) 唯一，
// 解锁状态每次都由重新计数得出。
type Engine struct {
	db       *gorm.DB
	resolver Resolver
}

func NewEngine(db *gorm.DB, resolver Resolver) *Engine {
	return &Engine{db: db, resolver: resolver}
}

// TrackTripAchievement 在行程申请通过或指定领队后调用，返回本次新建记录的徽章。
// 重复调用不会产生重复记录。
func (e *Engine) TrackTripAchievement(ctx context.Context, userID, tripID string, role models.AchievementRole) ([]string, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	var trip models.Trip
	if err := e.db.WithContext(ctx).Where("id = ?", tripID).First(&trip).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, err
	}

	badges, err := e.resolver.Resolve(ctx, trip.Category)
	if err != nil {
		return nil, fmt.Errorf("resolve badges for %q: %w", trip.Category, err)
	}
	if role == models.AchievementRoleLeader {
		badges = dedupe(append(badges, Leader))
	}

	var awarded []string
	for _, badge := range badges {
		rule, ok := Lookup(badge)
		if !ok {
			continue
		}
		created, err := e.award(ctx, userID, trip.ID, rule, role)
		if err != nil {
			return awarded, err
		}
		if created {
			awarded = append(awarded, rule.Badge)
		}
		if _, err := e.CheckAndUnlockBadge(ctx, userID, rule.Badge); err != nil {
			return awarded, err
		}
	}
	return awarded, nil
}

// award 插入一条记录；唯一索引冲突说明已经发放过，返回 false。
func (e *Engine) award(ctx context.Context, userID, tripID string, rule Rule, role models.AchievementRole) (bool, error) {
	count, err := e.count(ctx, userID, rule.Badge)
	if err != nil {
		return false, err
	}
	rec := models.Achievement{
		UserID:   userID,
		TripID:   tripID,
		Badge:    rule.Badge,
		Points:   rule.Points,
		Progress: 1,
		Tier:     rule.Tier(int(count) + 1),
		Role:     role,
	}
	res := e.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	metrics.AchievementsAwarded.WithLabelValues(rule.Badge).Inc()
	log.Debug().Str("user_id", userID).Str("trip_id", tripID).Str("badge", rule.Badge).Msg("achievement recorded")
	return true, nil
}

// CheckAndUnlockBadge 重新统计用户该徽章的记录数，达到门槛时把全部记录标记为已解锁。
func (e *Engine) CheckAndUnlockBadge(ctx context.Context, userID, badge string) (bool, error) {
	rule, ok := Lookup(badge)
	if !ok {
		return false, nil
	}
	count, err := e.count(ctx, userID, rule.Badge)
	if err != nil {
		return false, err
	}
	if int(count) < rule.Threshold {
		return false, nil
	}
	res := e.db.WithContext(ctx).Model(&models.Achievement{}).
		Where("user_id = ? AND badge = ? AND unlocked = ?", userID, rule.Badge, false).
		Update("unlocked", true)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		log.Info().Str("user_id", userID).Str("badge", rule.Badge).Int64("count", count).Msg("badge unlocked")
	}
	return true, nil
}

func (e *Engine) count(ctx context.Context, userID, badge string) (int64, error) {
	var n int64
	err := e.db.WithContext(ctx).Model(&models.Achievement{}).
		Where("user_id = ? AND badge = ?", userID, badge).Count(&n).Error
	return n, err
}

type BadgeSummary struct {
	Badge         string `json:"badge"`
	Count         int    `json:"count"`
	Threshold     int    `json:"threshold"`
	Unlocked      bool   `json:"unlocked"`
	Points        int    `json:"points"`
	Tier          string `json:"tier,omitempty"`
	NextThreshold int    `json:"nextThreshold"`
	Percent       int    `json:"percent"`
}

type Summary struct {
	UserID        string               `json:"userId"`
	TotalPoints   int                  `json:"totalPoints"`
	UnlockedCount int                  `json:"unlockedCount"`
	Badges        []BadgeSummary       `json:"badges"`
	Records       []models.Achievement `json:"records"`
}

// GetUserAchievements 汇总每个已知徽章的进度，并附带原始记录。
func (e *Engine) GetUserAchievements(ctx context.Context, userID string) (*Summary, error) {
	var recs []models.Achievement
	if err := e.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at asc").Find(&recs).Error; err != nil {
		return nil, err
	}

	byBadge := make(map[string][]models.Achievement, len(Rules))
	for _, r := range recs {
		byBadge[r.Badge] = append(byBadge[r.Badge], r)
	}

	out := &Summary{UserID: userID, Records: recs, Badges: make([]BadgeSummary, 0, len(Rules))}
	for _, rule := range Rules {
		bs := BadgeSummary{Badge: rule.Badge, Threshold: rule.Threshold}
		for _, r := range byBadge[rule.Badge] {
			bs.Count++
			bs.Points += r.Points
			if r.Unlocked {
				bs.Unlocked = true
			}
		}
		if bs.Count > 0 {
			bs.Tier = rule.Tier(bs.Count)
		}
		bs.NextThreshold, bs.Percent = progress(bs.Count, rule.Threshold)
		out.TotalPoints += bs.Points
		if bs.Unlocked {
			out.UnlockedCount++
		}
		out.Badges = append(out.Badges, bs)
	}
	return out, nil
}

// progress 返回下一档门槛和当前完成百分比：未解锁时以门槛为目标，之后以金牌为目标。
func progress(count, threshold int) (next, percent int) {
	switch {
	case count < threshold:
		next = threshold
	case count < 2*threshold:
		next = 2 * threshold
	default:
		return 2 * threshold, 100
	}
	return next, count * 100 / next
}
