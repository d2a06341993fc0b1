package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PlatformRole 是账号级别的角色，与房间内角色是两个独立的概念。
type PlatformRole string

const (
	PlatformRoleUser        PlatformRole = "user"
	PlatformRoleCoordinator PlatformRole = "coordinator"
	PlatformRoleAdmin       PlatformRole = "admin"
)

func (r PlatformRole) Valid() bool {
	switch r {
	case PlatformRoleUser, PlatformRoleCoordinator, PlatformRoleAdmin:
		return true
	}
	return false
}

// RoomRole 是用户在某个聊天房间里的角色。
type RoomRole string

const (
	RoomRoleParticipant RoomRole = "participant"
	RoomRoleAdmin       RoomRole = "admin"
)

func (r RoomRole) Valid() bool {
	return r == RoomRoleParticipant || r == RoomRoleAdmin
}

// AchievementRole 记录成就是以哪种身份获得的。
type AchievementRole string

const (
	AchievementRoleParticipant AchievementRole = "participant"
	AchievementRoleLeader      AchievementRole = "leader"
)

func (r AchievementRole) Valid() bool {
	return r == AchievementRoleParticipant || r == AchievementRoleLeader
}

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// newID 为空主键生成 UUID，允许调用方显式指定 ID。
func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

type User struct {
	ID           string       `gorm:"primaryKey;size:36" json:"id"`
	Email        string       `gorm:"uniqueIndex;size:190;not null" json:"email"`
	FirstName    string       `gorm:"size:100" json:"firstName"`
	LastName     string       `gorm:"size:100" json:"lastName"`
	PasswordHash string       `gorm:"not null" json:"-"`
	Role         PlatformRole `gorm:"size:16;not null;default:user" json:"role"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	newID(&u.ID)
	if u.Role == "" {
		u.Role = PlatformRoleUser
	}
	return nil
}

// DisplayName 返回 "名 姓"，都为空时回退到邮箱 @ 之前的部分。
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

func (u User) IsAdmin() bool { return u.Role == PlatformRoleAdmin }

// Session 是不透明的会话令牌，可撤销，也作为刷新凭据使用。
type Session struct {
	ID        string     `gorm:"primaryKey;size:36"`
	UserID    string     `gorm:"index;size:36;not null"`
	Token     string     `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	newID(&s.ID)
	return nil
}

// Category 由管理员配置，Badges 为 JSON 数组形式的徽章名列表。
type Category struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	Name      string         `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Badges    datatypes.JSON `json:"badges"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (c *Category) BeforeCreate(*gorm.DB) error {
	newID(&c.ID)
	return nil
}

type Trip struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Title         string    `gorm:"size:200;not null" json:"title"`
	Category      string    `gorm:"size:200" json:"category"`
	CoordinatorID *string   `gorm:"index;size:36" json:"coordinatorId,omitempty"`
	CreatedBy     string    `gorm:"size:36;not null" json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (t *Trip) BeforeCreate(*gorm.DB) error {
	newID(&t.ID)
	return nil
}

type TripApplication struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	TripID    string            `gorm:"size:36;not null;uniqueIndex:ux_application_trip_user" json:"tripId"`
	UserID    string            `gorm:"size:36;not null;uniqueIndex:ux_application_trip_user" json:"userId"`
	Status    ApplicationStatus `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (a *TripApplication) BeforeCreate(*gorm.DB) error {
	newID(&a.ID)
	if a.Status == "" {
		a.Status = ApplicationPending
	}
	return nil
}

type ChatRoom struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Name          *string   `gorm:"size:128" json:"name,omitempty"`
	Description   *string   `gorm:"type:text" json:"description,omitempty"`
	TripID        *string   `gorm:"index;size:36" json:"tripId,omitempty"`
	CoordinatorID *string   `gorm:"index;size:36" json:"coordinatorId,omitempty"`
	CreatedBy     string    `gorm:"size:36;not null" json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `gorm:"index" json:"updatedAt"`
}

func (c *ChatRoom) BeforeCreate(*gorm.DB) error {
	newID(&c.ID)
	return nil
}

// Participant 的 (chat_id, user_id) 唯一，重复加入由唯一索引兜底。
type Participant struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	ChatID            string     `gorm:"size:36;not null;uniqueIndex:ux_participant_chat_user" json:"chatId"`
	UserID            string     `gorm:"size:36;not null;uniqueIndex:ux_participant_chat_user;index" json:"userId"`
	Role              RoomRole   `gorm:"size:16;not null;default:participant" json:"role"`
	JoinedAt          time.Time  `json:"joinedAt"`
	LastReadMessageID *string    `gorm:"size:36" json:"lastReadMessageId,omitempty"`
	LastReadAt        *time.Time `json:"lastReadAt,omitempty"`
}

func (p *Participant) BeforeCreate(*gorm.DB) error {
	newID(&p.ID)
	if p.Role == "" {
		p.Role = RoomRoleParticipant
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	return nil
}

// Message 只做软删除，DeletedAt 非空的消息不会出现在普通查询里。
type Message struct {
	ID        string         `gorm:"primaryKey;size:36"`
	ChatID    string         `gorm:"index:idx_msg_chat_created,priority:1;size:36;not null"`
	SenderID  string         `gorm:"index;size:36;not null"`
	Content   string         `gorm:"type:text;not null"`
	CreatedAt time.Time      `gorm:"index:idx_msg_chat_created,priority:2"`
	EditedAt  *time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	newID(&m.ID)
	return nil
}

// Achievement 的 (user_id, trip_id, badge) 唯一，重复触发不会重复发放。
type Achievement struct {
	ID        string          `gorm:"primaryKey;size:36" json:"id"`
	UserID    string          `gorm:"size:36;not null;uniqueIndex:ux_achievement_user_trip_badge;index:idx_achievement_user_badge,priority:1" json:"userId"`
	TripID    string          `gorm:"size:36;not null;uniqueIndex:ux_achievement_user_trip_badge" json:"tripId"`
	Badge     string          `gorm:"size:64;not null;uniqueIndex:ux_achievement_user_trip_badge;index:idx_achievement_user_badge,priority:2" json:"badge"`
	Points    int             `gorm:"not null;default:0" json:"points"`
	Progress  int             `gorm:"not null;default:0" json:"progress"`
	Tier      string          `gorm:"size:16" json:"tier"`
	Unlocked  bool            `gorm:"not null;default:false" json:"unlocked"`
	Role      AchievementRole `gorm:"size:16;not null" json:"role"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (a *Achievement) BeforeCreate(*gorm.DB) error {
	newID(&a.ID)
	return nil
}

// All 返回需要自动迁移的全部模型。
func All() []interface{} {
	return []interface{}{
		&User{}, &Session{}, &Category{}, &Trip{}, &TripApplication{},
		&ChatRoom{}, &Participant{}, &Message{}, &Achievement{},
	}
}
