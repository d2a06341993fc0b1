package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/auth"
	"github.com/Dot-Click/proactive-be-sub000/internal/config"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Register 注册新用户，新用户的平台角色总是 user。
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	verr := &ValidationError{}
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		verr.Fields = append(verr.Fields, FieldError{Field: "email", Message: "must be a valid email address"})
	}
	if len(in.Password) < 8 || len(in.Password) > 72 {
		verr.Fields = append(verr.Fields, FieldError{Field: "password", Message: "must be 8-72 characters"})
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		Role:         models.PlatformRoleUser,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrEmailTaken
	}
	return &user, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"accessToken"`
	SessionToken string      `json:"sessionToken"`
	User         models.User `json:"user"`
}

// Login 校验邮箱密码，签发访问令牌和会话令牌。
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, st, err := s.issue(s.db.WithContext(ctx), user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, SessionToken: st, User: user}, nil
}

// RefreshResult 刷新后返回的新令牌对。
type RefreshResult struct {
	AccessToken  string `json:"accessToken"`
	SessionToken string `json:"sessionToken"`
}

// RefreshTokens 校验旧会话令牌并签发新令牌对（旋转刷新）。
func (s *UserService) RefreshTokens(ctx context.Context, oldToken string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateSession(tx, oldToken)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidSession
			}
			return err
		}
		var user models.User
		if err := tx.Where("id = ?", rec.UserID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidSession
			}
			return err
		}
		if err := auth.RevokeSession(tx, oldToken); err != nil {
			return err
		}
		at, st, err := s.issue(tx, user)
		if err != nil {
			return err
		}
		result.AccessToken = at
		result.SessionToken = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout 撤销会话令牌，令牌不存在时也视为成功。
func (s *UserService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidSession
	}
	return auth.RevokeSession(s.db.WithContext(ctx), token)
}

// Get 按 ID 查询用户。
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *UserService) issue(db *gorm.DB, user models.User) (string, string, error) {
	at, err := auth.GenerateAccessToken(user.ID, user.Role, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return "", "", err
	}
	st, err := auth.GenerateSessionToken()
	if err != nil {
		return "", "", err
	}
	exp := time.Now().Add(time.Duration(s.cfg.SessionTTLDays) * 24 * time.Hour)
	if err := auth.SaveSession(db, user.ID, st, exp); err != nil {
		return "", "", err
	}
	return at, st, nil
}
