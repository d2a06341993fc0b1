package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Dot-Click/proactive-be-sub000/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity 是一次连接或请求绑定的调用者身份。
type Identity struct {
	ID          string              `json:"id"`
	Email       string              `json:"email"`
	DisplayName string              `json:"displayName"`
	Role        models.PlatformRole `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == models.PlatformRoleAdmin }

func IdentityFromUser(u models.User) Identity {
	return Identity{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName(), Role: u.Role}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(userID string, role models.PlatformRole, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func GenerateSessionToken() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func SaveSession(db *gorm.DB, userID string, token string, expiresAt time.Time) error {
	s := models.Session{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return db.Create(&s).Error
}

func ValidateSession(db *gorm.DB, token string) (*models.Session, error) {
	var s models.Session
	err := db.Where("token = ? AND revoked_at IS NULL AND expires_at > ?", token, time.Now()).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func RevokeSession(db *gorm.DB, token string) error {
	now := time.Now()
	return db.Model(&models.Session{}).Where("token = ?", token).Update("revoked_at", &now).Error
}

// CredentialFromRequest 依次读取握手参数 token 和 Authorization 头。
func CredentialFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	return bearer(r.Header.Get("Authorization"))
}

func bearer(authz string) string {
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// Authenticator 把凭据解析为用户身份：签名令牌 → 会话令牌 →（可选）用户 ID。
type Authenticator struct {
	db          *gorm.DB
	secret      string
	allowUserID bool
}

func NewAuthenticator(db *gorm.DB, secret string, allowUserID bool) *Authenticator {
	return &Authenticator{db: db, secret: secret, allowUserID: allowUserID}
}

// AuthenticateSocket 用于实时连接握手，按配置允许用户 ID 兜底。
func (a *Authenticator) AuthenticateSocket(ctx context.Context, credential string) (Identity, error) {
	return a.authenticate(ctx, credential, a.allowUserID)
}

// AuthenticateBearer 用于 REST 请求，只接受签名令牌或会话令牌。
func (a *Authenticator) AuthenticateBearer(ctx context.Context, credential string) (Identity, error) {
	return a.authenticate(ctx, credential, false)
}

func (a *Authenticator) authenticate(ctx context.Context, credential string, allowUserID bool) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrUnauthenticated
	}
	db := a.db.WithContext(ctx)

	if claims, err := ParseAccessToken(credential, a.secret); err == nil {
		if u, err := findUser(db, claims.UserID); err == nil {
			return IdentityFromUser(*u), nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, err
		}
	}

	if s, err := ValidateSession(db, credential); err == nil {
		if u, err := findUser(db, s.UserID); err == nil {
			return IdentityFromUser(*u), nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, err
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, err
	}

	if allowUserID {
		if u, err := findUser(db, credential); err == nil {
			return IdentityFromUser(*u), nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, err
		}
	}
	return Identity{}, ErrUnauthenticated
}

func findUser(db *gorm.DB, id string) (*models.User, error) {
	var u models.User
	if err := db.Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

const identityKey = "identity"

func AuthMiddleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearer(c.GetHeader("Authorization"))
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing bearer token"})
			return
		}
		id, err := a.AuthenticateBearer(c.Request.Context(), tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func GetIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok2 := v.(Identity); ok2 {
			return id
		}
	}
	return Identity{}
}
