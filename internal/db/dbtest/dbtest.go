// Package dbtest 为各包测试提供独立的内存 SQLite 数据库。
package dbtest

import (
	"testing"

	"github.com/Dot-Click/proactive-be-sub000/internal/db"
	"github.com/Dot-Click/proactive-be-sub000/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// New 返回已迁移的空库，测试结束时自动关闭。
func New(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// User 插入一个普通用户。
func User(t testing.TB, gdb *gorm.DB, id, email, first, last string) models.User {
	t.Helper()
	u := models.User{ID: id, Email: email, FirstName: first, LastName: last, PasswordHash: "x"}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
	return u
}

// Admin 插入一个平台管理员。
func Admin(t testing.TB, gdb *gorm.DB, id string) models.User {
	t.Helper()
	u := models.User{ID: id, Email: id + "@example.com", PasswordHash: "x", Role: models.PlatformRoleAdmin}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("create admin %s: %v", id, err)
	}
	return u
}

// Room 插入一个房间并把 members 加为参与者。
func Room(t testing.TB, gdb *gorm.DB, id, createdBy string, members ...string) models.ChatRoom {
	t.Helper()
	room := models.ChatRoom{ID: id, CreatedBy: createdBy}
	if err := gdb.Create(&room).Error; err != nil {
		t.Fatalf("create room %s: %v", id, err)
	}
	for _, m := range members {
		p := models.Participant{ChatID: id, UserID: m}
		if err := gdb.Create(&p).Error; err != nil {
			t.Fatalf("add participant %s: %v", m, err)
		}
	}
	return room
}
