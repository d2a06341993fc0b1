// Package presence 记录哪些用户在线以及谁在哪个房间输入。
// 这些状态只用于界面提示，不参与任何权限判断。
package presence

import "context"

// Store 按用户计数连接：同一用户多设备在线时，只有最后一个连接断开才算下线。
type Store interface {
	// Connect 记录一个新连接，first 表示该用户从离线变为在线。
	Connect(ctx context.Context, userID string) (first bool, err error)
	// Disconnect 释放一个连接，last 表示该用户的最后一个连接已关闭。
	Disconnect(ctx context.Context, userID string) (last bool, err error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) ([]string, error)
	// SetTyping 更新输入状态，changed 为 false 表示状态未变化。
	SetTyping(ctx context.Context, chatID, userID string, typing bool) (changed bool, err error)
	TypingUsers(ctx context.Context, chatID string) ([]string, error)
	// ClearTyping 清除用户在所有房间的输入状态，返回受影响的房间。
	ClearTyping(ctx context.Context, userID string) ([]string, error)
}
