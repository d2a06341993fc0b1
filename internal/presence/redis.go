package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

var connectScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('SADD', KEYS[2], ARGV[1])
if n == 1 then return 1 end
return 0
`)

var disconnectScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
  redis.call('DEL', KEYS[1])
  redis.call('SREM', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// RedisStore 把在线计数和输入状态放到 Redis，多实例部署时共享同一份状态。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 解析 REDIS_URL 并确认连通性。
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("presence: parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("presence: redis ping: %w", err)
	}
	return &RedisStore{client: c}, nil
}

// NewRedisStoreFromClient 复用已有客户端。
func NewRedisStoreFromClient(c *redis.Client) *RedisStore {
	return &RedisStore{client: c}
}

var _ Store = (*RedisStore)(nil)

func connKey(userID string) string     { return keyPrefix + "conn:" + userID }
func onlineKey() string                { return keyPrefix + "online" }
func typingKey(chatID string) string   { return keyPrefix + "typing:" + chatID }
func typingByKey(userID string) string { return keyPrefix + "typing_by:" + userID }

func (s *RedisStore) Connect(ctx context.Context, userID string) (bool, error) {
	n, err := connectScript.Run(ctx, s.client, []string{connKey(userID), onlineKey()}, userID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Disconnect(ctx context.Context, userID string) (bool, error) {
	n, err := disconnectScript.Run(ctx, s.client, []string{connKey(userID), onlineKey()}, userID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	return s.client.SIsMember(ctx, onlineKey(), userID).Result()
}

func (s *RedisStore) OnlineUsers(ctx context.Context) ([]string, error) {
	out, err := s.client.SMembers(ctx, onlineKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *RedisStore) SetTyping(ctx context.Context, chatID, userID string, typing bool) (bool, error) {
	if typing {
		added, err := s.client.SAdd(ctx, typingKey(chatID), userID).Result()
		if err != nil {
			return false, err
		}
		if err := s.client.SAdd(ctx, typingByKey(userID), chatID).Err(); err != nil {
			return false, err
		}
		return added > 0, nil
	}
	removed, err := s.client.SRem(ctx, typingKey(chatID), userID).Result()
	if err != nil {
		return false, err
	}
	if err := s.client.SRem(ctx, typingByKey(userID), chatID).Err(); err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (s *RedisStore) TypingUsers(ctx context.Context, chatID string) ([]string, error) {
	out, err := s.client.SMembers(ctx, typingKey(chatID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *RedisStore) ClearTyping(ctx context.Context, userID string) ([]string, error) {
	chats, err := s.client.SMembers(ctx, typingByKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, nil
	}
	pipe := s.client.TxPipeline()
	for _, chatID := range chats {
		pipe.SRem(ctx, typingKey(chatID), userID)
	}
	pipe.Del(ctx, typingByKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	sort.Strings(chats)
	return chats, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
