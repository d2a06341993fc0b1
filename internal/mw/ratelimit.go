package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter 为每个 key 维护一个令牌桶，闲置超过 idle 的桶会被回收。
// HTTP 中间件按 IP+路由取 key，WebSocket 发送按用户 ID 取 key。
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	done    chan struct{}
	once    sync.Once
}

func NewKeyedLimiter(limit rate.Limit, burst int, idle time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		idle:    idle,
		done:    make(chan struct{}),
	}
}

// Allow 消耗 key 对应桶里的一个令牌。
func (l *KeyedLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// Len 返回当前持有的桶数量。
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// StartGC 启动后台回收，Stop 之后退出。
func (l *KeyedLimiter) StartGC() {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
}

func (l *KeyedLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, k)
		}
	}
}

// Stop 停止回收 goroutine，可重复调用。
func (l *KeyedLimiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// RateLimit 返回一个基于 IP+路由的限速中间件，超限返回 429 统一错误体。
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	l := NewKeyedLimiter(limit, burst, 2*time.Minute)
	l.StartGC()
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !l.Allow(remoteHost(c.Request.RemoteAddr) + "|" + route) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "too many requests"})
			return
		}
		c.Next()
	}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
