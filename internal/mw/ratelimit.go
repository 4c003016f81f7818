package mw

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter 按 key 维护令牌桶，长时间未访问的 key 由 gc 回收。
type Limiter struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

func NewLimiter(r rate.Limit, burst int, ttl time.Duration) *Limiter {
	return &Limiter{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
}

// Allow 消耗 key 的一个令牌，令牌不足时返回 false。
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLimiter{lim: rate.NewLimiter(l.r, l.b)}
		l.m[key] = kl
	}
	kl.seen = time.Now()
	l.mu.Unlock()
	return kl.lim.Allow()
}

// Len 返回当前跟踪的 key 数量。
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// sweep 删除超过 ttl 未访问的 key。
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.m {
		if now.Sub(v.seen) > l.ttl {
			delete(l.m, k)
		}
	}
}

func (l *Limiter) gc(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

// Stop 停止 GC goroutine，用于优雅停服。
func (l *Limiter) Stop() { l.once.Do(func() { close(l.stop) }) }

// RateLimit 返回令牌桶限速中间件。已登录请求按用户计数，其余按 IP，桶按路由区分。
func RateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	l := NewLimiter(r, burst, 2*time.Minute)
	go l.gc(30 * time.Second)
	return limitWith(l)
}

func limitWith(l *Limiter) gin.HandlerFunc {
	retry := "1"
	if l.r > 0 {
		if s := int(1/float64(l.r) + 0.999); s > 1 {
			retry = strconv.Itoa(s)
		}
	}
	return func(c *gin.Context) {
		if !l.Allow(rateKey(c)) {
			c.Header("Retry-After", retry)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func rateKey(c *gin.Context) string {
	who := "ip:" + clientIP(c.Request.RemoteAddr)
	if v, ok := c.Get("userID"); ok {
		if id, ok := v.(uint); ok && id != 0 {
			who = "user:" + strconv.FormatUint(uint64(id), 10)
		}
	}
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return who + "|" + path
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
