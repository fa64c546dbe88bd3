// Package middleware file: internal/middleware/limiter.go
package middleware

import (
	"bufio"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"SQLHarbor/harborauth"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterEntry 存储限制器和最后访问时间
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ============================================================================
//  业务性能限制器 (Business Performance Limiter)
// ============================================================================

// BusinessRateLimiter 统一管理全局 / 按IP / 按用户三层速率限制。
type BusinessRateLimiter struct {
	globalLimiter *rate.Limiter

	ipLimiters     map[string]*limiterEntry
	ipMu           sync.Mutex
	ipDefaultRate  rate.Limit
	ipDefaultBurst int

	userLimiters     map[int64]*limiterEntry
	userMu           sync.Mutex
	userDefaultRate  rate.Limit
	userDefaultBurst int
}

// NewBusinessRateLimiter 创建一个新的业务速率限制器。
func NewBusinessRateLimiter(globalRate float64, globalBurst int) *BusinessRateLimiter {
	brl := &BusinessRateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(globalRate), globalBurst),

		ipLimiters:     make(map[string]*limiterEntry),
		ipDefaultRate:  1.0, // 默认 60 req/min
		ipDefaultBurst: 20,

		userLimiters:     make(map[int64]*limiterEntry),
		userDefaultRate:  5.0, // 已认证用户默认 5 req/s
		userDefaultBurst: 15,
	}

	go brl.cleanupIPs()
	go brl.cleanupUsers()

	log.Printf(
		"信息: [Business Limiter] 初始化完成。全局限制: %.2f req/s, 峰值: %d。IP默认限制: %.2f req/s, 峰值: %d",
		globalRate, globalBurst, brl.ipDefaultRate, brl.ipDefaultBurst,
	)

	return brl
}

// cleanupIPs 定期清理不活跃的IP条目
func (brl *BusinessRateLimiter) cleanupIPs() {
	for {
		time.Sleep(10 * time.Minute)
		brl.ipMu.Lock()
		for ip, entry := range brl.ipLimiters {
			if time.Since(entry.lastSeen) > 15*time.Minute {
				delete(brl.ipLimiters, ip)
			}
		}
		brl.ipMu.Unlock()
	}
}

// cleanupUsers 定期清理不活跃的用户条目
func (brl *BusinessRateLimiter) cleanupUsers() {
	for {
		time.Sleep(10 * time.Minute)
		brl.userMu.Lock()
		for id, entry := range brl.userLimiters {
			if time.Since(entry.lastSeen) > 15*time.Minute {
				delete(brl.userLimiters, id)
			}
		}
		brl.userMu.Unlock()
	}
}

// SetIPDefaultRateForTest 覆盖IP默认限速，仅供测试使用。
func (brl *BusinessRateLimiter) SetIPDefaultRateForTest(r float64, burst int) {
	brl.ipMu.Lock()
	defer brl.ipMu.Unlock()
	brl.ipDefaultRate = rate.Limit(r)
	brl.ipDefaultBurst = burst
}

// Global 返回全局限制中间件
func (brl *BusinessRateLimiter) Global(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !brl.globalLimiter.Allow() {
			errResp(w, http.StatusTooManyRequests, "系统繁忙，请稍后再试 (global limit)")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PerIP 返回IP限制中间件
func (brl *BusinessRateLimiter) PerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		brl.ipMu.Lock()
		entry, exists := brl.ipLimiters[ip]
		if !exists {
			limiter := rate.NewLimiter(brl.ipDefaultRate, brl.ipDefaultBurst)
			entry = &limiterEntry{limiter: limiter, lastSeen: time.Now()}
			brl.ipLimiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		brl.ipMu.Unlock()

		if !entry.limiter.Allow() {
			errResp(w, http.StatusTooManyRequests, "您的请求过于频繁，请稍后再试 (per-ip limit)")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PerUser 返回用户限制中间件，未认证请求直接放行
func (brl *BusinessRateLimiter) PerUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := harborauth.ClaimFrom(r)
		if claims == nil {
			next.ServeHTTP(w, r)
			return
		}

		userID := claims.ID
		brl.userMu.Lock()
		entry, exists := brl.userLimiters[userID]
		if !exists {
			limiter := rate.NewLimiter(brl.userDefaultRate, brl.userDefaultBurst)
			entry = &limiterEntry{limiter: limiter, lastSeen: time.Now()}
			brl.userLimiters[userID] = entry
		}
		entry.lastSeen = time.Now()
		brl.userMu.Unlock()

		if !entry.limiter.Allow() {
			errResp(w, http.StatusTooManyRequests, "您的账户请求过于频繁，请稍后再试 (per-user limit)")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LightweightChain 组合了基础的限制层 (Global -> IP)，包在整个服务外层。
// PerUser 依赖认证后的 Claim，由路由器挂在认证分组内。
func (brl *BusinessRateLimiter) LightweightChain(next http.Handler) http.Handler {
	return brl.Global(brl.PerIP(next))
}

// getClientIP 从请求中获取客户端IP地址，考虑代理情况
func getClientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	if ip != "" {
		return ip
	}
	ip = r.Header.Get("X-Real-IP")
	if ip != "" {
		return ip
	}
	ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	return ip
}

// ============================================================================
//  失败计数与临时锁定 (Failure Counting & Temporary Lockout)
// ============================================================================

// LoginFailureLock 实现登录失败锁定逻辑
type LoginFailureLock struct {
	failureCache    *cache.Cache
	maxFailures     int
	lockoutDuration time.Duration
}

// NewLoginFailureLock 创建一个新的登录失败锁定器
func NewLoginFailureLock(maxFailures int, lockoutDuration time.Duration) *LoginFailureLock {
	return &LoginFailureLock{
		failureCache:    cache.New(5*time.Minute, 10*time.Minute),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
	}
}

// statusRecorder 是一个健壮的 http.ResponseWriter 包装器
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if flusher, ok := rec.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rec.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Locked 查询账户+IP组合是否处于锁定期。
func (l *LoginFailureLock) Locked(ip, username string) bool {
	_, found := l.failureCache.Get("lock:" + ip + ":" + username)
	return found
}

// RecordFailure 记录一次登录失败，达到阈值后触发临时锁定。
func (l *LoginFailureLock) RecordFailure(ip, username string) {
	failureKey := "failures:" + ip + ":" + username

	// Increment 在 key 不存在时报错，此时设初值为 1
	err := l.failureCache.Increment(failureKey, int64(1))
	if err != nil {
		l.failureCache.Set(failureKey, int64(1), cache.DefaultExpiration)
	}

	var currentFailures int
	if x, found := l.failureCache.Get(failureKey); found {
		currentFailures = int(x.(int64))
	}

	log.Printf("信息: [Login Failure] 账户 '%s' (来自IP: %s) 登录失败，当前失败次数: %d", username, ip, currentFailures)

	if currentFailures >= l.maxFailures {
		l.failureCache.Set("lock:"+ip+":"+username, true, l.lockoutDuration)
		l.failureCache.Delete(failureKey)
		log.Printf("警告: [Login Lock] 账户 '%s' (来自IP: %s) 已被临时锁定 %v。", username, ip, l.lockoutDuration)
	}
}

// Reset 在登录成功后清空失败计数。
func (l *LoginFailureLock) Reset(ip, username string) {
	l.failureCache.Delete("failures:" + ip + ":" + username)
}

// Middleware 返回一个特殊的中间件，用于包裹登录处理器
func (l *LoginFailureLock) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			errResp(w, http.StatusBadRequest, "无法解析表单数据: "+err.Error())
			return
		}
		username := strings.TrimSpace(r.FormValue("user"))
		ip := getClientIP(r)

		if l.Locked(ip, username) {
			log.Printf("警告: [Login Lock] 已锁定的账户 '%s' (来自IP: %s) 再次尝试登录。", username, ip)
			errResp(w, http.StatusUnauthorized, "用户名或密码无效")
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		if recorder.status == http.StatusUnauthorized {
			l.RecordFailure(ip, username)
		}
		if recorder.status == http.StatusOK {
			l.Reset(ip, username)
		}
	})
}

// errResp 的一个本地副本
func errResp(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
