// file: internal/middleware/limiter_test.go

package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"SQLHarbor/internal/middleware"
)

// ============================================================================
//  测试辅助函数 (Test Helpers)
// ============================================================================

var testHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
})

// ============================================================================
//  测试用例 (Test Cases)
// ============================================================================

func TestBusinessRateLimiter_Global(t *testing.T) {
	limiter := middleware.NewBusinessRateLimiter(2, 2)
	mw := limiter.Global(testHandler)

	t.Run("should allow initial requests", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("GET", "/", nil)
			rr := httptest.NewRecorder()
			mw.ServeHTTP(rr, req)
			if status := rr.Code; status != http.StatusOK {
				t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
			}
		}
	})

	t.Run("should block subsequent requests", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		if status := rr.Code; status != http.StatusTooManyRequests {
			t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusTooManyRequests)
		}
	})

	t.Run("should allow requests again after delay", func(t *testing.T) {
		time.Sleep(1 * time.Second)
		req := httptest.NewRequest("GET", "/", nil)
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		if status := rr.Code; status != http.StatusOK {
			t.Errorf("handler returned wrong status code after delay: got %v want %v", status, http.StatusOK)
		}
	})
}

func TestBusinessRateLimiter_PerIP(t *testing.T) {
	limiter := middleware.NewBusinessRateLimiter(100, 100)
	limiter.SetIPDefaultRateForTest(1, 1)
	mw := limiter.PerIP(testHandler)

	t.Run("should limit requests from the same IP", func(t *testing.T) {
		req1 := httptest.NewRequest("GET", "/", nil)
		req1.RemoteAddr = "192.0.2.1:12345"
		rr1 := httptest.NewRecorder()
		mw.ServeHTTP(rr1, req1)
		if rr1.Code != http.StatusOK {
			t.Fatal("First request from IP 1 should be allowed")
		}

		req2 := httptest.NewRequest("GET", "/", nil)
		req2.RemoteAddr = "192.0.2.1:12345"
		rr2 := httptest.NewRecorder()
		mw.ServeHTTP(rr2, req2)
		if rr2.Code != http.StatusTooManyRequests {
			t.Errorf("Second request from IP 1 should be blocked, got %d", rr2.Code)
		}
	})

	t.Run("should not affect requests from a different IP", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "192.0.2.2:54321"
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		if status := rr.Code; status != http.StatusOK {
			t.Errorf("Request from IP 2 should be allowed, but got %v", status)
		}
	})

	t.Run("should prefer X-Forwarded-For over RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "192.0.2.2:54321" // 上一个子测试已消耗此IP的配额
		req.Header.Set("X-Forwarded-For", "198.51.100.9")
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("Request with fresh forwarded IP should be allowed, got %d", rr.Code)
		}
	})
}

func TestLoginFailureLock(t *testing.T) {
	failingLogin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	lock := middleware.NewLoginFailureLock(2, 5*time.Minute)
	mw := lock.Middleware(failingLogin)

	loginReq := func() *http.Request {
		form := url.Values{"user": {"alice"}, "pass": {"wrong"}}
		req := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "192.0.2.7:1000"
		return req
	}

	// 两次失败后账户被锁定
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, loginReq())
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("failure %d should pass through with 401, got %d", i+1, rr.Code)
		}
	}

	// 锁定期间即使密码正确也直接拒绝 (处理器不会被调用)
	called := false
	probe := lock.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	probe.ServeHTTP(rr, loginReq())
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("locked account should get 401, got %d", rr.Code)
	}
	if called {
		t.Error("locked account should not reach the login handler")
	}
}
