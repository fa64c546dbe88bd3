// file: harborauth/auth_test.go
package harborauth

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("打开测试账户库失败: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc := New(db)
	if err := svc.InitSchema(); err != nil {
		t.Fatalf("初始化账户表失败: %v", err)
	}
	return svc
}

func TestCreateAdminAndVerify(t *testing.T) {
	svc := newTestService(t)

	if err := svc.CreateAdmin("root", "secret"); err != nil {
		t.Fatalf("创建管理员失败: %v", err)
	}
	if n := svc.Count(); n != 1 {
		t.Fatalf("Count = %d, 期望 1", n)
	}

	id, role, ok := svc.Verify("root", "secret")
	if !ok || role != RoleAdmin || id == 0 {
		t.Fatalf("正确口令校验失败: id=%d role=%s ok=%v", id, role, ok)
	}

	if _, _, ok := svc.Verify("root", "wrong"); ok {
		t.Error("错误口令不应通过校验")
	}
	if _, _, ok := svc.Verify("ghost", "secret"); ok {
		t.Error("不存在的账户不应通过校验")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenToken(7, RoleAdmin)
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("解析令牌失败: %v", err)
	}
	if claims.ID != 7 || claims.Role != RoleAdmin {
		t.Errorf("载荷不符: uid=%d role=%s", claims.ID, claims.Role)
	}

	if _, err := ParseToken(token + "tampered"); err == nil {
		t.Error("被篡改的令牌不应通过校验")
	}
}

func TestGinMiddlewareInjectsClaim(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)
	if err := svc.CreateAdmin("root", "secret"); err != nil {
		t.Fatalf("创建管理员失败: %v", err)
	}
	id, _, _ := svc.Verify("root", "secret")

	var seen *Claim
	r := gin.New()
	r.GET("/probe_claim", svc.GinMiddleware(), func(c *gin.Context) {
		seen = ClaimFrom(c.Request)
		c.Status(http.StatusOK)
	})

	do := func(authHeader string) {
		seen = nil
		req := httptest.NewRequest("GET", "/probe_claim", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	token, err := GenToken(id, RoleAdmin)
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}

	do("Bearer " + token)
	if seen == nil || seen.ID != id || seen.Role != RoleAdmin {
		t.Fatalf("有效令牌应注入载荷, got %+v", seen)
	}

	do("")
	if seen != nil {
		t.Error("无令牌的请求不应携带载荷")
	}

	do("Bearer " + token + "x")
	if seen != nil {
		t.Error("签名不符的令牌不应注入载荷")
	}

	// 令牌有效但账户已被删除: 视为未认证
	ghost, err := GenToken(id+100, RoleAdmin)
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}
	do("Bearer " + ghost)
	if seen != nil {
		t.Error("账户已不存在的令牌不应注入载荷")
	}
}
