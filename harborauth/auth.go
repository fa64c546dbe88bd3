// Package harborauth 管理工作台的本地账户与 JWT 凭据。
// 账户库与缓存数据分文件存放 (instance/auth.db)；角色只分
// admin 与普通用户两档，删号即吊销令牌。
package harborauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer = "SQLHarbor"
	tokenTTL    = 24 * time.Hour
	keyEnvVar   = "HARBOR_JWT_KEY"

	// RoleAdmin 拥有控制平面 (手动清扫等) 的访问权。
	RoleAdmin = "admin"
)

// hmacKey 在进程启动时定型：优先取环境变量，缺省退回内置密钥。
var hmacKey = loadSigningKey()

func loadSigningKey() []byte {
	if k := os.Getenv(keyEnvVar); k != "" {
		return []byte(k)
	}
	// 此时结构化日志尚未初始化，只能走引导日志
	log.Printf("警告: [Auth] 未设置 %s，令牌将使用内置密钥签名，部署前务必替换", keyEnvVar)
	return []byte("SQLHarborSecret_ChangeMe")
}

// Service 持有账户库连接，所有账户操作都经由它。
type Service struct {
	db *sql.DB
}

func New(db *sql.DB) *Service {
	return &Service{db: db}
}

// InitSchema 建出账户表，幂等。
func (s *Service) InitSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS harbor_user (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT    NOT NULL UNIQUE,
    password_hash TEXT    NOT NULL,
    role          TEXT    NOT NULL DEFAULT 'user',
    created_at    TEXT    NOT NULL
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("初始化账户表失败: %w", err)
	}
	return nil
}

// Count 返回已注册账户数，0 代表系统尚未完成安装。
func (s *Service) Count() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM harbor_user`).Scan(&n); err != nil {
		slog.Error("[Auth] 统计账户数失败", "error", err)
		return 0
	}
	return n
}

// CreateAdmin 以 bcrypt 哈希落库创建管理员账户。
func (s *Service) CreateAdmin(username, password string) error {
	if username == "" || password == "" {
		return errors.New("用户名与密码均不能为空")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("口令散列失败: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO harbor_user (username, password_hash, role, created_at) VALUES (?, ?, ?, ?)`,
		username, string(hash), RoleAdmin, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("写入管理员账户 '%s' 失败: %w", username, err)
	}
	return nil
}

// Verify 校验口令。账户不存在与口令不符一律返回 ok=false，
// 对调用方不区分两种失败。
func (s *Service) Verify(username, password string) (id int64, role string, ok bool) {
	var hash string
	err := s.db.QueryRow(
		`SELECT id, password_hash, role FROM harbor_user WHERE username = ?`, username,
	).Scan(&id, &hash, &role)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("[Auth] 查询账户失败", "username", username, "error", err)
		}
		return 0, "", false
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return 0, "", false
	}
	return id, role, true
}

// exists 检查 uid 是否仍在账户表中。
func (s *Service) exists(uid int64) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM harbor_user WHERE id = ?`, uid).Scan(&one)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("[Auth] 按ID查询账户失败", "uid", uid, "error", err)
		}
		return false
	}
	return true
}

// Claim 是签入令牌的载荷。
type Claim struct {
	ID   int64  `json:"uid"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ErrInvalidToken 覆盖签名不符、过期与格式错误三类失败。
var ErrInvalidToken = errors.New("无效或过期的令牌")

// GenToken 签发一枚 24 小时有效的 HS256 令牌。
func GenToken(uid int64, role string) (string, error) {
	now := time.Now()
	claims := Claim{
		ID:   uid,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(hmacKey)
	if err != nil {
		return "", fmt.Errorf("令牌签名失败: %w", err)
	}
	return signed, nil
}

// ParseToken 验证签名、签发方与有效期并还原载荷。
func ParseToken(raw string) (*Claim, error) {
	var claims Claim
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) { return hmacKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

type claimCtxKey struct{}

func withClaim(ctx context.Context, c *Claim) context.Context {
	return context.WithValue(ctx, claimCtxKey{}, c)
}

// ClaimFrom 取出请求上的已认证载荷，未认证时返回 nil。
func ClaimFrom(r *http.Request) *Claim {
	c, _ := r.Context().Value(claimCtxKey{}).(*Claim)
	return c
}

// GinMiddleware 解析 Bearer 令牌并把载荷挂到请求 context 上。
// 令牌缺失或校验失败时请求继续前进，放行与否由分组上的
// requireAuth / requireAdmin 决定；令牌有效但账户已被删除同样
// 视为未认证。
func (s *Service) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || raw == "" {
			c.Next()
			return
		}
		claims, err := ParseToken(raw)
		if err != nil {
			slog.Debug("[Auth] 令牌校验失败", "path", c.Request.URL.Path, "error", err)
			c.Next()
			return
		}
		if !s.exists(claims.ID) {
			slog.Warn("[Auth] 令牌对应的账户已不存在", "uid", claims.ID, "path", c.Request.URL.Path)
			c.Next()
			return
		}
		c.Request = c.Request.WithContext(withClaim(c.Request.Context(), claims))
		c.Next()
	}
}
