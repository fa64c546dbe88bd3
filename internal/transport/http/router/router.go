// file: internal/transport/http/router/router.go
package router

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"SQLHarbor/harborauth"
	"SQLHarbor/internal/core/port"
	"SQLHarbor/internal/middleware"
	"SQLHarbor/internal/observe"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Dependencies 结构体用于将所有依赖项注入到路由器中
type Dependencies struct {
	Engine             port.ResultCacheEngine
	AuthDB             *sql.DB
	RateLimiter        *middleware.BusinessRateLimiter
	LoginLock          *middleware.LoginFailureLock
	SetupToken         string
	SetupTokenDeadline time.Time
}

// New 创建并配置一个全新的、基于 Gin 的 HTTP 路由器
func New(deps Dependencies) http.Handler {
	router := gin.Default()

	// --- 配置全局中间件 ---
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/metrics", gin.WrapH(observe.Handler()))

	authSvc := harborauth.New(deps.AuthDB)
	v1 := router.Group("/api/v1")
	{
		// --- 系统/认证平面 (System/Auth Plane) ---
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", loginHandler(authSvc, deps.LoginLock))
		}
		systemGroup := v1.Group("/system")
		{
			systemGroup.Any("/setup", setupHandler(authSvc, deps.SetupToken, deps.SetupTokenDeadline))
			systemGroup.GET("/status", statusHandler(authSvc))
		}

		// --- 查询平面 (Query Plane) ---
		queryGroup := v1.Group("/query")
		queryGroup.Use(authSvc.GinMiddleware(), requireAuth(), perUserLimit(deps.RateLimiter))
		{
			queryGroup.POST("/probe", probeHandler(deps.Engine))
			queryGroup.POST("/start", startHandler(deps.Engine))
		}

		// --- 会话平面 (Session Plane) ---
		sessionGroup := v1.Group("/sessions")
		sessionGroup.Use(authSvc.GinMiddleware(), requireAuth(), perUserLimit(deps.RateLimiter))
		{
			sessionGroup.GET("", listSessionsHandler(deps.Engine))
			sessionGroup.GET("/:sessionID", statusSessionHandler(deps.Engine))
			sessionGroup.POST("/:sessionID/cancel", cancelHandler(deps.Engine))
			sessionGroup.POST("/:sessionID/read", readPageHandler(deps.Engine))
			sessionGroup.POST("/:sessionID/distinct", distinctHandler(deps.Engine))
			sessionGroup.DELETE("/:sessionID", cleanupHandler(deps.Engine))
		}

		// --- 控制平面 (Control Plane) ---
		adminGroup := v1.Group("/admin")
		adminGroup.Use(authSvc.GinMiddleware(), requireAdmin())
		{
			adminGroup.POST("/sweep", manualSweepHandler(deps.Engine))
		}
	}

	return router
}

// =============================================================================
//  Gin 中间件 (Middleware)
// =============================================================================

// perUserLimit 把 http.Handler 形态的按用户限速器接入 gin 流程，
// 必须排在认证中间件之后 (Claim 已注入请求 context)。
func perUserLimit(limiter *middleware.BusinessRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		handler := limiter.PerUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Next()
		}))
		handler.ServeHTTP(c.Writer, c.Request)
		if c.Writer.Written() && !c.IsAborted() {
			c.Abort()
		}
	}
}

// requireAuth 确保请求携带有效的认证信息
func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if harborauth.ClaimFrom(c.Request) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "需要认证"})
			return
		}
		c.Next()
	}
}

// requireAdmin 是一个确保只有管理员角色才能访问的中间件
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := harborauth.ClaimFrom(c.Request)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "需要认证"})
			return
		}
		if claims.Role != harborauth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "需要管理员权限"})
			return
		}
		c.Next()
	}
}

// =============================================================================
//  错误映射
// =============================================================================

// writeEngineError 把引擎错误映射为 HTTP 状态码。
func writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, port.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, port.ErrInvalidSession), errors.Is(err, port.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, port.ErrLimitExceeded), errors.Is(err, port.ErrUnsupportedType):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, port.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, port.ErrConcurrencyLimit):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, port.ErrTimeout), errors.Is(err, port.ErrCancelled):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, port.ErrWarehouse):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		if se := port.AsStoreError(err); se != nil && se.Kind == port.StoreLocked {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "缓存存储暂时被锁，请稍后重试"})
			return
		}
		log.Printf("错误: [Router] 未分类的引擎错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "内部错误"})
	}
}

// =============================================================================
//  查询平面处理器
// =============================================================================

// probeHandler 对用户 SQL 做行数预探测并分类
func probeHandler(engine port.ResultCacheEngine) gin.HandlerFunc {
	type RequestBody struct {
		SQL string `json:"sql" binding:"required"`
	}
	return func(c *gin.Context) {
		var reqBody RequestBody
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}
		claims := harborauth.ClaimFrom(c.Request)

		outcome, err := engine.Probe(c.Request.Context(), claims.ID, reqBody.SQL)
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": outcome})
	}
}

// startHandler 注册会话并启动摄取
func startHandler(engine port.ResultCacheEngine) gin.HandlerFunc {
	type RequestBody struct {
		SQL    string `json:"sql" binding:"required"`
		Intent string `json:"intent" binding:"omitempty,oneof=display download"`
	}
	return func(c *gin.Context) {
		var reqBody RequestBody
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}
		intent := port.StartIntent(reqBody.Intent)
		if intent == "" {
			intent = port.IntentDisplay
		}
		claims := harborauth.ClaimFrom(c.Request)

		sessionID, err := engine.Start(c.Request.Context(), claims.ID, reqBody.SQL, intent)
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"session_id": sessionID}})
	}
}

// =============================================================================
//  会话平面处理器
// =============================================================================

// ownedSession 获取会话记录并校验所有权；校验失败时已写好响应并返回 false。
func ownedSession(c *gin.Context, engine port.ResultCacheEngine, sessionID string) bool {
	claims := harborauth.ClaimFrom(c.Request)
	rec, err := engine.Status(c.Request.Context(), sessionID)
	if err != nil {
		writeEngineError(c, err)
		return false
	}
	if rec.UserID != claims.ID && claims.Role != harborauth.RoleAdmin {
		// 对非属主隐藏会话的存在性
		c.JSON(http.StatusNotFound, gin.H{"error": "无效的会话: '" + sessionID + "'"})
		return false
	}
	return true
}

func listSessionsHandler(engine port.ResultCacheEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := harborauth.ClaimFrom(c.Request)
		records, err := engine.ListForUser(c.Request.Context(), claims.ID)
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": records})
	}
}

func statusSessionHandler(engine port.ResultCacheEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		if !ownedSession(c, engine, sessionID) {
			return
		}
		rec, err := engine.Status(c.Request.Context(), sessionID)
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rec})
	}
}

func cancelHandler(engine port.ResultCacheEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		if !ownedSession(c, engine, sessionID) {
			return
		}
		if err := engine.Cancel(c.Request.Context(), sessionID); err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"session_id": sessionID, "status": "cancel_requested"}})
	}
}

func readPageHandler(engine port.ResultCacheEngine) gin.HandlerFunc {
	type RequestBody struct {
		Page      int                 `json:"page"`
		PageSize  int                 `json:"page_size"`
		Filters   map[string][]string `json:"filters"`
		SortBy    string              `json:"sort_by"`
		SortOrder string              `json:"sort_order"`
	}
	return func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		if !ownedSession(c, engine, sessionID) {
			return
		}
		var reqBody RequestBody
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}

		result, err := engine.ReadPage(c.Request.Context(), port.ReadPageRequest{
			SessionID: sessionID,
			Page:      reqBody.Page,
			PageSize:  reqBody.PageSize,
			Filters:   reqBody.Filters,
			SortBy:    reqBody.SortBy,
			SortOrder: reqBody.SortOrder,
		})
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

func distinctHandler(engine port.ResultCacheEngine) gin.HandlerFunc {
	type RequestBody struct {
		Column  string              `json:"column" binding:"required"`
		Limit   int                 `json:"limit"`
		Filters map[string][]string `json:"filters"`
	}
	return func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		if !ownedSession(c, engine, sessionID) {
			return
		}
		var reqBody RequestBody
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}

		result, err := engine.DistinctValues(c.Request.Context(), port.DistinctRequest{
			SessionID: sessionID,
			Column:    reqBody.Column,
			Limit:     reqBody.Limit,
			Filters:   reqBody.Filters,
		})
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

func cleanupHandler(engine port.ResultCacheEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		if !ownedSession(c, engine, sessionID) {
			return
		}
		force := c.Query("force") == "true"
		if err := engine.Cleanup(c.Request.Context(), sessionID, force); err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"session_id": sessionID, "status": "cleaned"}})
	}
}

// =============================================================================
//  控制平面处理器
// =============================================================================

func manualSweepHandler(engine port.ResultCacheEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := engine.ManualSweep(c.Request.Context())
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": report})
	}
}

// =============================================================================
//  系统与认证处理器
// =============================================================================

// statusHandler 返回系统状态，用于前端判断是否需要进入安装流程
func statusHandler(auth *harborauth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.Count() > 0 {
			c.JSON(http.StatusOK, gin.H{"status": "ready_for_login"})
		} else {
			c.JSON(http.StatusOK, gin.H{"status": "needs_setup"})
		}
	}
}

// loginHandler 处理用户登录请求，带失败计数与临时锁定
func loginHandler(auth *harborauth.Service, lock *middleware.LoginFailureLock) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			User string `form:"user" json:"user" binding:"required"`
			Pass string `form:"pass" json:"pass" binding:"required"`
		}
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "用户名或密码不能为空"})
			return
		}
		ip := c.ClientIP()
		if lock != nil && lock.Locked(ip, req.User) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码无效"})
			return
		}
		id, role, ok := auth.Verify(req.User, req.Pass)
		if !ok {
			if lock != nil {
				lock.RecordFailure(ip, req.User)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码无效"})
			return
		}
		if lock != nil {
			lock.Reset(ip, req.User)
		}
		token, err := harborauth.GenToken(id, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "生成令牌失败"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": gin.H{"id": id, "username": req.User, "role": role}})
	}
}

// setupHandler 处理首次安装时的管理员创建请求
func setupHandler(auth *harborauth.Service, token string, deadline time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			if auth.Count() > 0 {
				c.JSON(http.StatusForbidden, gin.H{"error": "系统已安装，无法获取安装令牌"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
			return
		}

		if c.Request.Method == http.MethodPost {
			if auth.Count() > 0 {
				c.JSON(http.StatusForbidden, gin.H{"error": "系统已存在管理员账户，无法重复设置"})
				return
			}
			var req struct {
				Token string `form:"token" json:"token" binding:"required"`
				User  string `form:"user" json:"user" binding:"required"`
				Pass  string `form:"pass" json:"pass" binding:"required"`
			}
			if err := c.ShouldBind(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "令牌、用户名或密码不能为空"})
				return
			}
			if req.Token != token || token == "" || time.Now().After(deadline) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "无效或过期的安装令牌"})
				return
			}
			if err := auth.CreateAdmin(req.User, req.Pass); err != nil {
				log.Printf("错误: [API /setup] 创建管理员 '%s' 失败: %v", req.User, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "创建管理员失败: " + err.Error()})
				return
			}
			id, _, _ := auth.Verify(req.User, req.Pass)
			jwtToken, err := harborauth.GenToken(id, harborauth.RoleAdmin)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "为新管理员生成令牌失败"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": jwtToken, "user": gin.H{"id": id, "username": req.User, "role": harborauth.RoleAdmin}})
			return
		}
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "仅支持 GET 和 POST 方法"})
	}
}
