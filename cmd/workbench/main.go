// file: cmd/workbench/main.go

package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"SQLHarbor/harborauth"
	sqlitestore "SQLHarbor/internal/adapter/store/sqlite"
	"SQLHarbor/internal/adapter/warehouse/sqlclient"
	"SQLHarbor/internal/middleware"
	"SQLHarbor/internal/observe"
	"SQLHarbor/internal/service/result_cache"
	"SQLHarbor/internal/transport/http/router"

	"github.com/spf13/viper"
	_ "modernc.org/sqlite"
)

const version = "v0.3.0"

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	PprofAddr string `mapstructure:"pprof_addr"`
}

type WarehouseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type CacheConfig struct {
	InstanceDir           string        `mapstructure:"instance_dir"`
	MaxConcurrentSessions int           `mapstructure:"max_concurrent_sessions"`
	ChunkRows             int           `mapstructure:"chunk_rows"`
	BatchChunks           int           `mapstructure:"batch_chunks"`
	DisplayLimit          int64         `mapstructure:"display_limit"`
	DownloadLimit         int64         `mapstructure:"download_limit"`
	ActiveTimeout         time.Duration `mapstructure:"active_timeout"`
	HardTTL               time.Duration `mapstructure:"hard_ttl"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	DefaultPageSize       int           `mapstructure:"default_page_size"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

func main() {
	// 在日志系统完全初始化前，使用标准 log
	log.Printf("SQLHarbor Workbench %s 正在启动...", version)

	exePath, err := os.Executable()
	if err != nil {
		log.Fatalf("CRITICAL: 无法获取可执行文件路径: %v", err)
	}
	rootDir := filepath.Dir(filepath.Dir(exePath))

	configFilePath := filepath.Join(rootDir, "configs", "config.yaml")
	viper.SetConfigFile(configFilePath)

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("CRITICAL: 读取配置文件 '%s' 失败: %v", configFilePath, err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("CRITICAL: 解析配置到结构体失败: %v", err)
	}

	observe.InitLogger(config.Server.LogLevel)
	slog.Info("SQLHarbor Workbench starting up", "version", version)
	slog.Info("检测到项目根目录", "path", rootDir)
	slog.Info("配置加载并解析成功", "path", configFilePath)

	instanceDir := config.Cache.InstanceDir
	if instanceDir == "" {
		instanceDir = filepath.Join(rootDir, "instance")
	} else if !filepath.IsAbs(instanceDir) {
		instanceDir = filepath.Join(rootDir, instanceDir)
	}
	if _, err := os.Stat(instanceDir); os.IsNotExist(err) {
		_ = os.MkdirAll(instanceDir, 0755)
	}

	// --- 认证数据库 ---
	authDbPath := filepath.Join(instanceDir, "auth.db")
	sysDB, err := initAuthDB(authDbPath)
	if err != nil {
		log.Fatalf("CRITICAL: 初始化认证数据库失败: %v", err)
	}
	defer func() {
		slog.Info("正在关闭认证数据库连接...")
		if err := sysDB.Close(); err != nil {
			slog.Error("关闭认证数据库时发生错误", "error", err)
		}
	}()
	authSvc := harborauth.New(sysDB)
	if err := authSvc.InitSchema(); err != nil {
		log.Fatalf("CRITICAL: 初始化账户表失败: %v", err)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	// --- 嵌入式缓存存储 ---
	cacheStore, err := sqlitestore.Open(bootCtx, filepath.Join(instanceDir, "cache.db"))
	if err != nil {
		log.Fatalf("CRITICAL: 打开缓存存储失败: %v", err)
	}
	defer func() {
		if err := cacheStore.Close(); err != nil {
			slog.Error("关闭缓存存储时发生错误", "error", err)
		}
	}()
	if err := cacheStore.InitSchema(bootCtx); err != nil {
		log.Fatalf("CRITICAL: 初始化缓存 schema 失败: %v", err)
	}
	slog.Info("存储层: 嵌入式缓存初始化完成")

	// --- 远端仓库客户端 ---
	warehouse, err := sqlclient.New(bootCtx, config.Warehouse.Driver, config.Warehouse.DSN)
	if err != nil {
		log.Fatalf("CRITICAL: 连接数据仓库失败: %v", err)
	}
	defer func() {
		if err := warehouse.Close(); err != nil {
			slog.Error("关闭仓库连接时发生错误", "error", err)
		}
	}()
	slog.Info("适配层: 数据仓库连接就绪", "driver", config.Warehouse.Driver)

	// --- 引擎 ---
	engine := result_cache.NewEngine(cacheStore, warehouse, result_cache.Options{
		MaxConcurrentSessions: config.Cache.MaxConcurrentSessions,
		ChunkRows:             config.Cache.ChunkRows,
		BatchChunks:           config.Cache.BatchChunks,
		DisplayLimit:          config.Cache.DisplayLimit,
		DownloadLimit:         config.Cache.DownloadLimit,
		ActiveTimeout:         config.Cache.ActiveTimeout,
		HardTTL:               config.Cache.HardTTL,
		SweepInterval:         config.Cache.SweepInterval,
		DefaultPageSize:       config.Cache.DefaultPageSize,
	})
	cacheStore.OnReset(engine.ResetMemory)
	if err := cacheStore.StartWatcher(); err != nil {
		slog.Warn("缓存文件监视器启动失败，外部清空缓存将不会被自动感知", "error", err)
	}
	if err := engine.RestoreOnStart(bootCtx); err != nil {
		log.Fatalf("CRITICAL: 启动恢复失败: %v", err)
	}
	engine.Run()
	slog.Info("服务层: ResultCacheEngine 初始化完成")

	rateLimiter := middleware.NewBusinessRateLimiter(10, 30)
	loginLock := middleware.NewLoginFailureLock(5, 15*time.Minute)
	slog.Info("服务层: BusinessRateLimiter 初始化完成")

	var setupToken string
	var setupTokenDeadline time.Time
	if authSvc.Count() == 0 {
		setupToken = genToken()
		setupTokenDeadline = time.Now().Add(30 * time.Minute)
		slog.Warn("系统中无管理员，安装令牌已生成 (30分钟内有效)", "setup_token", setupToken)
	}

	httpRouter := router.New(router.Dependencies{
		Engine:             engine,
		AuthDB:             sysDB,
		RateLimiter:        rateLimiter,
		LoginLock:          loginLock,
		SetupToken:         setupToken,
		SetupTokenDeadline: setupTokenDeadline,
	})
	slog.Info("传输层: HTTP 路由器创建完成。")

	addr := fmt.Sprintf(":%d", config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: rateLimiter.LightweightChain(httpRouter),
	}

	go func() {
		slog.Info("SQLHarbor 启动成功，开始监听HTTP请求...", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP服务启动失败", "error", err)
			os.Exit(1)
		}
	}()

	observe.EnablePprof(config.Server.PprofAddr)
	observe.Register()
	slog.Info("监控: metrics 已注册。")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("收到停机信号，准备优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP服务优雅关闭失败", "error", err)
	}
	if err := engine.Shutdown(ctx); err != nil {
		slog.Error("引擎后台任务关闭失败", "error", err)
	}

	slog.Info("HTTP服务已成功关闭。")
	slog.Info("程序即将退出。")
}

// initAuthDB 封装了认证数据库的初始化逻辑
func initAuthDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开/创建认证数据库 '%s' 失败: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接认证数据库 '%s' (Ping) 失败: %w", path, err)
	}
	return db, nil
}

// genToken 生成一次性的安装令牌
func genToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback_token_generation_failed"
	}
	return hex.EncodeToString(b)
}
