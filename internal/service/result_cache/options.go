// Package result_cache file: internal/service/result_cache/options.go
//
// 查询结果缓存与会话生命周期引擎。
// 引擎把远端仓库的查询结果物化进嵌入式缓存，由双层注册表跟踪
// 每个会话的生命周期，并由后台清扫器回收过期数据。
package result_cache

import "time"

// Options 汇集引擎的全部可调参数，零值字段在 withDefaults 中补齐。
type Options struct {
	// MaxConcurrentSessions 是同时处于 PENDING/ACTIVE 的会话上限。
	MaxConcurrentSessions int
	// ChunkRows 是摄取时单个数据块的行数。
	ChunkRows int
	// BatchChunks 是每多少个块做一次事务提交与进度落盘。
	BatchChunks int
	// DisplayLimit / DownloadLimit 是两档意图各自的行数上限。
	DisplayLimit  int64
	DownloadLimit int64
	// ActiveTimeout 是无活动多久后判定会话超时。
	ActiveTimeout time.Duration
	// HardTTL 是会话自创建起的硬存活期，过期即物理删除。
	HardTTL time.Duration
	// SweepInterval 是清扫器的巡检周期。
	SweepInterval time.Duration
	// DefaultPageSize 是读取接口未指定 page_size 时的默认值。
	DefaultPageSize int
	// ProbeCacheTTL 是行数预探测结果的缓存时长。
	ProbeCacheTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentSessions <= 0 {
		o.MaxConcurrentSessions = 5
	}
	if o.ChunkRows <= 0 {
		o.ChunkRows = 2000
	}
	if o.BatchChunks <= 0 {
		o.BatchChunks = 5
	}
	if o.DisplayLimit <= 0 {
		o.DisplayLimit = 1_000_000
	}
	if o.DownloadLimit <= 0 {
		o.DownloadLimit = 10_000_000
	}
	if o.ActiveTimeout <= 0 {
		o.ActiveTimeout = 30 * time.Minute
	}
	if o.HardTTL <= 0 {
		o.HardTTL = 24 * time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Minute
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 100
	}
	if o.ProbeCacheTTL <= 0 {
		o.ProbeCacheTTL = 5 * time.Minute
	}
	return o
}
