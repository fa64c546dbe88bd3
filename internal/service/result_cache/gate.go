// Package result_cache file: internal/service/result_cache/gate.go
package result_cache

import (
	"context"
	"crypto/sha256"
	"fmt"

	"SQLHarbor/internal/core/port"
)

// probeKey 把 (用户, SQL) 映射为探测缓存键。对 SQL 取摘要，
// 避免超长语句直接作为缓存键。
func probeKey(userID int64, userSQL string) string {
	sum := sha256.Sum256([]byte(userSQL))
	return fmt.Sprintf("probe:u%d:%x", userID, sum[:12])
}

// countFor 返回用户 SQL 的精确行数，优先命中探测缓存。
// Probe 与随后的 Start 通常间隔数秒，共享同一份计数可以
// 省掉第二次仓库往返。
func (e *Engine) countFor(ctx context.Context, userID int64, userSQL string) (int64, error) {
	key := probeKey(userID, userSQL)
	if cached, found := e.probeCache.Get(key); found {
		if n, ok := cached.(int64); ok {
			return n, nil
		}
	}

	n, err := e.warehouse.Count(ctx, userSQL)
	if err != nil {
		return 0, err
	}
	e.probeCache.SetDefault(key, n)
	return n, nil
}

// classify 按两档上限给行数分类。
func (e *Engine) classify(totalRows int64) port.ProbeClass {
	switch {
	case totalRows <= e.opts.DisplayLimit:
		return port.ProbeDisplayable
	case totalRows <= e.opts.DownloadLimit:
		return port.ProbeRequiresConfirmation
	default:
		return port.ProbeRejected
	}
}

// Probe 实现 port.ResultCacheEngine.Probe：做一次行数往返并分类，
// 不注册会话、不占用并发配额。
func (e *Engine) Probe(ctx context.Context, userID int64, userSQL string) (*port.ProbeOutcome, error) {
	n, err := e.countFor(ctx, userID, userSQL)
	if err != nil {
		return nil, err
	}
	return &port.ProbeOutcome{Class: e.classify(n), TotalRows: n}, nil
}

// limitFor 返回意图对应的行数上限。
func (e *Engine) limitFor(intent port.StartIntent) (int64, error) {
	switch intent {
	case port.IntentDisplay:
		return e.opts.DisplayLimit, nil
	case port.IntentDownload:
		return e.opts.DownloadLimit, nil
	default:
		return 0, fmt.Errorf("%w: 未知的意图 '%s'", port.ErrInternal, intent)
	}
}
