// Package domain file: internal/core/domain/value.go
package domain

import (
	"fmt"
	"math/big"
	"time"
)

// ErrCompositeValue 表示仓库返回了无法物化为单列文本的复合类型值。
type ErrCompositeValue struct {
	Column string
	Sample string
}

func (e *ErrCompositeValue) Error() string {
	return fmt.Sprintf("列 '%s' 含有不支持的复合类型值 (样本: %.32s)", e.Column, e.Sample)
}

// NormalizeValue 在入库边界对仓库行值做类型归一化。
// 规则 (与下游全文本存储约定一致):
//   - nil            -> nil (存为 SQL NULL)
//   - time.Time      -> ISO-8601 字符串
//   - *big.Float     -> float64 (仓库的高精度 decimal)
//   - bool/整型/浮点/字符串 -> 原样透传
//   - 其余类型        -> fmt.Sprintf("%v") 的字符串形式
//
// 首尾为成对 {…} 或 […] 的字符串被视为仓库复合类型 (STRUCT/ARRAY 的文本投影)，
// 本地缓存不物化它们，返回 *ErrCompositeValue。
func NormalizeValue(column string, v any) (any, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano), nil
	case *big.Float:
		f, _ := tv.Float64()
		return f, nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return tv, nil
	case []byte:
		return normalizeString(column, string(tv))
	case string:
		return normalizeString(column, tv)
	default:
		return normalizeString(column, fmt.Sprintf("%v", tv))
	}
}

func normalizeString(column, s string) (any, error) {
	if isCompositeLiteral(s) {
		return nil, &ErrCompositeValue{Column: column, Sample: s}
	}
	return s, nil
}

// isCompositeLiteral 判断字符串首尾是否为成对的 {} 或 []。
func isCompositeLiteral(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}
