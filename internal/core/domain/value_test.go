// file: internal/core/domain/value_test.go
package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 600000000, time.UTC)

	cases := []struct {
		name string
		in   any
		want any
	}{
		{"nil 透传为 NULL", nil, nil},
		{"bool 原样透传", true, true},
		{"int64 原样透传", int64(7), int64(7)},
		{"float64 原样透传", 3.14, 3.14},
		{"字符串原样透传", "hello", "hello"},
		{"字节串转字符串", []byte("raw"), "raw"},
		{"时间转 ISO-8601", ts, "2026-01-02T03:04:05.6Z"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := NormalizeValue("col", c.in)
			if err != nil {
				t.Fatalf("不期望的错误: %v", err)
			}
			if got != c.want {
				t.Errorf("NormalizeValue(%v) = %v, 期望 %v", c.in, got, c.want)
			}
		})
	}
}

func TestNormalizeValueBigFloat(t *testing.T) {
	got, err := NormalizeValue("amount", big.NewFloat(12.5))
	if err != nil {
		t.Fatalf("不期望的错误: %v", err)
	}
	f, ok := got.(float64)
	if !ok || f != 12.5 {
		t.Errorf("*big.Float 应归一化为 float64, got %T %v", got, got)
	}
}

func TestNormalizeValueRejectsComposite(t *testing.T) {
	for _, s := range []string{`{"a":1}`, `[1,2,3]`, `{}`} {
		_, err := NormalizeValue("payload", s)
		var ce *ErrCompositeValue
		if !errors.As(err, &ce) {
			t.Errorf("复合字面量 %q 应被拒绝, err=%v", s, err)
			continue
		}
		if ce.Column != "payload" {
			t.Errorf("错误应携带列名, got %q", ce.Column)
		}
	}

	// 仅一侧有括号的普通字符串不应被拒绝
	for _, s := range []string{"{open", "close]", "a{b}c", "x"} {
		if _, err := NormalizeValue("c", s); err != nil {
			t.Errorf("普通字符串 %q 不应被拒绝: %v", s, err)
		}
	}
}
