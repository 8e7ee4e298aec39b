// Package rate 对分类服务调用限流：每分钟请求数、每分钟载荷字节数与单请求字节上限。
// 令牌桶由 golang.org/x/time/rate 提供；桶容量等于每分钟额度。
package rate

import (
	"context"
	"fmt"
	"time"

	xrate "golang.org/x/time/rate"

	"dmtset/pkg/contract"
)

// LimitKey: 限流分组键（分类服务名 + 端点摘要）。
type LimitKey string

// Limits: 0 表示该维度不限制。
type Limits struct {
	RPM            int // requests per minute
	BPM            int // request body bytes per minute
	MaxBytesPerReq int
}

// Gate 绑定一个分组键；回放为单消费者，一个进程只有一个分类端点。
type Gate struct {
	key LimitKey
	lim Limits
	req *xrate.Limiter
	vol *xrate.Limiter
}

// NewGate 按分钟额度构造闸门。
func NewGate(key LimitKey, lim Limits) *Gate {
	return &Gate{key: key, lim: lim, req: perMinute(lim.RPM), vol: perMinute(lim.BPM)}
}

func perMinute(n int) *xrate.Limiter {
	if n <= 0 {
		return xrate.NewLimiter(xrate.Inf, 0)
	}
	return xrate.NewLimiter(xrate.Limit(float64(n)/60), n)
}

// Key 返回分组键（用于日志）。
func (g *Gate) Key() LimitKey { return g.key }

// Limits 返回配置的额度。
func (g *Gate) Limits() Limits { return g.lim }

// Wait 为一次 bytes 字节的请求同时预留请求与字节额度，阻塞到两者都可用。
// 单请求超过 max_bytes_per_req 或 bpm（永远无法满足）时立即返回 ErrInvalidInput；
// ctx 取消时归还预留。
func (g *Gate) Wait(ctx context.Context, bytes int) error {
	if bytes < 0 {
		return fmt.Errorf("rate: %w: negative size %d", contract.ErrInvalidInput, bytes)
	}
	if m := g.lim.MaxBytesPerReq; m > 0 && bytes > m {
		return fmt.Errorf("rate: %w: request %d bytes exceeds max_bytes_per_req %d", contract.ErrInvalidInput, bytes, m)
	}
	if b := g.lim.BPM; b > 0 && bytes > b {
		return fmt.Errorf("rate: %w: request %d bytes exceeds bpm %d", contract.ErrInvalidInput, bytes, b)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	rr := g.req.ReserveN(now, 1)
	rb := g.vol.ReserveN(now, bytes)
	if !rr.OK() || !rb.OK() {
		rr.CancelAt(now)
		rb.CancelAt(now)
		return fmt.Errorf("rate: %w: request exceeds burst", contract.ErrInvalidInput)
	}
	d := max(rr.DelayFrom(now), rb.DelayFrom(now))
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		rr.Cancel()
		rb.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
