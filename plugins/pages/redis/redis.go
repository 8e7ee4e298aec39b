// Package redis 通过 Redis 列表消费页：生产者 RPUSH 原始页字节，
// 本端以 BLMOVE 将页移入 inflight 列表尾部，处理完毕后 Release 按值删除该页，实现按序取页/归还。
// 崩溃遗留在 inflight 中的页保持原样，供人工检查或重新入队。
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dmtset/pkg/contract"
)

// Options: 连接与环形缓冲标识。
type Options struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// Key: 十六进制环形缓冲标识（如 "dada"）。
	Key string `json:"key"`
	// Prefix: 列表名前缀，默认 "dmtset:pages:"。
	Prefix string `json:"prefix"`
	// WaitSeconds: 单次阻塞等待上限；超时视为流结束。默认 30。
	WaitSeconds int `json:"wait_seconds"`
}

// lister 为所需的最小 Redis 命令子集。
type lister interface {
	BLMove(ctx context.Context, source, destination, srcpos, destpos string, timeout time.Duration) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	Close() error
}

// Source 从 Redis 列表按序取页。
type Source struct {
	rdb      lister
	queue    string
	inflight string
	wait     time.Duration
	held     bool
	cur      string
}

// New 创建 Redis 页来源。
func New(opts *Options) (*Source, error) {
	if opts == nil || strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("pages/redis: %w: addr required", contract.ErrInvalidInput)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s, err := newSource(rdb, opts)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

func newSource(rdb lister, opts *Options) (*Source, error) {
	key := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(opts.Key)), "0x")
	id, err := strconv.ParseUint(key, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("pages/redis: %w: key %q is not hexadecimal", contract.ErrInvalidInput, opts.Key)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "dmtset:pages:"
	}
	wait := time.Duration(opts.WaitSeconds) * time.Second
	if wait <= 0 {
		wait = 30 * time.Second
	}
	queue := prefix + strconv.FormatUint(id, 16)
	return &Source{rdb: rdb, queue: queue, inflight: queue + ":inflight", wait: wait}, nil
}

var _ contract.PageSource = (*Source)(nil)

// Queue 返回生产者应写入的列表名。
func (s *Source) Queue() string { return s.queue }

// Next 阻塞取下一页；等待超时返回 io.EOF。
func (s *Source) Next(ctx context.Context) ([]byte, error) {
	if s.held {
		return nil, fmt.Errorf("pages/redis: %w: previous page not released", contract.ErrInvariantViolation)
	}
	v, err := s.rdb.BLMove(ctx, s.queue, s.inflight, "LEFT", "RIGHT", s.wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	s.held, s.cur = true, v
	return []byte(v), nil
}

// Release 从 inflight 列表删除当前页（自尾部匹配首个同值条目，即刚移入的那一页）。
func (s *Source) Release(ctx context.Context) error {
	if !s.held {
		return nil
	}
	n, err := s.rdb.LRem(ctx, s.inflight, -1, s.cur).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pages/redis: %w: held page missing from %s", contract.ErrInvariantViolation, s.inflight)
	}
	s.held, s.cur = false, ""
	return nil
}

func (s *Source) Close() error { return s.rdb.Close() }
