package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"dmtset/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	Class int `json:"class"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的分类器实现：
// 第一次 Classify 返回 ErrRateLimited；
// 第二次返回可重试的上游 503；
// 之后恒定返回 Class。
type Client struct {
	class   int
	logPath string
	count   atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	return &Client{class: o.Class, logPath: o.LogPath}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// unavailable 模拟上游 503（实现 net.Error，Temporary=true）。
type unavailable struct{}

func (unavailable) Error() string           { return "flaky upstream 503: unavailable" }
func (unavailable) Timeout() bool           { return false }
func (unavailable) Temporary() bool         { return true }
func (unavailable) UpstreamStatus() int     { return 503 }
func (unavailable) UpstreamMessage() string { return "unavailable" }

// Calls 返回累计调用次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

// Classify 实现 contract.Classifier。
func (c *Client) Classify(ctx context.Context, w contract.Window) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch n := c.count.Add(1); n {
	case 1:
		c.log("rate_limited")
		return 0, contract.ErrRateLimited
	case 2:
		c.log("unavailable")
		return 0, unavailable{}
	default:
		c.log(fmt.Sprintf("ok %d", n))
		return c.class, nil
	}
}

var _ contract.Classifier = (*Client)(nil)
