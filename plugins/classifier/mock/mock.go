package mock

import (
	"context"
	"encoding/json"
	"fmt"

	"dmtset/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	// Mode: 响应模式（用于集成测试与无网络联调）。
	//  - "" / "constant": 恒定返回 Class。
	//  - "peak": 任一时间列的行均值 >= Threshold 时返回 1，否则 0。
	Mode      string `json:"mode,omitempty"`
	Class     int    `json:"class,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
}

// Client 是无网络的确定性分类器。
type Client struct {
	mode      string
	class     int
	threshold float64
}

// New 构造 Client。
func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	switch o.Mode {
	case "", "constant":
		o.Mode = "constant"
	case "peak":
		if o.Threshold <= 0 {
			o.Threshold = 128
		}
	default:
		return nil, fmt.Errorf("mock: %w: mode %q", contract.ErrInvalidInput, o.Mode)
	}
	return &Client{mode: o.Mode, class: o.Class, threshold: float64(o.Threshold)}, nil
}

var _ contract.Classifier = (*Client)(nil)

// Classify 实现 contract.Classifier。
func (c *Client) Classify(ctx context.Context, w contract.Window) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if c.mode == "constant" {
		return c.class, nil
	}
	if w.Rows == 0 {
		return 0, nil
	}
	for col := 0; col < w.Cols; col++ {
		sum := 0
		for r := 0; r < w.Rows; r++ {
			sum += int(w.At(r, col))
		}
		if float64(sum)/float64(w.Rows) >= c.threshold {
			return 1, nil
		}
	}
	return 0, nil
}
