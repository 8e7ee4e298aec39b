package tfserving

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"dmtset/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string `json:"base_url"`        // 例如 http://localhost:8501
	Model          string `json:"model"`           // 模型名，默认 dm_time
	Version        string `json:"version"`         // 可选：固定模型版本
	APIKeyEnv      string `json:"api_key_env"`     // 可选：网关鉴权，从环境变量读取
	TimeoutSeconds int    `json:"timeout_seconds"` // 可选 client 级超时（秒）
	// ExtraHeaders: 追加/覆盖请求头（用于前置网关）。
	ExtraHeaders map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:8501"
	}
	if o.Model == "" {
		o.Model = "dm_time"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 30
	}
}

// Client 调用 TensorFlow Serving REST predict 接口。
type Client struct {
	url    string
	apiKey string
	extraH map[string]string
	do     func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("tfserving options: %w", err)
		}
	}
	opts.defaults()
	if !(strings.HasPrefix(opts.BaseURL, "http://") || strings.HasPrefix(opts.BaseURL, "https://")) {
		return nil, fmt.Errorf("tfserving: %w: base_url %q", contract.ErrInvalidInput, opts.BaseURL)
	}
	key := ""
	if opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("tfserving: %w: %s is empty", contract.ErrInvalidInput, opts.APIKeyEnv)
		}
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	path := "/v1/models/" + opts.Model
	if opts.Version != "" {
		path += "/versions/" + opts.Version
	}
	return &Client{
		url:    strings.TrimRight(opts.BaseURL, "/") + path + ":predict",
		apiKey: key,
		extraH: opts.ExtraHeaders,
		do:     hc.Do,
	}, nil
}

var (
	_ contract.Classifier   = (*Client)(nil)
	_ contract.RequestSizer = (*Client)(nil)
)

type predictReq struct {
	Instances [][][][1]uint8 `json:"instances"`
}

type predictResp struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error"`
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类与重试。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("tfserving upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// Encode 将窗口编码为 (1, rows, cols, 1) 的 instances 请求体。
func Encode(w contract.Window) ([]byte, error) {
	if w.Rows <= 0 || w.Cols <= 0 || len(w.Pix) != w.Rows*w.Cols {
		return nil, contract.ErrInvalidInput
	}
	img := make([][][1]uint8, w.Rows)
	for r := range img {
		row := make([][1]uint8, w.Cols)
		for c := range row {
			row[c][0] = w.At(r, c)
		}
		img[r] = row
	}
	return json.Marshal(predictReq{Instances: [][][][1]uint8{img}})
}

// RequestBytes 返回 Classify 将发送的请求体字节数（限流计费用）。
func (c *Client) RequestBytes(w contract.Window) (int, error) {
	body, err := Encode(w)
	if err != nil {
		return 0, err
	}
	return len(body), nil
}

// Classify: 单次调用，同步返回 argmax 类别。
func (c *Client) Classify(ctx context.Context, w contract.Window) (int, error) {
	body, err := Encode(w)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.extraH {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
		}
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		// 读取少量响应体辅助定位
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		// 分类：4xx 视为输入/配置无效；5xx 视为网络/上游问题；408 特判为网络
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return 0, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return 0, fmt.Errorf("tfserving upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
	}
	var pr predictResp
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if pr.Error != "" || len(pr.Predictions) == 0 || len(pr.Predictions[0]) == 0 {
		return 0, fmt.Errorf("tfserving: %q: %w", pr.Error, contract.ErrResponseInvalid)
	}
	return Argmax(pr.Predictions[0]), nil
}

// Argmax 返回最大值下标；并列取首个。
func Argmax(vs []float64) int {
	best := 0
	for i, v := range vs {
		if v > vs[best] {
			best = i
		}
	}
	return best
}
