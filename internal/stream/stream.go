// Package stream 回放页流：逐页取数、与构建模式一致地翻转归一化、调用分类服务、归还页，
// 最后把每页的类别下标写为 predictions.npy。单消费者，严格按序。
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"dmtset/internal/diag"
	"dmtset/internal/dmtime"
	"dmtset/internal/rate"
	"dmtset/pkg/contract"
)

// DefaultOutput 预测结果工件名（不含扩展名）。
const DefaultOutput = "predictions"

// Components 聚合回放所需组件。
type Components struct {
	Pages      contract.PageSource
	Classifier contract.Classifier
	Writer     contract.DatasetWriter
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// Pages: 处理页数上限；0 表示直到来源耗尽（io.EOF）。
	Pages int
	// NumDMs: 每页的 DM 行数；页样本数必须是其整数倍。
	NumDMs int
	// MaxRetries: 分类调用最大重试次数（>=0）。0 表示不重试。
	MaxRetries int
	// Backoff: 重试前等待；<=0 使用 200ms。
	Backoff time.Duration
	// Gate: 可选限流；每次调用（含重试）前按请求字节数 Wait。
	Gate *rate.Gate
	// Output: 工件名；空则为 DefaultOutput。
	Output string
}

// Result 汇总一次回放。
type Result struct {
	Predictions []int64
	Artifact    contract.ArtifactID
}

// Run 执行回放：Next → 形状检查 → NormalizeImage → (Gate) → Classify(重试) → Release → 写出。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Result, error) {
	if logger == nil {
		logger = diag.Nop()
	}
	if comp.Pages == nil || comp.Classifier == nil || comp.Writer == nil {
		return Result{}, errors.New("stream: missing components")
	}
	if set.NumDMs < 1 || set.Pages < 0 || set.MaxRetries < 0 {
		return Result{}, fmt.Errorf("%w: num_dms=%d pages=%d max_retries=%d", contract.ErrInvalidInput, set.NumDMs, set.Pages, set.MaxRetries)
	}
	if set.Backoff <= 0 {
		set.Backoff = 200 * time.Millisecond
	}
	out := strings.TrimSpace(set.Output)
	if out == "" {
		out = DefaultOutput
	}

	if t := diag.GetTerminal(); t != nil {
		t.StageStart("classify", set.Pages)
	}
	runStart := time.Now()
	finish := func(ok bool) {
		if t := diag.GetTerminal(); t != nil {
			t.StageFinish(ok, time.Since(runStart))
		}
	}

	var res Result
	for i := 0; set.Pages == 0 || i < set.Pages; i++ {
		item := strconv.Itoa(i)
		page, err := comp.Pages.Next(ctx)
		if errors.Is(err, io.EOF) {
			logger.DebugStart("pages", "eof", "", item, nil)
			break
		}
		if err != nil {
			finish(false)
			return res, fail(logger, "pages", "next failed", item, err)
		}
		win, err := decodePage(page, set.NumDMs)
		if err != nil {
			finish(false)
			return res, fail(logger, "pages", "decode failed", item, err)
		}
		size, err := requestSize(comp.Classifier, win, len(page))
		if err != nil {
			finish(false)
			return res, fail(logger, "classifier", "encode failed", item, err)
		}
		class, err := classify(ctx, comp.Classifier, set, logger, win, size, item)
		if err != nil {
			finish(false)
			return res, err
		}
		if err := comp.Pages.Release(ctx); err != nil {
			finish(false)
			return res, fail(logger, "pages", "release failed", item, err)
		}
		res.Predictions = append(res.Predictions, int64(class))
		diag.IncOp("pages", "finish", "success")
		if t := diag.GetTerminal(); t != nil {
			t.StageProgress(i + 1)
		}
	}
	finish(true)

	wt := logger.Start("writer", "write predictions")
	id, err := comp.Writer.WritePredictions(ctx, out, res.Predictions)
	if err != nil {
		return res, fail(logger, "writer", "write predictions failed", "", err)
	}
	wt.Finish("write", int64(len(res.Predictions)))
	diag.IncOp("writer", "finish", "success")
	res.Artifact = id
	return res, nil
}

// decodePage 将页字节解释为 (numDMs, n) 小端 float32 并翻转归一化。
func decodePage(page []byte, numDMs int) (contract.Window, error) {
	if len(page) == 0 || len(page)%4 != 0 {
		return contract.Window{}, fmt.Errorf("%w: %d bytes is not a float32 multiple", contract.ErrPageShape, len(page))
	}
	n := len(page) / 4
	if n%numDMs != 0 {
		return contract.Window{}, fmt.Errorf("%w: %d samples not divisible by num_dms=%d", contract.ErrPageShape, n, numDMs)
	}
	return dmtime.NormalizeImage(dmtime.DecodeFloat32LE(page), numDMs, n/numDMs)
}

// requestSize 返回限流计费字节：分类器能给出编码后请求体大小时用之，否则为原始页字节。
func requestSize(c contract.Classifier, w contract.Window, pageBytes int) (int, error) {
	if rs, ok := c.(contract.RequestSizer); ok {
		return rs.RequestBytes(w)
	}
	return pageBytes, nil
}

// classify 带限流与重试地调用分类服务。
func classify(ctx context.Context, c contract.Classifier, set Settings, logger *diag.Logger, w contract.Window, bytes int, item string) (int, error) {
	attempts := set.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if set.Gate != nil {
			logger.DebugStart("gate", "ask", "", item, map[string]string{
				"key":     string(set.Gate.Key()),
				"bytes":   strconv.Itoa(bytes),
				"attempt": strconv.Itoa(attempt + 1),
			})
			if err := set.Gate.Wait(ctx, bytes); err != nil {
				// Gate 错误不重试（通常为取消或输入非法）
				return 0, fail(logger, "gate", "wait failed", item, err)
			}
		}
		t0 := time.Now()
		timer := logger.StartWithKV("classifier", "classify", "", item, map[string]string{
			"attempt": strconv.Itoa(attempt + 1),
		})
		class, err := c.Classify(ctx, w)
		if err == nil {
			timer.Finish("classify", int64(class))
			diag.IncOp("classifier", "finish", "success")
			diag.ObserveDuration("classifier", "classify", time.Since(t0).Milliseconds())
			return class, nil
		}
		lastErr = err
		code := diag.Classify(err)
		// 若为上游 HTTP 错误，附带状态码/消息
		var kv map[string]string
		var ue contract.UpstreamError
		if errors.As(err, &ue) {
			kv = map[string]string{"http_status": strconv.Itoa(ue.UpstreamStatus())}
			if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
				if len(m) > 200 {
					m = m[:200]
				}
				kv["upstream_msg"] = m
			}
		}
		logger.ErrorWithKV("classifier", string(code), "classify failed: "+err.Error(), &t0, "", item, kv)
		diag.IncOp("classifier", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("classifier", string(code))
		}
		if attempt+1 < attempts && shouldRetry(err) {
			if err := sleepWithCtx(ctx, set.Backoff); err != nil {
				return 0, err
			}
			continue
		}
		break
	}
	return 0, fmt.Errorf("classifier page %s: %w", item, lastErr)
}

// shouldRetry: 限流与网络类错误重试（交由 Gate 控制速率）；取消/协议/输入错误不重试。
func shouldRetry(err error) bool {
	switch diag.Classify(err) {
	case diag.CodeBudget, diag.CodeNetwork:
		return true
	default:
		return false
	}
}

func fail(logger *diag.Logger, comp, msg, item string, err error) error {
	code := diag.Classify(err)
	logger.ErrorWith(comp, string(code), msg+": "+err.Error(), nil, "", item)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if item != "" {
		return fmt.Errorf("%s page %s: %w", comp, item, err)
	}
	return fmt.Errorf("%s: %w", comp, err)
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
