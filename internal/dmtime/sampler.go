package dmtime

import (
	"context"
	"fmt"
	"math/rand/v2"

	"dmtset/pkg/contract"
)

// DefaultMaxAttempts 负样本采样默认的总抽取次数上限。
const DefaultMaxAttempts = 1_000_000

// ctxCheckEvery 每隔多少次抽取检查一次 ctx。
const ctxCheckEvery = 1024

// NewRand 由种子构造确定性随机源。
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Sampler 在 [0, cols-Width) 内均匀抽取列起点，拒绝落入排除区间者，
// 接受者按 Extract 提取（单偏移）。抽取总次数受 MaxAttempts 约束。
type Sampler struct {
	Width       int
	MaxAttempts int
	Rand        *rand.Rand
	Progress    Progress
}

// Sample 产出恰好 target 个负样本窗口及其起点列。
// 预算耗尽返回 *contract.SamplingExhaustedError（errors.Is ErrSamplingExhausted）。
func (s *Sampler) Sample(ctx context.Context, img *contract.Image, excl []contract.Interval, target int) ([]contract.Window, []int64, error) {
	if target <= 0 {
		return nil, nil, nil
	}
	hi := int64(img.Cols() - s.Width)
	if s.Width <= 0 || hi <= 0 {
		return nil, nil, fmt.Errorf("%w: width=%d cols=%d", contract.ErrWindowOutOfBounds, s.Width, img.Cols())
	}
	if s.Rand == nil {
		return nil, nil, fmt.Errorf("%w: sampler has no random source", contract.ErrInvalidInput)
	}
	budget := s.MaxAttempts
	if budget <= 0 {
		budget = DefaultMaxAttempts
	}
	wins := make([]contract.Window, 0, target)
	cols := make([]int64, 0, target)
	attempts := 0
	for attempts < budget && len(wins) < target {
		if attempts%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		attempts++
		p := s.Rand.Int64N(hi)
		if Excluded(p, excl) {
			continue
		}
		w, err := Extract(img, p, s.Width)
		if err != nil {
			return nil, nil, err
		}
		wins = append(wins, w)
		cols = append(cols, p)
		s.Progress.report(len(wins), target)
	}
	if len(wins) < target {
		return nil, nil, &contract.SamplingExhaustedError{Target: target, Accepted: len(wins), Attempts: attempts}
	}
	return wins, cols, nil
}
