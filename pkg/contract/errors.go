package contract

import (
	"errors"
	"fmt"
)

// 路径/配置相关最小错误分类。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidInput: 输入参数非法（选项、形状、空输入等）。
	ErrInvalidInput = errors.New("invalid input")
)

// DM 试验文件与图像构建（配置类错误，致命）。
var (
	// ErrTrialName: 文件名中无法解析出 DM 数值。
	ErrTrialName = errors.New("trial name has no dm value")
	// ErrDuplicateDM: 两个试验文件具有相同 DM，行序无法确定。
	ErrDuplicateDM = errors.New("duplicate dm value")
	// ErrNoTrials: 目录下没有任何试验文件。
	ErrNoTrials = errors.New("no trial files")
	// ErrSampleCountMismatch: 试验文件样本数与首个文件不一致。
	ErrSampleCountMismatch = errors.New("sample count mismatch")
)

// 候选体与窗口。
var (
	// ErrCandidateRow: 候选表行无法解析（列数/mjd/dm/snr）。
	ErrCandidateRow = errors.New("candidate row invalid")
	// ErrIndexOutOfRange: 候选体映射的列下标落在图像之外。
	ErrIndexOutOfRange = errors.New("candidate index out of range")
	// ErrWindowOutOfBounds: 窗口越过图像边界（不做裁剪/回绕）。
	ErrWindowOutOfBounds = errors.New("window out of bounds")
	// ErrSamplingExhausted: 负样本采样在尝试预算内未达到目标数量。
	ErrSamplingExhausted = errors.New("sampling exhausted")
)

// 流式推理。
var (
	ErrPageShape       = errors.New("page shape invalid")
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
)

// CandidateError 携带候选体身份与计算出的位置，便于跳过并记录。
type CandidateError struct {
	Line     int
	MJD      string
	Position int64
	Err      error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("candidate line %d mjd=%s position=%d: %v", e.Line, e.MJD, e.Position, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }

// SamplingExhaustedError 报告负样本缺口（Target-Accepted）。
type SamplingExhaustedError struct {
	Target   int
	Accepted int
	Attempts int
}

func (e *SamplingExhaustedError) Error() string {
	return fmt.Sprintf("sampling exhausted: accepted %d of %d after %d attempts (short %d)",
		e.Accepted, e.Target, e.Attempts, e.Shortfall())
}

// Shortfall 返回尚缺的窗口数量。
func (e *SamplingExhaustedError) Shortfall() int { return e.Target - e.Accepted }

func (e *SamplingExhaustedError) Unwrap() error { return ErrSamplingExhausted }
