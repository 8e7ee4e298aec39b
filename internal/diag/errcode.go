package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"dmtset/pkg/contract"
)

// Code 是最小错误分类代码。
// 主要用于日志/指标汇总；CLI 仅据 CodeConfig 选择退出码 3。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeConfig    Code = "config"
	CodeCandidate Code = "candidate"
	CodeExhausted Code = "exhausted"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrSamplingExhausted) {
		return CodeExhausted
	}
	// 输入数据集配置
	if errors.Is(err, contract.ErrTrialName) ||
		errors.Is(err, contract.ErrDuplicateDM) ||
		errors.Is(err, contract.ErrNoTrials) ||
		errors.Is(err, contract.ErrSampleCountMismatch) {
		return CodeConfig
	}
	if errors.Is(err, contract.ErrCandidateRow) ||
		errors.Is(err, contract.ErrIndexOutOfRange) ||
		errors.Is(err, contract.ErrWindowOutOfBounds) {
		return CodeCandidate
	}
	if errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	// 协议/解码
	if errors.Is(err, contract.ErrResponseInvalid) || errors.Is(err, contract.ErrPageShape) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 网络（连接/超时等）
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
