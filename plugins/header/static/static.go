// Package static 由配置直接给出头部（无 filterbank 文件时使用）。
package static

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dmtset/pkg/contract"
)

// Options: 十进制字符串形式的起始 MJD 与采样间隔（秒），保留全部有效位。
type Options struct {
	Basename string `json:"basename"`
	TStart   string `json:"tstart"`
	TSamp    string `json:"tsamp"`
}

// Source 返回固定头部。
type Source struct {
	h contract.Header
}

// New 解析选项。
func New(opts *Options) (*Source, error) {
	if opts == nil {
		return nil, fmt.Errorf("static header: %w: options required", contract.ErrInvalidInput)
	}
	start, err := decimal.NewFromString(strings.TrimSpace(opts.TStart))
	if err != nil {
		return nil, fmt.Errorf("static header tstart %q: %w", opts.TStart, contract.ErrInvalidInput)
	}
	tsamp, err := decimal.NewFromString(strings.TrimSpace(opts.TSamp))
	if err != nil || !tsamp.IsPositive() {
		return nil, fmt.Errorf("static header tsamp %q: %w", opts.TSamp, contract.ErrInvalidInput)
	}
	name := opts.Basename
	if name == "" {
		name = "dataset"
	}
	return &Source{h: contract.Header{Basename: name, StartMJD: start, TSamp: tsamp}}, nil
}

var _ contract.HeaderSource = (*Source)(nil)

func (s *Source) Header(ctx context.Context) (contract.Header, error) {
	if err := ctx.Err(); err != nil {
		return contract.Header{}, err
	}
	return s.h, nil
}
