// Package file 从原始转储文件按固定页大小读取页（离线回放）。
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dmtset/pkg/contract"
)

// Options: 转储文件与页大小。
type Options struct {
	Path string `json:"path"`
	// PageBytes: 每页字节数（必需，须为 4 的倍数）。
	PageBytes int `json:"page_bytes"`
}

// Source 顺序读取固定大小的页。
type Source struct {
	f    *os.File
	r    *bufio.Reader
	buf  []byte
	held bool
}

// New 打开转储文件。
func New(opts *Options) (*Source, error) {
	if opts == nil || strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("pages/file: %w: path required", contract.ErrInvalidInput)
	}
	if opts.PageBytes <= 0 || opts.PageBytes%4 != 0 {
		return nil, fmt.Errorf("pages/file: %w: page_bytes %d", contract.ErrInvalidInput, opts.PageBytes)
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, err
	}
	return &Source{f: f, r: bufio.NewReaderSize(f, opts.PageBytes), buf: make([]byte, opts.PageBytes)}, nil
}

var _ contract.PageSource = (*Source)(nil)

// Next 返回下一整页；文件结束返回 io.EOF；末尾残页视为 ErrPageShape。
// 返回的切片在 Release 之前有效。
func (s *Source) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.held {
		return nil, fmt.Errorf("pages/file: %w: previous page not released", contract.ErrInvariantViolation)
	}
	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: trailing %d bytes", contract.ErrPageShape, n)
	case err != nil:
		return nil, err
	}
	s.held = true
	return s.buf, nil
}

// Release 归还当前页。
func (s *Source) Release(ctx context.Context) error {
	s.held = false
	return nil
}

func (s *Source) Close() error { return s.f.Close() }
