package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dmtset/pkg/contract"
)

// Options 为 FileSystem TrialStore 的可选配置（最小必要）。
type Options struct {
	// Pattern: 文件基名匹配模式（filepath.Match 语法）。默认 "*.dat"。
	Pattern string `json:"pattern"`
	// Recursive: 是否递归子目录。默认 false（与单目录 glob 一致）。
	Recursive bool `json:"recursive"`
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 递归时跳过这些目录名（基名完全匹配，忽略大小写）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// FileSystem 基于本地目录的试验文件来源。
type FileSystem struct {
	pattern   string
	recursive bool
	bufSize   int
	// 以小写形式保存，比较时按小写基名匹配。
	excludeDir map[string]struct{}
}

// New 创建 FileSystem TrialStore。
func New(opts *Options) (*FileSystem, error) {
	const defaultBuf = 64 * 1024
	fs := &FileSystem{pattern: "*.dat", bufSize: defaultBuf, excludeDir: map[string]struct{}{}}
	if opts == nil {
		return fs, nil
	}
	if opts.Pattern != "" {
		if _, err := filepath.Match(opts.Pattern, ""); err != nil {
			return nil, fmt.Errorf("trials pattern %q: %w", opts.Pattern, contract.ErrInvalidInput)
		}
		fs.pattern = opts.Pattern
	}
	if opts.BufSize > 0 {
		fs.bufSize = opts.BufSize
	}
	fs.recursive = opts.Recursive
	for _, name := range opts.ExcludeDirNames {
		if name == "" {
			continue
		}
		fs.excludeDir[strings.ToLower(name)] = struct{}{}
	}
	return fs, nil
}

var _ contract.TrialStore = (*FileSystem)(nil)

// List 按稳定顺序（字典序）返回 dir 下匹配 Pattern 的常规文件。
// 目录符号链接不跟随；指向常规文件的符号链接保留。
func (r *FileSystem) List(ctx context.Context, dir string) ([]contract.FileID, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("trials dir %s: %w", dir, contract.ErrPathInvalid)
	}
	var out []contract.FileID
	if err := r.walkDir(ctx, dir, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, out *[]contract.FileID) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if r.recursive {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
				continue
			}
			if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), out); err != nil {
				return err
			}
		}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(r.pattern, e.Name()); !ok {
			continue
		}
		p := filepath.Join(dir, e.Name())
		t, err := os.Stat(p)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			// 目标不是常规文件（目录/设备/FIFO 等）则忽略
			continue
		}
		*out = append(*out, contract.NormalizeFileID(p))
	}
	return nil
}

// Open 打开单个试验文件，带读缓冲。
func (r *FileSystem) Open(ctx context.Context, id contract.FileID) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(filepath.FromSlash(string(id)))
	if err != nil {
		return nil, err
	}
	return newBufferedCloser(f, r.bufSize), nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
