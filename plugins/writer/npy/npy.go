package npy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dmtset/pkg/contract"
	"dmtset/pkg/npy"
)

const (
	datasetSuffix  = "_DM_time_dataset_realbased"
	labelsSuffix   = datasetSuffix + "_labels"
	manifestSuffix = datasetSuffix + "_manifest"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// Manifest: 是否额外写出 JSONL 来源清单。默认 true。
	Manifest *bool `json:"manifest,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// FS 将数据集写为 .npy 文件。
type FS struct {
	root     string
	atomic   bool
	manifest bool
	permF    os.FileMode
	permD    os.FileMode
	bufSize  int
}

// New 创建 npy 数据集 Writer。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	manifest := true
	if opts.Manifest != nil {
		manifest = *opts.Manifest
	}
	return &FS{root: opts.OutputDir, atomic: atomic, manifest: manifest, permF: pf, permD: pd, bufSize: bsz}, nil
}

var _ contract.DatasetWriter = (*FS)(nil)

// manifestLine: 清单中的一行，与数据集下标一一对应。
type manifestLine struct {
	Index         int    `json:"index"`
	Label         string `json:"label"`
	Class         string `json:"class"`
	Column        int64  `json:"column"`
	Offset        int    `json:"offset"`
	CandidateLine int    `json:"candidate_line,omitempty"`
}

// WriteDataset 写出 <name>_DM_time_dataset_realbased.npy（(N, rows, W) uint8）、
// 对应的 _labels.npy（(N,) unicode）与可选的 _manifest.jsonl。
func (w *FS) WriteDataset(ctx context.Context, name string, ds contract.Dataset) ([]contract.ArtifactID, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	rows, cols := ds.Rows, ds.Width
	if len(ds.Windows) > 0 {
		rows, cols = ds.Windows[0].Rows, ds.Windows[0].Cols
	}
	chunks := make([][]uint8, len(ds.Windows))
	for i, win := range ds.Windows {
		chunks[i] = win.Pix
	}
	labels := make([]string, len(ds.Labels))
	for i, l := range ds.Labels {
		labels[i] = string(l)
	}

	var ids []contract.ArtifactID
	id, err := w.write(ctx, name+datasetSuffix+".npy", func(out io.Writer) error {
		return npy.WriteUint8(out, []int{len(ds.Windows), rows, cols}, chunks)
	})
	if err != nil {
		return nil, err
	}
	ids = append(ids, id)

	id, err = w.write(ctx, name+labelsSuffix+".npy", func(out io.Writer) error {
		return npy.WriteUnicode(out, labels, npy.UnicodeWidth(labels))
	})
	if err != nil {
		return nil, err
	}
	ids = append(ids, id)

	if !w.manifest {
		return ids, nil
	}
	id, err = w.write(ctx, name+manifestSuffix+".jsonl", func(out io.Writer) error {
		enc := json.NewEncoder(out)
		for i, o := range ds.Origins {
			line := manifestLine{Index: i, Label: labels[i], Class: o.Class.String(), Column: o.Column, Offset: o.Offset, CandidateLine: o.CandidateLine}
			if err := enc.Encode(&line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append(ids, id), nil
}

// WritePredictions 写出 <name>.npy（(N,) int64）。
func (w *FS) WritePredictions(ctx context.Context, name string, preds []int64) (contract.ArtifactID, error) {
	return w.write(ctx, name+".npy", func(out io.Writer) error { return npy.WriteInt64(out, preds) })
}

// write 将 fill 产出的字节写入 root/file，返回规范化后的工件 ID。
func (w *FS) write(ctx context.Context, file string, fill func(io.Writer) error) (contract.ArtifactID, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	dest, err := w.mapPath(file)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return "", err
	}
	if w.atomic {
		err = w.writeAtomic(ctx, dest, fill)
	} else {
		err = w.writeOverwrite(ctx, dest, fill)
	}
	if err != nil {
		return "", err
	}
	return contract.NormalizeFileID(dest), nil
}

// mapPath: 仅保留文件名（扁平输出），拒绝空名与父级引用。
func (w *FS) mapPath(file string) (string, error) {
	rel := filepath.Base(filepath.Clean(file))
	if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, fill func(io.Writer) error) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	// 确保及时关闭
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if err := fill(writerWithCtx(ctx, bw)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, fill func(io.Writer) error) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	// 目标权限：尽量与期望一致
	_ = os.Chmod(tmpPath, w.permF)

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if err := fill(writerWithCtx(ctx, bw)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 平台特定的原子替换（或最佳努力）：
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：在部分平台同步父目录，提升崩溃安全性
	_ = syncDir(dir)
	return nil
}

// writerWithCtx: 在每次 Write 前检查 ctx 是否已取消。
func writerWithCtx(ctx context.Context, w io.Writer) io.Writer {
	return &ctxWriter{ctx: ctx, w: w}
}

type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (cw *ctxWriter) Write(p []byte) (int, error) {
	select {
	case <-cw.ctx.Done():
		return 0, cw.ctx.Err()
	default:
	}
	return cw.w.Write(p)
}
