package dmtime

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"dmtset/pkg/contract"
)

// Progress 进度回调（已完成数, 总数）。可为 nil。
type Progress func(done, total int)

func (p Progress) report(done, total int) {
	if p != nil {
		p(done, total)
	}
}

// BuildImage 逐个读取试验文件（小端 float32）并堆叠为 DM-Time 图像。
// 首个文件的样本数决定列数；其余文件样本数必须一致，否则返回 ErrSampleCountMismatch。
func BuildImage(ctx context.Context, store contract.TrialStore, files []contract.TrialFile, progress Progress) (*contract.Image, error) {
	if len(files) == 0 {
		return nil, contract.ErrNoTrials
	}
	var (
		cols int
		data []float32
	)
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		samples, err := readSamples(ctx, store, f.ID)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			cols = len(samples)
			if cols == 0 {
				return nil, fmt.Errorf("%w: %s has no samples", contract.ErrSampleCountMismatch, f.ID)
			}
			data = make([]float32, len(files)*cols)
		} else if len(samples) != cols {
			return nil, fmt.Errorf("%w: %s has %d samples, want %d", contract.ErrSampleCountMismatch, f.ID, len(samples), cols)
		}
		copy(data[i*cols:(i+1)*cols], samples)
		progress.report(i+1, len(files))
	}
	return contract.NewImage(len(files), cols, data)
}

func readSamples(ctx context.Context, store contract.TrialStore, id contract.FileID) ([]float32, error) {
	rc, err := store.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: %s size %d is not a multiple of 4", contract.ErrSampleCountMismatch, id, len(raw))
	}
	return DecodeFloat32LE(raw), nil
}

// DecodeFloat32LE 将小端 float32 字节序列解码为切片（尾部不足 4 字节的部分被忽略）。
func DecodeFloat32LE(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
