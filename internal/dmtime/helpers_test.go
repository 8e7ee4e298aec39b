package dmtime

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"dmtset/pkg/contract"
)

// memStore 内存试验文件源。
type memStore map[contract.FileID][]byte

func (m memStore) List(ctx context.Context, dir string) ([]contract.FileID, error) {
	out := make([]contract.FileID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out, nil
}

func (m memStore) Open(ctx context.Context, id contract.FileID) (io.ReadCloser, error) {
	b, ok := m[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func encodeF32(vs []float32) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// makeImage 以 fn(r, c) 填充 rows x cols 图像。
func makeImage(t *testing.T, rows, cols int, fn func(r, c int) float32) *contract.Image {
	t.Helper()
	data := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			data[r*cols+c] = fn(r, c)
		}
	}
	img, err := contract.NewImage(rows, cols, data)
	require.NoError(t, err)
	return img
}
