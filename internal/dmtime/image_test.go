package dmtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmtset/pkg/contract"
)

// TestBuildImageShape 行数等于文件数，列数等于首个文件样本数，行序跟随 DM 排序。
func TestBuildImageShape(t *testing.T) {
	store := memStore{
		"t_DM10.dat": encodeF32([]float32{20, 21, 22}),
		"t_DM0.dat":  encodeF32([]float32{0, 1, 2}),
		"t_DM5.dat":  encodeF32([]float32{10, 11, 12}),
	}
	ids, _ := store.List(context.Background(), "")
	files, _, err := Catalog(ids)
	require.NoError(t, err)

	var seen []int
	img, err := BuildImage(context.Background(), store, files, func(done, total int) {
		assert.Equal(t, 3, total)
		seen = append(seen, done)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, img.Rows())
	assert.Equal(t, 3, img.Cols())
	assert.Equal(t, []float32{0, 1, 2}, img.Row(0))
	assert.Equal(t, []float32{10, 11, 12}, img.Row(1))
	assert.Equal(t, []float32{20, 21, 22}, img.Row(2))
	assert.Equal(t, []int{1, 2, 3}, seen)
}

// TestBuildImageMismatch 样本数不一致不做截断，直接失败。
func TestBuildImageMismatch(t *testing.T) {
	store := memStore{
		"t_DM0.dat": encodeF32([]float32{0, 1, 2, 3}),
		"t_DM1.dat": encodeF32([]float32{0, 1, 2}),
	}
	files := []contract.TrialFile{{DM: 0, ID: "t_DM0.dat"}, {DM: 1, ID: "t_DM1.dat"}}
	_, err := BuildImage(context.Background(), store, files, nil)
	require.ErrorIs(t, err, contract.ErrSampleCountMismatch)
	assert.Contains(t, err.Error(), "t_DM1.dat")
	assert.Contains(t, err.Error(), "want 4")

	store["t_DM1.dat"] = append(encodeF32([]float32{0, 1, 2, 3}), 0x01)
	_, err = BuildImage(context.Background(), store, files, nil)
	assert.ErrorIs(t, err, contract.ErrSampleCountMismatch)

	store["t_DM0.dat"] = nil
	_, err = BuildImage(context.Background(), store, files, nil)
	assert.ErrorIs(t, err, contract.ErrSampleCountMismatch)
}

// TestBuildImageCancelAndEmpty ctx 取消与空输入。
func TestBuildImageCancelAndEmpty(t *testing.T) {
	_, err := BuildImage(context.Background(), memStore{}, nil, nil)
	assert.ErrorIs(t, err, contract.ErrNoTrials)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	files := []contract.TrialFile{{DM: 0, ID: "t_DM0.dat"}}
	_, err = BuildImage(ctx, memStore{"t_DM0.dat": encodeF32([]float32{1})}, files, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = BuildImage(context.Background(), memStore{}, files, nil)
	assert.Error(t, err)
}

// TestDecodeFloat32LE 小端解码。
func TestDecodeFloat32LE(t *testing.T) {
	in := []float32{1.5, -2, 0, 3.25}
	assert.Equal(t, in, DecodeFloat32LE(encodeF32(in)))
	assert.Empty(t, DecodeFloat32LE([]byte{1, 2, 3}))
}
